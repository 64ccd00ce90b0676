// Blast CLI - compiles tree documents to packages and runs them
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/nijnstein/blast/compiler"
	"github.com/nijnstein/blast/manifest"
	"github.com/nijnstein/blast/pkg/bytecode"
	"github.com/nijnstein/blast/store"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("blast.cli")

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: blast [-v] <command> [options] <file>\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  compile   compile a .yaml tree document to a package\n")
	fmt.Fprintf(os.Stderr, "  run       run a document or package over a batch of records\n")
	fmt.Fprintf(os.Stderr, "  disasm    print the code of a document or package\n")
	fmt.Fprintf(os.Stderr, "  hexdump   dump the code and data segment of a document or package\n")
	fmt.Fprintf(os.Stderr, "  cache     list or clear the compiled package cache\n")
	fmt.Fprintf(os.Stderr, "\nOptions:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  blast compile -o build/move.pkg move.yaml\n")
	fmt.Fprintf(os.Stderr, "  blast run -records 1000 -set speed=2 move.yaml\n")
	fmt.Fprintf(os.Stderr, "  blast disasm build/move.pkg\n")
}

func main() {
	verbose := flag.Int("v", 0, "Log verbosity (0 quiet, 1 info, 2 debug)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	m, err := manifest.FindAndLoad(".")
	if err != nil {
		fatal("loading manifest: %v", err)
	}
	configureLog(m, *verbose)

	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	case "compile":
		err = handleCompileCommand(m, args)
	case "run":
		err = handleRunCommand(m, args)
	case "disasm":
		err = handleDisasmCommand(m, args)
	case "hexdump":
		err = handleHexdumpCommand(m, args)
	case "cache":
		err = handleCacheCommand(m, args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(2)
	}
	if err != nil {
		fatal("%v", err)
	}
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// configureLog applies -v, or the [log] section when -v is not given.
func configureLog(m *manifest.Manifest, verbose int) {
	var path *string
	if m != nil {
		if verbose == 0 {
			verbose = m.Log.Verbosity
		}
		if m.Log.File != "" {
			p := m.Log.File
			path = &p
		}
	}
	commonlog.Configure(verbose, path)
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// loader turns command line files into packages, through the cache when
// one is configured.
type loader struct {
	opts  compiler.Options
	cache string
}

func newLoader(m *manifest.Manifest, fs *flag.FlagSet) *loader {
	l := &loader{opts: compiler.DefaultOptions()}
	if m != nil {
		opts, err := m.CompilerOptions()
		if err == nil {
			l.opts = opts
		}
		l.cache = m.CachePath()
	}
	fs.Func("mode", "Package mode: normal or ssmd", func(s string) error {
		mode, err := bytecode.ParseMode(s)
		l.opts.Mode = mode
		return err
	})
	fs.BoolFunc("no-inline", "Give constants data slots instead of inlining them", func(string) error {
		l.opts.InlineConstantData = false
		return nil
	})
	fs.BoolFunc("verify", "Cross-check the jump resolver", func(string) error {
		l.opts.VerifyResolve = true
		return nil
	})
	fs.StringVar(&l.cache, "cache", l.cache, "Compiled package cache; empty disables it")
	return l
}

func isDocument(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// load reads a package file, or compiles a tree document.
func (l *loader) load(path string) (*bytecode.Package, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !isDocument(path) {
		pkg, err := bytecode.UnmarshalPackage(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return pkg, pkg.Validate()
	}

	tree, err := compiler.LoadTree(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	compile := func() (*bytecode.Package, error) {
		return l.compile(path, tree)
	}
	if l.cache == "" {
		return compile()
	}

	key, err := store.Key(tree, l.opts)
	if err != nil {
		return nil, err
	}
	s, err := store.Open(l.cache)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	pkg, hit, err := s.GetOrCompile(key, compile)
	if hit {
		log.Infof("%s: cached package %s", path, pkg.ID)
	}
	return pkg, err
}

func (l *loader) compile(path string, tree *compiler.Tree) (*bytecode.Package, error) {
	pkg, diag, err := compiler.Compile(tree, l.opts)
	for _, d := range diag.Warnings() {
		fmt.Fprintf(os.Stderr, "%s: warning: %s\n", path, d)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return pkg, nil
}

// ---------------------------------------------------------------------------
// compile
// ---------------------------------------------------------------------------

// handleCompileCommand processes the `blast compile` subcommand.
// Usage:
//
//	blast compile move.yaml               # build/move.pkg
//	blast compile -o move.pkg move.yaml   # custom output
func handleCompileCommand(m *manifest.Manifest, args []string) error {
	fs := flag.NewFlagSet("compile", flag.ExitOnError)
	l := newLoader(m, fs)
	output := fs.String("o", "", "Output package file")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("compile needs one document")
	}

	src := fs.Arg(0)
	if !isDocument(src) {
		return fmt.Errorf("%s is not a .yaml document", src)
	}
	pkg, err := l.load(src)
	if err != nil {
		return err
	}

	out := *output
	if out == "" {
		dir := "build"
		if m != nil {
			dir = m.OutputDir()
		}
		out = filepath.Join(dir, strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))+".pkg")
	}
	data, err := bytecode.MarshalPackage(pkg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return err
	}

	fmt.Printf("%s: %s package, %s code, %d data floats, %s written to %s\n",
		src, pkg.Mode, humanize.Bytes(uint64(len(pkg.Code))), pkg.DataSize,
		humanize.Bytes(uint64(len(data))), out)
	return nil
}

// ---------------------------------------------------------------------------
// cache
// ---------------------------------------------------------------------------

// handleCacheCommand processes the `blast cache` subcommand.
// Usage:
//
//	blast cache list
//	blast cache clear <key>
func handleCacheCommand(m *manifest.Manifest, args []string) error {
	fs := flag.NewFlagSet("cache", flag.ExitOnError)
	l := newLoader(m, fs)
	fs.Parse(args)
	if l.cache == "" {
		return errors.New("no cache configured; pass -cache or add a blast.toml")
	}
	s, err := store.Open(l.cache)
	if err != nil {
		return err
	}
	defer s.Close()

	switch fs.Arg(0) {
	case "", "list":
		entries, err := s.List()
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Printf("%s  %-6s  %8s  %s  %s\n", e.Key, e.Mode, humanize.Bytes(uint64(e.Size)),
				humanize.Time(e.Created), e.ID)
		}
		fmt.Printf("%s packages in %s\n", humanize.Comma(int64(len(entries))), s.Path())
	case "clear":
		if fs.NArg() != 2 {
			return errors.New("cache clear needs a key")
		}
		return s.Delete(fs.Arg(1))
	default:
		return fmt.Errorf("unknown cache command %q", fs.Arg(0))
	}
	return nil
}
