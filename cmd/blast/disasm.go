package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/nijnstein/blast/manifest"
	"github.com/nijnstein/blast/pkg/bytecode"
)

var (
	offsetColor  = color.New(color.FgHiBlack)
	opcodeColor  = color.New(color.FgCyan, color.Bold)
	commentColor = color.New(color.FgGreen)
)

// useColor reports whether output to f should be colored.
func useColor(f *os.File, noColor bool) bool {
	if noColor || os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// colorize highlights a disassembly line: offset, mnemonic, operands and
// the ; comment.
func colorize(line string) string {
	if strings.HasPrefix(line, ";") {
		return commentColor.Sprint(line)
	}
	offset, rest, ok := strings.Cut(line, "  ")
	if !ok {
		return line
	}
	var comment string
	if i := strings.Index(rest, " ;"); i >= 0 {
		rest, comment = rest[:i], rest[i:]
	}
	mnemonic, operands, _ := strings.Cut(rest, " ")
	out := offsetColor.Sprint(offset) + "  " + opcodeColor.Sprint(mnemonic)
	if operands != "" {
		out += " " + operands
	}
	return out + commentColor.Sprint(comment)
}

func writeListing(w io.Writer, listing string, colored bool) error {
	if !colored {
		_, err := io.WriteString(w, listing)
		return err
	}
	var sb strings.Builder
	for _, line := range strings.SplitAfter(listing, "\n") {
		if line == "" {
			continue
		}
		sb.WriteString(colorize(strings.TrimSuffix(line, "\n")))
		sb.WriteByte('\n')
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

// handleDisasmCommand processes the `blast disasm` subcommand.
func handleDisasmCommand(m *manifest.Manifest, args []string) error {
	fs := flag.NewFlagSet("disasm", flag.ExitOnError)
	l := newLoader(m, fs)
	noColor := fs.Bool("no-color", false, "Disable colored output")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("disasm needs one document or package")
	}
	pkg, err := l.load(fs.Arg(0))
	if err != nil {
		return err
	}

	colored := useColor(os.Stdout, *noColor)
	color.NoColor = !colored
	header := fmt.Sprintf("; package %s, %s, %d data floats, stack %d\n", pkg.ID, pkg.Mode, pkg.DataSize, pkg.StackSize)
	return writeListing(os.Stdout, header+pkg.Disassemble(), colored)
}

// handleHexdumpCommand processes the `blast hexdump` subcommand.
func handleHexdumpCommand(m *manifest.Manifest, args []string) error {
	fs := flag.NewFlagSet("hexdump", flag.ExitOnError)
	l := newLoader(m, fs)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("hexdump needs one document or package")
	}
	pkg, err := l.load(fs.Arg(0))
	if err != nil {
		return err
	}
	return dump(os.Stdout, pkg)
}

func dump(w io.Writer, pkg *bytecode.Package) error {
	fmt.Fprintf(w, "; code, %d bytes\n", len(pkg.Code))
	if err := bytecode.HexDump(w, pkg.Code); err != nil {
		return err
	}
	fmt.Fprintf(w, "; data, %d floats\n", pkg.DataSize)
	return bytecode.DumpData(w, pkg.Data, pkg.Metadata)
}
