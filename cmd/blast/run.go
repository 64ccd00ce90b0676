package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/nijnstein/blast/manifest"
	"github.com/nijnstein/blast/pkg/bytecode"
	"github.com/nijnstein/blast/vm"
	"gopkg.in/yaml.v3"
)

// assignment is a -set flag: a variable and its components.
type assignment struct {
	name   string
	values []float32
}

// setFlags collects repeated -set name=v[,v...] flags.
type setFlags []assignment

func (s *setFlags) String() string {
	parts := make([]string, len(*s))
	for i, a := range *s {
		parts[i] = a.name
	}
	return strings.Join(parts, ",")
}

func (s *setFlags) Set(arg string) error {
	a, err := parseAssignment(arg)
	if err != nil {
		return err
	}
	*s = append(*s, a)
	return nil
}

func parseAssignment(arg string) (assignment, error) {
	name, list, ok := strings.Cut(arg, "=")
	if !ok || name == "" || list == "" {
		return assignment{}, fmt.Errorf("expected name=value[,value...], got %q", arg)
	}
	a := assignment{name: strings.TrimSpace(name)}
	for _, s := range strings.Split(list, ",") {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 32)
		if err != nil {
			return assignment{}, fmt.Errorf("%s: %w", a.name, err)
		}
		a.values = append(a.values, float32(f))
	}
	if len(a.values) > 4 {
		return assignment{}, fmt.Errorf("%s: %d components, at most 4", a.name, len(a.values))
	}
	return a, nil
}

// handleRunCommand processes the `blast run` subcommand.
// Usage:
//
//	blast run move.yaml                          # one record
//	blast run -records 10000 -workers 8 move.yaml
//	blast run -scalar -set speed=2 -set dir=0,1,0 move.pkg
func handleRunCommand(m *manifest.Manifest, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	l := newLoader(m, fs)
	var sets setFlags
	seed, workers := uint64(1), 0
	if m != nil {
		seed, workers = m.Runtime.Seed, m.Runtime.Workers
	}
	records := fs.Int("records", 1, "Number of records to run")
	fs.IntVar(&workers, "workers", workers, "Parallel workers; 0 runs the batch on one goroutine")
	fs.Uint64Var(&seed, "seed", seed, "Random seed")
	scalar := fs.Bool("scalar", false, "Run each record in the scalar interpreter")
	show := fs.Int("show", 4, "Number of records to print")
	fs.Var(&sets, "set", "Initial value name=v[,v...]; repeatable")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("run needs one document or package")
	}
	if *records < 1 {
		return fmt.Errorf("records must be positive, got %d", *records)
	}

	pkg, err := l.load(fs.Arg(0))
	if err != nil {
		return err
	}

	recs := make([][]float32, *records)
	for k := range recs {
		recs[k] = pkg.NewRecord()
		for _, a := range sets {
			if err := pkg.Set(recs[k], a.name, a.values...); err != nil {
				return err
			}
		}
	}

	start := time.Now()
	status, err := execute(pkg, recs, *scalar, workers, seed)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	out, err := yaml.Marshal(report(pkg, recs, *show))
	if err != nil {
		return err
	}
	os.Stdout.Write(out)
	fmt.Fprintf(os.Stderr, "%s records, %s, %s\n", humanize.Comma(int64(len(recs))), status, elapsed)
	return nil
}

func execute(pkg *bytecode.Package, recs [][]float32, scalar bool, workers int, seed uint64) (vm.Status, error) {
	ctx := vm.NewContext(seed)
	switch {
	case scalar || pkg.Mode == bytecode.ModeNormal:
		in := vm.NewInterpreter()
		status := vm.Done
		for k, rec := range recs {
			s, err := in.Execute(ctx, pkg, rec)
			if err != nil {
				return s, fmt.Errorf("record %d: %w", k, err)
			}
			if s == vm.Yield {
				status = vm.Yield
			}
		}
		return status, nil
	case workers > 0:
		return ctx.ExecuteParallel(context.Background(), pkg, recs, workers)
	}
	return vm.NewBatchInterpreter().Execute(ctx, pkg, recs)
}

// report lists the named variables of the first n records.
func report(pkg *bytecode.Package, recs [][]float32, n int) []map[string][]float32 {
	n = min(n, len(recs))
	out := make([]map[string][]float32, 0, n)
	for _, rec := range recs[:n] {
		row := make(map[string][]float32)
		for _, v := range pkg.Variables {
			if v.Name == "" || v.Offset < 0 {
				continue
			}
			if vals, err := pkg.Get(rec, v.Name); err == nil {
				row[v.Name] = vals
			}
		}
		out = append(out, row)
	}
	return out
}
