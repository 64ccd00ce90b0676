package compiler

import (
	"bytes"
	"errors"
	"fmt"
	"runtime"

	"github.com/nijnstein/blast/pkg/bytecode"
	"golang.org/x/sync/errgroup"
)

// ErrNoTree is returned when Compile is given nothing to compile.
var ErrNoTree = errors.New("compiler: no tree")

// Compile lowers a tree to a sealed package. Diagnostics are returned even
// when compilation fails; the error joins every error diagnostic.
func Compile(tree *Tree, opts Options) (*bytecode.Package, *Diagnostics, error) {
	diag := NewDiagnostics()
	if tree == nil || tree.Root == nil {
		return nil, diag, ErrNoTree
	}
	if err := opts.validate(); err != nil {
		return nil, diag, err
	}
	if opts.StackSize == 0 {
		opts.StackSize = DefaultStackSize
	}

	layout := layoutVariables(tree, opts, diag)
	if diag.HasErrors() {
		return nil, diag, diag.Err()
	}

	segments := splitSegments(tree.Root)
	lists := make([]*IList, len(segments))
	for i, stmts := range segments {
		lists[i] = compileSegment(tree, opts, diag, i, stmts)
		if opts.InlineConstantData {
			lists[i] = poolConstants(lists[i])
		}
	}
	if diag.HasErrors() {
		return nil, diag, diag.Err()
	}

	resolved := resolveSegments(lists, opts, diag)
	if diag.HasErrors() {
		return nil, diag, diag.Err()
	}

	final := NewIList("pkg:")
	final.Append(cdataHeader(tree, diag))
	for i, l := range resolved {
		final.Define(segmentLabel(i))
		final.Append(l)
	}
	out := resolveChecked(final, opts, diag, false)
	if diag.HasErrors() {
		return nil, diag, diag.Err()
	}

	pkg := bytecode.NewPackage(opts.Mode)
	pkg.Code = out.Bytes()
	pkg.DataSize = layout.size
	pkg.Data = layout.data
	pkg.Metadata = layout.metadata
	pkg.Offsets = layout.offsets
	pkg.Variables = variableInfos(tree)
	pkg.StackSize = opts.StackSize
	pkg.Segments = segmentStarts(out, len(resolved))
	pkg.Seal()

	log.Debugf("compiled package %s: %d bytes of code, %d data floats, %d segments",
		pkg.ID, len(pkg.Code), pkg.DataSize, len(pkg.Segments))
	return pkg, diag, nil
}

// splitSegments returns the statement lists of the code segments: the
// children of each segment node, or the whole root as one segment.
func splitSegments(root *Node) [][]*Node {
	var segs [][]*Node
	var loose []*Node
	for _, c := range root.Children {
		if c.Kind == NodeSegment {
			segs = append(segs, c.Children)
			continue
		}
		loose = append(loose, c)
	}
	if len(loose) > 0 || len(segs) == 0 {
		// Statements outside a segment run first, as their own segment.
		segs = append([][]*Node{loose}, segs...)
	}
	return segs
}

func segmentLabel(i int) string {
	return fmt.Sprintf("seg:%d", i)
}

func (o Options) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// compileSegment emits the statements of one segment. With ParallelCompile
// each statement gets its own list and diagnostics, merged in order.
func compileSegment(tree *Tree, opts Options, diag *Diagnostics, seg int, stmts []*Node) *IList {
	if !opts.ParallelCompile || len(stmts) < 2 {
		e := newEmitter(tree, opts, diag, fmt.Sprintf("s%d:", seg))
		e.compileStatements(stmts)
		return e.list
	}

	parts := make([]*IList, len(stmts))
	diags := make([]*Diagnostics, len(stmts))
	var g errgroup.Group
	g.SetLimit(opts.workers())
	for i, s := range stmts {
		g.Go(func() error {
			d := NewDiagnostics()
			e := newEmitter(tree, opts, d, fmt.Sprintf("s%d.%d:", seg, i))
			e.compileStatement(s)
			parts[i], diags[i] = e.list, d
			return d.Err()
		})
	}
	if err := g.Wait(); err != nil {
		// Every statement still ran; its diagnostics are merged below.
		log.Debugf("segment %d: %v", seg, err)
	}

	out := NewIList(fmt.Sprintf("s%d:", seg))
	for i := range parts {
		out.Append(parts[i])
		diag.Merge(diags[i])
	}
	return out
}

// resolveSegments resolves each segment on its own. Cdata references are
// left for the final pass, where the cdata header is in the list.
func resolveSegments(lists []*IList, opts Options, diag *Diagnostics) []*IList {
	out := make([]*IList, len(lists))
	if !opts.ParallelResolve || len(lists) < 2 {
		for i, l := range lists {
			out[i] = resolveChecked(l, opts, diag, true)
		}
		return out
	}

	diags := make([]*Diagnostics, len(lists))
	var g errgroup.Group
	g.SetLimit(opts.workers())
	for i, l := range lists {
		g.Go(func() error {
			diags[i] = NewDiagnostics()
			out[i] = resolveChecked(l, opts, diags[i], true)
			return diags[i].Err()
		})
	}
	if err := g.Wait(); err != nil {
		log.Debugf("resolving segments: %v", err)
	}
	for _, d := range diags {
		diag.Merge(d)
	}
	return out
}

// resolveChecked resolves a list and, with VerifyResolve, compares the
// result with the reference resolver.
func resolveChecked(l *IList, opts Options, diag *Diagnostics, deferCData bool) *IList {
	out := resolve(l, diag, deferCData)
	if out == nil || !opts.VerifyResolve {
		return out
	}
	want, err := resolveReference(l, deferCData)
	switch {
	case err != nil:
		diag.Errorf(ResolverMismatch, nil, "reference resolver failed: %v", err)
	case !bytes.Equal(out.Bytes(), want):
		diag.Errorf(ResolverMismatch, nil, "resolvers disagree: % X vs % X", out.Bytes(), want)
	}
	return out
}

// segmentStarts returns the code position of every segment label.
func segmentStarts(l *IList, n int) []int {
	ids := make(map[string]int, n)
	for i := 0; i < n; i++ {
		ids[segmentLabel(i)] = i
	}
	starts := make([]int, n)
	for pos, s := range l.Slots {
		for _, lb := range s.Labels {
			if idx, ok := ids[lb.ID]; ok && lb.Kind == LabelDefinition {
				starts[idx] = pos
			}
		}
	}
	return starts
}
