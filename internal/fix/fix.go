// Package fix runs an external tool (formatter, linter with
// autocorrect) over the files touched by a set of commits and all of
// their descendants, then rewrites the commits with the fixed content.
//
// Tool runs are deduplicated by (file id, path) and executed on a
// bounded worker pool; the rewrite itself happens in a single
// TransformDescendants pass using reparent, with fixed paths inherited
// by descendants so no tree merge is needed.
package fix

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"sync"

	"go.uber.org/zap"

	"github.com/solenoidlabs/keel/internal/core"
	"github.com/solenoidlabs/keel/internal/graph"
	"github.com/solenoidlabs/keel/internal/repo"
	"github.com/solenoidlabs/keel/internal/rewrite"
	"github.com/solenoidlabs/keel/internal/tree"
)

// Input is one unique unit of tool work: file content at a path. Tools
// are expected to be deterministic and context-free, so a file appearing
// in many commits is fixed once.
type Input struct {
	FileID core.FileID
	Path   string
}

// ToolError is a tool run that failed for one input. Failures are
// isolated: the affected paths keep their old content and the batch
// continues, unless the caller asked for all-or-nothing semantics.
type ToolError struct {
	Input  Input
	Stderr string
	Err    error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("fix tool failed on %s: %v", e.Input.Path, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }

// Options configures a fix run.
type Options struct {
	// Tool is the argv of the external command. It receives file content
	// on stdin, the path in $KEEL_PATH, and must print fixed content to
	// stdout.
	Tool []string
	// Workers bounds concurrent tool processes; 0 means NumCPU.
	Workers int
	// AllOrNothing aborts the whole run on the first tool failure
	// instead of skipping the failed inputs.
	AllOrNothing bool
}

// Summary reports what a fix run did.
type Summary struct {
	CheckedCommits int
	FixedCommits   int
	Failures       []*ToolError
}

// Run fixes the descendants of roots inside tx. Commits whose trees are
// conflicted are reparented untouched; fixing applies to resolved trees
// only.
func Run(ctx context.Context, tx *repo.Transaction, roots []core.CommitID, opts Options) (*Summary, error) {
	if len(opts.Tool) == 0 {
		return nil, fmt.Errorf("no fix tool configured")
	}
	r := tx.Repo()

	planned, err := graph.DescendantsTopo(r.Store, tx.View().HeadIDs, roots)
	if err != nil {
		return nil, err
	}

	// Collect the paths to fix per commit: files the commit itself
	// changed against its parents, plus every path fixed in an
	// ancestor. Inheriting paths propagates fixes forward without
	// rebasing, which a formatter would not merge cleanly anyway.
	commitPaths := map[core.CommitID]map[string]struct{}{}
	inputs := map[Input]struct{}{}
	for _, c := range planned {
		paths := map[string]struct{}{}
		for _, p := range c.Parents {
			for path := range commitPaths[p] {
				paths[path] = struct{}{}
			}
		}
		treeID, ok := c.Tree.Resolved()
		if !ok {
			commitPaths[c.ID] = paths
			continue
		}
		t, err := r.Trees.GetTree(treeID)
		if err != nil {
			return nil, err
		}
		changed, err := changedPaths(r, c, t)
		if err != nil {
			return nil, err
		}
		for _, path := range changed {
			paths[path] = struct{}{}
		}
		for path := range paths {
			if e, ok := t.PathValue(path); ok {
				inputs[Input{FileID: e.FileID, Path: path}] = struct{}{}
			}
		}
		commitPaths[c.ID] = paths
	}

	fixed, failures := runTool(ctx, r, inputs, opts)
	if opts.AllOrNothing && len(failures) > 0 {
		return nil, failures[0]
	}

	summary := &Summary{Failures: failures}
	_, err = rewrite.TransformDescendants(tx, roots, func(rw *rewrite.CommitRewriter) error {
		summary.CheckedCommits++
		rw.Reparent()
		old := rw.OldCommit()
		treeID, ok := old.Tree.Resolved()
		if !ok {
			return nil
		}
		t, err := r.Trees.GetTree(treeID)
		if err != nil {
			return err
		}
		builder := tree.NewBuilder(t)
		changes := 0
		for path := range commitPaths[old.ID] {
			e, ok := t.PathValue(path)
			if !ok {
				continue
			}
			if newID, ok := fixed[Input{FileID: e.FileID, Path: path}]; ok && newID != e.FileID {
				builder.Set(path, newID, e.Executable)
				changes++
			}
		}
		if changes > 0 {
			newTreeID, err := builder.Write(r.Trees)
			if err != nil {
				return err
			}
			rw.SetTree(core.ResolvedTree(newTreeID))
			summary.FixedCommits++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// runTool executes the tool once per unique input on a bounded pool.
func runTool(ctx context.Context, r *repo.Repository, inputs map[Input]struct{}, opts Options) (map[Input]core.FileID, []*ToolError) {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		fixed    = map[Input]core.FileID{}
		failures []*ToolError
		sem      = make(chan struct{}, workers)
	)
	for input := range inputs {
		wg.Add(1)
		sem <- struct{}{}
		go func(in Input) {
			defer wg.Done()
			defer func() { <-sem }()

			newID, terr := fixOne(ctx, r, in, opts.Tool)
			mu.Lock()
			defer mu.Unlock()
			if terr != nil {
				failures = append(failures, terr)
				r.Logger.Warn("fix tool failed",
					zap.String("path", in.Path),
					zap.Error(terr.Err))
				return
			}
			fixed[in] = newID
		}(input)
	}
	wg.Wait()
	return fixed, failures
}

func fixOne(ctx context.Context, r *repo.Repository, in Input, tool []string) (core.FileID, *ToolError) {
	content, err := r.Trees.GetBlob(in.FileID)
	if err != nil {
		return core.FileID{}, &ToolError{Input: in, Err: err}
	}
	cmd := exec.CommandContext(ctx, tool[0], tool[1:]...)
	cmd.Stdin = bytes.NewReader(content)
	cmd.Env = append(cmd.Environ(), "KEEL_PATH="+in.Path)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return core.FileID{}, &ToolError{Input: in, Stderr: stderr.String(), Err: err}
	}
	newID, err := r.Trees.WriteBlob(stdout.Bytes())
	if err != nil {
		return core.FileID{}, &ToolError{Input: in, Err: err}
	}
	return newID, nil
}

// changedPaths lists paths whose value in t differs from the first
// parent's tree (added or modified; deletions have nothing to fix).
// Merge commits are diffed against their first parent only.
func changedPaths(r *repo.Repository, c *core.Commit, t *tree.Tree) ([]string, error) {
	var parent *tree.Tree
	if len(c.Parents) > 0 {
		pc, err := r.Store.GetCommit(c.Parents[0])
		if err != nil {
			return nil, err
		}
		if parentTreeID, ok := pc.Tree.Resolved(); ok {
			parent, err = r.Trees.GetTree(parentTreeID)
			if err != nil {
				return nil, err
			}
		}
	}
	var out []string
	for _, e := range t.Entries {
		if parent != nil {
			if pe, ok := parent.PathValue(e.Path); ok && pe.FileID == e.FileID && pe.Executable == e.Executable {
				continue
			}
		}
		out = append(out, e.Path)
	}
	return out, nil
}
