// Package repo ties the stores together behind a Repository facade and
// implements the Transaction protocol: every mutation of repository
// state is staged against one base operation and committed as a new
// operation in the DAG.
package repo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/solenoidlabs/keel/internal/config"
	"github.com/solenoidlabs/keel/internal/core"
	"github.com/solenoidlabs/keel/internal/graph"
	"github.com/solenoidlabs/keel/internal/object"
	"github.com/solenoidlabs/keel/internal/opheads"
	"github.com/solenoidlabs/keel/internal/store"
	"github.com/solenoidlabs/keel/internal/tree"
)

const (
	repoDirName      = ".keel"
	DefaultWorkspace = "default"
)

// Repository is the top-level handle on one on-disk repository.
type Repository struct {
	root string

	Store   *store.Store
	Trees   *tree.Store
	Merger  core.TreeMerger
	OpHeads *opheads.Store
	Config  *config.Config
	Logger  *zap.Logger

	// RootCommitID and EmptyTreeID are deterministic: the root commit
	// has zero ids and timestamps, so every process computes the same
	// hashes.
	RootCommitID core.CommitID
	EmptyTreeID  core.TreeID

	immutableHeads []core.CommitID
}

// Init creates a repository at root. Fails if one already exists there.
func Init(root string, cfg *config.Config, logger *zap.Logger) (*Repository, error) {
	keelDir := filepath.Join(root, repoDirName)
	if _, err := os.Stat(keelDir); err == nil {
		return nil, fmt.Errorf("repository already exists at %s", keelDir)
	}
	if err := os.MkdirAll(keelDir, 0755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Save(filepath.Join(keelDir, "config.yaml")); err != nil {
		return nil, err
	}

	r, err := open(root, cfg, logger)
	if err != nil {
		return nil, err
	}

	// Seed the initial state: a fresh empty working-copy commit on top
	// of the root commit (the working copy must never point at the root,
	// which is unconditionally immutable), and the operation producing
	// that view.
	wc := r.newCommitData([]core.CommitID{r.RootCommitID}, core.ResolvedTree(r.EmptyTreeID), "")
	wcID, err := r.Store.WriteCommit(wc)
	if err != nil {
		return nil, err
	}
	view := core.NewView()
	view.AddHead(wcID)
	view.SetWCCommit(DefaultWorkspace, wcID)
	viewID, err := r.Store.WriteView(view)
	if err != nil {
		return nil, err
	}
	initOp := &core.Operation{
		V:         1,
		ParentIDs: []core.OperationID{},
		ViewID:    viewID,
		Metadata:  r.NewMetadata("initialize repo"),
	}
	opID, err := r.Store.WriteOperation(initOp)
	if err != nil {
		return nil, err
	}
	if err := r.OpHeads.Add(opID); err != nil {
		return nil, err
	}
	logger.Info("initialized repository",
		zap.String("root", root),
		zap.String("operation", opID.Short()))
	return r, nil
}

// Open opens an existing repository at root.
func Open(root string, logger *zap.Logger) (*Repository, error) {
	keelDir := filepath.Join(root, repoDirName)
	if _, err := os.Stat(keelDir); err != nil {
		return nil, fmt.Errorf("no repository at %s: %w", root, err)
	}
	cfg, err := config.Load(filepath.Join(keelDir, "config.yaml"))
	if err != nil {
		return nil, err
	}
	return open(root, cfg, logger)
}

func open(root string, cfg *config.Config, logger *zap.Logger) (*Repository, error) {
	keelDir := filepath.Join(root, repoDirName)
	objStore, err := store.Open(filepath.Join(keelDir, "objects"), cfg.Cache.Objects)
	if err != nil {
		return nil, err
	}
	heads, err := opheads.NewStore(filepath.Join(keelDir, "op-heads"))
	if err != nil {
		return nil, err
	}
	trees := tree.NewStore(objStore.TreeStore())

	r := &Repository{
		root:    root,
		Store:   objStore,
		Trees:   trees,
		Merger:  tree.NewMerger(trees),
		OpHeads: heads,
		Config:  cfg,
		Logger:  logger,
	}
	if err := r.writeRootObjects(); err != nil {
		return nil, err
	}
	for _, s := range cfg.ImmutableHeads {
		id, err := core.ParseCommitID(s)
		if err != nil {
			logger.Warn("ignoring malformed immutable head in config", zap.String("id", s))
			continue
		}
		r.immutableHeads = append(r.immutableHeads, id)
	}
	return r, nil
}

// writeRootObjects (re)writes the deterministic empty tree and root
// commit. Writes are idempotent, so doing this on every open is a no-op
// after the first.
func (r *Repository) writeRootObjects() error {
	emptyTree, err := r.Trees.WriteEmptyTree()
	if err != nil {
		return err
	}
	r.EmptyTreeID = emptyTree

	rootCommit := &core.Commit{
		V:    1,
		Tree: core.ResolvedTree(emptyTree),
		// Zero change id, zero timestamps: every field fixed so the
		// root commit id is identical across repositories.
	}
	rootID, err := r.Store.WriteCommit(rootCommit)
	if err != nil {
		return err
	}
	r.RootCommitID = rootID
	return nil
}

// Root returns the working directory the repository lives in.
func (r *Repository) Root() string { return r.root }

// NewMetadata stamps operation metadata from config and host state.
func (r *Repository) NewMetadata(description string) core.OperationMetadata {
	hostname, _ := os.Hostname()
	now := time.Now().UTC()
	return core.OperationMetadata{
		StartTime:   now,
		EndTime:     now,
		Description: description,
		Hostname:    hostname,
		Username:    r.Config.User.Name,
		Args:        os.Args[1:],
	}
}

// newCommitData builds an unwritten commit authored now.
func (r *Repository) newCommitData(parents []core.CommitID, treeID core.MergedTreeID, description string) *core.Commit {
	sig := core.Signature{
		Name:      r.Config.User.Name,
		Email:     r.Config.User.Email,
		Timestamp: time.Now().UTC(),
	}
	return &core.Commit{
		V:           1,
		ChangeID:    core.NewChangeID(),
		Parents:     parents,
		Tree:        treeID,
		Description: description,
		Author:      sig,
		Committer:   sig,
	}
}

// Oracle returns an ancestry oracle over the commit store.
func (r *Repository) Oracle() core.AncestryOracle {
	return graph.Oracle{Source: r.Store}
}

// Reconciler returns the op-heads reconciler for this repository.
func (r *Repository) Reconciler() *opheads.Reconciler {
	return &opheads.Reconciler{
		Store:       r.Store,
		Heads:       r.OpHeads,
		Oracle:      r.Oracle(),
		NewMetadata: r.NewMetadata,
		Logger:      r.Logger,
	}
}

// CurrentOperation resolves the current head operation. With reconcile
// set, divergent heads are folded first; without it, divergence is
// surfaced as a DivergentOperationError for the caller to disambiguate.
func (r *Repository) CurrentOperation(reconcile bool) (*core.Operation, error) {
	heads, err := r.OpHeads.Heads()
	if err != nil {
		return nil, err
	}
	if len(heads) > 1 && !reconcile {
		return nil, &opheads.DivergentOperationError{Heads: heads}
	}
	op, _, err := r.Reconciler().ResolveHeads()
	return op, err
}

// IsImmutable reports whether id is protected from rewriting: the root
// commit always is, and so is every ancestor of a configured immutable
// head.
func (r *Repository) IsImmutable(id core.CommitID) (bool, error) {
	if id == r.RootCommitID {
		return true, nil
	}
	for _, head := range r.immutableHeads {
		anc, err := graph.IsAncestor(r.Store, id, head)
		if err != nil {
			// A configured head may not exist in this store yet.
			if errors.Is(err, object.ErrNotFound) {
				continue
			}
			return false, err
		}
		if anc {
			return true, nil
		}
	}
	return false, nil
}
