// Package scaffold creates the installation directory tree transactionally.
//
// A tree is flattened into a sorted list of absolute paths, then created in
// order. Every directory this invocation creates is recorded so a failure
// part way through can remove exactly those directories again, newest first.
// Directories that existed before, or that are no longer empty, are never
// removed.
package scaffold

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/noxsuite/noxinstall/pkg/engine"
	"github.com/noxsuite/noxinstall/pkg/telemetry"
)

// DirPerm is the mode used for every created directory.
const DirPerm fs.FileMode = 0o755

const writeProbePattern = ".nox_write_test_*"

// Tree is a nested directory specification. Keys are relative names and may
// contain separators; a nil or empty value is a leaf.
type Tree map[string]Tree

// Flatten resolves tree below base into a deduplicated, sorted list of
// absolute paths. Intermediate directories of keys such as "config/ai" are
// included, and every parent sorts before its children. base itself is not
// part of the result.
func Flatten(base string, tree Tree) []string {
	base = filepath.Clean(base)
	seen := make(map[string]struct{})
	flattenInto(base, base, tree, seen)

	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func flattenInto(base, dir string, tree Tree, seen map[string]struct{}) {
	for name, sub := range tree {
		name = strings.Trim(filepath.Clean(filepath.FromSlash(name)), string(filepath.Separator))
		if name == "" || name == "." || name == ".." || strings.HasPrefix(name, ".."+string(filepath.Separator)) {
			continue
		}
		p := filepath.Join(dir, name)
		for q := p; q != base && q != dir && strings.HasPrefix(q, base); q = filepath.Dir(q) {
			seen[q] = struct{}{}
		}
		seen[p] = struct{}{}
		flattenInto(base, p, sub, seen)
	}
}

// Result describes one CreateStructure call.
type Result struct {
	// Planned is the flattened path list, base excluded.
	Planned []string `json:"planned"`

	// Created lists directories this call created, in creation order.
	// It includes base when base did not exist.
	Created []string `json:"created"`

	DryRun bool `json:"dry_run"`

	// Operation undoes the creation. The pipeline pushes it on its rollback
	// stack so a later phase failure also removes the tree. Nil in dry-run.
	Operation engine.Operation `json:"-"`
}

// Scaffolder creates directory trees.
type Scaffolder struct {
	session *telemetry.SessionLogger
	mkdir   func(path string, perm fs.FileMode) error
}

// Option configures a Scaffolder.
type Option func(*Scaffolder)

// WithMkdir replaces the directory creation primitive.
func WithMkdir(fn func(path string, perm fs.FileMode) error) Option {
	return func(s *Scaffolder) {
		s.mkdir = fn
	}
}

// New creates a Scaffolder logging to session.
func New(session *telemetry.SessionLogger, opts ...Option) *Scaffolder {
	s := &Scaffolder{
		session: session,
		mkdir:   os.Mkdir,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateStructure creates tree below base. In dry-run mode every planned
// path is logged with a "would create" line and nothing is touched.
//
// Before any mutation the parent of base must exist and accept a probe
// file. If creating any directory fails, the directories created so far are
// removed in reverse order and a ScaffoldError is returned.
func (s *Scaffolder) CreateStructure(ctx context.Context, base string, tree Tree, dryRun bool) (*Result, error) {
	base, err := filepath.Abs(base)
	if err != nil {
		return nil, engine.NewScaffoldError("invalid base directory", err).WithCode(engine.ErrCodeScaffoldFailed)
	}

	planned := Flatten(base, tree)
	res := &Result{Planned: planned, Created: []string{}, DryRun: dryRun}

	if dryRun {
		if !exists(base) {
			s.wouldCreate(base)
		}
		for _, p := range planned {
			s.wouldCreate(p)
		}
		return res, nil
	}

	if err := checkWritableParent(base); err != nil {
		return res, err
	}

	op := engine.NewAtomicOperation(
		"create_structure:"+base,
		func(ctx context.Context) ([]string, error) {
			return s.create(ctx, append([]string{base}, planned...))
		},
		s.removeCreated,
	)
	op.Description = fmt.Sprintf("create %d directories below %s", len(planned), base)

	if err := op.Execute(ctx); err != nil {
		if rbErr := op.RollbackError(); rbErr != nil {
			s.session.Warning("scaffold cleanup incomplete", map[string]interface{}{
				"base":  base,
				"error": rbErr.Error(),
			})
		}
		var ie *engine.InstallError
		if errors.As(err, &ie) {
			return res, err
		}
		return res, engine.NewScaffoldError("failed to create directory structure", err).
			WithCode(engine.ErrCodeScaffoldFailed).
			WithOperation(op.Name).
			WithDetail("base", base)
	}

	res.Created = op.Token()
	res.Operation = op
	return res, nil
}

func (s *Scaffolder) wouldCreate(p string) {
	s.session.Info("would create "+p, map[string]interface{}{
		"path":    p,
		"dry_run": true,
	})
}

// create makes each path in order and returns the ones it created. On error
// the partial list is returned so it can be rolled back.
func (s *Scaffolder) create(ctx context.Context, paths []string) ([]string, error) {
	created := []string{}
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return created, engine.NewUserAbort("scaffolding cancelled")
		}

		info, err := os.Stat(p)
		if err == nil {
			if !info.IsDir() {
				return created, fmt.Errorf("%s exists and is not a directory", p)
			}
			continue
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return created, err
		}

		if err := s.mkdir(p, DirPerm); err != nil {
			if errors.Is(err, fs.ErrExist) {
				continue
			}
			return created, err
		}
		created = append(created, p)
		s.session.Debug("created "+p, nil)
	}
	return created, nil
}

// removeCreated removes created directories newest first. Non-empty
// directories are left in place.
func (s *Scaffolder) removeCreated(_ context.Context, created []string) error {
	var errs []error
	for i := len(created) - 1; i >= 0; i-- {
		p := created[i]
		entries, err := os.ReadDir(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if len(entries) > 0 {
			s.session.Debug("keeping non-empty "+p, nil)
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		s.session.Debug("removed "+p, nil)
	}
	return errors.Join(errs...)
}

// checkWritableParent verifies that base can be populated. The parent of
// base must exist; the write probe runs in base when it already exists,
// otherwise in the parent.
func checkWritableParent(base string) error {
	parent := filepath.Dir(base)
	info, err := os.Stat(parent)
	if err != nil {
		return engine.NewScaffoldError("parent directory does not exist", err).
			WithCode(engine.ErrCodeScaffoldFailed).
			WithDetail("parent", parent)
	}
	if !info.IsDir() {
		return engine.NewScaffoldError("parent is not a directory", nil).
			WithCode(engine.ErrCodeScaffoldFailed).
			WithDetail("parent", parent)
	}

	target := parent
	if exists(base) {
		target = base
	}
	if err := probeWrite(target); err != nil {
		return engine.NewScaffoldError("directory is not writable", err).
			WithCode(engine.ErrCodePermissionDenied).
			WithDetail("path", target)
	}
	return nil
}

func probeWrite(dir string) error {
	f, err := os.CreateTemp(dir, writeProbePattern)
	if err != nil {
		return err
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return err
	}
	return os.Remove(name)
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
