package scaffold

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noxsuite/noxinstall/pkg/engine"
	"github.com/noxsuite/noxinstall/pkg/telemetry"
)

func countEntries(t *testing.T, root string) int {
	t.Helper()
	n := 0
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p != root {
			n++
		}
		return nil
	})
	require.NoError(t, err)
	return n
}

func TestFlatten_SortedUniqueParentsFirst(t *testing.T) {
	base := filepath.Join(string(filepath.Separator), "opt", "nox")
	tree := Tree{
		"config/ai": nil,
		"config": {
			"ai":      nil,
			"modules": nil,
		},
		"data":      {"logs": {"archive": nil}},
		"data-old":  nil,
		"../escape": nil,
		"":          nil,
	}

	paths := Flatten(base, tree)

	want := []string{
		filepath.Join(base, "config"),
		filepath.Join(base, "config", "ai"),
		filepath.Join(base, "config", "modules"),
		filepath.Join(base, "data"),
		filepath.Join(base, "data", "logs"),
		filepath.Join(base, "data", "logs", "archive"),
		filepath.Join(base, "data-old"),
	}
	assert.ElementsMatch(t, want, paths)

	index := make(map[string]int, len(paths))
	for i, p := range paths {
		_, dup := index[p]
		require.False(t, dup, "duplicate path %s", p)
		index[p] = i
	}
	for _, p := range paths {
		parent := filepath.Dir(p)
		if parent == base {
			continue
		}
		pi, ok := index[parent]
		require.True(t, ok, "parent of %s missing", p)
		assert.Less(t, pi, index[p], "%s must precede %s", parent, p)
	}
}

func TestLayout_FeatureGatedDirectories(t *testing.T) {
	base := t.TempDir()

	minimal := RequiredDirs(base, engine.InstallConfig{})
	assert.NotContains(t, minimal, filepath.Join(base, "services", "ollama"))
	assert.NotContains(t, minimal, filepath.Join(base, "frontend", "noxgo-mobile"))
	assert.NotContains(t, minimal, filepath.Join(base, "config", "ai"))
	assert.Contains(t, minimal, filepath.Join(base, "config", "modules"))

	full := RequiredDirs(base, engine.InstallConfig{EnableAI: true, EnableMobile: true})
	assert.Contains(t, full, filepath.Join(base, "services", "langflow"))
	assert.Contains(t, full, filepath.Join(base, "services", "ollama"))
	assert.Contains(t, full, filepath.Join(base, "config", "ai"))
	assert.Contains(t, full, filepath.Join(base, "frontend", "noxgo-mobile"))
}

func TestCreateStructure_DryRunTouchesNothing(t *testing.T) {
	root := t.TempDir()
	base := filepath.Join(root, "noxsuite")

	tel := telemetry.NewNop()
	rec := &telemetry.Recorder{}
	tel.Events.Subscribe(rec.Record, nil)

	tree := Layout(engine.InstallConfig{EnableAI: true, EnableMobile: true})
	res, err := New(tel.Session).CreateStructure(context.Background(), base, tree, true)
	require.NoError(t, err)

	assert.True(t, res.DryRun)
	assert.Empty(t, res.Created)
	assert.Nil(t, res.Operation)
	assert.Equal(t, 0, countEntries(t, root))

	would := 0
	for _, e := range rec.Events(telemetry.EventInfo) {
		if strings.HasPrefix(e.Message, "would create ") {
			would++
		}
	}
	assert.Equal(t, len(res.Planned)+1, would, "one line per planned path plus the base")
}

func TestCreateStructure_CreatesTree(t *testing.T) {
	base := filepath.Join(t.TempDir(), "noxsuite")
	tree := Tree{"config": {"modules": nil}, "data": nil}

	res, err := New(telemetry.NewNop().Session).CreateStructure(context.Background(), base, tree, false)
	require.NoError(t, err)

	assert.Equal(t, []string{
		base,
		filepath.Join(base, "config"),
		filepath.Join(base, "config", "modules"),
		filepath.Join(base, "data"),
	}, res.Created)
	for _, p := range res.Created {
		assert.DirExists(t, p)
	}

	entries, err := os.ReadDir(filepath.Dir(base))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "write probe must not be left behind")

	require.NotNil(t, res.Operation)
	assert.True(t, res.Operation.Rollback(context.Background()))
	assert.NoDirExists(t, base)
}

func TestCreateStructure_SkipsExistingDirectories(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(base, "config"), 0o755))

	res, err := New(telemetry.NewNop().Session).CreateStructure(context.Background(), base,
		Tree{"config": {"ai": nil}}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(base, "config", "ai")}, res.Created)

	require.True(t, res.Operation.Rollback(context.Background()))
	assert.DirExists(t, filepath.Join(base, "config"), "pre-existing directory is untouched")
	assert.NoDirExists(t, filepath.Join(base, "config", "ai"))
}

func TestCreateStructure_FailureRollsBackOnlyCreated(t *testing.T) {
	base := t.TempDir()
	keep := filepath.Join(base, "keep")
	require.NoError(t, os.Mkdir(keep, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(keep, "data.txt"), []byte("x"), 0o644))

	calls := 0
	mkdir := func(p string, perm fs.FileMode) error {
		calls++
		if calls == 3 {
			return errors.New("disk on fire")
		}
		return os.Mkdir(p, perm)
	}

	tree := Tree{"a": nil, "b": nil, "c": nil, "d": nil, "e": nil}
	res, err := New(telemetry.NewNop().Session, WithMkdir(mkdir)).
		CreateStructure(context.Background(), base, tree, false)

	require.Error(t, err)
	assert.True(t, engine.IsScaffold(err))
	assert.Contains(t, err.Error(), "disk on fire")
	assert.Empty(t, res.Created)
	assert.Equal(t, 3, calls)

	for _, name := range []string{"a", "b", "c", "d", "e"} {
		assert.NoDirExists(t, filepath.Join(base, name))
	}
	assert.DirExists(t, base)
	assert.FileExists(t, filepath.Join(keep, "data.txt"))
}

func TestCreateStructure_RollbackKeepsNonEmpty(t *testing.T) {
	base := t.TempDir()

	mkdir := func(p string, perm fs.FileMode) error {
		if filepath.Base(p) == "b" {
			// something else wrote into a meanwhile
			if err := os.WriteFile(filepath.Join(base, "a", "foreign"), nil, 0o644); err != nil {
				return err
			}
			return errors.New("boom")
		}
		return os.Mkdir(p, perm)
	}
	s := New(telemetry.NewNop().Session, WithMkdir(mkdir))

	_, err := s.CreateStructure(context.Background(), base, Tree{"a": nil, "b": nil}, false)
	require.Error(t, err)
	assert.FileExists(t, filepath.Join(base, "a", "foreign"))
}

func TestCreateStructure_MissingParentAbortsBeforeMutation(t *testing.T) {
	root := t.TempDir()
	base := filepath.Join(root, "missing", "noxsuite")

	calls := 0
	mkdir := func(p string, perm fs.FileMode) error {
		calls++
		return os.Mkdir(p, perm)
	}

	_, err := New(telemetry.NewNop().Session, WithMkdir(mkdir)).
		CreateStructure(context.Background(), base, Tree{"config": nil}, false)
	require.Error(t, err)
	assert.True(t, engine.IsScaffold(err))
	assert.Zero(t, calls)
	assert.Equal(t, 0, countEntries(t, root))
}

func TestCreateStructure_Cancelled(t *testing.T) {
	base := filepath.Join(t.TempDir(), "noxsuite")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(telemetry.NewNop().Session).CreateStructure(ctx, base, Tree{"config": nil}, false)
	require.Error(t, err)
	assert.True(t, engine.IsUserAbort(err))
	assert.NoDirExists(t, base)
}
