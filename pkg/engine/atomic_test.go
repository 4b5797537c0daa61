package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAtomicOperation_ExecuteSuccess(t *testing.T) {
	ctx := context.Background()
	op := NewAtomicOperation("write", func(ctx context.Context) (string, error) {
		return "token", nil
	}, nil)

	require.NoError(t, op.Execute(ctx))
	assert.True(t, op.Executed())
	assert.Equal(t, "token", op.Token())
}

func TestAtomicOperation_RollbackNoopWhenNotExecuted(t *testing.T) {
	called := false
	op := NewAtomicOperation("noop", func(ctx context.Context) (int, error) {
		return 1, nil
	}, func(ctx context.Context, token int) error {
		called = true
		return nil
	})

	assert.True(t, op.Rollback(context.Background()))
	assert.False(t, called)
}

func TestAtomicOperation_FailureRollsBackPartialMutation(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	boom := errors.New("disk full")

	op := NewAtomicOperation("mkdirs", func(ctx context.Context) ([]string, error) {
		var created []string
		for _, name := range []string{"a", "b"} {
			p := filepath.Join(dir, name)
			if err := os.Mkdir(p, 0o755); err != nil {
				return created, err
			}
			created = append(created, p)
		}
		return created, boom
	}, func(ctx context.Context, created []string) error {
		for i := len(created) - 1; i >= 0; i-- {
			if err := os.Remove(created[i]); err != nil {
				return err
			}
		}
		return nil
	})

	err := op.Execute(ctx)
	require.ErrorIs(t, err, boom)
	assert.Same(t, boom, err)
	assert.False(t, op.Executed())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAtomicOperation_ValidationRejectTriggersRollback(t *testing.T) {
	rolledBack := false
	op := NewAtomicOperation("validated", func(ctx context.Context) (int, error) {
		return 41, nil
	}, func(ctx context.Context, token int) error {
		rolledBack = true
		assert.Equal(t, 41, token)
		return nil
	}).WithValidation(func(token int) bool { return token == 42 })

	err := op.Execute(context.Background())
	require.ErrorIs(t, err, ErrValidationRejected)
	assert.True(t, rolledBack)
	assert.False(t, op.Executed())
}

func TestAtomicOperation_RollbackFailureIsSwallowed(t *testing.T) {
	ctx := context.Background()
	op := NewAtomicOperation("stuck", func(ctx context.Context) (int, error) {
		return 0, nil
	}, func(ctx context.Context, token int) error {
		return errors.New("cannot undo")
	})

	require.NoError(t, op.Execute(ctx))
	assert.False(t, op.Rollback(ctx))
	assert.True(t, op.Executed())
	assert.EqualError(t, op.RollbackError(), "cannot undo")
}

func TestAtomicOperation_RollbackPanicIsReportedAsFailure(t *testing.T) {
	ctx := context.Background()
	op := NewAtomicOperation("panicky", func(ctx context.Context) (int, error) {
		return 0, nil
	}, func(ctx context.Context, token int) error {
		panic("boom")
	})

	require.NoError(t, op.Execute(ctx))
	assert.False(t, op.Rollback(ctx))
	assert.Error(t, op.RollbackError())
}

func TestRollbackStack_ReverseOrder(t *testing.T) {
	ctx := context.Background()
	var order []string
	stack := &RollbackStack{}

	for _, name := range []string{"first", "second", "third"} {
		name := name
		op := NewAtomicOperation(name, func(ctx context.Context) (string, error) {
			return name, nil
		}, func(ctx context.Context, token string) error {
			order = append(order, token)
			return nil
		})
		require.NoError(t, op.Execute(ctx))
		stack.Push(op)
	}

	failed := stack.RollbackAll(ctx)
	assert.Empty(t, failed)
	assert.Equal(t, []string{"third", "second", "first"}, order)
	assert.Equal(t, 0, stack.Len())
}
