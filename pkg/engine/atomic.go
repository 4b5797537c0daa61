package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrValidationRejected is returned when an operation's validate function
// rejects the executed result.
var ErrValidationRejected = errors.New("operation result rejected by validation")

// Operation is anything that can be rolled back after it ran.
type Operation interface {
	OperationName() string
	Executed() bool
	Rollback(ctx context.Context) bool
}

// AtomicOperation bundles an action with its own rollback. The value returned
// by ExecuteFunc is kept as the rollback token and handed to RollbackFunc.
type AtomicOperation[T any] struct {
	Name        string
	Description string

	// ExecuteFunc performs the mutation. It may return a partial token
	// together with an error so the mutation done so far can be undone.
	ExecuteFunc func(ctx context.Context) (T, error)

	// RollbackFunc undoes the mutation described by the token. Optional.
	RollbackFunc func(ctx context.Context, token T) error

	// ValidateFunc checks the executed result. Optional.
	ValidateFunc func(token T) bool

	mu          sync.Mutex
	executed    bool
	token       T
	rollbackErr error
}

// NewAtomicOperation creates an operation with the given execute and rollback functions.
func NewAtomicOperation[T any](name string, exec func(ctx context.Context) (T, error), rollback func(ctx context.Context, token T) error) *AtomicOperation[T] {
	return &AtomicOperation[T]{
		Name:         name,
		ExecuteFunc:  exec,
		RollbackFunc: rollback,
	}
}

// WithValidation sets the validate function and returns the operation.
func (op *AtomicOperation[T]) WithValidation(fn func(token T) bool) *AtomicOperation[T] {
	op.ValidateFunc = fn
	return op
}

// Execute runs the operation. If ExecuteFunc fails, the operation is rolled
// back and the original error is returned unchanged. If validation rejects
// the result, the operation is rolled back and ErrValidationRejected is returned.
func (op *AtomicOperation[T]) Execute(ctx context.Context) error {
	if op.ExecuteFunc == nil {
		return NewAutomationFault(fmt.Sprintf("operation %s has no execute function", op.Name), nil)
	}

	token, err := op.ExecuteFunc(ctx)

	op.mu.Lock()
	op.token = token
	op.executed = true
	op.mu.Unlock()

	if err != nil {
		op.Rollback(ctx)
		return err
	}

	if op.ValidateFunc != nil && !op.ValidateFunc(token) {
		op.Rollback(ctx)
		return fmt.Errorf("%s: %w", op.Name, ErrValidationRejected)
	}

	return nil
}

// Rollback undoes the operation. It is a no-op returning true when the
// operation has not executed. A failing rollback function is reported as
// false and recorded in RollbackError; it never panics or propagates.
func (op *AtomicOperation[T]) Rollback(ctx context.Context) (ok bool) {
	op.mu.Lock()
	defer op.mu.Unlock()

	if !op.executed {
		return true
	}
	if op.RollbackFunc == nil {
		op.executed = false
		return true
	}

	defer func() {
		if r := recover(); r != nil {
			op.rollbackErr = fmt.Errorf("rollback of %s panicked: %v", op.Name, r)
			ok = false
		}
	}()

	if err := op.RollbackFunc(ctx, op.token); err != nil {
		op.rollbackErr = err
		return false
	}
	op.executed = false
	op.rollbackErr = nil
	return true
}

// OperationName returns the operation name.
func (op *AtomicOperation[T]) OperationName() string {
	return op.Name
}

// Executed reports whether the operation ran and has not been rolled back.
func (op *AtomicOperation[T]) Executed() bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.executed
}

// Token returns the captured rollback token.
func (op *AtomicOperation[T]) Token() T {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.token
}

// RollbackError returns the error from the last failed rollback, if any.
func (op *AtomicOperation[T]) RollbackError() error {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.rollbackErr
}

// RollbackStack collects executed operations so an orchestrator can undo
// them explicitly, newest first.
type RollbackStack struct {
	mu  sync.Mutex
	ops []Operation
}

// Push records an operation.
func (s *RollbackStack) Push(op Operation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = append(s.ops, op)
}

// Len returns the number of recorded operations.
func (s *RollbackStack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ops)
}

// RollbackAll rolls back every recorded operation in reverse order and
// returns the names of operations whose rollback failed. The stack is
// emptied afterwards.
func (s *RollbackStack) RollbackAll(ctx context.Context) []string {
	s.mu.Lock()
	ops := s.ops
	s.ops = nil
	s.mu.Unlock()

	var failed []string
	for i := len(ops) - 1; i >= 0; i-- {
		if !ops[i].Rollback(ctx) {
			failed = append(failed, ops[i].OperationName())
		}
	}
	return failed
}
