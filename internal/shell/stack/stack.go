// Package stack tracks the desired-state footprint of every managed cloud
// resource. Exactly one stack exists per resource, keyed by the composite
// name; the stack records which cloud-side objects a driver created so that
// refresh and delete can always re-locate them, and its outputs carry the
// values (IP, endpoint) captured at create time. Concurrent operations
// against the same stack name are rejected, not queued.
package stack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// =============================================================================
// Types
// =============================================================================

// Resource is one cloud-side object recorded in a stack.
type Resource struct {
	Kind   string `json:"kind"` // e.g. "instance", "security-group", "iam-user"
	ID     string `json:"id"`
	Region string `json:"region,omitempty"`
}

// Stack is the persisted footprint of one managed resource.
type Stack struct {
	Name      string            `json:"name"` // composite resource name
	Provider  string            `json:"provider"`
	Resources []Resource        `json:"resources"`
	Outputs   map[string]string `json:"outputs"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Resource lookups by kind. Returns the first match and whether one exists.
func (s *Stack) Resource(kind string) (Resource, bool) {
	for _, r := range s.Resources {
		if r.Kind == kind {
			return r, true
		}
	}
	return Resource{}, false
}

// Output returns a captured output value.
func (s *Stack) Output(key string) string {
	if s.Outputs == nil {
		return ""
	}
	return s.Outputs[key]
}

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrStackExists is returned when creating a stack whose name is taken.
	// Callers distinguish it from generic failures (conflict vs. error).
	ErrStackExists = errors.New("stack already exists")

	// ErrStackBusy is returned when another operation holds the stack lock.
	ErrStackBusy = errors.New("stack operation already in progress")
)

// =============================================================================
// Store Interface
// =============================================================================

// Store persists stacks. GetStack returns (nil, nil) when absent.
type Store interface {
	GetStack(ctx context.Context, name string) (*Stack, error)
	SaveStack(ctx context.Context, stack *Stack) error
	DeleteStack(ctx context.Context, name string) error
}

// =============================================================================
// Engine
// =============================================================================

// Engine serializes stack operations per name and persists footprints.
type Engine struct {
	store  Store
	logger *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewEngine creates a stack engine backed by the given store.
func NewEngine(store Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    store,
		logger:   logger.With("component", "stack"),
		inflight: make(map[string]struct{}),
	}
}

func (e *Engine) acquire(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, held := e.inflight[name]; held {
		return ErrStackBusy
	}
	e.inflight[name] = struct{}{}
	return nil
}

func (e *Engine) release(name string) {
	e.mu.Lock()
	delete(e.inflight, name)
	e.mu.Unlock()
}

// Begin starts a create operation for a new stack. It fails with
// ErrStackExists when a stack with the name is already recorded, and with
// ErrStackBusy when another operation is in flight for the name.
func (e *Engine) Begin(ctx context.Context, name string, provider string) (*Tx, error) {
	if err := e.acquire(name); err != nil {
		return nil, err
	}

	existing, err := e.store.GetStack(ctx, name)
	if err != nil {
		e.release(name)
		return nil, fmt.Errorf("failed to look up stack %s: %w", name, err)
	}
	if existing != nil {
		e.release(name)
		return nil, fmt.Errorf("stack %s: %w", name, ErrStackExists)
	}

	now := time.Now()
	return &Tx{
		engine: e,
		stack: &Stack{
			Name:      name,
			Provider:  provider,
			Outputs:   make(map[string]string),
			CreatedAt: now,
			UpdatedAt: now,
		},
	}, nil
}

// Open starts an update or teardown operation against an existing stack.
// A missing stack yields (nil, nil) so that deletion stays idempotent.
func (e *Engine) Open(ctx context.Context, name string) (*Tx, error) {
	if err := e.acquire(name); err != nil {
		return nil, err
	}

	existing, err := e.store.GetStack(ctx, name)
	if err != nil {
		e.release(name)
		return nil, fmt.Errorf("failed to look up stack %s: %w", name, err)
	}
	if existing == nil {
		e.release(name)
		return nil, nil
	}
	if existing.Outputs == nil {
		existing.Outputs = make(map[string]string)
	}

	return &Tx{engine: e, stack: existing}, nil
}

// Get reads a stack without locking it. Returns (nil, nil) when absent.
func (e *Engine) Get(ctx context.Context, name string) (*Stack, error) {
	return e.store.GetStack(ctx, name)
}

// =============================================================================
// Tx
// =============================================================================

// Tx is a single locked operation against one stack.
type Tx struct {
	engine *Engine
	stack  *Stack
	done   bool
}

// Stack exposes the in-progress footprint.
func (t *Tx) Stack() *Stack {
	return t.stack
}

// Add records a cloud-side object in the footprint. Partial footprints are
// committed even on failed creates so teardown can find what was made.
func (t *Tx) Add(res Resource) {
	t.stack.Resources = append(t.stack.Resources, res)
}

// SetOutput captures an output value.
func (t *Tx) SetOutput(key, value string) {
	t.stack.Outputs[key] = value
}

// Commit persists the footprint and releases the lock.
func (t *Tx) Commit(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.engine.release(t.stack.Name)

	t.stack.UpdatedAt = time.Now()
	if err := t.engine.store.SaveStack(ctx, t.stack); err != nil {
		return fmt.Errorf("failed to save stack %s: %w", t.stack.Name, err)
	}
	return nil
}

// Destroy removes the stack record and releases the lock. Called after the
// cloud-side objects in the footprint were torn down.
func (t *Tx) Destroy(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.engine.release(t.stack.Name)

	if err := t.engine.store.DeleteStack(ctx, t.stack.Name); err != nil {
		return fmt.Errorf("failed to delete stack %s: %w", t.stack.Name, err)
	}
	return nil
}

// Release unlocks without persisting changes.
func (t *Tx) Release() {
	if t.done {
		return
	}
	t.done = true
	t.engine.release(t.stack.Name)
}
