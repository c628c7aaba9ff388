package stack

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryStore is an in-memory stack store for tests.
type memoryStore struct {
	mu     sync.Mutex
	stacks map[string]*Stack
}

func newMemoryStore() *memoryStore {
	return &memoryStore{stacks: make(map[string]*Stack)}
}

func (m *memoryStore) GetStack(_ context.Context, name string) (*Stack, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stacks[name]
	if !ok {
		return nil, nil
	}
	copied := *s
	return &copied, nil
}

func (m *memoryStore) SaveStack(_ context.Context, s *Stack) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *s
	m.stacks[s.Name] = &copied
	return nil
}

func (m *memoryStore) DeleteStack(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stacks, name)
	return nil
}

func TestEngine_BeginCommit(t *testing.T) {
	ctx := context.Background()
	engine := NewEngine(newMemoryStore(), nil)

	tx, err := engine.Begin(ctx, "web-a1b2c3d4", "aws")
	require.NoError(t, err)

	tx.Add(Resource{Kind: "instance", ID: "i-0abc", Region: "eu-west-1"})
	tx.Add(Resource{Kind: "security-group", ID: "sg-0def", Region: "eu-west-1"})
	tx.SetOutput("ip", "1.2.3.4")
	require.NoError(t, tx.Commit(ctx))

	s, err := engine.Get(ctx, "web-a1b2c3d4")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "aws", s.Provider)
	assert.Equal(t, "1.2.3.4", s.Output("ip"))

	inst, ok := s.Resource("instance")
	require.True(t, ok)
	assert.Equal(t, "i-0abc", inst.ID)

	_, ok = s.Resource("elastic-ip")
	assert.False(t, ok)
}

func TestEngine_BeginExistingStack(t *testing.T) {
	ctx := context.Background()
	engine := NewEngine(newMemoryStore(), nil)

	tx, err := engine.Begin(ctx, "web-a1b2c3d4", "aws")
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	_, err = engine.Begin(ctx, "web-a1b2c3d4", "aws")
	assert.ErrorIs(t, err, ErrStackExists)

	// The failed Begin must not leave the name locked.
	tx2, err := engine.Open(ctx, "web-a1b2c3d4")
	require.NoError(t, err)
	require.NotNil(t, tx2)
	tx2.Release()
}

func TestEngine_ConcurrentOperationRejected(t *testing.T) {
	ctx := context.Background()
	engine := NewEngine(newMemoryStore(), nil)

	tx, err := engine.Begin(ctx, "web-a1b2c3d4", "aws")
	require.NoError(t, err)

	_, err = engine.Begin(ctx, "web-a1b2c3d4", "aws")
	assert.ErrorIs(t, err, ErrStackBusy)

	_, err = engine.Open(ctx, "web-a1b2c3d4")
	assert.ErrorIs(t, err, ErrStackBusy)

	// Operations on other stacks are unaffected.
	other, err := engine.Begin(ctx, "db-99999999", "gcp")
	require.NoError(t, err)
	other.Release()

	require.NoError(t, tx.Commit(ctx))
}

func TestEngine_OpenMissingStack(t *testing.T) {
	ctx := context.Background()
	engine := NewEngine(newMemoryStore(), nil)

	tx, err := engine.Open(ctx, "gone-00000000")
	require.NoError(t, err)
	assert.Nil(t, tx)
}

func TestEngine_Destroy(t *testing.T) {
	ctx := context.Background()
	engine := NewEngine(newMemoryStore(), nil)

	tx, err := engine.Begin(ctx, "web-a1b2c3d4", "aws")
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))

	open, err := engine.Open(ctx, "web-a1b2c3d4")
	require.NoError(t, err)
	require.NotNil(t, open)
	require.NoError(t, open.Destroy(ctx))

	// Second teardown finds nothing; deletion stays idempotent.
	again, err := engine.Open(ctx, "web-a1b2c3d4")
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestTx_ReleaseWithoutPersist(t *testing.T) {
	ctx := context.Background()
	engine := NewEngine(newMemoryStore(), nil)

	tx, err := engine.Begin(ctx, "web-a1b2c3d4", "aws")
	require.NoError(t, err)
	tx.Release()

	s, err := engine.Get(ctx, "web-a1b2c3d4")
	require.NoError(t, err)
	assert.Nil(t, s)

	// Name is reusable after release.
	tx2, err := engine.Begin(ctx, "web-a1b2c3d4", "aws")
	require.NoError(t, err)
	tx2.Release()
}
