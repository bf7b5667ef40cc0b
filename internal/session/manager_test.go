package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mohammad-safakhou/deepsearch/config"
	"github.com/mohammad-safakhou/deepsearch/internal/agent/core"
	"github.com/mohammad-safakhou/deepsearch/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoGateway() provider.Gateway {
	return provider.GatewayFunc(func(ctx context.Context, credential, modelID, prompt string) (string, error) {
		return "ok", nil
	})
}

func newManager(ttl time.Duration) *Manager {
	return NewManager(config.SessionConfig{TTL: ttl, CleanupInterval: 10 * time.Millisecond}, func(id string) *core.Orchestrator {
		return core.NewOrchestrator(echoGateway(), nil, nil, core.WithDefaultModel("m"))
	}, nil)
}

func TestManagerLifecycle(t *testing.T) {
	m := newManager(time.Hour)
	s := m.Create()
	require.NotEmpty(t, s.ID)
	assert.Equal(t, 1, m.Count())

	got, ok := m.Get(s.ID)
	require.True(t, ok)
	assert.Same(t, s, got)

	_, err := got.Orchestrator.Run(context.Background(), core.RunRequest{Query: "climate policy", Credential: "k"})
	require.NoError(t, err)
	assert.Equal(t, 2, got.Orchestrator.Store().Len())

	assert.True(t, m.Delete(s.ID))
	assert.False(t, m.Delete(s.ID))
	_, ok = m.Get(s.ID)
	assert.False(t, ok)
	assert.Equal(t, 0, got.Orchestrator.Store().Len(), "deleted sessions are reset")
}

func TestManagerSessionsAreIsolated(t *testing.T) {
	m := newManager(time.Hour)
	a, b := m.Create(), m.Create()
	assert.NotEqual(t, a.ID, b.ID)
	assert.NotSame(t, a.Orchestrator, b.Orchestrator)

	_, err := a.Orchestrator.Run(context.Background(), core.RunRequest{Query: "climate policy", Credential: "k"})
	require.NoError(t, err)
	assert.Equal(t, 0, b.Orchestrator.Store().Len())
}

func TestManagerExpiry(t *testing.T) {
	m := newManager(20 * time.Millisecond)
	s := m.Create()
	assert.Eventually(t, func() bool { return m.Count() == 0 }, time.Second, 10*time.Millisecond)
	_, ok := m.Get(s.ID)
	assert.False(t, ok)
}

type keyGuard struct{ keys []string }

func (g *keyGuard) Acquire(ctx context.Context, key string) (func(context.Context) error, error) {
	g.keys = append(g.keys, key)
	return func(context.Context) error { return nil }, nil
}

func TestFactoryAppliesConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.LLM.Models = []string{"gemini-2.5-pro", "gemini-2.0-flash"}
	var (
		mu     sync.Mutex
		models []string
	)
	gw := provider.GatewayFunc(func(ctx context.Context, credential, modelID, prompt string) (string, error) {
		mu.Lock()
		models = append(models, modelID)
		mu.Unlock()
		return "1. Review current international climate agreements", nil
	})
	guard := &keyGuard{}
	m := NewManager(config.SessionConfig{TTL: time.Hour}, NewFactory(cfg, gw, nil, guard, nil), nil)
	s := m.Create()

	res, err := s.Orchestrator.Run(context.Background(), core.RunRequest{Query: "climate policy", Credential: "k"})
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-pro", res.Model, "first configured model is the default")
	assert.GreaterOrEqual(t, len(res.Queries), 5)
	assert.Equal(t, []string{s.ID}, guard.keys)
	mu.Lock()
	defer mu.Unlock()
	for _, id := range models {
		assert.Equal(t, "gemini-2.5-pro", id)
	}
}
