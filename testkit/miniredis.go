package testkit

import (
	"context"
	"fmt"
	"sync"

	"github.com/alicebob/miniredis/v2"
	"github.com/bronystylecrazy/suitekit/resource"
	"github.com/redis/go-redis/v9"
)

// MiniRedisOptions controls the in-process Redis server.
type MiniRedisOptions struct {
	Password string `mapstructure:"password"`
	Prefix   string `mapstructure:"prefix"`
}

// MiniRedis is an in-process Redis server. Its handle is a *redis.Client.
type MiniRedis struct {
	opts MiniRedisOptions

	mu     sync.RWMutex
	server *miniredis.Miniredis
	client *redis.Client
}

func NewMiniRedis(opts MiniRedisOptions) *MiniRedis {
	return &MiniRedis{opts: opts}
}

func (m *MiniRedis) Start(ctx context.Context) error {
	server := miniredis.NewMiniRedis()
	if m.opts.Password != "" {
		server.RequireAuth(m.opts.Password)
	}
	if err := server.Start(); err != nil {
		return fmt.Errorf("start miniredis: %w", err)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     server.Addr(),
		Password: m.opts.Password,
		Protocol: 3,
	})

	m.mu.Lock()
	m.server = server
	m.client = client
	m.mu.Unlock()

	return client.Ping(ctx).Err()
}

func (m *MiniRedis) Stop(context.Context) error {
	m.mu.Lock()
	server, client := m.server, m.client
	m.server, m.client = nil, nil
	m.mu.Unlock()

	var err error
	if client != nil {
		err = client.Close()
	}
	if server != nil {
		server.Close()
	}
	return err
}

func (m *MiniRedis) Handle() any { return m.Client() }

func (m *MiniRedis) Client() *redis.Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client
}

// Server exposes the miniredis instance, e.g. for FastForward.
func (m *MiniRedis) Server() *miniredis.Miniredis {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.server
}

func (m *MiniRedis) Properties() map[string]string {
	server := m.Server()
	if server == nil {
		return nil
	}
	return map[string]string{
		prop(m.opts.Prefix, "addr"):     server.Addr(),
		prop(m.opts.Prefix, "password"): m.opts.Password,
	}
}

// Namespace returns a factory for per-class key namespaces on m.
func (m *MiniRedis) Namespace(prefix string) resource.Factory {
	return func(resource.Options) (resource.Resource, error) {
		return newRedisNamespace(m.Client, prefix), nil
	}
}
