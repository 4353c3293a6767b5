package testkit

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/bronystylecrazy/suitekit/resource"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/multierr"
)

const (
	defaultRedisImage          = "redis:7-alpine"
	defaultRedisPort           = "6379/tcp"
	defaultRedisStartupTimeout = 90 * time.Second
)

// RedisOptions controls how the Redis container is started.
type RedisOptions struct {
	Image          string        `mapstructure:"image"`
	Password       string        `mapstructure:"password"`
	StartupTimeout time.Duration `mapstructure:"startup_timeout"`
	Prefix         string        `mapstructure:"prefix"`
}

// Redis is a Redis container resource whose handle is a *redis.Client.
type Redis struct {
	opts      RedisOptions
	container *Container

	mu     sync.RWMutex
	addr   string
	client *redis.Client
}

func NewRedis(opts RedisOptions) *Redis {
	opts = withRedisDefaults(opts)

	req := testcontainers.ContainerRequest{
		Image:        opts.Image,
		ExposedPorts: []string{defaultRedisPort},
		WaitingFor: wait.ForListeningPort(defaultRedisPort).
			WithStartupTimeout(opts.StartupTimeout),
	}
	if opts.Password != "" {
		req.Cmd = []string{"redis-server", "--appendonly", "no", "--requirepass", opts.Password}
	}
	return &Redis{opts: opts, container: NewContainerFromRequest(req, "")}
}

func (r *Redis) Start(ctx context.Context) error {
	if err := r.container.Start(ctx); err != nil {
		return err
	}
	port, err := r.container.MappedPort(defaultRedisPort)
	if err != nil {
		return err
	}
	addr := net.JoinHostPort(r.container.Host(), port)
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: r.opts.Password,
		Protocol: 3,
	})

	r.mu.Lock()
	r.addr = addr
	r.client = client
	r.mu.Unlock()

	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	return nil
}

func (r *Redis) Stop(ctx context.Context) error {
	r.mu.Lock()
	client := r.client
	r.client = nil
	r.mu.Unlock()

	var err error
	if client != nil {
		err = client.Close()
	}
	return multierr.Append(err, r.container.Stop(ctx))
}

func (r *Redis) Handle() any { return r.Client() }

// Client returns the shared client, or nil before Start.
func (r *Redis) Client() *redis.Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.client
}

// Addr returns host:port for Redis clients.
func (r *Redis) Addr() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.addr
}

func (r *Redis) Properties() map[string]string {
	addr := r.Addr()
	if addr == "" {
		return nil
	}
	return map[string]string{
		prop(r.opts.Prefix, "addr"):     addr,
		prop(r.opts.Prefix, "password"): r.opts.Password,
	}
}

// Namespace returns a factory for per-class key namespaces on r. Every key
// under the namespace is deleted on Stop.
func (r *Redis) Namespace(prefix string) resource.Factory {
	return func(resource.Options) (resource.Resource, error) {
		return newRedisNamespace(r.Client, prefix), nil
	}
}

// RedisNamespace is a key prefix reserved for one class.
type RedisNamespace struct {
	client func() *redis.Client
	prefix string
}

func newRedisNamespace(client func() *redis.Client, prefix string) *RedisNamespace {
	return &RedisNamespace{
		client: client,
		prefix: makeRedisPrefix(prefix, strings.ReplaceAll(uuid.NewString()[:8], "-", "")),
	}
}

func (n *RedisNamespace) Start(context.Context) error {
	if n.client() == nil {
		return fmt.Errorf("redis namespace %q: server %w", n.prefix, ErrNotStarted)
	}
	return nil
}

func (n *RedisNamespace) Stop(ctx context.Context) error {
	client := n.client()
	if client == nil {
		return nil
	}
	return deleteRedisNamespace(ctx, client, n.prefix)
}

func (n *RedisNamespace) Handle() any { return n }

// Prefix returns the namespace prefix, ending in ':'.
func (n *RedisNamespace) Prefix() string { return n.prefix }

// Key returns key inside the namespace.
func (n *RedisNamespace) Key(key string) string { return n.prefix + key }

// Client returns the server client.
func (n *RedisNamespace) Client() *redis.Client { return n.client() }

func deleteRedisNamespace(ctx context.Context, client redis.UniversalClient, prefix string) error {
	var cursor uint64
	for {
		keys, next, err := client.Scan(ctx, cursor, prefix+"*", 200).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func makeRedisPrefix(prefix, fragment string) string {
	base := cleanIDFragment(prefix + "_" + fragment)
	if base == "" {
		base = "it_case"
	}
	return base + ":"
}

func withRedisDefaults(opts RedisOptions) RedisOptions {
	if opts.Image == "" {
		opts.Image = defaultRedisImage
	}
	if opts.StartupTimeout <= 0 {
		opts.StartupTimeout = defaultRedisStartupTimeout
	}
	return opts
}
