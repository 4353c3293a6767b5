package testkit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	defaultContainerStartupTimeout = time.Minute
	defaultTerminateTimeout        = 30 * time.Second
)

// ErrNotStarted is returned by accessors of a resource that is not running.
var ErrNotStarted = errors.New("testkit: resource not started")

// ContainerOptions describes a generic container resource.
type ContainerOptions struct {
	Image          string            `mapstructure:"image" validate:"required"`
	Ports          []string          `mapstructure:"ports"`
	Env            map[string]string `mapstructure:"env"`
	Cmd            []string          `mapstructure:"cmd"`
	WaitLog        string            `mapstructure:"wait_log"`
	WaitHTTP       string            `mapstructure:"wait_http"`
	StartupTimeout time.Duration     `mapstructure:"startup_timeout"`
	Prefix         string            `mapstructure:"prefix"`
}

// Container runs one Docker container through testcontainers for the
// lifetime of the resource.
type Container struct {
	req              testcontainers.ContainerRequest
	prefix           string
	terminateTimeout time.Duration

	mu    sync.RWMutex
	c     testcontainers.Container
	host  string
	ports map[string]string
}

// NewContainer builds a container resource from options.
func NewContainer(opts ContainerOptions) *Container {
	opts = withContainerDefaults(opts)
	ports := normalizePorts(opts.Ports)
	return NewContainerFromRequest(testcontainers.ContainerRequest{
		Image:        opts.Image,
		ExposedPorts: ports,
		Env:          upperKeys(opts.Env),
		Cmd:          opts.Cmd,
		WaitingFor:   containerWaitStrategy(opts, ports),
	}, opts.Prefix)
}

// NewContainerFromRequest wraps a raw testcontainers request.
func NewContainerFromRequest(req testcontainers.ContainerRequest, prefix string) *Container {
	return &Container{
		req:              req,
		prefix:           prefix,
		terminateTimeout: defaultTerminateTimeout,
	}
}

func withContainerDefaults(opts ContainerOptions) ContainerOptions {
	if opts.StartupTimeout <= 0 {
		opts.StartupTimeout = defaultContainerStartupTimeout
	}
	return opts
}

// upperKeys restores environment variable names lowercased by config loaders.
func upperKeys(env map[string]string) map[string]string {
	if env == nil {
		return nil
	}
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[strings.ToUpper(k)] = v
	}
	return out
}

func normalizePorts(ports []string) []string {
	out := make([]string, 0, len(ports))
	for _, p := range ports {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.Contains(p, "/") {
			p += "/tcp"
		}
		out = append(out, p)
	}
	return out
}

func containerWaitStrategy(opts ContainerOptions, ports []string) wait.Strategy {
	var strategies []wait.Strategy
	if opts.WaitLog != "" {
		strategies = append(strategies, wait.ForLog(opts.WaitLog))
	}
	if opts.WaitHTTP != "" && len(ports) > 0 {
		strategies = append(strategies, wait.ForHTTP(opts.WaitHTTP).WithPort(nat.Port(ports[0])))
	}
	if len(strategies) == 0 {
		if len(ports) == 0 {
			return nil
		}
		strategies = append(strategies, wait.ForListeningPort(nat.Port(ports[0])))
	}
	return wait.ForAll(strategies...).WithStartupTimeout(opts.StartupTimeout)
}

// Start creates and starts the container and resolves its mapped ports.
func (c *Container) Start(ctx context.Context) error {
	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: c.req,
		Started:          true,
	})
	if ctr != nil {
		c.mu.Lock()
		c.c = ctr
		c.mu.Unlock()
	}
	if err != nil {
		return fmt.Errorf("start container %q: %w", c.req.Image, err)
	}

	host, err := ctr.Host(ctx)
	if err != nil {
		return fmt.Errorf("container host: %w", err)
	}
	ports := make(map[string]string, len(c.req.ExposedPorts))
	for _, p := range c.req.ExposedPorts {
		mapped, err := ctr.MappedPort(ctx, nat.Port(p))
		if err != nil {
			return fmt.Errorf("mapped port for %s: %w", p, err)
		}
		ports[p] = mapped.Port()
	}

	c.mu.Lock()
	c.host = host
	c.ports = ports
	c.mu.Unlock()
	return nil
}

// Stop terminates the container. It is a no-op when Start never created one.
func (c *Container) Stop(ctx context.Context) error {
	c.mu.Lock()
	ctr := c.c
	c.c = nil
	c.mu.Unlock()
	if ctr == nil {
		return nil
	}

	termCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.terminateTimeout)
	defer cancel()
	if err := ctr.Terminate(termCtx); err != nil {
		return fmt.Errorf("terminate container %q: %w", c.req.Image, err)
	}
	return nil
}

// Handle exposes the underlying testcontainers.Container.
func (c *Container) Handle() any {
	return c.Raw()
}

// Raw returns the running container, or nil.
func (c *Container) Raw() testcontainers.Container {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.c
}

// Host returns the host where container ports are exposed.
func (c *Container) Host() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.host
}

// MappedPort returns the host port mapped to a container port such as "5432/tcp".
func (c *Container) MappedPort(port string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.ports == nil {
		return "", ErrNotStarted
	}
	ports := normalizePorts([]string{port})
	if len(ports) == 0 {
		return "", fmt.Errorf("empty port")
	}
	mapped, ok := c.ports[ports[0]]
	if !ok {
		return "", fmt.Errorf("port %s is not exposed", port)
	}
	return mapped, nil
}

// Endpoint builds a "<scheme>://<host>:<mapped-port>" endpoint for a container port.
func (c *Container) Endpoint(scheme, port string) (string, error) {
	mapped, err := c.MappedPort(port)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s://%s:%s", scheme, c.Host(), mapped), nil
}

// Properties publishes <prefix>.host and <prefix>.port.<container port> for
// every exposed port. The first exposed port is also published as <prefix>.port.
func (c *Container) Properties() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.ports == nil {
		return nil
	}
	props := map[string]string{prop(c.prefix, "host"): c.host}
	for i, p := range c.req.ExposedPorts {
		mapped := c.ports[p]
		if i == 0 {
			props[prop(c.prefix, "port")] = mapped
		}
		props[prop(c.prefix, "port."+nat.Port(p).Port())] = mapped
	}
	return props
}

func prop(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
