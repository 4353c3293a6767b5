package testkit

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	defaultEMQXImage          = "emqx/emqx:5.8.4"
	defaultEMQXDashboardPort  = "18083/tcp"
	defaultEMQXMQTTPort       = "1883/tcp"
	defaultEMQXDashboardUser  = "admin"
	defaultEMQXDashboardPass  = "public"
	defaultEMQXStartupTimeout = 2 * time.Minute
)

// EMQXOptions controls how the EMQX container is started.
type EMQXOptions struct {
	Image          string        `mapstructure:"image"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	StartupTimeout time.Duration `mapstructure:"startup_timeout"`
	Prefix         string        `mapstructure:"prefix"`
}

// EMQX is an MQTT broker container resource configured for dashboard API
// authentication. Its handle is the *EMQX itself.
type EMQX struct {
	opts      EMQXOptions
	container *Container

	mu                sync.RWMutex
	mqttAddr          string
	dashboardEndpoint string
}

func NewEMQX(opts EMQXOptions) *EMQX {
	opts = withEMQXDefaults(opts)
	return &EMQX{
		opts: opts,
		container: NewContainerFromRequest(testcontainers.ContainerRequest{
			Image:        opts.Image,
			ExposedPorts: []string{defaultEMQXDashboardPort, defaultEMQXMQTTPort},
			Env: map[string]string{
				"EMQX_DASHBOARD__DEFAULT_USERNAME": opts.Username,
				"EMQX_DASHBOARD__DEFAULT_PASSWORD": opts.Password,
			},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort(defaultEMQXDashboardPort),
				wait.ForListeningPort(defaultEMQXMQTTPort),
			).WithStartupTimeout(opts.StartupTimeout),
		}, ""),
	}
}

func (e *EMQX) Start(ctx context.Context) error {
	if err := e.container.Start(ctx); err != nil {
		return err
	}
	dashboard, err := e.container.Endpoint("http", defaultEMQXDashboardPort)
	if err != nil {
		return err
	}
	mqttPort, err := e.container.MappedPort(defaultEMQXMQTTPort)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.dashboardEndpoint = dashboard
	e.mqttAddr = net.JoinHostPort(e.container.Host(), mqttPort)
	e.mu.Unlock()
	return nil
}

func (e *EMQX) Stop(ctx context.Context) error {
	return e.container.Stop(ctx)
}

// MQTTAddr returns host:port of the MQTT listener.
func (e *EMQX) MQTTAddr() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mqttAddr
}

// DashboardEndpoint returns the dashboard/API base URL.
func (e *EMQX) DashboardEndpoint() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dashboardEndpoint
}

func (e *EMQX) Properties() map[string]string {
	addr := e.MQTTAddr()
	if addr == "" {
		return nil
	}
	return map[string]string{
		prop(e.opts.Prefix, "mqtt_addr"):          addr,
		prop(e.opts.Prefix, "dashboard_endpoint"): e.DashboardEndpoint(),
		prop(e.opts.Prefix, "username"):           e.opts.Username,
		prop(e.opts.Prefix, "password"):           e.opts.Password,
	}
}

func withEMQXDefaults(opts EMQXOptions) EMQXOptions {
	if opts.Image == "" {
		opts.Image = defaultEMQXImage
	}
	if opts.Username == "" {
		opts.Username = defaultEMQXDashboardUser
	}
	if opts.Password == "" {
		opts.Password = defaultEMQXDashboardPass
	}
	if opts.StartupTimeout <= 0 {
		opts.StartupTimeout = defaultEMQXStartupTimeout
	}
	return opts
}
