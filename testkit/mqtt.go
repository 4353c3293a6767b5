package testkit

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
)

// MQTTOptions controls the in-process MQTT broker.
type MQTTOptions struct {
	// Address defaults to a free loopback port.
	Address string `mapstructure:"address"`
	Prefix  string `mapstructure:"prefix"`
}

// MQTT is an in-process mochi-mqtt broker allowing every client. Its handle
// is the *mqtt.Server, which has an inline client for Publish and Subscribe.
type MQTT struct {
	opts MQTTOptions

	mu     sync.RWMutex
	server *mqtt.Server
	addr   string
}

func NewMQTT(opts MQTTOptions) *MQTT {
	return &MQTT{opts: opts}
}

func (m *MQTT) Start(ctx context.Context) error {
	addr := m.opts.Address
	if addr == "" {
		free, err := reserveAddr()
		if err != nil {
			return err
		}
		addr = free
	}

	server := mqtt.New(&mqtt.Options{
		InlineClient: true,
		Logger:       slog.New(slog.DiscardHandler),
	})
	m.mu.Lock()
	m.server = server
	m.mu.Unlock()

	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		return fmt.Errorf("mqtt hook: %w", err)
	}
	if err := server.AddListener(listeners.NewTCP(listeners.Config{
		ID:      "suitekit",
		Address: addr,
	})); err != nil {
		return fmt.Errorf("mqtt listener %s: %w", addr, err)
	}

	go func() {
		_ = server.Serve()
	}()

	if err := waitListening(ctx, addr); err != nil {
		return fmt.Errorf("mqtt broker %s: %w", addr, err)
	}
	m.mu.Lock()
	m.addr = addr
	m.mu.Unlock()
	return nil
}

func (m *MQTT) Stop(context.Context) error {
	m.mu.Lock()
	server := m.server
	m.server = nil
	m.addr = ""
	m.mu.Unlock()
	if server == nil {
		return nil
	}
	return server.Close()
}

func (m *MQTT) Handle() any { return m.Server() }

func (m *MQTT) Server() *mqtt.Server {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.server
}

// Addr returns the host:port the broker listens on.
func (m *MQTT) Addr() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.addr
}

func (m *MQTT) Properties() map[string]string {
	addr := m.Addr()
	if addr == "" {
		return nil
	}
	return map[string]string{
		prop(m.opts.Prefix, "addr"): addr,
		prop(m.opts.Prefix, "url"):  "tcp://" + addr,
	}
}

// reserveAddr returns a loopback address that was free a moment ago.
func reserveAddr() (string, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("reserve listen addr: %w", err)
	}
	addr := l.Addr().String()
	if err := l.Close(); err != nil {
		return "", fmt.Errorf("close reserved listener: %w", err)
	}
	return addr, nil
}

const listenWaitTimeout = 5 * time.Second

func waitListening(ctx context.Context, addr string) error {
	ctx, cancelWait := context.WithTimeout(ctx, listenWaitTimeout)
	defer cancelWait()

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	var d net.Dialer
	for {
		dialCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		conn, err := d.DialContext(dialCtx, "tcp", addr)
		cancel()
		if err == nil {
			return conn.Close()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
