package testkit

import (
	"context"
	"net"
	"testing"
	"time"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"
)

func TestMQTTInlinePublishSubscribe(t *testing.T) {
	ctx := context.Background()
	m := NewMQTT(MQTTOptions{Prefix: "broker"})
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = m.Stop(ctx) }()

	server, ok := m.Handle().(*mqtt.Server)
	if !ok {
		t.Fatalf("unexpected handle type %T", m.Handle())
	}

	received := make(chan []byte, 1)
	if err := server.Subscribe("orders/created", 1, func(_ *mqtt.Client, _ packets.Subscription, pk packets.Packet) {
		select {
		case received <- pk.Payload:
		default:
		}
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := server.Publish("orders/created", []byte("42"), false, 0); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case payload := <-received:
		if string(payload) != "42" {
			t.Fatalf("payload mismatch: got=%q want=%q", payload, "42")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for published message")
	}

	props := m.Properties()
	if props["broker.addr"] != m.Addr() || props["broker.url"] != "tcp://"+m.Addr() {
		t.Fatalf("unexpected properties: %v", props)
	}
	conn, err := net.DialTimeout("tcp", m.Addr(), time.Second)
	if err != nil {
		t.Fatalf("dial broker: %v", err)
	}
	_ = conn.Close()
}

func TestMQTTStopReleasesListener(t *testing.T) {
	ctx := context.Background()
	m := NewMQTT(MQTTOptions{})
	if err := m.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	addr := m.Addr()
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if m.Properties() != nil {
		t.Fatal("expected no properties after stop")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatalf("address still in use after stop: %v", err)
	}
	_ = ln.Close()
}
