package testkit

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

func TestNormalizePorts(t *testing.T) {
	got := normalizePorts([]string{"5432", " 9000/tcp ", "", "53/udp"})
	want := []string{"5432/tcp", "9000/tcp", "53/udp"}
	if !slices.Equal(got, want) {
		t.Fatalf("unexpected ports: got=%v want=%v", got, want)
	}
}

func TestNewContainerBuildsRequest(t *testing.T) {
	c := NewContainer(ContainerOptions{
		Image: "nginx:alpine",
		Ports: []string{"80"},
		Env:   map[string]string{"A": "1"},
	})
	if c.req.Image != "nginx:alpine" {
		t.Fatalf("unexpected image: got=%q", c.req.Image)
	}
	if !slices.Equal(c.req.ExposedPorts, []string{"80/tcp"}) {
		t.Fatalf("unexpected exposed ports: %v", c.req.ExposedPorts)
	}
	if c.req.WaitingFor == nil {
		t.Fatal("expected a wait strategy for exposed ports")
	}
	if NewContainer(ContainerOptions{Image: "busybox"}).req.WaitingFor != nil {
		t.Fatal("expected no wait strategy without ports")
	}
}

func TestWithContainerDefaults(t *testing.T) {
	if got := withContainerDefaults(ContainerOptions{}).StartupTimeout; got != defaultContainerStartupTimeout {
		t.Fatalf("unexpected startup timeout: got=%s want=%s", got, defaultContainerStartupTimeout)
	}
	if got := withContainerDefaults(ContainerOptions{StartupTimeout: time.Second}).StartupTimeout; got != time.Second {
		t.Fatalf("startup timeout overridden: got=%s", got)
	}
}

func TestContainerBeforeStart(t *testing.T) {
	c := NewContainer(ContainerOptions{Image: "nginx:alpine", Ports: []string{"80"}, Prefix: "web"})

	if _, err := c.MappedPort("80"); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("MappedPort before start: got=%v want=%v", err, ErrNotStarted)
	}
	if c.Properties() != nil {
		t.Fatalf("expected no properties before start, got %v", c.Properties())
	}
	if c.Raw() != nil {
		t.Fatal("expected no container before start")
	}
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("Stop before Start: %v", err)
	}
}

func TestContainerProperties(t *testing.T) {
	c := NewContainer(ContainerOptions{Image: "minio", Ports: []string{"9000", "9001"}, Prefix: "s3"})
	c.host = "localhost"
	c.ports = map[string]string{"9000/tcp": "32768", "9001/tcp": "32769"}

	props := c.Properties()
	want := map[string]string{
		"s3.host":      "localhost",
		"s3.port":      "32768",
		"s3.port.9000": "32768",
		"s3.port.9001": "32769",
	}
	for k, v := range want {
		if props[k] != v {
			t.Fatalf("property %s: got=%q want=%q", k, props[k], v)
		}
	}
	endpoint, err := c.Endpoint("http", "9001")
	if err != nil || endpoint != "http://localhost:32769" {
		t.Fatalf("Endpoint: got=%q,%v", endpoint, err)
	}
	if _, err := c.MappedPort("1234"); err == nil {
		t.Fatal("expected error for unexposed port")
	}
}

func TestProp(t *testing.T) {
	if got := prop("", "url"); got != "url" {
		t.Fatalf("prop without prefix: got=%q", got)
	}
	if got := prop("db", "url"); got != "db.url" {
		t.Fatalf("prop with prefix: got=%q", got)
	}
}
