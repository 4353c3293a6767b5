// Package testkit provides ready-made resources: Docker containers through
// testcontainers and in-process fakes for Redis, SQLite, MQTT and HTTP.
package testkit

import (
	"os"
	"strings"
	"testing"

	"github.com/testcontainers/testcontainers-go"
)

// IntegrationEnv is an optional environment variable gate for container-backed tests.
const IntegrationEnv = "RUN_INTEGRATION_TESTS"

// IntegrationEnabled reports whether RUN_INTEGRATION_TESTS is set to a truthy value.
func IntegrationEnabled() bool {
	switch strings.TrimSpace(strings.ToLower(os.Getenv(IntegrationEnv))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// RequireIntegration skips the test unless RUN_INTEGRATION_TESTS is set to a truthy value.
func RequireIntegration(t testing.TB) {
	t.Helper()
	if IntegrationEnabled() {
		return
	}
	t.Skipf("skipping integration test; set %s=1 to run", IntegrationEnv)
}

// DockerAvailable reports whether a Docker provider can be reached.
func DockerAvailable() (ok bool, reason error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			reason = panicError{r}
		}
	}()

	provider, err := testcontainers.NewDockerProvider()
	if err != nil {
		return false, err
	}
	_ = provider.Close()
	return true, nil
}

// RequireDocker skips the test when Docker is unavailable.
func RequireDocker(t testing.TB) {
	t.Helper()
	if ok, err := DockerAvailable(); !ok {
		t.Skipf("docker is not available: %v", err)
	}
}

type panicError struct{ v any }

func (p panicError) Error() string {
	if err, ok := p.v.(error); ok {
		return err.Error()
	}
	if s, ok := p.v.(string); ok {
		return s
	}
	return "docker provider panicked"
}
