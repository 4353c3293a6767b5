package suite

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/bronystylecrazy/suitekit/resource"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type events struct {
	mu  sync.Mutex
	log []string
}

func (e *events) add(s string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.log = append(e.log, s)
}

func (e *events) list() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.log...)
}

type client struct{ key string }

type fakeResource struct {
	key      string
	ev       *events
	startErr error
	stopErr  error
}

func (f *fakeResource) Start(context.Context) error {
	f.ev.add("start:" + f.key)
	return f.startErr
}

func (f *fakeResource) Stop(context.Context) error {
	f.ev.add("stop:" + f.key)
	return f.stopErr
}

func (f *fakeResource) Handle() any { return &client{key: f.key} }

func (f *fakeResource) Properties() map[string]string {
	return map[string]string{f.key + ".url": "mem://" + f.key}
}

func describe(ev *events, key string, mutate ...func(*fakeResource)) resource.Descriptor {
	return resource.Describe(key, func(resource.Options) (resource.Resource, error) {
		f := &fakeResource{key: key, ev: ev}
		for _, m := range mutate {
			m(f)
		}
		return f, nil
	}, nil)
}

func registry(t *testing.T, descs ...resource.Descriptor) *resource.Registry {
	t.Helper()
	reg, err := resource.NewRegistry(descs...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return reg
}

type fakeTB struct {
	testing.TB
	cleanups []func()
	fatals   []string
	errs     []string
	logs     []string
}

func (f *fakeTB) Helper()           {}
func (f *fakeTB) Name() string      { return "fake" }
func (f *fakeTB) Cleanup(fn func()) { f.cleanups = append(f.cleanups, fn) }

func (f *fakeTB) Fatalf(format string, args ...any) {
	f.fatals = append(f.fatals, fmt.Sprintf(format, args...))
}
func (f *fakeTB) Errorf(format string, args ...any) {
	f.errs = append(f.errs, fmt.Sprintf(format, args...))
}
func (f *fakeTB) Logf(format string, args ...any) {
	f.logs = append(f.logs, fmt.Sprintf(format, args...))
}

func (f *fakeTB) finish() {
	for i := len(f.cleanups) - 1; i >= 0; i-- {
		f.cleanups[i]()
	}
}

func TestNewStartsAndStopsWithTest(t *testing.T) {
	ev := &events{}
	reg := registry(t, describe(ev, "db"), describe(ev, "cache"))

	t.Run("uses resources", func(t *testing.T) {
		s := New(t, reg)
		require.NotEmpty(t, s.RunID())

		db := Get[*client](t, s, "db")
		require.Equal(t, "db", db.key)
		require.Equal(t, "mem://cache", Property(t, s, "cache.url"))
		require.Equal(t, []string{"start:db", "start:cache"}, ev.list())
	})

	require.Equal(t, []string{"start:db", "start:cache", "stop:cache", "stop:db"}, ev.list())
}

func TestNewFailsOnStartError(t *testing.T) {
	ev := &events{}
	reg := registry(t,
		describe(ev, "db", func(f *fakeResource) { f.startErr = errors.New("boom") }),
		describe(ev, "cache"),
	)
	tb := &fakeTB{}
	New(tb, reg)

	require.Len(t, tb.fatals, 1)
	require.Contains(t, tb.fatals[0], "start resources")
	require.Contains(t, tb.fatals[0], "boom")

	tb.finish()
	require.Equal(t, []string{"start:db", "start:cache", "stop:cache", "stop:db"}, ev.list())
	require.Empty(t, tb.errs)
}

func TestNewAllowStartFailures(t *testing.T) {
	ev := &events{}
	reg := registry(t,
		describe(ev, "db", func(f *fakeResource) { f.startErr = errors.New("boom") }),
		describe(ev, "cache"),
	)
	tb := &fakeTB{}
	s := New(tb, reg, WithAllowStartFailures())
	defer tb.finish()

	require.Empty(t, tb.fatals)
	require.Len(t, tb.logs, 1)

	_, err := resource.HandleAs[*client](s.Broker(), "db")
	var nre *resource.NotRunningError
	require.ErrorAs(t, err, &nre)
	require.Equal(t, resource.Failed, nre.State)

	Get[*client](tb, s, "db")
	require.Len(t, tb.fatals, 1)
}

func TestNewReportsStopFailures(t *testing.T) {
	ev := &events{}
	reg := registry(t, describe(ev, "db", func(f *fakeResource) { f.stopErr = errors.New("stuck") }))
	tb := &fakeTB{}
	New(tb, reg)
	tb.finish()

	require.Len(t, tb.errs, 1)
	require.Contains(t, tb.errs[0], "db")
}

func TestClassCreatesFreshResources(t *testing.T) {
	ev := &events{}
	var mu sync.Mutex
	created := 0
	reg := registry(t,
		describe(ev, "db"),
		resource.Descriptor{
			Key:   "mock",
			Scope: resource.ScopeClass,
			Factory: func(resource.Options) (resource.Resource, error) {
				mu.Lock()
				created++
				n := created
				mu.Unlock()
				return &fakeResource{key: fmt.Sprintf("mock%d", n), ev: ev}, nil
			},
		},
	)
	s := New(t, reg)

	var handles []string
	for _, name := range []string{"orders", "payments"} {
		t.Run(name, func(t *testing.T) {
			c := s.Class(t, "")
			require.Equal(t, t.Name(), c.Name())
			handles = append(handles, Get[*client](t, c, "mock").key)
			require.Equal(t, "db", Get[*client](t, c, "db").key)
		})
	}

	require.Equal(t, []string{"mock1", "mock2"}, handles)
	_, err := resource.HandleAs[*client](s.Broker(), "mock")
	require.Error(t, err)

	starts := 0
	for _, e := range ev.list() {
		if e == "start:db" {
			starts++
		}
	}
	require.Equal(t, 1, starts)
}

func TestInjectHelper(t *testing.T) {
	ev := &events{}
	s := New(t, registry(t, describe(ev, "db")))

	var deps struct {
		DB    *client `resource:"db"`
		Queue *client `resource:"queue,optional"`
	}
	Inject(t, s, &deps)
	require.Equal(t, "db", deps.DB.key)
	require.Nil(t, deps.Queue)

	tb := &fakeTB{}
	var missing struct {
		Queue *client `resource:"queue"`
	}
	Inject(tb, s, &missing)
	require.Len(t, tb.fatals, 1)
}

func TestNewFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "suite.toml")
	content := "[[resources]]\nkey = \"db\"\nkind = \"sqlite\"\n\n[[resources]]\nkey = \"cache\"\nkind = \"miniredis\"\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	s := NewFromFile(t, path)
	db := Get[*gorm.DB](t, s, "db")
	require.NoError(t, db.Exec("SELECT 1").Error)

	cache := Get[*redis.Client](t, s, "cache")
	require.NoError(t, cache.Ping(context.Background()).Err())
	require.NotEmpty(t, Property(t, s, "cache.addr"))
}

type fakeRunner struct {
	run func() int
}

func (r fakeRunner) Run() int { return r.run() }

func captureStderr(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	prev := stderr
	stderr = buf
	t.Cleanup(func() { stderr = prev })
	return buf
}

func TestMainRunsBetweenStartAndStop(t *testing.T) {
	captureStderr(t)
	ev := &events{}
	reg := registry(t, describe(ev, "db"), describe(ev, "cache"))

	var broker *resource.Broker
	code := Main(fakeRunner{run: func() int {
		ev.add("run")
		h, err := resource.HandleAs[*client](broker, "cache")
		require.NoError(t, err)
		require.Equal(t, "cache", h.key)
		return 3
	}}, reg, func(b *resource.Broker) { broker = b })

	require.Equal(t, 3, code)
	require.Equal(t, []string{"start:db", "start:cache", "run", "stop:cache", "stop:db"}, ev.list())
}

func TestMainStartFailureSkipsRun(t *testing.T) {
	out := captureStderr(t)
	ev := &events{}
	reg := registry(t,
		describe(ev, "db"),
		describe(ev, "cache", func(f *fakeResource) { f.startErr = errors.New("no docker") }),
	)

	code := Main(fakeRunner{run: func() int {
		t.Fatal("tests must not run when resources failed")
		return 0
	}}, reg, nil, WithoutSignalHandling())

	require.Equal(t, 1, code)
	require.Contains(t, out.String(), "no docker")
	require.Equal(t, []string{"start:db", "start:cache", "stop:cache", "stop:db"}, ev.list())
}

func TestMainStopFailureFailsPassingRun(t *testing.T) {
	out := captureStderr(t)
	ev := &events{}
	reg := registry(t,
		describe(ev, "db", func(f *fakeResource) { f.stopErr = errors.New("leak") }),
		describe(ev, "cache", func(f *fakeResource) { f.stopErr = errors.New("leak") }),
	)

	code := Main(fakeRunner{run: func() int { return 0 }}, reg, nil)
	require.Equal(t, 1, code)
	require.True(t, strings.Contains(out.String(), "db") && strings.Contains(out.String(), "cache"))
}
