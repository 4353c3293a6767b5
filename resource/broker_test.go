package resource

import (
	"context"
	"errors"
	"testing"
)

func TestHandleForRunningResource(t *testing.T) {
	rec := &recorder{}
	client := &clientHandle{addr: "127.0.0.1:6379"}
	d := Describe("cache", func(Options) (Resource, error) {
		return &handledResource{fakeResource: fakeResource{key: "cache", rec: rec}, client: client}, nil
	}, nil)
	o := newTestOrchestrator(t, nil, d)
	b := o.Broker()

	var nre *NotRunningError
	if _, err := b.HandleFor("cache"); !errors.As(err, &nre) || nre.State != Created {
		t.Fatalf("expected NotRunningError(created) before start, got %v", err)
	}

	if err := o.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	got, err := HandleAs[*clientHandle](b, "cache")
	if err != nil {
		t.Fatalf("HandleAs: %v", err)
	}
	if got != client {
		t.Fatalf("unexpected handle: got=%p want=%p", got, client)
	}

	var hte *HandleTypeError
	if _, err := HandleAs[string](b, "cache"); !errors.As(err, &hte) {
		t.Fatalf("expected HandleTypeError, got %v", err)
	}

	_ = o.StopAll(context.Background())
	if _, err := b.HandleFor("cache"); !errors.As(err, &nre) || nre.State != Stopped {
		t.Fatalf("expected NotRunningError(stopped) after stop, got %v", err)
	}
}

func TestHandleForUnknownKey(t *testing.T) {
	o := newTestOrchestrator(t, nil)
	var nf *NotFoundError
	if _, err := o.Broker().HandleFor("nope"); !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestHandleDefaultsToResource(t *testing.T) {
	rec := &recorder{}
	o := newTestOrchestrator(t, nil, fake(rec, "db"))
	_ = o.StartAll(context.Background())

	h, err := HandleAs[*fakeResource](o.Broker(), "db")
	if err != nil {
		t.Fatalf("HandleAs: %v", err)
	}
	if h.key != "db" {
		t.Fatalf("unexpected handle key %q", h.key)
	}
}

func TestPropertiesMergeInStartOrder(t *testing.T) {
	rec := &recorder{}
	o := newTestOrchestrator(t, nil,
		fake(rec, "db", func(f *fakeResource) {
			f.props = map[string]string{"db.url": "postgres://a", "shared": "db"}
		}),
		fake(rec, "broken", func(f *fakeResource) {
			f.props = map[string]string{"broken.url": "x"}
			f.startErr = errors.New("nope")
		}),
		fake(rec, "cache", func(f *fakeResource) {
			f.props = map[string]string{"cache.addr": "127.0.0.1:6379", "shared": "cache"}
		}),
	)
	_ = o.StartAll(context.Background())

	props := o.Broker().Properties()
	want := map[string]string{"db.url": "postgres://a", "cache.addr": "127.0.0.1:6379", "shared": "cache"}
	if len(props) != len(want) {
		t.Fatalf("unexpected properties: got=%v want=%v", props, want)
	}
	for k, v := range want {
		if props[k] != v {
			t.Fatalf("property %s=%q want %q", k, props[k], v)
		}
	}

	cfg, err := o.Broker().ConfigFor("db")
	if err != nil || cfg["db.url"] != "postgres://a" {
		t.Fatalf("ConfigFor(db)=%v,%v", cfg, err)
	}
	cfg["db.url"] = "mutated"
	again, _ := o.Broker().ConfigFor("db")
	if again["db.url"] != "postgres://a" {
		t.Fatal("ConfigFor returned shared map")
	}
}

func TestInjectAssignsTaggedFields(t *testing.T) {
	rec := &recorder{}
	client := &clientHandle{addr: "x"}
	o := newTestOrchestrator(t, nil,
		fake(rec, "db"),
		Describe("cache", func(Options) (Resource, error) {
			return &handledResource{fakeResource: fakeResource{key: "cache", rec: rec}, client: client}, nil
		}, nil),
	)
	_ = o.StartAll(context.Background())

	var target struct {
		DB      *fakeResource `resource:"db"`
		Cache   *clientHandle `resource:"cache"`
		Missing *clientHandle `resource:"queue,optional"`
		Plain   string
	}
	if err := o.Broker().Inject(&target); err != nil {
		t.Fatalf("Inject: %v", err)
	}
	if target.DB == nil || target.DB.key != "db" {
		t.Fatalf("db not injected: %+v", target.DB)
	}
	if target.Cache != client {
		t.Fatalf("cache not injected")
	}
	if target.Missing != nil {
		t.Fatalf("optional missing field should stay nil")
	}
}

func TestInjectErrors(t *testing.T) {
	rec := &recorder{}
	o := newTestOrchestrator(t, nil, fake(rec, "db"))
	_ = o.StartAll(context.Background())
	b := o.Broker()

	if err := b.Inject(struct{}{}); err == nil {
		t.Fatal("expected error for non-pointer target")
	}

	var wrongType struct {
		DB *clientHandle `resource:"db"`
	}
	var ie *InjectError
	var hte *HandleTypeError
	if err := b.Inject(&wrongType); !errors.As(err, &ie) || !errors.As(err, &hte) {
		t.Fatalf("expected InjectError wrapping HandleTypeError, got %v", err)
	}

	var missing struct {
		Queue any `resource:"queue"`
	}
	var nf *NotFoundError
	if err := b.Inject(&missing); !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}
