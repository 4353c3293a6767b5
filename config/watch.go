package config

import (
	"context"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultWatchDebounce = 200 * time.Millisecond

// Watch reloads path after every write and calls fn with the new config or
// the load error. Bursts of events within the debounce window collapse into
// one call. Calls stop once ctx is done.
func Watch(ctx context.Context, path string, debounce time.Duration, fn func(Config, error), opts ...Option) error {
	v, err := load(newLoadState(opts), path)
	if err != nil {
		return err
	}
	if debounce <= 0 {
		debounce = defaultWatchDebounce
	}

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	reload := func() {
		if ctx.Err() != nil {
			return
		}
		cfg, err := Load(path, opts...)
		fn(cfg, err)
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, reload)
	})
	v.WatchConfig()

	go func() {
		<-ctx.Done()
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()
	return nil
}
