package suite

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/bronystylecrazy/suitekit/resource"
	"go.uber.org/zap"
)

// Runner is satisfied by *testing.M.
type Runner interface {
	Run() int
}

var (
	stderr io.Writer = os.Stderr
	exit             = os.Exit
)

// Main is meant for TestMain. It starts every suite-scoped resource of reg,
// hands the broker to bind, runs m and stops everything in reverse order.
// It returns the exit code to pass to os.Exit.
//
// Resources that fail to start abort the run with code 1 unless
// WithAllowStartFailures is given. Stop failures turn a passing run into a
// failing one. On SIGINT or SIGTERM resources are stopped before the process exits.
func Main(m Runner, reg *resource.Registry, bind func(*resource.Broker), opts ...Option) int {
	set := newSettings(opts)
	s, err := newSuite(reg, set)
	if err != nil {
		fmt.Fprintf(stderr, "suite: %v\n", err)
		return 1
	}

	var once sync.Once
	var stopErr error
	stop := func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), set.shutdownGracePeriod)
			defer cancel()
			stopErr = s.o.StopAll(ctx)
		})
	}

	if set.handleSignals {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
		done := make(chan struct{})
		defer close(done)
		defer signal.Stop(sigs)
		go func() {
			select {
			case sig := <-sigs:
				s.logger.Warn("signal received, stopping resources", zap.Stringer("signal", sig))
				stop()
				exit(130)
			case <-done:
			}
		}()
	}

	if err := s.o.StartAll(context.Background()); err != nil {
		fmt.Fprintf(stderr, "suite: start resources: %v\n", err)
		if !set.allowStartFailures {
			stop()
			if stopErr != nil {
				fmt.Fprintf(stderr, "suite: stop resources: %v\n", stopErr)
			}
			return 1
		}
	}

	if bind != nil {
		bind(s.Broker())
	}
	code := m.Run()

	stop()
	if stopErr != nil {
		s.logger.Error("resources failed to stop", zap.Error(stopErr))
		fmt.Fprintf(stderr, "suite: stop resources: %v\n", stopErr)
		if code == 0 {
			code = 1
		}
	}
	return code
}
