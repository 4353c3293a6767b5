package resource

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// StopAll attempts Stop on every instance that reached Starting or Running,
// in reverse start order, continuing past failures. All failures are returned
// together as an *AggregateStopFailure. Calling StopAll again is a no-op.
//
// Stop is never called while the instance's Start is running. A Start that
// outlived its own timeout is waited for up to the stop timeout; if it is
// still running then, the instance fails with ErrStartPending and Stop runs
// as soon as Start returns.
//
// Child orchestrators created with Class are not stopped by their parent.
func (o *Orchestrator) StopAll(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	o.mu.Lock()
	o.stopping = true
	pending := make([]*instance, 0, len(o.startOrder))
	for i := len(o.startOrder) - 1; i >= 0; i-- {
		inst := o.startOrder[i]
		if !inst.needsStop() {
			continue
		}
		inst.stopAttempted = true
		pending = append(pending, inst)
	}
	o.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}
	o.logger.Debug("stopping resources", zap.Int("count", len(pending)))

	var failures []StopFailure
	for _, inst := range pending {
		if err := o.stop(ctx, inst); err != nil {
			failures = append(failures, StopFailure{Key: inst.desc.Key, Err: err})
		}
	}

	if len(failures) == 0 {
		o.logger.Info("resources stopped", zap.Int("count", len(pending)))
		return nil
	}
	agg := &AggregateStopFailure{Failures: failures}
	o.logger.Error("resources failed to stop", zap.Strings("resources", agg.Keys()), zap.Error(agg))
	return agg
}

func (o *Orchestrator) stop(ctx context.Context, inst *instance) error {
	key := inst.desc.Key
	log := o.logger.With(zap.String("resource", key))
	timeout := o.timeout(inst.desc.StopTimeout, o.set.stopTimeout)

	o.mu.RLock()
	r, started := inst.resource, inst.startDone
	o.mu.RUnlock()

	ctx, span := o.set.tracer.Start(ctx, "resource.stop", trace.WithAttributes(
		attribute.String("resource.key", key),
	))
	defer span.End()

	begin := time.Now()

	// Stop never overlaps Start, including a Start abandoned by its timeout.
	if !awaitStart(ctx, started, timeout) {
		err := fmt.Errorf("%w after %s", ErrStartPending, timeout)
		o.mu.Lock()
		if inst.state == Starting {
			inst.startErr = ErrShutdown
			inst.transition(Failed)
		}
		inst.stopErr = err
		inst.stopDuration = time.Since(begin)
		o.mu.Unlock()

		o.stopWhenStarted(inst, r, started, timeout, log)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("resource start still running, stop deferred", zap.Duration("waited", timeout))
		return err
	}

	o.mu.Lock()
	prev := inst.state
	switch prev {
	case Running:
		inst.transition(Stopping)
	case Starting:
		inst.startErr = ErrShutdown
		inst.transition(Failed)
	}
	o.mu.Unlock()
	span.SetAttributes(attribute.String("resource.state", prev.String()))

	err := runBounded(ctx, timeout, r.Stop)
	elapsed := time.Since(begin)

	o.mu.Lock()
	inst.stopDuration = elapsed
	inst.stopErr = err
	if prev == Running {
		if err != nil {
			inst.transition(Failed)
		} else {
			inst.transition(Stopped)
		}
	}
	o.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("resource failed to stop", zap.Duration("elapsed", elapsed), zap.Error(err))
		return err
	}
	span.SetStatus(codes.Ok, "")
	log.Info("resource stopped", zap.Duration("elapsed", elapsed), zap.Stringer("from", prev))
	return nil
}

// awaitStart reports whether the Start behind done has returned, waiting up
// to timeout. Zero waits until ctx is done.
func awaitStart(ctx context.Context, done <-chan struct{}, timeout time.Duration) bool {
	if done == nil {
		return true
	}
	select {
	case <-done:
		return true
	default:
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case <-done:
		return true
	case <-expired:
		return false
	case <-ctx.Done():
		return false
	}
}

// stopWhenStarted releases whatever a late Start acquires once it returns.
func (o *Orchestrator) stopWhenStarted(inst *instance, r Resource, done <-chan struct{}, timeout time.Duration, log *zap.Logger) {
	go func() {
		<-done
		err := runBounded(context.Background(), timeout, r.Stop)
		o.mu.Lock()
		if err != nil {
			inst.stopErr = err
		}
		o.mu.Unlock()
		if err != nil {
			log.Error("deferred stop failed", zap.Error(err))
			return
		}
		log.Info("deferred stop completed")
	}()
}
