// Copyright (C) 2019 Storj Labs, Inc.
// See LICENSE for copying information

package sync2

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Cycle is a controllable repeated task runner: it invokes a function on
// a fixed interval until stopped, and lets callers pause, trigger an
// out-of-band run, or restart the interval early.
type Cycle struct {
	interval time.Duration

	ticker *time.Ticker

	control chan cycleControl
	trigger chan struct{}
	done    chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
	stopped   chan struct{}
}

type cycleControl int

const (
	controlPause cycleControl = iota
	controlRestart
)

// NewCycle creates a Cycle with the given interval.
func NewCycle(interval time.Duration) *Cycle {
	cycle := &Cycle{}
	cycle.SetInterval(interval)
	return cycle
}

// SetInterval changes the cycle's interval. It must be called before
// Start.
func (cycle *Cycle) SetInterval(interval time.Duration) {
	cycle.interval = interval
}

// Start runs fn every interval until the context is cancelled or Stop is
// called, scheduling it onto group.
func (cycle *Cycle) Start(ctx context.Context, group *errgroup.Group, fn func(ctx context.Context) error) {
	cycle.control = make(chan cycleControl)
	cycle.trigger = make(chan struct{})
	cycle.done = make(chan struct{})
	cycle.stopped = make(chan struct{})

	group.Go(func() error {
		return cycle.run(ctx, fn)
	})
}

func (cycle *Cycle) run(ctx context.Context, fn func(ctx context.Context) error) error {
	defer close(cycle.stopped)

	cycle.ticker = time.NewTicker(cycle.interval)
	defer cycle.ticker.Stop()

	paused := false

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-cycle.done:
			return nil

		case control := <-cycle.control:
			switch control {
			case controlPause:
				paused = true
			case controlRestart:
				paused = false
				cycle.ticker.Reset(cycle.interval)
			}
			continue

		case <-cycle.trigger:
			if err := fn(ctx); err != nil {
				return err
			}
			continue

		case <-cycle.ticker.C:
			if paused {
				continue
			}
			if err := fn(ctx); err != nil {
				return err
			}
		}
	}
}

// Pause stops the periodic tick from invoking fn until Restart is called.
// Explicit Trigger calls still run fn while paused.
func (cycle *Cycle) Pause() {
	cycle.sendControl(controlPause)
}

// Restart resumes periodic ticking immediately, resetting the interval
// clock.
func (cycle *Cycle) Restart() {
	cycle.sendControl(controlRestart)
}

func (cycle *Cycle) sendControl(c cycleControl) {
	if cycle.control == nil {
		return
	}
	select {
	case cycle.control <- c:
	case <-cycle.done:
	case <-cycle.stopped:
	}
}

// Trigger requests an out-of-band run of fn as soon as the cycle's
// select loop is free, without waiting for it to complete.
func (cycle *Cycle) Trigger() {
	if cycle.trigger == nil {
		return
	}
	select {
	case cycle.trigger <- struct{}{}:
	case <-cycle.done:
	case <-cycle.stopped:
	}
}

// TriggerWait requests an out-of-band run, blocks until the run loop has
// taken the request, then sleeps briefly so the triggered iteration can
// finish. It returns early if the cycle stops.
func (cycle *Cycle) TriggerWait() {
	waited := make(chan struct{})
	go func() {
		defer close(waited)
		cycle.Trigger()
	}()

	select {
	case <-waited:
	case <-cycle.stopped:
		return
	}

	// Give the run loop a chance to actually execute the triggered
	// iteration before returning.
	time.Sleep(10 * time.Millisecond)
}

// Stop ends the cycle's run loop and blocks until it has exited. It is
// safe to call multiple times and from multiple goroutines.
func (cycle *Cycle) Stop() {
	cycle.stopOnce.Do(func() {
		if cycle.done == nil {
			return
		}
		close(cycle.done)
	})
	if cycle.stopped != nil {
		<-cycle.stopped
	}
}

// Close releases the cycle's resources. It is equivalent to Stop for
// this implementation, kept as a distinct name to match callers that
// defer Close() immediately after construction.
func (cycle *Cycle) Close() {
	cycle.Stop()
}
