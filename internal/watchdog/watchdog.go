// Package watchdog terminates a process whose control loop stops making progress.
package watchdog

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Watchdog exits the process when Beat has not been called within Timeout.
type Watchdog struct {
	Timeout time.Duration
	// Exit is called with status 1 on a stall. Defaults to os.Exit in main.
	Exit func(code int)

	last atomic.Int64
	now  func() time.Time
}

func New(timeout time.Duration, exit func(int)) *Watchdog {
	w := &Watchdog{Timeout: timeout, Exit: exit, now: time.Now}
	w.Beat()
	return w
}

// Beat records progress.
func (w *Watchdog) Beat() {
	w.last.Store(w.now().UnixNano())
}

// Elapsed returns the time since the last beat.
func (w *Watchdog) Elapsed() time.Duration {
	return w.now().Sub(time.Unix(0, w.last.Load()))
}

// Run checks the heartbeat every Timeout/3 until ctx is done or a stall is found.
func (w *Watchdog) Run(ctx context.Context) {
	interval := max(w.Timeout/3, time.Millisecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if elapsed := w.Elapsed(); elapsed > w.Timeout {
				log.Error().Dur("elapsed", elapsed).Dur("timeout", w.Timeout).Msg("process stalled, exiting")
				w.Exit(1)
				return
			}
		}
	}
}
