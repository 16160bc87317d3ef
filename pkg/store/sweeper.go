package store

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultMaxIdle       = 24 * time.Hour
	DefaultSweepInterval = 10 * time.Minute
)

// Sweeper periodically removes sessions that have been idle for longer than
// maxIdle, bounding the store's memory footprint.
type Sweeper struct {
	store    *Store
	maxIdle  time.Duration
	interval time.Duration
	stopCh   chan struct{}
	running  bool
}

// NewSweeper creates a sweeper for the given store. Zero values fall back to
// the package defaults.
func NewSweeper(store *Store, maxIdle, interval time.Duration) *Sweeper {
	if maxIdle <= 0 {
		maxIdle = DefaultMaxIdle
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	return &Sweeper{
		store:    store,
		maxIdle:  maxIdle,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start starts the background sweep loop.
func (sw *Sweeper) Start() error {
	if sw.running {
		return fmt.Errorf("sweeper is already running")
	}

	sw.running = true
	go sw.run()

	log.Info().
		Dur("max_idle", sw.maxIdle).
		Dur("interval", sw.interval).
		Msg("Session sweeper started")

	return nil
}

// Stop stops the background sweep loop.
func (sw *Sweeper) Stop() error {
	if !sw.running {
		return fmt.Errorf("sweeper is not running")
	}

	close(sw.stopCh)
	sw.running = false

	log.Info().Msg("Session sweeper stopped")

	return nil
}

// IsRunning reports whether the sweep loop is active.
func (sw *Sweeper) IsRunning() bool {
	return sw.running
}

// SweepNow removes idle sessions immediately and returns how many were deleted.
func (sw *Sweeper) SweepNow() int {
	return sw.store.DeleteIdleSessions(sw.maxIdle)
}

func (sw *Sweeper) run() {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sw.SweepNow()
		case <-sw.stopCh:
			return
		}
	}
}
