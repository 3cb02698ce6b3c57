package signal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/proeugene/field-syncer/internal/logging"
	"github.com/proeugene/field-syncer/internal/metrics"
)

// Backend drives the physical indicator. Single writer: only the Driver's
// Run goroutine touches it.
type Backend interface {
	Set(on bool) error
	Close() error
}

// Driver holds the most recent event in a single-slot latch and plays its
// pattern. A newer event replaces the running pattern at the next pattern
// boundary; Error preempts the current step immediately.
type Driver struct {
	backend Backend
	log     *slog.Logger

	mu     sync.Mutex
	latest Event
	seq    uint64

	wake chan struct{}
}

func NewDriver(b Backend, log *slog.Logger) *Driver {
	if log == nil {
		log = logging.L()
	}
	return &Driver{backend: b, log: log, wake: make(chan struct{}, 1)}
}

// Notify latches e as the current event. Safe from any goroutine.
func (d *Driver) Notify(e Event) {
	d.mu.Lock()
	d.latest = e
	d.seq++
	d.mu.Unlock()
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Driver) snapshot() (Event, uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.latest, d.seq
}

// Run plays patterns until ctx is cancelled, then switches the light off.
func (d *Driver) Run(ctx context.Context) {
	defer d.off()
	var playing uint64
	for {
		e, seq := d.snapshot()
		if e == EventNone || seq == playing {
			select {
			case <-ctx.Done():
				return
			case <-d.wake:
				continue
			}
		}
		playing = seq
		if !d.play(ctx, e, seq) {
			return
		}
	}
}

// play runs pattern cycles for e until a newer event lands (Error
// immediately, others at the cycle boundary) or ctx ends. Returns false on
// cancellation.
func (d *Driver) play(ctx context.Context, e Event, seq uint64) bool {
	p := patterns[e]
	for {
		for _, s := range p.steps {
			d.set(s.on)
			if !d.sleep(ctx, s.d, seq) {
				return ctx.Err() == nil
			}
		}
		if !p.repeat {
			d.off()
			return true
		}
		if _, cur := d.snapshot(); cur != seq {
			return true
		}
	}
}

// sleep waits d out. It returns false when the wait must end early: context
// cancellation, or a newly latched Error.
func (d *Driver) sleep(ctx context.Context, dur time.Duration, seq uint64) bool {
	if dur <= 0 {
		return true
	}
	timer := time.NewTimer(dur)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			return true
		case <-d.wake:
			if e, cur := d.snapshot(); cur != seq && e == Error {
				return false
			}
		}
	}
}

func (d *Driver) set(on bool) {
	if err := d.backend.Set(on); err != nil {
		metrics.IncError(metrics.ErrSignal)
		d.log.Warn("signal_backend_error", "error", err)
	}
}

func (d *Driver) off() { d.set(false) }
