package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/proeugene/field-syncer/internal/logging"
	"github.com/proeugene/field-syncer/internal/metrics"
	"github.com/proeugene/field-syncer/internal/msp"
)

const (
	readBufSize  = 4096
	rxBackoffMin = 20 * time.Millisecond
	rxBackoffMax = 500 * time.Millisecond

	// writeRetries bounds transient write retries inside one request;
	// above the request layer nothing retries.
	writeRetries = 3
	writeBackoff = 100 * time.Millisecond

	// crcStreakQuota escalates to ErrProtocol when this many consecutive
	// checksum mismatches land while a request is outstanding.
	crcStreakQuota = 3
)

type result struct {
	payload []byte
	err     error
}

// Pending is a registered completion slot for one outstanding request.
type Pending struct {
	code  uint16
	match func(payload []byte) bool
	ch    chan result
	t     *Transport
}

// Transport owns the serial port exclusively: one RX goroutine drains the
// port into the frame decoder and resolves completed frames against the
// registered pending requests. It does not interpret opcodes.
type Transport struct {
	port Port
	log  *slog.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	pendings []*Pending
	closed   bool

	dec    msp.Decoder
	lastRx atomic.Int64 // unix nanos of last byte received

	done chan struct{}
	wg   sync.WaitGroup
}

// sleepFn allows tests to intercept backoff sleeps.
var sleepFn = time.Sleep

// New wraps an open port and starts the RX loop.
func New(port Port, log *slog.Logger) *Transport {
	if log == nil {
		log = logging.L()
	}
	t := &Transport{
		port: port,
		log:  log,
		done: make(chan struct{}),
	}
	t.lastRx.Store(time.Now().UnixNano())
	t.wg.Add(1)
	go t.rxLoop()
	return t
}

func (t *Transport) rxLoop() {
	defer t.wg.Done()
	defer t.log.Debug("serial_rx_end")
	buf := make([]byte, readBufSize)
	backoff := rxBackoffMin
	for {
		select {
		case <-t.done:
			return
		default:
		}
		n, err := t.port.Read(buf)
		if n > 0 {
			t.lastRx.Store(time.Now().UnixNano())
			t.dec.Decode(buf[:n], t.dispatch)
			if t.dec.ConsecutiveCRCErrors() >= crcStreakQuota && t.hasPending() {
				t.dec.ResetCRCStreak()
				t.FailAll(fmt.Errorf("%w: %d consecutive checksum mismatches", ErrProtocol, crcStreakQuota))
			}
			backoff = rxBackoffMin
		}
		if err != nil {
			select {
			case <-t.done:
				return
			default:
			}
			var perr *os.PathError
			if errors.As(err, &perr) {
				// device removed or fatal
				t.FailAll(fmt.Errorf("%w: %v", ErrSerialIO, err))
				return
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				continue // ignore transient EOF
			}
			metrics.IncError(metrics.ErrSerialRead)
			t.log.Warn("serial_read_error", "error", err, "backoff", backoff)
			sleepFn(backoff)
			backoff *= 2
			if backoff > rxBackoffMax {
				backoff = rxBackoffMax
			}
		}
	}
}

// dispatch resolves a decoded frame against the pending set. Frames with no
// waiter are dropped; the FC never pushes unsolicited traffic we care about.
func (t *Transport) dispatch(f msp.Frame) {
	if f.Direction == msp.ToFC {
		return // our own request echoed by a misbehaving adapter
	}
	t.mu.Lock()
	var p *Pending
	for i, cand := range t.pendings {
		if cand.code != f.Code {
			continue
		}
		if cand.match != nil && !cand.match(f.Payload) {
			continue
		}
		p = cand
		t.pendings = append(t.pendings[:i], t.pendings[i+1:]...)
		break
	}
	t.mu.Unlock()
	if p == nil {
		t.log.Debug("unmatched_frame", "code", f.Code, "len", len(f.Payload))
		return
	}
	if f.Direction == msp.ErrorFromFC {
		p.ch <- result{err: &FCError{Code: f.Code}}
		return
	}
	p.ch <- result{payload: f.Payload}
}

func (t *Transport) hasPending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pendings) > 0
}

// Register creates a completion slot for code. match may be nil, in which
// case the first response with the code resolves it; MSP has no sequence
// numbers, so only one matchless request per opcode may be outstanding.
// Pipelined reads register several slots under one opcode, discriminated by
// a match on the offset the FC echoes back.
func (t *Transport) Register(code uint16, match func(payload []byte) bool) (*Pending, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	if match == nil {
		for _, p := range t.pendings {
			if p.code == code && p.match == nil {
				return nil, fmt.Errorf("%w (%d)", ErrOpcodeBusy, code)
			}
		}
	}
	p := &Pending{code: code, match: match, ch: make(chan result, 1), t: t}
	t.pendings = append(t.pendings, p)
	return p, nil
}

// Send frames and writes a request. The write is retried on transient errors
// so a single EINTR does not burn the whole sync.
func (t *Transport) Send(v msp.Version, code uint16, payload []byte) error {
	wire, err := msp.EncodeRequest(v, code, payload)
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	for attempt := 0; ; attempt++ {
		_, err = t.port.Write(wire)
		if err == nil {
			metrics.IncMSPTx()
			return nil
		}
		if attempt >= writeRetries {
			metrics.IncError(metrics.ErrSerialWrite)
			return fmt.Errorf("%w: write %d: %v", ErrSerialIO, code, err)
		}
		metrics.IncRetry()
		t.log.Warn("serial_write_retry", "code", code, "attempt", attempt+1, "error", err)
		sleepFn(writeBackoff)
	}
}

// Wait blocks until the slot resolves, the timeout elapses, or ctx is done.
// On timeout or cancellation the slot is deregistered.
func (p *Pending) Wait(ctx context.Context, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-p.ch:
		return r.payload, r.err
	case <-timer.C:
		p.Cancel()
		// a response may have raced the cancel; prefer it
		select {
		case r := <-p.ch:
			return r.payload, r.err
		default:
		}
		return nil, fmt.Errorf("%w (code %d after %s)", ErrTimeout, p.code, timeout)
	case <-ctx.Done():
		p.Cancel()
		return nil, ctx.Err()
	}
}

// Cancel deregisters the slot if it has not resolved yet.
func (p *Pending) Cancel() {
	t := p.t
	t.mu.Lock()
	for i, cand := range t.pendings {
		if cand == p {
			t.pendings = append(t.pendings[:i], t.pendings[i+1:]...)
			break
		}
	}
	t.mu.Unlock()
}

// Request is the plain request/response path: register, send, wait.
func (t *Transport) Request(ctx context.Context, v msp.Version, code uint16, payload []byte, timeout time.Duration) ([]byte, error) {
	p, err := t.Register(code, nil)
	if err != nil {
		return nil, err
	}
	if err := t.Send(v, code, payload); err != nil {
		p.Cancel()
		return nil, err
	}
	return p.Wait(ctx, timeout)
}

// FailAll resolves every outstanding slot with err. Used when a checksum
// streak escalates, on fatal RX errors and on Close.
func (t *Transport) FailAll(err error) {
	t.mu.Lock()
	pendings := t.pendings
	t.pendings = nil
	t.mu.Unlock()
	for _, p := range pendings {
		select {
		case p.ch <- result{err: err}:
		default:
		}
	}
}

// WaitIdle blocks until the port has been silent for idle (or max elapses).
// After a window failure the bus may still carry late chunk responses; the
// caller must not issue new requests until they have flushed through.
func (t *Transport) WaitIdle(ctx context.Context, idle, max time.Duration) {
	deadline := time.Now().Add(max)
	tick := time.NewTicker(idle / 4)
	defer tick.Stop()
	for {
		last := time.Unix(0, t.lastRx.Load())
		if time.Since(last) >= idle || time.Now().After(deadline) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		case <-tick.C:
		}
	}
}

// Close shuts the RX loop, fails outstanding requests and closes the port.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	close(t.done)
	err := t.port.Close()
	t.wg.Wait()
	t.FailAll(ErrClosed)
	return err
}
