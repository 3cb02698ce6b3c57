package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/proeugene/field-syncer/internal/events"
	"github.com/proeugene/field-syncer/internal/fc"
	"github.com/proeugene/field-syncer/internal/logging"
	"github.com/proeugene/field-syncer/internal/metrics"
	"github.com/proeugene/field-syncer/internal/session"
	"github.com/proeugene/field-syncer/internal/signal"
)

// Config carries the orchestration knobs. Zero sizes, depths, timeouts and
// headroom fall back to the defaults from the configuration surface (chunk
// size, depth and chunk timeout through fc.ReadConfig); EraseAfterSync,
// DryRun and StoragePath are used as given.
type Config struct {
	StoragePath       string
	HeadroomBytes     uint64
	EraseAfterSync    bool
	DryRun            bool
	ChunkSize         int
	PipelineDepth     int
	ChunkTimeout      time.Duration
	SyncTimeout       time.Duration
	ErasePollInterval time.Duration
	EraseTimeout      time.Duration
}

const (
	DefaultHeadroomBytes     = 200 << 20
	DefaultSyncTimeout       = 10 * time.Minute
	DefaultErasePollInterval = 2 * time.Second
	DefaultEraseTimeout      = 120 * time.Second
)

func (c *Config) normalize() {
	if c.HeadroomBytes == 0 {
		c.HeadroomBytes = DefaultHeadroomBytes
	}
	if c.SyncTimeout <= 0 {
		c.SyncTimeout = DefaultSyncTimeout
	}
	if c.ErasePollInterval <= 0 {
		c.ErasePollInterval = DefaultErasePollInterval
	}
	if c.EraseTimeout <= 0 {
		c.EraseTimeout = DefaultEraseTimeout
	}
}

// postStreamHook is a test seam invoked between stream completion and
// verification.
var postStreamHook func(dir string)

// Outcome of a completed run.
type Outcome string

const (
	OutcomeOK    Outcome = "ok"
	OutcomeEmpty Outcome = "empty"
)

// Result summarizes a successful run.
type Result struct {
	Outcome        Outcome
	Dir            string
	Bytes          int64
	SHA256         string
	EraseCompleted bool
}

// Syncer drives the ten-step sync: identify, size, preflight, stream with
// hashing, verify, manifest, erase, poll. Exactly one Syncer runs per
// attached FC.
type Syncer struct {
	client *fc.Client
	store  *session.Store
	cfg    Config
	hub    *events.Hub
	log    *slog.Logger
}

// Option customizes a Syncer.
type Option func(*Syncer)

func WithHub(h *events.Hub) Option     { return func(s *Syncer) { s.hub = h } }
func WithLogger(l *slog.Logger) Option { return func(s *Syncer) { s.log = l } }

func New(client *fc.Client, store *session.Store, cfg Config, opts ...Option) *Syncer {
	cfg.normalize()
	s := &Syncer{client: client, store: store, cfg: cfg}
	for _, o := range opts {
		o(s)
	}
	if s.log == nil {
		s.log = logging.L()
	}
	return s
}

func (s *Syncer) emit(step string, sig signal.Event, bytes int64, err error) {
	if s.hub != nil {
		s.hub.Publish(events.Event{Step: step, Signal: sig, Bytes: bytes, Err: err})
	}
}

// fail records the terminal error for a step and returns it wrapped.
func (s *Syncer) fail(step string, err error) error {
	err = fmt.Errorf("%s: %w", step, err)
	metrics.IncError(mapErrToMetric(err))
	metrics.IncSession(metrics.OutcomeError)
	s.log.Error("sync_failed", "step", step, "error", err)
	s.emit(step, signal.Error, 0, err)
	return err
}

// Run executes one sync attempt against the attached FC.
func (s *Syncer) Run(ctx context.Context) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SyncTimeout)
	defer cancel()

	// IDENTIFY
	s.emit("identify", signal.EventNone, 0, nil)
	id, err := fc.Identify(ctx, s.client)
	if err != nil {
		return Result{}, s.fail("identify", err)
	}
	s.log.Info("fc_identified",
		"variant", id.Variant, "uid", id.UIDHex(), "api", id.APIVersionString())

	// SUMMARY
	s.emit("summary", signal.EventNone, 0, nil)
	sum, err := s.client.FlashSummary(ctx)
	if err != nil {
		return Result{}, s.fail("summary", err)
	}
	if err := fc.CheckSummary(sum); err != nil {
		return Result{}, s.fail("summary", err)
	}
	s.log.Info("flash_summary",
		"total", sum.TotalSize, "used", sum.UsedSize, "compression", sum.SupportsCompression())
	if sum.UsedSize == 0 {
		s.emit("done_empty", signal.Empty, 0, nil)
		metrics.IncSession(metrics.OutcomeEmpty)
		s.log.Info("sync_done", "outcome", "empty")
		return Result{Outcome: OutcomeEmpty}, nil
	}

	// CHECK_DISK
	s.emit("check_disk", signal.EventNone, 0, nil)
	if err := session.Require(s.cfg.StoragePath, uint64(sum.UsedSize), s.cfg.HeadroomBytes); err != nil {
		return Result{}, s.fail("check_disk", err)
	}

	// OPEN_SESSION
	sess, err := s.store.Open(id, time.Now())
	if err != nil {
		return Result{}, s.fail("open_session", err)
	}
	s.log.Info("session_open", "dir", sess.Dir)

	// STREAM
	s.emit("stream", signal.CopyStart, 0, nil)
	readCfg := fc.ReadConfig{
		ChunkSize:    s.cfg.ChunkSize,
		Depth:        s.cfg.PipelineDepth,
		Compress:     sum.SupportsCompression(),
		ChunkTimeout: s.cfg.ChunkTimeout,
	}
	err = s.client.ReadFlash(ctx, sum.UsedSize, readCfg, func(offset uint32, data []byte) error {
		if _, werr := sess.Write(data); werr != nil {
			return werr
		}
		s.emit("stream", signal.EventNone, sess.Bytes(), nil)
		return nil
	})
	if err == nil {
		err = sess.CloseFile()
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// external cancel: keep what we copied and leave an audit trail
			_ = sess.CloseFile()
			m := sess.Manifest()
			if merr := sess.WriteManifest(m); merr != nil {
				s.log.Warn("cancel_manifest_failed", "error", merr)
			}
			return Result{}, s.fail("stream", fmt.Errorf("%w: %v", ErrCancelled, err))
		}
		if derr := sess.Discard(); derr != nil {
			s.log.Warn("session_discard_failed", "error", derr)
		}
		return Result{}, s.fail("stream", err)
	}
	s.log.Info("stream_done", "bytes", sess.Bytes(), "sha256", sess.SHA256Hex())
	if postStreamHook != nil {
		postStreamHook(sess.Dir)
	}

	// VERIFY
	s.emit("verify", signal.VerifyStart, sess.Bytes(), nil)
	if err := sess.Verify(); err != nil {
		// never erase after a mismatch; the directory is retained for retry
		m := sess.Manifest()
		if merr := sess.WriteManifest(m); merr != nil {
			s.log.Warn("verify_manifest_failed", "error", merr)
		}
		return Result{}, s.fail("verify", err)
	}

	res := Result{
		Outcome: OutcomeOK,
		Dir:     sess.Dir,
		Bytes:   sess.Bytes(),
		SHA256:  sess.SHA256Hex(),
	}

	// WRITE_MANIFEST
	m := sess.Manifest()
	if s.cfg.DryRun || !s.cfg.EraseAfterSync {
		if err := sess.WriteManifest(m); err != nil {
			return Result{}, s.fail("write_manifest", err)
		}
		s.emit("done_ok", signal.Success, res.Bytes, nil)
		metrics.IncSession(metrics.OutcomeOK)
		s.log.Info("sync_done", "outcome", "ok", "erase", false, "dir", sess.Dir)
		return res, nil
	}
	m.EraseAttempted = true
	if err := sess.WriteManifest(m); err != nil {
		return Result{}, s.fail("write_manifest", err)
	}

	// ERASE
	s.emit("erase", signal.EraseStart, res.Bytes, nil)
	if err := s.client.Erase(ctx); err != nil {
		return Result{}, s.fail("erase", err)
	}

	// POLL_EMPTY
	if err := s.pollEmpty(ctx); err != nil {
		return Result{}, s.fail("poll_empty", err)
	}
	m.EraseCompleted = true
	if err := sess.WriteManifest(m); err != nil {
		return Result{}, s.fail("write_manifest", err)
	}
	res.EraseCompleted = true

	s.emit("done_ok", signal.Success, res.Bytes, nil)
	metrics.IncSession(metrics.OutcomeOK)
	s.log.Info("sync_done", "outcome", "ok", "erase", true, "dir", sess.Dir)
	return res, nil
}

// pollEmpty polls the flash summary until the FC reports an empty, ready
// flash. Transient poll failures keep polling; only the deadline fails.
func (s *Syncer) pollEmpty(ctx context.Context) error {
	deadline := time.Now().Add(s.cfg.EraseTimeout)
	ticker := time.NewTicker(s.cfg.ErasePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		metrics.IncErasePoll()
		sum, err := s.client.FlashSummary(ctx)
		if err != nil {
			s.log.Warn("erase_poll_error", "error", err)
		} else {
			s.log.Debug("erase_poll", "used", sum.UsedSize, "ready", sum.Ready())
			if sum.UsedSize == 0 && sum.Ready() {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return ErrEraseTimeout
		}
	}
}
