package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/proeugene/field-syncer/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters
var (
	MSPRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "msp_rx_frames_total",
		Help: "Total MSP frames decoded from the serial link.",
	})
	MSPTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "msp_tx_frames_total",
		Help: "Total MSP frames written to the serial link.",
	})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malformed_frames_total",
		Help: "Total rejected malformed frames (checksum mismatch, bad direction byte).",
	})
	FlashBytesRead = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flash_bytes_read_total",
		Help: "Total blackbox flash bytes delivered to the session writer.",
	})
	CompressedChunks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flash_compressed_chunks_total",
		Help: "Total DATAFLASH_READ chunks that arrived Huffman-compressed.",
	})
	RequestRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "request_retries_total",
		Help: "Total serial write retries inside the transport.",
	})
	ErasePolls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "erase_polls_total",
		Help: "Total DATAFLASH_SUMMARY polls issued while waiting for erase.",
	})
	Sessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sessions_total",
		Help: "Completed sync attempts by outcome.",
	}, []string{"outcome"})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrSerialOpen  = "serial_open"
	ErrSerialRead  = "serial_read"
	ErrSerialWrite = "serial_write"
	ErrTimeout     = "timeout"
	ErrProtocol    = "protocol"
	ErrHandshake   = "handshake"
	ErrDisk        = "disk"
	ErrSession     = "session"
	ErrVerify      = "verify"
	ErrErase       = "erase"
	ErrSignal      = "signal"
)

// Session outcome label constants.
const (
	OutcomeOK    = "ok"
	OutcomeEmpty = "empty"
	OutcomeError = "error"
)

// StartHTTP serves Prometheus metrics at /metrics on the given address.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localMSPRx      uint64
	localMSPTx      uint64
	localMalformed  uint64
	localFlashBytes uint64
	localCompressed uint64
	localRetries    uint64
	localPolls      uint64
	localErrors     uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	MSPRx      uint64
	MSPTx      uint64
	Malformed  uint64
	FlashBytes uint64
	Compressed uint64
	Retries    uint64
	ErasePolls uint64
	Errors     uint64 // sum across error labels
}

func Snap() Snapshot {
	return Snapshot{
		MSPRx:      atomic.LoadUint64(&localMSPRx),
		MSPTx:      atomic.LoadUint64(&localMSPTx),
		Malformed:  atomic.LoadUint64(&localMalformed),
		FlashBytes: atomic.LoadUint64(&localFlashBytes),
		Compressed: atomic.LoadUint64(&localCompressed),
		Retries:    atomic.LoadUint64(&localRetries),
		ErasePolls: atomic.LoadUint64(&localPolls),
		Errors:     atomic.LoadUint64(&localErrors),
	}
}

// Wrapper helpers to keep call sites simple.
func IncMSPRx() {
	MSPRxFrames.Inc()
	atomic.AddUint64(&localMSPRx, 1)
}

func IncMSPTx() {
	MSPTxFrames.Inc()
	atomic.AddUint64(&localMSPTx, 1)
}

func IncMalformed() {
	MalformedFrames.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

func AddFlashBytes(n int) {
	FlashBytesRead.Add(float64(n))
	atomic.AddUint64(&localFlashBytes, uint64(n))
}

func IncCompressedChunk() {
	CompressedChunks.Inc()
	atomic.AddUint64(&localCompressed, 1)
}

func IncRetry() {
	RequestRetries.Inc()
	atomic.AddUint64(&localRetries, 1)
}

func IncErasePoll() {
	ErasePolls.Inc()
	atomic.AddUint64(&localPolls, 1)
}

func IncSession(outcome string) {
	Sessions.WithLabelValues(outcome).Inc()
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register common error label series so first error does not log a registration latency.
	for _, lbl := range []string{
		ErrSerialOpen, ErrSerialRead, ErrSerialWrite,
		ErrTimeout, ErrProtocol, ErrHandshake,
		ErrDisk, ErrSession, ErrVerify, ErrErase, ErrSignal,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
	for _, o := range []string{OutcomeOK, OutcomeEmpty, OutcomeError} {
		Sessions.WithLabelValues(o).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // if not set yet, treat as ready so metrics endpoint doesn't flap
		return true
	}
	return fn()
}
