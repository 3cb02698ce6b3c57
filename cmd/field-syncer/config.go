package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type appConfig struct {
	port              string
	baud              int
	serialReadTO      time.Duration
	storagePath       string
	minFreeMB         int
	eraseAfterSync    bool
	dryRun            bool
	chunkSize         int
	pipelineDepth     int
	requestTO         time.Duration
	chunkTO           time.Duration
	syncTO            time.Duration
	erasePollInterval time.Duration
	eraseTO           time.Duration
	signalBackend     string
	ledDir            string
	gpioChip          string
	gpioLine          int
	logFormat         string
	logLevel          string
	logMetricsEvery   time.Duration
	metricsAddr       string
	mdnsEnable        bool
	mdnsName          string
	verbose           bool
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	port := flag.String("port", "/dev/ttyACM0", "FC serial device path")
	baud := flag.Int("baud", 115200, "Serial baud rate")
	serialReadTO := flag.Duration("serial-read-timeout", 50*time.Millisecond, "Serial read timeout")
	storagePath := flag.String("storage", "/var/lib/field-syncer", "Session storage root")
	minFreeMB := flag.Int("min-free-space-mb", 200, "Disk headroom required beyond the flash size (MiB)")
	erase := flag.Bool("erase-after-sync", true, "Erase FC flash after a verified copy")
	dryRun := flag.Bool("dry-run", false, "Copy and verify, never erase")
	chunkSize := flag.Int("chunk-size", 16384, "Bytes requested per DATAFLASH_READ")
	pipelineDepth := flag.Int("pipeline-depth", 2, "In-flight DATAFLASH_READ requests (1..8)")
	requestTO := flag.Duration("request-timeout", 2*time.Second, "Per-request timeout")
	chunkTO := flag.Duration("chunk-timeout", 3*time.Second, "Per-chunk timeout during streaming")
	syncTO := flag.Duration("sync-timeout", 10*time.Minute, "Whole-sync timeout")
	erasePollInterval := flag.Duration("erase-poll-interval", 2*time.Second, "DATAFLASH_SUMMARY poll interval while erasing")
	eraseTO := flag.Duration("erase-timeout", 120*time.Second, "Erase completion deadline")
	signalBackend := flag.String("signal-backend", "null", "Indicator backend: null|sysfs|gpio")
	ledDir := flag.String("led-dir", "/sys/class/leds/led0", "Sysfs LED directory (when --signal-backend=sysfs)")
	gpioChip := flag.String("gpio-chip", "gpiochip0", "GPIO chip (when --signal-backend=gpio)")
	gpioLine := flag.Int("gpio-line", 17, "GPIO line offset (when --signal-backend=gpio)")
	logFormat := flag.String("log-format", "text", "Log format: text|json|console")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters (for non-Prometheus setups)")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS/Avahi advertisement of the metrics endpoint")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default field-syncer-<hostname>)")
	verbose := flag.Bool("verbose", false, "Shorthand for --log-level=debug")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	// Track which flags were explicitly set to give them precedence over env.
	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })
	cfg.port = *port
	cfg.baud = *baud
	cfg.serialReadTO = *serialReadTO
	cfg.storagePath = *storagePath
	cfg.minFreeMB = *minFreeMB
	cfg.eraseAfterSync = *erase
	cfg.dryRun = *dryRun
	cfg.chunkSize = *chunkSize
	cfg.pipelineDepth = *pipelineDepth
	cfg.requestTO = *requestTO
	cfg.chunkTO = *chunkTO
	cfg.syncTO = *syncTO
	cfg.erasePollInterval = *erasePollInterval
	cfg.eraseTO = *eraseTO
	cfg.signalBackend = *signalBackend
	cfg.ledDir = *ledDir
	cfg.gpioChip = *gpioChip
	cfg.gpioLine = *gpioLine
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.metricsAddr = *metricsAddr
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName
	cfg.verbose = *verbose

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if cfg.verbose {
		cfg.logLevel = "debug"
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate performs basic semantic validation of the parsed configuration.
// It does not attempt to open devices – only checks values/ranges.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.logFormat {
	case "text", "json", "console":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.signalBackend {
	case "null", "sysfs", "gpio":
	default:
		return fmt.Errorf("invalid signal-backend: %s", c.signalBackend)
	}
	if c.port == "" {
		return errors.New("port must not be empty")
	}
	if c.storagePath == "" {
		return errors.New("storage must not be empty")
	}
	if c.baud <= 0 {
		return fmt.Errorf("baud must be > 0 (got %d)", c.baud)
	}
	if c.serialReadTO <= 0 {
		return fmt.Errorf("serial-read-timeout must be > 0")
	}
	if c.minFreeMB < 0 {
		return fmt.Errorf("min-free-space-mb must be >= 0 (got %d)", c.minFreeMB)
	}
	if c.chunkSize <= 0 || c.chunkSize > 65527 {
		return fmt.Errorf("chunk-size must be in 1..65527 (got %d)", c.chunkSize)
	}
	if c.pipelineDepth < 1 || c.pipelineDepth > 8 {
		return fmt.Errorf("pipeline-depth must be in 1..8 (got %d)", c.pipelineDepth)
	}
	for name, d := range map[string]time.Duration{
		"request-timeout":     c.requestTO,
		"chunk-timeout":       c.chunkTO,
		"sync-timeout":        c.syncTO,
		"erase-poll-interval": c.erasePollInterval,
		"erase-timeout":       c.eraseTO,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be > 0", name)
		}
	}
	if c.signalBackend == "gpio" && c.gpioLine < 0 {
		return fmt.Errorf("gpio-line must be >= 0 (got %d)", c.gpioLine)
	}
	return nil
}

// applyEnvOverrides maps FIELD_SYNCER_* environment variables to config
// fields unless a corresponding flag was explicitly set. Empty values are
// ignored, except FIELD_SYNCER_METRICS, where an empty value clears the
// metrics address; durations accept Go time.ParseDuration format.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }
	str := func(flagName, env string, dst *string) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			*dst = v
		}
	}
	num := func(flagName, env string, dst *int, min int) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= min {
				*dst = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid %s: %w", env, err)
			}
		}
	}
	dur := func(flagName, env string, dst *time.Duration) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				*dst = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid %s: %w", env, err)
			}
		}
	}
	boolean := func(flagName, env string, dst *bool) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				*dst = true
			case "0", "false", "no", "off":
				*dst = false
			}
		}
	}

	str("port", "FIELD_SYNCER_PORT", &c.port)
	num("baud", "FIELD_SYNCER_BAUD", &c.baud, 1)
	dur("serial-read-timeout", "FIELD_SYNCER_SERIAL_READ_TIMEOUT", &c.serialReadTO)
	str("storage", "FIELD_SYNCER_STORAGE", &c.storagePath)
	num("min-free-space-mb", "FIELD_SYNCER_MIN_FREE_SPACE_MB", &c.minFreeMB, 0)
	boolean("erase-after-sync", "FIELD_SYNCER_ERASE_AFTER_SYNC", &c.eraseAfterSync)
	boolean("dry-run", "FIELD_SYNCER_DRY_RUN", &c.dryRun)
	num("chunk-size", "FIELD_SYNCER_CHUNK_SIZE", &c.chunkSize, 1)
	num("pipeline-depth", "FIELD_SYNCER_PIPELINE_DEPTH", &c.pipelineDepth, 1)
	dur("request-timeout", "FIELD_SYNCER_REQUEST_TIMEOUT", &c.requestTO)
	dur("chunk-timeout", "FIELD_SYNCER_CHUNK_TIMEOUT", &c.chunkTO)
	dur("sync-timeout", "FIELD_SYNCER_SYNC_TIMEOUT", &c.syncTO)
	dur("erase-poll-interval", "FIELD_SYNCER_ERASE_POLL_INTERVAL", &c.erasePollInterval)
	dur("erase-timeout", "FIELD_SYNCER_ERASE_TIMEOUT", &c.eraseTO)
	str("signal-backend", "FIELD_SYNCER_SIGNAL_BACKEND", &c.signalBackend)
	str("led-dir", "FIELD_SYNCER_LED_DIR", &c.ledDir)
	str("gpio-chip", "FIELD_SYNCER_GPIO_CHIP", &c.gpioChip)
	num("gpio-line", "FIELD_SYNCER_GPIO_LINE", &c.gpioLine, 0)
	str("log-format", "FIELD_SYNCER_LOG_FORMAT", &c.logFormat)
	str("log-level", "FIELD_SYNCER_LOG_LEVEL", &c.logLevel)
	dur("log-metrics-interval", "FIELD_SYNCER_LOG_METRICS_INTERVAL", &c.logMetricsEvery)
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("FIELD_SYNCER_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	boolean("mdns-enable", "FIELD_SYNCER_MDNS_ENABLE", &c.mdnsEnable)
	str("mdns-name", "FIELD_SYNCER_MDNS_NAME", &c.mdnsName)
	return firstErr
}
