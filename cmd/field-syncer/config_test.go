package main

import (
	"testing"
	"time"
)

func validConfig() *appConfig {
	return &appConfig{
		port:              "/dev/null",
		baud:              115200,
		serialReadTO:      50 * time.Millisecond,
		storagePath:       "/tmp/field-syncer-test",
		minFreeMB:         200,
		eraseAfterSync:    true,
		chunkSize:         16384,
		pipelineDepth:     2,
		requestTO:         2 * time.Second,
		chunkTO:           3 * time.Second,
		syncTO:            10 * time.Minute,
		erasePollInterval: 2 * time.Second,
		eraseTO:           120 * time.Second,
		signalBackend:     "null",
		ledDir:            "/sys/class/leds/led0",
		gpioChip:          "gpiochip0",
		gpioLine:          17,
		logFormat:         "text",
		logLevel:          "info",
	}
}

func TestConfigValidate_OK(t *testing.T) {
	if err := validConfig().validate(); err != nil {
		t.Fatalf("expected ok got %v", err)
	}
}

func TestConfigValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*appConfig)
	}{
		{"badFormat", func(c *appConfig) { c.logFormat = "xx" }},
		{"badLevel", func(c *appConfig) { c.logLevel = "nope" }},
		{"badBackend", func(c *appConfig) { c.signalBackend = "lava-lamp" }},
		{"emptyPort", func(c *appConfig) { c.port = "" }},
		{"emptyStorage", func(c *appConfig) { c.storagePath = "" }},
		{"badBaud", func(c *appConfig) { c.baud = 0 }},
		{"badSerialTO", func(c *appConfig) { c.serialReadTO = 0 }},
		{"negativeFree", func(c *appConfig) { c.minFreeMB = -1 }},
		{"zeroChunk", func(c *appConfig) { c.chunkSize = 0 }},
		{"hugeChunk", func(c *appConfig) { c.chunkSize = 70000 }},
		{"zeroDepth", func(c *appConfig) { c.pipelineDepth = 0 }},
		{"deepDepth", func(c *appConfig) { c.pipelineDepth = 9 }},
		{"badRequestTO", func(c *appConfig) { c.requestTO = 0 }},
		{"badChunkTO", func(c *appConfig) { c.chunkTO = 0 }},
		{"badSyncTO", func(c *appConfig) { c.syncTO = 0 }},
		{"badPollInterval", func(c *appConfig) { c.erasePollInterval = 0 }},
		{"badEraseTO", func(c *appConfig) { c.eraseTO = 0 }},
		{"badGpioLine", func(c *appConfig) { c.signalBackend = "gpio"; c.gpioLine = -1 }},
	}
	for _, tc := range tests {
		base := validConfig()
		tc.mod(base)
		if err := base.validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}
