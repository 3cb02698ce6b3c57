package main

import (
	"os"
	"testing"
	"time"
)

func TestApplyEnvOverrides_Basic(t *testing.T) {
	base := validConfig()

	os.Setenv("FIELD_SYNCER_PORT", "/dev/ttyACM7")
	os.Setenv("FIELD_SYNCER_CHUNK_SIZE", "8192")
	os.Setenv("FIELD_SYNCER_PIPELINE_DEPTH", "4")
	os.Setenv("FIELD_SYNCER_ERASE_AFTER_SYNC", "off")
	os.Setenv("FIELD_SYNCER_SYNC_TIMEOUT", "5m")
	os.Setenv("FIELD_SYNCER_SIGNAL_BACKEND", "sysfs")
	t.Cleanup(func() {
		os.Unsetenv("FIELD_SYNCER_PORT")
		os.Unsetenv("FIELD_SYNCER_CHUNK_SIZE")
		os.Unsetenv("FIELD_SYNCER_PIPELINE_DEPTH")
		os.Unsetenv("FIELD_SYNCER_ERASE_AFTER_SYNC")
		os.Unsetenv("FIELD_SYNCER_SYNC_TIMEOUT")
		os.Unsetenv("FIELD_SYNCER_SIGNAL_BACKEND")
	})

	if err := applyEnvOverrides(base, map[string]struct{}{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base.port != "/dev/ttyACM7" {
		t.Fatalf("expected port override, got %s", base.port)
	}
	if base.chunkSize != 8192 {
		t.Fatalf("expected chunkSize 8192, got %d", base.chunkSize)
	}
	if base.pipelineDepth != 4 {
		t.Fatalf("expected pipelineDepth 4, got %d", base.pipelineDepth)
	}
	if base.eraseAfterSync {
		t.Fatalf("expected eraseAfterSync false")
	}
	if base.syncTO != 5*time.Minute {
		t.Fatalf("expected syncTO 5m, got %v", base.syncTO)
	}
	if base.signalBackend != "sysfs" {
		t.Fatalf("expected signalBackend sysfs, got %s", base.signalBackend)
	}
}

func TestApplyEnvOverrides_FlagPrecedence(t *testing.T) {
	base := validConfig()
	os.Setenv("FIELD_SYNCER_BAUD", "230400")
	t.Cleanup(func() { os.Unsetenv("FIELD_SYNCER_BAUD") })

	set := map[string]struct{}{"baud": {}}
	if err := applyEnvOverrides(base, set); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base.baud != 115200 {
		t.Fatalf("flag must win over env, got %d", base.baud)
	}
}

func TestApplyEnvOverrides_BadValueReported(t *testing.T) {
	base := validConfig()
	os.Setenv("FIELD_SYNCER_REQUEST_TIMEOUT", "not-a-duration")
	t.Cleanup(func() { os.Unsetenv("FIELD_SYNCER_REQUEST_TIMEOUT") })

	if err := applyEnvOverrides(base, map[string]struct{}{}); err == nil {
		t.Fatal("expected error for malformed duration")
	}
	if base.requestTO != 2*time.Second {
		t.Fatalf("malformed env must not change the value, got %v", base.requestTO)
	}
}
