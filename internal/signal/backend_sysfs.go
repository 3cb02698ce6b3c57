package signal

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SysfsBackend drives a kernel LED through its sysfs trigger/brightness
// pair, e.g. /sys/class/leds/led0.
type SysfsBackend struct {
	brightness string
	onValue    string
}

// NewSysfs claims the LED at ledDir: the trigger is set to "none" so nothing
// else blinks it, and max_brightness decides the on value.
func NewSysfs(ledDir string) (*SysfsBackend, error) {
	trigger := filepath.Join(ledDir, "trigger")
	if err := os.WriteFile(trigger, []byte("none"), 0o644); err != nil {
		return nil, fmt.Errorf("claim led trigger: %w", err)
	}
	on := "1"
	if raw, err := os.ReadFile(filepath.Join(ledDir, "max_brightness")); err == nil {
		if v := strings.TrimSpace(string(bytes.TrimRight(raw, "\n"))); v != "" && v != "0" {
			on = v
		}
	}
	return &SysfsBackend{
		brightness: filepath.Join(ledDir, "brightness"),
		onValue:    on,
	}, nil
}

func (b *SysfsBackend) Set(on bool) error {
	v := "0"
	if on {
		v = b.onValue
	}
	if err := os.WriteFile(b.brightness, []byte(v), 0o644); err != nil {
		return fmt.Errorf("led brightness: %w", err)
	}
	return nil
}

func (b *SysfsBackend) Close() error { return b.Set(false) }
