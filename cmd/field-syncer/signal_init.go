package main

import (
	"fmt"

	"github.com/proeugene/field-syncer/internal/signal"
)

func initSignalBackend(cfg *appConfig) (signal.Backend, error) {
	switch cfg.signalBackend {
	case "sysfs":
		return signal.NewSysfs(cfg.ledDir)
	case "gpio":
		return signal.NewGPIO(cfg.gpioChip, cfg.gpioLine)
	case "null":
		return signal.NullBackend{}, nil
	default:
		return nil, fmt.Errorf("unknown signal backend %q (use null|sysfs|gpio)", cfg.signalBackend)
	}
}
