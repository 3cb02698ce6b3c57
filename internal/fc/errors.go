package fc

import (
	"errors"
	"fmt"
)

// Each handshake step has its own error kind so the operator signal and the
// audit log can distinguish them.
var (
	ErrUnsupportedAPI     = errors.New("fc api version too old")
	ErrUnsupportedVariant = errors.New("unsupported fc variant")
	ErrSDCardBacked       = errors.New("fc logs to sd card, not spi flash")
	ErrUnsupportedDevice  = errors.New("unsupported blackbox device")
	ErrNoFlash            = errors.New("fc reports no dataflash")
	ErrFlashNotReady      = errors.New("fc dataflash not ready")
	ErrBadResponse        = errors.New("malformed fc response")
)

func unsupportedVariant(v string) error {
	return fmt.Errorf("%w: %q (need %q)", ErrUnsupportedVariant, v, VariantBetaflight)
}

func unsupportedAPI(major, minor int) error {
	return fmt.Errorf("%w: %d.%d (need >= %d.%d)", ErrUnsupportedAPI, major, minor, MinAPIMajor, MinAPIMinor)
}
