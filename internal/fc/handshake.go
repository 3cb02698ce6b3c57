package fc

import (
	"context"
	"fmt"
)

// Identify runs the ordered handshake: API version, variant, UID, blackbox
// device. The flash summary is fetched separately (and repeatedly) by the
// orchestrator. Any rejection leaves the FC untouched; no further requests
// follow a failed step.
func Identify(ctx context.Context, c *Client) (*Identity, error) {
	major, minor, err := c.APIVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("api_version: %w", err)
	}
	if major < MinAPIMajor || (major == MinAPIMajor && minor < MinAPIMinor) {
		return nil, unsupportedAPI(major, minor)
	}

	variant, err := c.Variant(ctx)
	if err != nil {
		return nil, fmt.Errorf("fc_variant: %w", err)
	}
	if variant != VariantBetaflight {
		return nil, unsupportedVariant(variant)
	}

	uid, err := c.UID(ctx)
	if err != nil {
		return nil, fmt.Errorf("uid: %w", err)
	}

	device, err := c.BlackboxDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("blackbox_config: %w", err)
	}
	switch device {
	case BlackboxDeviceFlash:
	case BlackboxDeviceSDCard:
		return nil, ErrSDCardBacked
	default:
		return nil, fmt.Errorf("%w: device code %d", ErrUnsupportedDevice, device)
	}

	return &Identity{
		Variant:        variant,
		UID:            uid,
		APIMajor:       major,
		APIMinor:       minor,
		BlackboxDevice: device,
	}, nil
}

// CheckSummary validates the summary for a sync: there must be a flash chip
// and it must be ready. An empty (used==0) summary is valid; the caller
// short-circuits to the empty outcome.
func CheckSummary(s FlashSummary) error {
	if s.TotalSize == 0 {
		return ErrNoFlash
	}
	if !s.Ready() {
		return ErrFlashNotReady
	}
	return nil
}
