package fc

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/proeugene/field-syncer/internal/msp"
	"github.com/proeugene/field-syncer/internal/transport"
)

const defaultRequestTimeout = 2 * time.Second

// Client issues typed MSP queries over a transport. The identify opcodes all
// fit v1 framing; DATAFLASH_READ always goes out as v2 because a 16 KiB
// response cannot fit a one-byte length field.
type Client struct {
	t       *transport.Transport
	timeout time.Duration
}

func NewClient(t *transport.Transport, requestTimeout time.Duration) *Client {
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	return &Client{t: t, timeout: requestTimeout}
}

// Transport exposes the underlying transport for the flash reader.
func (c *Client) Transport() *transport.Transport { return c.t }

func (c *Client) request(ctx context.Context, code uint16, payload []byte) ([]byte, error) {
	return c.t.Request(ctx, msp.V1, code, payload, c.timeout)
}

// APIVersion queries MSP_API_VERSION: proto, major, minor.
func (c *Client) APIVersion(ctx context.Context) (major, minor int, err error) {
	p, err := c.request(ctx, msp.CmdAPIVersion, nil)
	if err != nil {
		return 0, 0, err
	}
	if len(p) < 3 {
		return 0, 0, fmt.Errorf("%w: api_version %d bytes", ErrBadResponse, len(p))
	}
	return int(p[1]), int(p[2]), nil
}

// Variant queries MSP_FC_VARIANT: 4 ASCII bytes.
func (c *Client) Variant(ctx context.Context) (string, error) {
	p, err := c.request(ctx, msp.CmdFCVariant, nil)
	if err != nil {
		return "", err
	}
	if len(p) < 4 {
		return "", fmt.Errorf("%w: fc_variant %d bytes", ErrBadResponse, len(p))
	}
	return string(p[:4]), nil
}

// UID queries MSP_UID: 12 raw bytes.
func (c *Client) UID(ctx context.Context) ([12]byte, error) {
	var uid [12]byte
	p, err := c.request(ctx, msp.CmdUID, nil)
	if err != nil {
		return uid, err
	}
	if len(p) < 12 {
		return uid, fmt.Errorf("%w: uid %d bytes", ErrBadResponse, len(p))
	}
	copy(uid[:], p[:12])
	return uid, nil
}

// FlashSummary queries MSP_DATAFLASH_SUMMARY:
// flags u8, sectors u32, total u32, used u32 (LE). Sectors are opaque here.
func (c *Client) FlashSummary(ctx context.Context) (FlashSummary, error) {
	p, err := c.request(ctx, msp.CmdDataflashSummary, nil)
	if err != nil {
		return FlashSummary{}, err
	}
	if len(p) < 13 {
		return FlashSummary{}, fmt.Errorf("%w: dataflash_summary %d bytes", ErrBadResponse, len(p))
	}
	return FlashSummary{
		Flags:     p[0],
		TotalSize: binary.LittleEndian.Uint32(p[5:9]),
		UsedSize:  binary.LittleEndian.Uint32(p[9:13]),
	}, nil
}

// BlackboxDevice queries MSP_BLACKBOX_CONFIG and returns the device code.
// The layout past the second byte varies with the API version; only
// supported u8, device u8 are stable, and device is all we need.
func (c *Client) BlackboxDevice(ctx context.Context) (int, error) {
	p, err := c.request(ctx, msp.CmdBlackboxConfig, nil)
	if err != nil {
		return 0, err
	}
	if len(p) < 2 {
		return 0, fmt.Errorf("%w: blackbox_config %d bytes", ErrBadResponse, len(p))
	}
	return int(p[1]), nil
}

// Erase issues MSP_DATAFLASH_ERASE. The FC acks immediately and erases in
// the background; completion is observed by polling FlashSummary.
func (c *Client) Erase(ctx context.Context) error {
	_, err := c.request(ctx, msp.CmdDataflashErase, nil)
	return err
}
