package fc_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proeugene/field-syncer/internal/fc"
	"github.com/proeugene/field-syncer/internal/fctest"
	"github.com/proeugene/field-syncer/internal/msp"
	"github.com/proeugene/field-syncer/internal/transport"
)

func newClient(t *testing.T, fake *fctest.FakeFC) *fc.Client {
	t.Helper()
	tr := transport.New(fake, nil)
	t.Cleanup(func() { _ = tr.Close() })
	return fc.NewClient(tr, time.Second)
}

func TestIdentify_HappyPath(t *testing.T) {
	fake := fctest.New()
	c := newClient(t, fake)

	id, err := fc.Identify(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, "BTFL", id.Variant)
	assert.Equal(t, "1.43", id.APIVersionString())
	assert.Equal(t, "deadbeef00112233", id.UIDPrefix())
	assert.Equal(t, "deadbeef0011223344556677", id.UIDHex())
	assert.Equal(t, fc.BlackboxDeviceFlash, id.BlackboxDevice)
	assert.Equal(t,
		[]uint16{msp.CmdAPIVersion, msp.CmdFCVariant, msp.CmdUID, msp.CmdBlackboxConfig},
		fake.Seen())
}

func TestIdentify_WrongVariantStopsEarly(t *testing.T) {
	fake := fctest.New()
	fake.Variant = "INAV"
	c := newClient(t, fake)

	_, err := fc.Identify(context.Background(), c)
	assert.ErrorIs(t, err, fc.ErrUnsupportedVariant)
	// no requests after the failed step
	assert.Equal(t, []uint16{msp.CmdAPIVersion, msp.CmdFCVariant}, fake.Seen())
}

func TestIdentify_OldAPI(t *testing.T) {
	fake := fctest.New()
	fake.APIMinor = 39
	c := newClient(t, fake)

	_, err := fc.Identify(context.Background(), c)
	assert.ErrorIs(t, err, fc.ErrUnsupportedAPI)
	assert.Equal(t, []uint16{msp.CmdAPIVersion}, fake.Seen())
}

func TestIdentify_SDCardBacked(t *testing.T) {
	fake := fctest.New()
	fake.Device = fc.BlackboxDeviceSDCard
	c := newClient(t, fake)

	_, err := fc.Identify(context.Background(), c)
	assert.ErrorIs(t, err, fc.ErrSDCardBacked)
}

func TestIdentify_UnsupportedDevice(t *testing.T) {
	fake := fctest.New()
	fake.Device = fc.BlackboxDeviceSerial
	c := newClient(t, fake)

	_, err := fc.Identify(context.Background(), c)
	assert.ErrorIs(t, err, fc.ErrUnsupportedDevice)
}

func TestFlashSummary(t *testing.T) {
	fake := fctest.New()
	fake.Flash = fctest.Pattern(4096)
	fake.TotalSize = 1 << 20
	fake.Compress = true
	c := newClient(t, fake)

	sum, err := c.FlashSummary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(1<<20), sum.TotalSize)
	assert.Equal(t, uint32(4096), sum.UsedSize)
	assert.True(t, sum.Ready())
	assert.True(t, sum.SupportsCompression())
	assert.NoError(t, fc.CheckSummary(sum))
}

func TestCheckSummary(t *testing.T) {
	assert.ErrorIs(t, fc.CheckSummary(fc.FlashSummary{}), fc.ErrNoFlash)
	assert.ErrorIs(t,
		fc.CheckSummary(fc.FlashSummary{TotalSize: 1 << 20}),
		fc.ErrFlashNotReady)
	assert.NoError(t,
		fc.CheckSummary(fc.FlashSummary{Flags: fc.FlagReady, TotalSize: 1 << 20}))
}
