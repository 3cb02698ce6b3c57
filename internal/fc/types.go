package fc

import (
	"encoding/hex"
	"fmt"
)

// VariantBetaflight is the only firmware family the syncer talks to.
const VariantBetaflight = "BTFL"

// Minimum MSP API version with the dataflash opcodes we rely on.
const (
	MinAPIMajor = 1
	MinAPIMinor = 40
)

// Identity describes the attached FC. Immutable for the session once built.
type Identity struct {
	Variant  string
	UID      [12]byte
	APIMajor int
	APIMinor int
	// BlackboxDevice is the raw device code from BLACKBOX_CONFIG, recorded
	// in the session manifest.
	BlackboxDevice int
}

// UIDHex renders the full 12-byte UID as hex.
func (id *Identity) UIDHex() string { return hex.EncodeToString(id.UID[:]) }

// UIDPrefix is the first 8 bytes of the UID as hex, used in directory names.
func (id *Identity) UIDPrefix() string { return hex.EncodeToString(id.UID[:8]) }

// APIVersionString renders "major.minor" for logs and the manifest.
func (id *Identity) APIVersionString() string {
	return fmt.Sprintf("%d.%d", id.APIMajor, id.APIMinor)
}

// DATAFLASH_SUMMARY flag bits.
const (
	FlagReady                 = 1 << 0
	FlagReadCompressedSupport = 1 << 1
)

// FlashSummary is the FC's view of its SPI flash. Refreshed repeatedly
// during the erase poll.
type FlashSummary struct {
	Flags     uint8
	TotalSize uint32
	UsedSize  uint32
}

func (s FlashSummary) Ready() bool { return s.Flags&FlagReady != 0 }

func (s FlashSummary) SupportsCompression() bool {
	return s.Flags&FlagReadCompressedSupport != 0
}

// Blackbox device codes reported by BLACKBOX_CONFIG.
const (
	BlackboxDeviceNone   = 0
	BlackboxDeviceFlash  = 1
	BlackboxDeviceSDCard = 2
	BlackboxDeviceSerial = 3
)
