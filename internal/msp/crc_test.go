package msp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

// bitwise reference for the table-driven DVB-S2 implementation
func dvbs2Ref(data []byte, crc byte) byte {
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = (crc << 1) ^ 0xD5
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

func TestChecksumXOR(t *testing.T) {
	cases := []struct {
		name string
		in   []byte
		want byte
	}{
		{"empty", nil, 0x00},
		{"single", []byte{0x5A}, 0x5A},
		{"self_cancel", []byte{0xAA, 0xAA}, 0x00},
		{"api_version_req", []byte{0x00, 0x01}, 0x01},
		{"mixed", []byte{0x03, 0x46, 0x01, 0x02, 0x03}, 0x45},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ChecksumXOR(tc.in); got != tc.want {
				t.Fatalf("ChecksumXOR(% X) = 0x%02X, want 0x%02X", tc.in, got, tc.want)
			}
		})
	}
}

func TestChecksumDVBS2_MatchesBitwise(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		data := rapid.SliceOfN(rapid.Byte(), 0, 512).Draw(t, "data")
		assert.Equal(t, dvbs2Ref(data, 0), ChecksumDVBS2(data, 0))
	})
}

func TestChecksumDVBS2_Chaining(t *testing.T) {
	data := []byte{0x00, 0x47, 0x00, 0x00, 0x40, 0x00, 0x01, 0x00}
	whole := ChecksumDVBS2(data, 0)
	split := ChecksumDVBS2(data[3:], ChecksumDVBS2(data[:3], 0))
	if whole != split {
		t.Fatalf("chained crc 0x%02X != whole crc 0x%02X", split, whole)
	}
	byByte := byte(0)
	for _, b := range data {
		byByte = UpdateDVBS2(b, byByte)
	}
	if byByte != whole {
		t.Fatalf("per-byte crc 0x%02X != whole crc 0x%02X", byByte, whole)
	}
}

func TestChecksumDVBS2_SingleBitSensitivity(t *testing.T) {
	data := []byte{0x12, 0x34, 0x56, 0x78}
	base := ChecksumDVBS2(data, 0)
	for i := range data {
		for bit := 0; bit < 8; bit++ {
			mut := append([]byte(nil), data...)
			mut[i] ^= 1 << bit
			if ChecksumDVBS2(mut, 0) == base {
				t.Fatalf("flipping byte %d bit %d left crc unchanged", i, bit)
			}
		}
	}
}
