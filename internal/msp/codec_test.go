package msp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func decodeAll(t *testing.T, stream []byte, chunk int) []Frame {
	t.Helper()
	var d Decoder
	var got []Frame
	for pos := 0; pos < len(stream); {
		n := chunk
		if pos+n > len(stream) {
			n = len(stream) - pos
		}
		d.Decode(stream[pos:pos+n], func(f Frame) { got = append(got, f) })
		pos += n
	}
	return got
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var version Version
		var code uint16
		if rapid.Bool().Draw(t, "v2") {
			version = V2
			code = rapid.Uint16().Draw(t, "code")
		} else {
			version = V1
			code = uint16(rapid.Byte().Draw(t, "code"))
		}
		payload := rapid.SliceOfN(rapid.Byte(), 0, 255).Draw(t, "payload")
		wire, err := Encode(version, FromFC, code, payload)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}

		var d Decoder
		var got []Frame
		for _, b := range wire { // one byte at a time
			d.Decode([]byte{b}, func(f Frame) { got = append(got, f) })
		}
		if len(got) != 1 {
			t.Fatalf("decoded %d frames, want 1", len(got))
		}
		f := got[0]
		if f.Version != version || f.Direction != FromFC || f.Code != code || string(f.Payload) != string(payload) {
			t.Fatalf("round trip mismatch: %+v", f)
		}
	})
}

// Flipping any single bit of a framed message must never deliver the
// original frame: either the frame is discarded or it decodes to something
// else entirely (and then only by mangling a different field, never the
// checksummed region).
func TestDecode_BitFlipNeverMisdelivers(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		version := V1
		if rapid.Bool().Draw(t, "v2") {
			version = V2
		}
		payload := rapid.SliceOfN(rapid.Byte(), 0, 64).Draw(t, "payload")
		code := uint16(rapid.Byte().Draw(t, "code"))
		wire, err := Encode(version, FromFC, code, payload)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		bit := rapid.IntRange(0, len(wire)*8-1).Draw(t, "bit")
		mut := append([]byte(nil), wire...)
		mut[bit/8] ^= 1 << (bit % 8)

		var d Decoder
		d.Decode(mut, func(f Frame) {
			if f.Version == version && f.Code == code && string(f.Payload) == string(payload) && f.Direction == FromFC {
				t.Fatalf("corrupted frame was delivered intact (bit %d)", bit)
			}
		})
	})
}

func TestDecode_InterleavedVersionsWithJunk(t *testing.T) {
	a, err := Encode(V1, FromFC, CmdAPIVersion, []byte{0, 1, 43})
	require.NoError(t, err)
	b, err := Encode(V2, FromFC, CmdDataflashRead, []byte{0xAA, 0xBB, 0xCC, 0xDD, 0x10, 0x20})
	require.NoError(t, err)
	c, err := Encode(V1, ErrorFromFC, CmdDataflashErase, nil)
	require.NoError(t, err)

	junk := []byte{0x00, '$', 'Q', 0xFF, '$', 'M', 'z', '$', 0x13}
	var stream []byte
	stream = append(stream, junk...)
	stream = append(stream, a...)
	stream = append(stream, junk...)
	stream = append(stream, b...)
	stream = append(stream, junk...)
	stream = append(stream, c...)
	stream = append(stream, junk...)

	for _, chunk := range []int{1, 2, 3, 7, len(stream)} {
		got := decodeAll(t, stream, chunk)
		require.Len(t, got, 3, "chunk size %d", chunk)
		assert.Equal(t, V1, got[0].Version)
		assert.Equal(t, CmdAPIVersion, got[0].Code)
		assert.Equal(t, []byte{0, 1, 43}, got[0].Payload)
		assert.Equal(t, V2, got[1].Version)
		assert.Equal(t, CmdDataflashRead, got[1].Code)
		assert.Equal(t, ErrorFromFC, got[2].Direction)
	}
}

func TestDecode_ChecksumMismatchResyncs(t *testing.T) {
	good, err := Encode(V1, FromFC, CmdFCVariant, []byte("BTFL"))
	require.NoError(t, err)
	bad := append([]byte(nil), good...)
	bad[len(bad)-1] ^= 0x01

	var stream []byte
	stream = append(stream, bad...)
	stream = append(stream, good...)

	var d Decoder
	var got []Frame
	d.Decode(stream, func(f Frame) { got = append(got, f) })
	require.Len(t, got, 1)
	assert.Equal(t, []byte("BTFL"), got[0].Payload)
	assert.Equal(t, uint64(1), d.CRCErrors())
}

func TestDecode_BadDirectionRejects(t *testing.T) {
	var d Decoder
	var got []Frame
	d.Decode([]byte{'$', 'M', '?', 0, 1, 1}, func(f Frame) { got = append(got, f) })
	assert.Empty(t, got)

	// and the stream recovers afterwards
	good, err := Encode(V1, FromFC, CmdUID, make([]byte, 12))
	require.NoError(t, err)
	d.Decode(good, func(f Frame) { got = append(got, f) })
	require.Len(t, got, 1)
}

func TestEncode_Limits(t *testing.T) {
	_, err := Encode(V1, ToFC, 300, nil)
	assert.ErrorIs(t, err, ErrCodeTooLarge)

	_, err = Encode(V1, ToFC, 1, make([]byte, 256))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)

	_, err = Encode(V2, ToFC, 1, make([]byte, 65536))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)

	wire, err := Encode(V2, ToFC, 0x1234, make([]byte, 300))
	require.NoError(t, err)
	assert.Len(t, wire, 9+300)
}

func TestDecode_V2LargePayload(t *testing.T) {
	payload := make([]byte, 20000)
	for i := range payload {
		payload[i] = byte(i * 31)
	}
	wire, err := Encode(V2, FromFC, CmdDataflashRead, payload)
	require.NoError(t, err)
	got := decodeAll(t, wire, 4096)
	require.Len(t, got, 1)
	assert.Equal(t, payload, got[0].Payload)
}
