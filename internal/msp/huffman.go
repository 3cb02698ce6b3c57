package msp

import (
	"errors"
	"fmt"
)

// The FC compresses DATAFLASH_READ payloads with a fixed prefix code shared
// with the firmware: 256 byte symbols plus an end-of-stream sentinel, code
// lengths 2..12 bits. The table ships as per-symbol code lengths; canonical
// code assignment reproduces the firmware's codes.

const (
	huffSymbols = 257
	huffEOF     = 256
	huffMaxBits = 12
)

var huffLengths [huffSymbols]uint8

func init() {
	fill := func(lo, hi int, l uint8) {
		for s := lo; s <= hi; s++ {
			huffLengths[s] = l
		}
	}
	fill(0x00, 0x00, 2)
	fill(0x01, 0x01, 3)
	fill(0xFF, 0xFF, 3)
	fill(0x02, 0x03, 4)
	fill(0xFE, 0xFE, 4)
	fill(0x04, 0x07, 5)
	fill(0x08, 0x0D, 6)
	fill(0x0E, 0x9C, 11)
	fill(0x9D, 0xFD, 12)
	huffLengths[huffEOF] = 12

	buildHuffman()
}

var huffCodes [huffSymbols]uint16

// huffLookup is a flat decode table indexed by (len-1)*4096 + code,
// right-aligned. -1 marks "no code at this pattern/length", so a decode
// attempt is one load instead of a scan over the symbol table.
var huffLookup [huffMaxBits * (1 << huffMaxBits)]int16

func buildHuffman() {
	for i := range huffLookup {
		huffLookup[i] = -1
	}
	// canonical assignment: ascending code length, ascending symbol
	code := uint16(0)
	prev := uint8(0)
	for l := uint8(1); l <= huffMaxBits; l++ {
		for s := 0; s < huffSymbols; s++ {
			if huffLengths[s] != l {
				continue
			}
			if prev != 0 {
				code <<= l - prev
			}
			prev = l
			huffCodes[s] = code
			huffLookup[int(l-1)<<huffMaxBits|int(code)] = int16(s)
			code++
		}
	}
}

// ErrHuffmanCode is returned when the input contains a bit pattern with no
// table entry after the maximum code length.
var ErrHuffmanCode = errors.New("msp: huffman bit pattern has no code")

// HuffmanDecode expands src, reading MSB-first, until the EOF sentinel, until
// charCount output bytes have been produced, or until src is exhausted.
// Output length never exceeds charCount.
func HuffmanDecode(src []byte, charCount int) ([]byte, error) {
	if charCount <= 0 {
		return nil, nil
	}
	out := make([]byte, 0, charCount)
	var acc uint16
	var bits uint8
	for _, b := range src {
		for mask := byte(0x80); mask != 0; mask >>= 1 {
			acc <<= 1
			if b&mask != 0 {
				acc |= 1
			}
			bits++
			if bits > huffMaxBits {
				return nil, fmt.Errorf("%w (acc=0x%03x)", ErrHuffmanCode, acc)
			}
			sym := huffLookup[int(bits-1)<<huffMaxBits|int(acc)]
			if sym < 0 {
				continue
			}
			if sym == huffEOF {
				return out, nil
			}
			out = append(out, byte(sym))
			if len(out) == charCount {
				return out, nil
			}
			acc, bits = 0, 0
		}
	}
	return out, nil
}

// HuffmanEncode is the inverse of HuffmanDecode: it emits the code for each
// byte of src followed by the EOF sentinel, MSB-first, zero-padded to a byte
// boundary. The syncer never sends compressed data to the FC; this exists for
// the test transports and offline tooling.
func HuffmanEncode(src []byte) []byte {
	var out []byte
	var acc uint32
	var bits uint8
	push := func(sym int) {
		l := huffLengths[sym]
		acc = acc<<l | uint32(huffCodes[sym])
		bits += l
		for bits >= 8 {
			bits -= 8
			out = append(out, byte(acc>>bits))
		}
	}
	for _, b := range src {
		push(int(b))
	}
	push(huffEOF)
	if bits > 0 {
		out = append(out, byte(acc<<(8-bits)))
	}
	return out
}
