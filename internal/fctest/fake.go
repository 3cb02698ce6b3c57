// Package fctest provides a scripted in-memory FC for exercising the serial
// stack without hardware. The fake implements transport.Port: requests the
// agent writes are decoded and answered onto the read side.
package fctest

import (
	"encoding/binary"
	"os"
	"sync"

	"github.com/proeugene/field-syncer/internal/fc"
	"github.com/proeugene/field-syncer/internal/msp"
)

// FakeFC is a Betaflight-ish endpoint behind a transport.Port.
// Configure the exported fields before wiring it into a transport.
type FakeFC struct {
	Variant  string
	APIMajor int
	APIMinor int
	UID      [12]byte
	Device   int

	// Flash is the blackbox content; used size is len(Flash) until an
	// erase, after which successive summary calls pop ErasePlan.
	Flash     []byte
	TotalSize uint32
	Compress  bool     // advertise and serve compressed reads
	ErasePlan []uint32 // used values reported by summaries after erase
	NotReady  bool     // withhold the READY flag

	// Fault injection for DATAFLASH_READ, keyed by request offset.
	DropReadAt  map[uint32]bool
	ShortReadAt map[uint32]int

	// PermuteBatch > 1 buffers that many read responses and flushes them in
	// reverse order, exercising offset-based matching.
	PermuteBatch int

	// CorruptFrames injects that many bad-checksum frames before each
	// response.
	CorruptFrames int

	mu       sync.Mutex
	dec      msp.Decoder
	rx       chan []byte
	readBuf  []byte
	closed   chan struct{}
	seen     []uint16
	erased   bool
	permuted [][]byte
}

func New() *FakeFC {
	f := &FakeFC{
		Variant:  fc.VariantBetaflight,
		APIMajor: 1,
		APIMinor: 43,
		Device:   fc.BlackboxDeviceFlash,
		rx:       make(chan []byte, 4096),
		closed:   make(chan struct{}),
	}
	copy(f.UID[:], []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77})
	return f
}

// Seen returns the request codes handled so far, in order.
func (f *FakeFC) Seen() []uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]uint16, len(f.seen))
	copy(out, f.seen)
	return out
}

// SawCode reports whether code was ever requested.
func (f *FakeFC) SawCode(code uint16) bool {
	for _, c := range f.Seen() {
		if c == code {
			return true
		}
	}
	return false
}

// Read implements transport.Port: it blocks until the FC has queued bytes.
func (f *FakeFC) Read(p []byte) (int, error) {
	if len(f.readBuf) == 0 {
		select {
		case b := <-f.rx:
			f.readBuf = b
		case <-f.closed:
			return 0, &os.PathError{Op: "read", Path: "fakefc", Err: os.ErrClosed}
		}
	}
	n := copy(p, f.readBuf)
	f.readBuf = f.readBuf[n:]
	return n, nil
}

// Write implements transport.Port: request frames are decoded and answered.
func (f *FakeFC) Write(p []byte) (int, error) {
	select {
	case <-f.closed:
		return 0, &os.PathError{Op: "write", Path: "fakefc", Err: os.ErrClosed}
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dec.Decode(p, f.handle)
	return len(p), nil
}

func (f *FakeFC) Close() error {
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
	return nil
}

func (f *FakeFC) respond(v msp.Version, code uint16, payload []byte) {
	wire, err := msp.Encode(v, msp.FromFC, code, payload)
	if err != nil {
		panic(err)
	}
	f.enqueue(wire)
}

func (f *FakeFC) enqueue(wire []byte) {
	select {
	case f.rx <- wire:
	case <-f.closed:
	}
}

func (f *FakeFC) corrupt() {
	for i := 0; i < f.CorruptFrames; i++ {
		wire, _ := msp.Encode(msp.V1, msp.FromFC, 99, []byte{1, 2, 3})
		wire[len(wire)-1] ^= 0xFF
		f.enqueue(wire)
	}
}

func (f *FakeFC) used() uint32 {
	if !f.erased {
		return uint32(len(f.Flash))
	}
	if len(f.ErasePlan) == 0 {
		return 0
	}
	u := f.ErasePlan[0]
	f.ErasePlan = f.ErasePlan[1:]
	return u
}

func (f *FakeFC) handle(req msp.Frame) {
	if req.Direction != msp.ToFC {
		return
	}
	f.seen = append(f.seen, req.Code)
	f.corrupt()
	switch req.Code {
	case msp.CmdAPIVersion:
		f.respond(req.Version, req.Code, []byte{0, byte(f.APIMajor), byte(f.APIMinor)})
	case msp.CmdFCVariant:
		f.respond(req.Version, req.Code, []byte(f.Variant))
	case msp.CmdUID:
		f.respond(req.Version, req.Code, f.UID[:])
	case msp.CmdBlackboxConfig:
		f.respond(req.Version, req.Code, []byte{1, byte(f.Device), 1, 1, 0, 0})
	case msp.CmdDataflashSummary:
		total := f.TotalSize
		if total == 0 {
			total = 16 << 20
		}
		flags := byte(0)
		if !f.NotReady {
			flags |= fc.FlagReady
		}
		if f.Compress {
			flags |= fc.FlagReadCompressedSupport
		}
		p := make([]byte, 13)
		p[0] = flags
		binary.LittleEndian.PutUint32(p[1:5], total/4096)
		binary.LittleEndian.PutUint32(p[5:9], total)
		binary.LittleEndian.PutUint32(p[9:13], f.used())
		f.respond(req.Version, req.Code, p)
	case msp.CmdDataflashErase:
		f.erased = true
		f.respond(req.Version, req.Code, nil)
	case msp.CmdDataflashRead:
		f.handleRead(req)
	default:
		// unknown opcode: FCs answer with the error direction
		wire, _ := msp.Encode(req.Version, msp.ErrorFromFC, req.Code, nil)
		f.enqueue(wire)
	}
}

func (f *FakeFC) handleRead(req msp.Frame) {
	if len(req.Payload) < 7 {
		return
	}
	off := binary.LittleEndian.Uint32(req.Payload[0:4])
	reqLen := int(binary.LittleEndian.Uint16(req.Payload[4:6]))
	wantComp := req.Payload[6] == 1

	if f.DropReadAt[off] {
		return
	}
	data := []byte{}
	if off < uint32(len(f.Flash)) {
		end := int(off) + reqLen
		if end > len(f.Flash) {
			end = len(f.Flash)
		}
		data = f.Flash[off:end]
	}
	if n, ok := f.ShortReadAt[off]; ok && n < len(data) {
		data = data[:n]
	}

	var payload []byte
	if wantComp && f.Compress {
		enc := msp.HuffmanEncode(data)
		payload = make([]byte, 6+len(enc))
		binary.LittleEndian.PutUint32(payload[0:4], off)
		binary.LittleEndian.PutUint16(payload[4:6], uint16(len(enc)))
		copy(payload[6:], enc)
	} else {
		payload = make([]byte, 4+len(data))
		binary.LittleEndian.PutUint32(payload[0:4], off)
		copy(payload[4:], data)
	}

	wire, err := msp.Encode(req.Version, msp.FromFC, req.Code, payload)
	if err != nil {
		panic(err)
	}
	if f.PermuteBatch > 1 {
		f.permuted = append(f.permuted, wire)
		if len(f.permuted) >= f.PermuteBatch {
			for i := len(f.permuted) - 1; i >= 0; i-- {
				f.enqueue(f.permuted[i])
			}
			f.permuted = nil
		}
		return
	}
	f.enqueue(wire)
}

// FlushPermuted sends any still-buffered permuted responses in reverse
// order; call at end of a window when the flash size is not a multiple of
// the batch.
func (f *FakeFC) FlushPermuted() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.permuted) - 1; i >= 0; i-- {
		f.enqueue(f.permuted[i])
	}
	f.permuted = nil
}

// Pattern fills a deterministic flash image.
func Pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i>>8)
	}
	return b
}
