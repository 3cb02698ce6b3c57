package fc

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/proeugene/field-syncer/internal/metrics"
	"github.com/proeugene/field-syncer/internal/msp"
	"github.com/proeugene/field-syncer/internal/transport"
)

// ReadConfig tunes the pipelined DATAFLASH_READ window.
type ReadConfig struct {
	ChunkSize    int           // bytes requested per read (FC may return less)
	Depth        int           // in-flight requests; >= 2 hides flash latency
	Compress     bool          // request Huffman-compressed reads
	ChunkTimeout time.Duration // per-chunk deadline
}

const (
	DefaultChunkSize    = 16 * 1024
	DefaultDepth        = 2
	MaxDepth            = 8
	defaultChunkTimeout = 3 * time.Second

	// post-failure drain: the bus may still carry late chunk responses
	drainIdle = 200 * time.Millisecond
	drainMax  = 2 * time.Second
)

func (cfg *ReadConfig) normalize() {
	if cfg.ChunkSize <= 0 || cfg.ChunkSize > msp.MaxV2Payload-8 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Depth < 1 {
		cfg.Depth = DefaultDepth
	}
	if cfg.Depth > MaxDepth {
		cfg.Depth = MaxDepth
	}
	if cfg.ChunkTimeout <= 0 {
		cfg.ChunkTimeout = defaultChunkTimeout
	}
}

// one outstanding DATAFLASH_READ
type inflight struct {
	offset     uint32
	reqLen     int
	compressed bool
	p          *transport.Pending
}

// ReadFlash streams [0, used) through sink in strictly increasing offset
// order. Up to Depth requests overlap on the wire; responses are matched by
// the offset the FC echoes in its payload, not by arrival order. Any failure
// invalidates the window, drains the port and returns; the caller treats the
// whole read as failed.
func (c *Client) ReadFlash(ctx context.Context, used uint32, cfg ReadConfig, sink func(offset uint32, data []byte) error) error {
	cfg.normalize()
	t := c.Transport()

	var window []*inflight
	abort := func() {
		for _, f := range window {
			f.p.Cancel()
		}
		window = nil
		t.WaitIdle(ctx, drainIdle, drainMax)
	}

	issue := func(off uint32) (*inflight, error) {
		reqLen := cfg.ChunkSize
		if remaining := used - off; remaining < uint32(reqLen) {
			reqLen = int(remaining)
		}
		// tail reads go plain so the byte accounting below stays exact
		comp := cfg.Compress && reqLen == cfg.ChunkSize
		match := func(payload []byte) bool {
			return len(payload) >= 4 && binary.LittleEndian.Uint32(payload) == off
		}
		p, err := t.Register(msp.CmdDataflashRead, match)
		if err != nil {
			return nil, err
		}
		req := make([]byte, 7)
		binary.LittleEndian.PutUint32(req[0:4], off)
		binary.LittleEndian.PutUint16(req[4:6], uint16(reqLen))
		if comp {
			req[6] = 1
		}
		if err := t.Send(msp.V2, msp.CmdDataflashRead, req); err != nil {
			p.Cancel()
			return nil, err
		}
		return &inflight{offset: off, reqLen: reqLen, compressed: comp, p: p}, nil
	}

	next := uint32(0)
	consumed := uint32(0)
	for consumed < used {
		if err := ctx.Err(); err != nil {
			abort()
			return fmt.Errorf("dataflash_read at %d: %w", consumed, err)
		}
		for len(window) < cfg.Depth && next < used {
			f, err := issue(next)
			if err != nil {
				abort()
				return fmt.Errorf("dataflash_read issue at %d: %w", next, err)
			}
			window = append(window, f)
			next += uint32(f.reqLen)
		}

		head := window[0]
		payload, err := head.p.Wait(ctx, cfg.ChunkTimeout)
		if err != nil {
			window = window[1:]
			abort()
			return fmt.Errorf("dataflash_read at %d: %w", head.offset, err)
		}
		data, err := decodeChunk(head, payload)
		if err != nil {
			window = window[1:]
			abort()
			return err
		}
		if err := sink(head.offset, data); err != nil {
			window = window[1:]
			abort()
			return err
		}
		metrics.AddFlashBytes(len(data))
		consumed = head.offset + uint32(len(data))
		window = window[1:]

		if len(data) < head.reqLen {
			// The FC returned a short chunk, so every offset already on the
			// wire is stale. Restart the pipeline from the consumed edge.
			abort()
			next = consumed
		}
	}
	return nil
}

// decodeChunk strips the response header and expands compressed payloads:
// offset u32 LE, [compressed_size u16 LE if compression was requested],
// data bytes.
func decodeChunk(f *inflight, payload []byte) ([]byte, error) {
	hdr := 4
	if f.compressed {
		hdr = 6
	}
	if len(payload) < hdr {
		return nil, fmt.Errorf("%w: chunk at %d: %d byte response", transport.ErrProtocol, f.offset, len(payload))
	}
	if !f.compressed {
		data := payload[hdr:]
		if len(data) == 0 {
			return nil, fmt.Errorf("%w: chunk at %d: empty read inside used region", transport.ErrProtocol, f.offset)
		}
		if len(data) > f.reqLen {
			return nil, fmt.Errorf("%w: chunk at %d: %d bytes for a %d byte request", transport.ErrProtocol, f.offset, len(data), f.reqLen)
		}
		return data, nil
	}
	compSize := int(binary.LittleEndian.Uint16(payload[4:6]))
	bits := payload[hdr:]
	if compSize < len(bits) {
		bits = bits[:compSize]
	}
	data, err := msp.HuffmanDecode(bits, f.reqLen)
	if err != nil {
		return nil, fmt.Errorf("%w: chunk at %d: %v", transport.ErrProtocol, f.offset, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: chunk at %d: empty compressed read", transport.ErrProtocol, f.offset)
	}
	metrics.IncCompressedChunk()
	return data, nil
}
