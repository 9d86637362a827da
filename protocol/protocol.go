// Package protocol implements the multipart binary framing used between the
// router and a worker process.
//
// A wire message is an ordered sequence of frames. Over a byte stream the
// message is written as a fixed 5-byte header followed by one length-prefixed
// segment per frame. The receiver reads the header first to learn the frame
// count, then reads each frame exactly.
//
// Stream format:
//
//	0      3    4    5         9
//	┌──────┬────┬────┬─────────┬───────────┬─────────┬─────
//	│magic │ver │cnt │ frameLen│ frame ... │ frameLen│ ...
//	│ msh  │ 01 │    │ uint32  │  n bytes  │ uint32  │
//	└──────┴────┴────┴─────────┴───────────┴─────────┴─────
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Magic number bytes: "msh" (mesh). Used to quickly reject connections that
// do not speak the worker protocol.
const (
	MagicNumber byte = 0x6d // 'm'
	MagicByte2  byte = 0x73 // 's'
	MagicByte3  byte = 0x68 // 'h'
	Version     byte = 0x01
	HeaderSize  int  = 5 // 3 (magic) + 1 (version) + 1 (frame count)
)

// MaxFrameSize bounds a single frame so a malformed length prefix cannot
// allocate unbounded memory.
const MaxFrameSize = 1 << 26 // 64 MiB

// Message frame layout. Every message carries exactly these frames, in order.
const (
	FrameVersion = 0 // protocol version of the payload contents
	FrameAction  = 1 // action identifier (requests) or reply meta flags (replies)
	FramePayload = 2 // binary-serialized payload mapping
	FrameCount   = 3
)

// WriteFrames writes a complete multipart message to w.
// The caller must hold a write lock if multiple goroutines share the same
// writer, otherwise messages will interleave and corrupt the stream.
func WriteFrames(w io.Writer, frames [][]byte) error {
	if len(frames) > 0xff {
		return fmt.Errorf("too many frames: %d", len(frames))
	}

	header := make([]byte, HeaderSize)
	copy(header[0:3], []byte{MagicNumber, MagicByte2, MagicByte3})
	header[3] = Version
	header[4] = byte(len(frames))
	if _, err := w.Write(header); err != nil {
		return err
	}

	lenBuf := make([]byte, 4)
	for _, frame := range frames {
		binary.BigEndian.PutUint32(lenBuf, uint32(len(frame)))
		if _, err := w.Write(lenBuf); err != nil {
			return err
		}
		if _, err := w.Write(frame); err != nil {
			return err
		}
	}
	return nil
}

// ReadFrames reads a complete multipart message from r.
// It validates the magic number and stream version, then reads every frame
// with io.ReadFull so partial reads never surface as truncated frames.
func ReadFrames(r io.Reader) ([][]byte, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	if header[0] != MagicNumber || header[1] != MagicByte2 || header[2] != MagicByte3 {
		return nil, fmt.Errorf("invalid magic number: %x", header[0:3])
	}
	if header[3] != Version {
		return nil, fmt.Errorf("unsupported stream version: %d", header[3])
	}

	count := int(header[4])
	frames := make([][]byte, count)
	lenBuf := make([]byte, 4)
	for i := 0; i < count; i++ {
		if _, err := io.ReadFull(r, lenBuf); err != nil {
			return nil, err
		}
		frameLen := binary.BigEndian.Uint32(lenBuf)
		if frameLen > MaxFrameSize {
			return nil, fmt.Errorf("frame %d exceeds size limit: %d", i, frameLen)
		}
		frames[i] = make([]byte, frameLen)
		if _, err := io.ReadFull(r, frames[i]); err != nil {
			return nil, err
		}
	}
	return frames, nil
}
