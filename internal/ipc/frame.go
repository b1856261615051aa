package ipc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
)

// Frame layout, after the transport's own length prefix (if any):
//
//	flags byte | CBOR message, brotli compressed when flagCompressed is set
const flagCompressed byte = 1 << 0

// FrameOptions tunes the frame codec shared by stream and WebSocket
// transports.
type FrameOptions struct {
	// CompressAbove is the encoded size above which frames are brotli
	// compressed. Zero disables compression.
	CompressAbove int
	// MaxFrameBytes bounds a single frame, compressed or not. Zero means
	// 64 MiB.
	MaxFrameBytes int
}

const defaultMaxFrame = 64 << 20

func (o FrameOptions) maxFrame() int {
	if o.MaxFrameBytes <= 0 {
		return defaultMaxFrame
	}
	return o.MaxFrameBytes
}

var brotliReaders = sync.Pool{
	New: func() any { return brotli.NewReader(nil) },
}

var emptyReader = strings.NewReader("")

func (o FrameOptions) encode(msg *Message) ([]byte, error) {
	data, err := MarshalMessage(msg)
	if err != nil {
		return nil, err
	}
	if o.CompressAbove <= 0 || len(data) <= o.CompressAbove {
		return append([]byte{0}, data...), nil
	}

	var buf bytes.Buffer
	buf.WriteByte(flagCompressed)
	w := brotli.NewWriterLevel(&buf, brotli.DefaultCompression)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("ipc: compress frame: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("ipc: compress frame: %w", err)
	}
	return buf.Bytes(), nil
}

func (o FrameOptions) decode(frame []byte) (*Message, error) {
	if len(frame) == 0 {
		return nil, errors.New("ipc: empty frame")
	}
	flags, body := frame[0], frame[1:]
	if flags&flagCompressed == 0 {
		return UnmarshalMessage(body)
	}

	br := brotliReaders.Get().(*brotli.Reader)
	defer func() {
		_ = br.Reset(emptyReader)
		brotliReaders.Put(br)
	}()
	if err := br.Reset(bytes.NewReader(body)); err != nil {
		return nil, fmt.Errorf("ipc: decompress frame: %w", err)
	}
	limit := int64(o.maxFrame())
	data, err := io.ReadAll(io.LimitReader(br, limit+1))
	if err != nil {
		return nil, fmt.Errorf("ipc: decompress frame: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("ipc: decompressed frame exceeds %d bytes", limit)
	}
	return UnmarshalMessage(data)
}

// writeFrame writes a length-prefixed frame.
func writeFrame(w io.Writer, frame []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(frame)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(frame)
	return err
}

// readFrame reads one length-prefixed frame of at most limit bytes.
func readFrame(r io.Reader, limit int) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if int64(n) > int64(limit) {
		return nil, fmt.Errorf("ipc: frame of %d bytes exceeds limit %d", n, limit)
	}
	frame := make([]byte, n)
	if _, err := io.ReadFull(r, frame); err != nil {
		return nil, err
	}
	return frame, nil
}
