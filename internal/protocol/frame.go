package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
)

var (
	// ErrFrameTooLarge means a payload is over MaxPayloadSize. On a byte
	// stream there is no way to resynchronize past it, so readers treat
	// it as fatal for the connection.
	ErrFrameTooLarge = errors.New("frame payload exceeds maximum size")

	// ErrInvalidFrame wraps all payload decode failures. These are
	// per-frame: the stream stays aligned and the frame is dropped.
	ErrInvalidFrame = errors.New("invalid frame")
)

// Frame is one wire protocol frame. The 22-byte header is, big-endian:
//
//	Type      [1]  frame type
//	Flags     [1]  reserved, zero
//	Length    [4]  payload byte count
//	ChannelID [16] UUID, zero when the frame is not channel-bound
type Frame struct {
	Type      uint8
	Flags     uint8
	ChannelID uuid.UUID
	Payload   []byte
}

// Encode serializes the frame into a single buffer.
func (f *Frame) Encode() ([]byte, error) {
	if len(f.Payload) > MaxPayloadSize {
		return nil, ErrFrameTooLarge
	}

	buf := make([]byte, HeaderSize+len(f.Payload))
	buf[0] = f.Type
	buf[1] = f.Flags
	binary.BigEndian.PutUint32(buf[2:6], uint32(len(f.Payload)))
	copy(buf[6:22], f.ChannelID[:])
	copy(buf[22:], f.Payload)

	return buf, nil
}

// DecodeHeader splits a frame header into its fields.
func DecodeHeader(buf []byte) (frameType uint8, flags uint8, length uint32, channelID uuid.UUID, err error) {
	if len(buf) < HeaderSize {
		return 0, 0, 0, uuid.Nil, fmt.Errorf("%w: header too short", ErrInvalidFrame)
	}

	frameType = buf[0]
	flags = buf[1]
	length = binary.BigEndian.Uint32(buf[2:6])
	copy(channelID[:], buf[6:22])

	if length > MaxPayloadSize {
		return 0, 0, 0, uuid.Nil, ErrFrameTooLarge
	}

	return
}

// Decode parses one complete frame out of buf. The payload is copied, so
// the caller may reuse buf.
func Decode(buf []byte) (*Frame, error) {
	frameType, flags, length, channelID, err := DecodeHeader(buf)
	if err != nil {
		return nil, err
	}

	if len(buf) < HeaderSize+int(length) {
		return nil, fmt.Errorf("%w: buffer too short for payload", ErrInvalidFrame)
	}

	payload := make([]byte, length)
	copy(payload, buf[HeaderSize:HeaderSize+length])

	return &Frame{
		Type:      frameType,
		Flags:     flags,
		ChannelID: channelID,
		Payload:   payload,
	}, nil
}

func (f *Frame) String() string {
	return fmt.Sprintf("Frame{Type=%s, ChannelID=%s, PayloadLen=%d}",
		FrameTypeName(f.Type), f.ChannelID, len(f.Payload))
}

// FrameReader reads consecutive frames off a byte stream. Unknown frame
// types pass through untouched; classification is the dispatcher's job.
type FrameReader struct {
	r      io.Reader
	header [HeaderSize]byte
}

// NewFrameReader creates a FrameReader over r.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: r}
}

// Read returns the next frame, blocking until one is complete.
func (fr *FrameReader) Read() (*Frame, error) {
	if _, err := io.ReadFull(fr.r, fr.header[:]); err != nil {
		return nil, err
	}

	frameType, flags, length, channelID, err := DecodeHeader(fr.header[:])
	if err != nil {
		return nil, err
	}

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(fr.r, payload); err != nil {
			return nil, err
		}
	}

	return &Frame{
		Type:      frameType,
		Flags:     flags,
		ChannelID: channelID,
		Payload:   payload,
	}, nil
}

// FrameWriter writes frames to a byte stream. Each frame goes out as one
// Write call, so a message-oriented transport carries one frame per
// message.
type FrameWriter struct {
	w io.Writer
}

// NewFrameWriter creates a FrameWriter over w.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// Write encodes and sends one frame.
func (fw *FrameWriter) Write(f *Frame) error {
	data, err := f.Encode()
	if err != nil {
		return err
	}
	_, err = fw.w.Write(data)
	return err
}

// WriteFrame builds and sends a frame in one call.
func (fw *FrameWriter) WriteFrame(frameType uint8, channelID uuid.UUID, payload []byte) error {
	return fw.Write(&Frame{
		Type:      frameType,
		ChannelID: channelID,
		Payload:   payload,
	})
}
