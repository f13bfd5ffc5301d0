// Package transport
package transport

import (
	"bufio"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
)

const (
	MagicCode         byte = 0x6f
	Version           byte = 1
	HeaderFixedLength      = 12
)

// MaxFrameLength bounds a single frame payload. Anything larger is a
// corrupt or hostile header.
const MaxFrameLength = 1 << 24

func NewFrame(data []byte) *Frame {
	return &Frame{
		Magic:    MagicCode,
		Version:  Version,
		CheckSum: crc32.ChecksumIEEE(data),
		Length:   uint32(len(data)),
		Payload:  data,
	}
}

type Frame struct {
	Magic    byte
	Version  byte
	Flag     byte
	Reserved byte
	CheckSum uint32
	Length   uint32
	Payload  []byte
}

func (f *Frame) Encode() []byte {
	var buf = make([]byte, HeaderFixedLength+len(f.Payload))
	buf[0] = f.Magic
	buf[1] = f.Version
	buf[2] = f.Flag
	buf[3] = f.Reserved
	binary.BigEndian.PutUint32(buf[4:], f.CheckSum)
	binary.BigEndian.PutUint32(buf[8:], f.Length)
	copy(buf[HeaderFixedLength:], f.Payload)
	return buf
}

func (f *Frame) DecodeHeader(data []byte) error {
	if data[0] != MagicCode {
		return errors.New("decode error: on magic code unmatched")
	}
	f.Magic = data[0]
	f.Version = data[1]
	f.Flag = data[2]
	f.Reserved = data[3]
	f.CheckSum = binary.BigEndian.Uint32(data[4:])
	f.Length = binary.BigEndian.Uint32(data[8:])
	if f.Length > MaxFrameLength {
		return errors.New("decode error: on frame length overflow")
	}
	return nil
}

func (f *Frame) Decode(data []byte) error {
	if len(data) < HeaderFixedLength {
		return errors.New("decode error: on data length less")
	}

	err := f.DecodeHeader(data)
	if err != nil {
		return err
	}
	if len(data) < HeaderFixedLength+int(f.Length) {
		return errors.New("decode error: on payload truncated")
	}
	f.Payload = data[HeaderFixedLength : HeaderFixedLength+f.Length]
	return f.verify()
}

func (f *Frame) verify() error {
	if crc32.ChecksumIEEE(f.Payload) != f.CheckSum {
		return errors.New("decode error: on checksum unmatched")
	}
	return nil
}

func newFrameReader(r io.Reader) *frameReader {
	return &frameReader{
		r: bufio.NewReader(r),
	}
}

func newFrameWriter(w io.Writer) *frameWriter {
	return &frameWriter{
		w: w,
	}
}

type frameReader struct {
	r         *bufio.Reader
	headerBuf [HeaderFixedLength]byte
}

func (f *frameReader) Read() (*Frame, error) {
	_, err := io.ReadFull(f.r, f.headerBuf[:])
	if err != nil {
		return nil, err
	}

	m := &Frame{}
	err = m.DecodeHeader(f.headerBuf[:])
	if err != nil {
		return nil, err
	}

	m.Payload = make([]byte, int(m.Length))
	_, err = io.ReadFull(f.r, m.Payload)
	if err != nil {
		return nil, err
	}
	return m, m.verify()
}

type frameWriter struct {
	w io.Writer
}

func (f *frameWriter) Write(m *Frame) error {
	data := m.Encode()
	_, err := f.w.Write(data)
	return err
}
