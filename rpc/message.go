// Package rpc
package rpc

import (
	"encoding/binary"
	"errors"
)

const (
	RequestType uint16 = iota + 1
	ReplyType
	ErrorType
	StreamOpenType
	StreamDataType
	StreamEndType
	CancelType
	ReadyType
	CloseType
)

// Message is the wire unit carried in one frame payload. Metadata
// travels only on request and streamOpen messages; error text only on
// error and close messages.
type Message struct {
	Type     uint16
	ID       uint32
	Path     string
	Error    string
	Metadata Metadata
	Data     []byte
}

func (m *Message) Encode() ([]byte, error) {
	if len(m.Path) > int(^uint16(0)) {
		return nil, errors.New("marshal error: on path too long")
	}

	var buf = make([]byte, 0, 16+len(m.Path)+len(m.Data))
	buf = appendUint16(buf, m.Type)
	buf = appendUint32(buf, m.ID)
	buf = appendUint16(buf, uint16(len(m.Path)))
	buf = append(buf, m.Path...)

	buf = appendUint16(buf, uint16(len(m.Metadata)))
	for k, v := range m.Metadata {
		buf = appendUint16(buf, uint16(len(k)))
		buf = append(buf, k...)
		buf = appendUint16(buf, uint16(len(v)))
		buf = append(buf, v...)
	}

	if m.Type == ErrorType || m.Type == CloseType {
		data := []byte(m.Error)
		buf = appendUint32(buf, uint32(len(data)))
		buf = append(buf, data...)
	} else {
		buf = appendUint32(buf, uint32(len(m.Data)))
		buf = append(buf, m.Data...)
	}
	return buf, nil
}

func (m *Message) Decode(data []byte) error {
	var index = 0

	next := func(n int) ([]byte, bool) {
		if len(data)-index < n {
			return nil, false
		}
		chunk := data[index : index+n]
		index += n
		return chunk, true
	}

	head, ok := next(8)
	if !ok {
		return errors.New("unmarshal error: on data less")
	}
	m.Type = binary.BigEndian.Uint16(head)
	m.ID = binary.BigEndian.Uint32(head[2:])

	pathLen := int(binary.BigEndian.Uint16(head[6:]))
	path, ok := next(pathLen)
	if !ok {
		return errors.New("unmarshal error: on path truncated")
	}
	m.Path = string(path)

	countBuf, ok := next(2)
	if !ok {
		return errors.New("unmarshal error: on metadata missing")
	}
	if count := int(binary.BigEndian.Uint16(countBuf)); count > 0 {
		m.Metadata = make(Metadata, count)
		for i := 0; i < count; i++ {
			k, ok1 := m.readValue(data, &index)
			v, ok2 := m.readValue(data, &index)
			if !ok1 || !ok2 {
				return errors.New("unmarshal error: on metadata truncated")
			}
			m.Metadata[k] = v
		}
	}

	lenBuf, ok := next(4)
	if !ok {
		return errors.New("unmarshal error: on body length missing")
	}
	body, ok := next(int(binary.BigEndian.Uint32(lenBuf)))
	if !ok {
		return errors.New("unmarshal error: on body truncated")
	}

	if m.Type == ErrorType || m.Type == CloseType {
		m.Error = string(body)
	} else {
		m.Data = body
	}
	return nil
}

func (m *Message) readValue(data []byte, index *int) (string, bool) {
	if len(data)-*index < 2 {
		return "", false
	}
	n := int(binary.BigEndian.Uint16(data[*index:]))
	*index += 2
	if len(data)-*index < n {
		return "", false
	}
	v := string(data[*index : *index+n])
	*index += n
	return v, true
}

func appendUint16(buf []byte, v uint16) []byte {
	data16 := [2]byte{}
	binary.BigEndian.PutUint16(data16[:], v)
	return append(buf, data16[:]...)
}

func appendUint32(buf []byte, v uint32) []byte {
	data32 := [4]byte{}
	binary.BigEndian.PutUint32(data32[:], v)
	return append(buf, data32[:]...)
}
