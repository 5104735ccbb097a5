package wire

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// HeaderSize is the size of the envelope preceding every payload.
const HeaderSize = 8

// ErrDecode is returned when message content does not match the expected schema.
var ErrDecode = errors.New("decode error")

// Message is the envelope (code, sequence) followed by a payload read and written sequentially.
// Payload fields must be read in exactly the order they were appended.
type Message struct {
	buf    []byte
	offset int
}

// NewMessage creates message with envelope set and empty payload.
func NewMessage(code, seq uint32) *Message {
	m := &Message{
		buf: make([]byte, HeaderSize, 64),
	}
	m.WriteEnvelope(code, seq)
	return m
}

// MessageFromBytes loads message from raw bytes. Bytes are copied and cursor is set to 0,
// so ReadEnvelope must be called before reading the payload.
func MessageFromBytes(b []byte) *Message {
	return &Message{
		buf: bytes.Clone(b),
	}
}

// WriteEnvelope stores code and sequence in the header.
func (m *Message) WriteEnvelope(code, seq uint32) {
	if len(m.buf) < HeaderSize {
		m.buf = append(m.buf, make([]byte, HeaderSize-len(m.buf))...)
	}
	binary.LittleEndian.PutUint32(m.buf[0:4], code)
	binary.LittleEndian.PutUint32(m.buf[4:8], seq)
}

// ReadEnvelope returns code and sequence and moves the cursor to the beginning of the payload.
func (m *Message) ReadEnvelope() (code, seq uint32, err error) {
	if len(m.buf) < HeaderSize {
		return 0, 0, errors.Wrapf(ErrDecode, "message of %d bytes is shorter than header", len(m.buf))
	}
	m.offset = HeaderSize
	return binary.LittleEndian.Uint32(m.buf[0:4]), binary.LittleEndian.Uint32(m.buf[4:8]), nil
}

// Code returns message code without moving the cursor.
func (m *Message) Code() uint32 {
	if len(m.buf) < HeaderSize {
		return 0
	}
	return binary.LittleEndian.Uint32(m.buf[0:4])
}

// Sequence returns message sequence without moving the cursor.
func (m *Message) Sequence() uint32 {
	if len(m.buf) < HeaderSize {
		return 0
	}
	return binary.LittleEndian.Uint32(m.buf[4:8])
}

// Bytes returns raw message bytes.
func (m *Message) Bytes() []byte {
	return m.buf
}

// Len returns the total size of the message, including the header.
func (m *Message) Len() int {
	return len(m.buf)
}

// Remaining returns the number of payload bytes not consumed yet.
func (m *Message) Remaining() int {
	return len(m.buf) - m.offset
}

// Reset drops the payload, keeping the envelope.
func (m *Message) Reset() {
	if len(m.buf) > HeaderSize {
		m.buf = m.buf[:HeaderSize]
	}
	m.offset = 0
}

// AppendUint32 appends uint32 value.
func (m *Message) AppendUint32(v uint32) {
	m.buf = binary.LittleEndian.AppendUint32(m.buf, v)
}

// AppendInt32 appends int32 value.
func (m *Message) AppendInt32(v int32) {
	m.AppendUint32(uint32(v))
}

// AppendInt64 appends int64 value.
func (m *Message) AppendInt64(v int64) {
	m.buf = binary.LittleEndian.AppendUint64(m.buf, uint64(v))
}

// AppendBool appends bool value as a single byte.
func (m *Message) AppendBool(v bool) {
	var b byte
	if v {
		b = 1
	}
	m.buf = append(m.buf, b)
}

// AppendFloat64 appends float64 value.
func (m *Message) AppendFloat64(v float64) {
	m.buf = binary.LittleEndian.AppendUint64(m.buf, math.Float64bits(v))
}

// AppendString appends UTF-8 bytes of the string followed by NUL.
// s must not contain NUL, reader stops at the first one.
func (m *Message) AppendString(s string) {
	m.buf = append(m.buf, s...)
	m.buf = append(m.buf, 0)
}

// AppendBytes appends raw bytes. Reader must know their length, usually by reading the rest of the message.
func (m *Message) AppendBytes(b []byte) {
	m.buf = append(m.buf, b...)
}

// AppendValue appends the 4-byte tag followed by the value.
func (m *Message) AppendValue(v Value) {
	m.AppendUint32(uint32(v.kind))
	switch v.kind {
	case KindInt32:
		m.AppendInt32(int32(v.i))
	case KindInt64:
		m.AppendInt64(v.i)
	case KindBool:
		m.AppendBool(v.i != 0)
	case KindFloat64:
		m.AppendFloat64(v.f)
	case KindString:
		m.AppendString(v.s)
	}
}

// ReadUint32 reads uint32 value.
func (m *Message) ReadUint32() (uint32, error) {
	b, err := m.next(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadInt32 reads int32 value.
func (m *Message) ReadInt32() (int32, error) {
	v, err := m.ReadUint32()
	return int32(v), err
}

// ReadInt64 reads int64 value.
func (m *Message) ReadInt64() (int64, error) {
	b, err := m.next(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

// ReadBool reads bool value.
func (m *Message) ReadBool() (bool, error) {
	b, err := m.next(1)
	if err != nil {
		return false, err
	}
	return b[0] != 0, nil
}

// ReadFloat64 reads float64 value.
func (m *Message) ReadFloat64() (float64, error) {
	b, err := m.next(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
}

// ReadString reads NUL-terminated string and moves the cursor past the terminator.
func (m *Message) ReadString() (string, error) {
	end := bytes.IndexByte(m.buf[m.offset:], 0)
	if end < 0 {
		return "", errors.Wrapf(ErrDecode, "string at offset %d is not terminated", m.offset)
	}
	s := string(m.buf[m.offset : m.offset+end])
	m.offset += end + 1
	return s, nil
}

// ReadValue reads the tag and then the value of the tagged kind.
func (m *Message) ReadValue() (Value, error) {
	tag, err := m.ReadUint32()
	if err != nil {
		return invalidValue, err
	}

	switch Kind(tag) {
	case KindInt32:
		v, err := m.ReadInt32()
		if err != nil {
			return invalidValue, err
		}
		return Int32(v), nil
	case KindInt64:
		v, err := m.ReadInt64()
		if err != nil {
			return invalidValue, err
		}
		return Int64(v), nil
	case KindBool:
		v, err := m.ReadBool()
		if err != nil {
			return invalidValue, err
		}
		return Bool(v), nil
	case KindFloat64:
		v, err := m.ReadFloat64()
		if err != nil {
			return invalidValue, err
		}
		return Float64(v), nil
	case KindString:
		v, err := m.ReadString()
		if err != nil {
			return invalidValue, err
		}
		return String(v), nil
	case KindVoid:
		return Void(), nil
	default:
		return invalidValue, errors.Wrapf(ErrDecode, "unknown value tag %d", tag)
	}
}

// ReadRemaining returns the rest of the payload and moves the cursor to the end.
func (m *Message) ReadRemaining() []byte {
	b := m.buf[m.offset:]
	m.offset = len(m.buf)
	return b
}

func (m *Message) next(n int) ([]byte, error) {
	if len(m.buf)-m.offset < n {
		return nil, errors.Wrapf(ErrDecode, "%d bytes requested at offset %d, %d available",
			n, m.offset, len(m.buf)-m.offset)
	}
	b := m.buf[m.offset : m.offset+n]
	m.offset += n
	return b, nil
}
