package wire

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnvelope(t *testing.T) {
	requireT := require.New(t)

	m := NewMessage(42, 7)
	requireT.Equal(HeaderSize, m.Len())
	requireT.Equal([]byte{42, 0, 0, 0, 7, 0, 0, 0}, m.Bytes())

	m.AppendInt32(5)

	m2 := MessageFromBytes(m.Bytes())
	code, seq, err := m2.ReadEnvelope()
	requireT.NoError(err)
	requireT.EqualValues(42, code)
	requireT.EqualValues(7, seq)

	v, err := m2.ReadInt32()
	requireT.NoError(err)
	requireT.EqualValues(5, v)

	// Reading envelope again rewinds cursor to the payload.
	_, _, err = m2.ReadEnvelope()
	requireT.NoError(err)
	v, err = m2.ReadInt32()
	requireT.NoError(err)
	requireT.EqualValues(5, v)
}

func TestCursorStartsAtZero(t *testing.T) {
	requireT := require.New(t)

	m := MessageFromBytes(NewMessage(3, 9).Bytes())
	code, err := m.ReadUint32()
	requireT.NoError(err)
	requireT.EqualValues(3, code)
}

func TestShortEnvelope(t *testing.T) {
	requireT := require.New(t)

	_, _, err := MessageFromBytes([]byte{1, 2, 3}).ReadEnvelope()
	requireT.ErrorIs(err, ErrDecode)
}

func TestMessageFromBytesCopies(t *testing.T) {
	requireT := require.New(t)

	raw := NewMessage(1, 1).Bytes()
	m := MessageFromBytes(raw)
	raw[0] = 99
	requireT.EqualValues(1, m.Code())
}

func TestSequentialFields(t *testing.T) {
	requireT := require.New(t)

	m := NewMessage(1, 2)
	m.AppendInt32(-3)
	m.AppendString("zażółć")
	m.AppendInt64(-1 << 40)
	m.AppendBool(true)
	m.AppendFloat64(2.5)
	m.AppendString("")
	m.AppendUint32(77)

	_, _, err := m.ReadEnvelope()
	requireT.NoError(err)

	i32, err := m.ReadInt32()
	requireT.NoError(err)
	requireT.EqualValues(-3, i32)

	s, err := m.ReadString()
	requireT.NoError(err)
	requireT.Equal("zażółć", s)

	i64, err := m.ReadInt64()
	requireT.NoError(err)
	requireT.EqualValues(-1<<40, i64)

	b, err := m.ReadBool()
	requireT.NoError(err)
	requireT.True(b)

	f, err := m.ReadFloat64()
	requireT.NoError(err)
	requireT.InDelta(2.5, f, 0)

	s, err = m.ReadString()
	requireT.NoError(err)
	requireT.Empty(s)

	u, err := m.ReadUint32()
	requireT.NoError(err)
	requireT.EqualValues(77, u)

	requireT.Zero(m.Remaining())
	_, err = m.ReadUint32()
	requireT.ErrorIs(err, ErrDecode)
}

func TestStringLayout(t *testing.T) {
	requireT := require.New(t)

	m := NewMessage(0, 0)
	m.AppendString("ab")
	requireT.Equal([]byte{'a', 'b', 0}, m.Bytes()[HeaderSize:])
}

func TestUnterminatedString(t *testing.T) {
	requireT := require.New(t)

	m := NewMessage(0, 0)
	m.AppendBytes([]byte("abc"))
	_, _, err := m.ReadEnvelope()
	requireT.NoError(err)

	_, err = m.ReadString()
	requireT.ErrorIs(err, ErrDecode)
}

func TestValueRoundTrip(t *testing.T) {
	values := []Value{
		Int32(-21),
		Int64(1 << 50),
		Bool(true),
		Bool(false),
		Float64(-0.125),
		String("text"),
		String(""),
		Void(),
	}

	for _, v := range values {
		t.Run(v.Kind().String()+"/"+v.String(), func(t *testing.T) {
			requireT := require.New(t)

			m := NewMessage(1, 1)
			m.AppendValue(v)
			m.AppendInt32(12345)

			m2 := MessageFromBytes(m.Bytes())
			_, _, err := m2.ReadEnvelope()
			requireT.NoError(err)

			v2, err := m2.ReadValue()
			requireT.NoError(err)
			requireT.Equal(v, v2)
			requireT.True(v2.IsValid())

			// Next field must start right after the value.
			trailer, err := m2.ReadInt32()
			requireT.NoError(err)
			requireT.EqualValues(12345, trailer)
		})
	}
}

func TestValueTagLayout(t *testing.T) {
	requireT := require.New(t)

	m := NewMessage(0, 0)
	m.AppendValue(Void())
	m.AppendValue(Int32(1))
	requireT.Equal([]byte{5, 0, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0}, m.Bytes()[HeaderSize:])
}

func TestUnknownValueTag(t *testing.T) {
	requireT := require.New(t)

	m := NewMessage(0, 0)
	m.AppendUint32(6)
	_, _, err := m.ReadEnvelope()
	requireT.NoError(err)

	v, err := m.ReadValue()
	requireT.ErrorIs(err, ErrDecode)
	requireT.False(v.IsValid())
}

func TestTruncatedValue(t *testing.T) {
	requireT := require.New(t)

	m := NewMessage(0, 0)
	m.AppendUint32(uint32(KindInt64))
	m.AppendInt32(1)
	_, _, err := m.ReadEnvelope()
	requireT.NoError(err)

	_, err = m.ReadValue()
	requireT.ErrorIs(err, ErrDecode)
}

func TestReset(t *testing.T) {
	requireT := require.New(t)

	m := NewMessage(4, 8)
	m.AppendString("payload")
	m.Reset()

	requireT.Equal(HeaderSize, m.Len())
	requireT.EqualValues(4, m.Code())
	requireT.EqualValues(8, m.Sequence())
}

func TestSequencerSkipsZero(t *testing.T) {
	requireT := require.New(t)

	s := NewSequencer(0xFFFFFFFE)
	requireT.EqualValues(0xFFFFFFFF, s.Next())
	requireT.EqualValues(1, s.Next())
	requireT.EqualValues(2, s.Next())
}

func TestSequencerConcurrent(t *testing.T) {
	requireT := require.New(t)

	const (
		workers   = 8
		perWorker = 1000
	)

	s := NewSequencer(0xFFFFFFFF - workers*perWorker/2)
	results := make(chan uint32, workers*perWorker)

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				results <- s.Next()
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := map[uint32]struct{}{}
	for seq := range results {
		requireT.NotZero(seq)
		_, exists := seen[seq]
		requireT.False(exists)
		seen[seq] = struct{}{}
	}
	requireT.Len(seen, workers*perWorker)
}

func TestCodeRanges(t *testing.T) {
	requireT := require.New(t)

	requireT.False(IsCall(0))
	requireT.True(IsCall(1))
	requireT.True(IsCall(999))
	requireT.True(IsMutation(1000))
	requireT.True(IsMutation(9999))
	requireT.True(IsPush(10000))
	requireT.False(IsPush(CodeTimeout))
	requireT.True(IsException(CodeDecodeError))
}
