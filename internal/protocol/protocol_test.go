package protocol_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gosuda.org/vitalink/internal/protocol"
)

// TestFrameRoundTrip encodes a frame into a slot and decodes it back
// It checks every header field and the payload bytes
func TestFrameRoundTrip(t *testing.T) {
	slot := make([]byte, 256)
	payload := []byte(`{"hr":72,"spo2":98,"rr":16}`)

	err := protocol.EncodeFrame(slot, protocol.Frame{
		Type:      protocol.FrameVitals,
		Timestamp: 1_700_000_000_123_456_789,
		Sequence:  42,
		Payload:   payload,
	})
	require.NoError(t, err)

	f, err := protocol.DecodeFrame(slot)
	require.NoError(t, err)
	assert.Equal(t, protocol.FrameVitals, f.Type)
	assert.Equal(t, int64(1_700_000_000_123_456_789), f.Timestamp)
	assert.Equal(t, uint32(42), f.Sequence)
	assert.Equal(t, payload, f.Payload)
	assert.Equal(t, uint32(42), protocol.PeekSequence(slot))
}

func TestEncodeClearsStalePayload(t *testing.T) {
	slot := make([]byte, 128)
	require.NoError(t, protocol.EncodeFrame(slot, protocol.Frame{
		Type:    protocol.FrameWaveform,
		Payload: bytes.Repeat([]byte{0xAB}, protocol.PayloadCapacity(len(slot))),
	}))
	require.NoError(t, protocol.EncodeFrame(slot, protocol.Frame{
		Type:    protocol.FrameHeartbeat,
		Payload: nil,
	}))

	body := slot[24 : len(slot)-protocol.ChecksumSize]
	assert.Equal(t, make([]byte, len(body)), body)
}

func TestEncodeRejectsOversizedPayload(t *testing.T) {
	slot := make([]byte, protocol.MinFrameSize)
	err := protocol.EncodeFrame(slot, protocol.Frame{
		Type:    protocol.FrameVitals,
		Payload: make([]byte, protocol.PayloadCapacity(len(slot))+1),
	})
	assert.ErrorIs(t, err, protocol.ErrPayloadTooLarge)

	err = protocol.EncodeFrame(slot, protocol.Frame{
		Type:    protocol.FrameVitals,
		Payload: make([]byte, protocol.PayloadCapacity(len(slot))),
	})
	assert.NoError(t, err)
}

// TestDecodeRejectsOversizedLength forges a slot whose declared length exceeds the
// payload capacity but whose checksum is valid
func TestDecodeRejectsOversizedLength(t *testing.T) {
	slot := make([]byte, 128)
	require.NoError(t, protocol.EncodeFrame(slot, protocol.Frame{Type: protocol.FrameVitals}))

	protocol.ByteOrder.PutUint32(slot[20:], uint32(protocol.PayloadCapacity(len(slot))+1))
	protocol.ByteOrder.PutUint32(slot[len(slot)-4:], protocol.Checksum(slot))

	_, err := protocol.DecodeFrame(slot)
	assert.ErrorIs(t, err, protocol.ErrPayloadTooLarge)
}

func TestDecodeReportsUnknownType(t *testing.T) {
	slot := make([]byte, 128)
	require.NoError(t, protocol.EncodeFrame(slot, protocol.Frame{
		Type:     protocol.FrameVitals,
		Sequence: 7,
		Payload:  []byte("x"),
	}))
	slot[0] = 0x7F
	protocol.ByteOrder.PutUint32(slot[len(slot)-4:], protocol.Checksum(slot))

	f, err := protocol.DecodeFrame(slot)
	assert.ErrorIs(t, err, protocol.ErrUnknownFrameType)
	assert.Equal(t, protocol.FrameType(0x7F), f.Type)
	assert.Equal(t, uint32(7), f.Sequence)
	assert.Equal(t, "FrameType(127)", f.Type.String())
}

// TestChecksumDetectsEveryBitFlip flips each bit outside the checksum field in turn
// and expects decoding to fail every time
func TestChecksumDetectsEveryBitFlip(t *testing.T) {
	slot := make([]byte, protocol.MinFrameSize)
	require.NoError(t, protocol.EncodeFrame(slot, protocol.Frame{
		Type:      protocol.FrameWaveform,
		Timestamp: 99,
		Sequence:  3,
		Payload:   []byte("sample"),
	}))
	require.True(t, protocol.VerifyChecksum(slot))

	for i := 0; i < len(slot)-protocol.ChecksumSize; i++ {
		for bit := 0; bit < 8; bit++ {
			slot[i] ^= 1 << bit
			if protocol.VerifyChecksum(slot) {
				t.Fatalf("bit %d of byte %d flipped without checksum failure", bit, i)
			}
			_, err := protocol.DecodeFrame(slot)
			if err != protocol.ErrChecksum {
				t.Fatalf("byte %d bit %d: got %v, want ErrChecksum", i, bit, err)
			}
			slot[i] ^= 1 << bit
		}
	}
	assert.True(t, protocol.VerifyChecksum(slot))
}

func TestShortSlot(t *testing.T) {
	_, err := protocol.DecodeFrame(make([]byte, protocol.MinFrameSize-1))
	assert.ErrorIs(t, err, protocol.ErrShortSlot)
	assert.ErrorIs(t, protocol.EncodeFrame(make([]byte, 8), protocol.Frame{Type: protocol.FrameVitals}), protocol.ErrShortSlot)
}

func TestMessage(t *testing.T) {
	in := protocol.Message{
		Type:     protocol.MsgHandshake,
		Version:  protocol.MessageVersion,
		RingSize: 64 + 4096*2048,
		Name:     "vitalink-ring",
	}
	b, err := in.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, protocol.MessageSize)

	var out protocol.Message
	require.NoError(t, out.UnmarshalBinary(b))
	assert.Equal(t, in, out)
	assert.Equal(t, "Handshake", out.Type.String())
}

func TestMessageMalformed(t *testing.T) {
	var m protocol.Message
	assert.ErrorIs(t, m.UnmarshalBinary(make([]byte, protocol.MessageSize-1)), protocol.ErrMalformedMessage)

	b := make([]byte, protocol.MessageSize)
	b[0] = 0x42
	assert.ErrorIs(t, m.UnmarshalBinary(b), protocol.ErrMalformedMessage)

	b[0] = byte(protocol.MsgHandshake)
	for i := 24; i < len(b); i++ {
		b[i] = 'a'
	}
	assert.ErrorIs(t, m.UnmarshalBinary(b), protocol.ErrMalformedMessage)

	long := protocol.Message{Type: protocol.MsgHandshake, Name: string(bytes.Repeat([]byte("n"), protocol.MaxNameLen+1))}
	_, err := long.MarshalBinary()
	assert.ErrorIs(t, err, protocol.ErrNameTooLong)
}

func TestVitalsPayloadShape(t *testing.T) {
	b, err := protocol.MarshalVitals(protocol.Vitals{HeartRate: 72, SpO2: 98, RespRate: 16})
	require.NoError(t, err)
	assert.JSONEq(t, `{"hr":72,"spo2":98,"rr":16}`, string(b))

	v, err := protocol.UnmarshalVitals([]byte(`{"hr":80,"spo2":97,"rr":14,"signal_quality":90}`))
	require.NoError(t, err)
	assert.Equal(t, protocol.Vitals{HeartRate: 80, SpO2: 97, RespRate: 14, SignalQuality: 90}, v)
}

func TestWaveformPayload(t *testing.T) {
	in := protocol.Waveform{Channel: "ecg", SampleRate: 250, StartTimestamp: 1000, Values: []float32{0.1, 1.2, -0.3}}
	b, err := protocol.MarshalWaveform(in)
	require.NoError(t, err)

	out, err := protocol.UnmarshalWaveform(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = protocol.UnmarshalWaveform([]byte(`{"channel":`))
	assert.Error(t, err)
}
