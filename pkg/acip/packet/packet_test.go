package packet

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zfogg/ascii-chat/pkg/acip/acerr"
)

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		typ     Type
		payload []byte
	}{
		{"empty payload", TypePing, nil},
		{"small payload", TypeTextMessage, []byte("hello")},
		{"large payload", TypeImageFrame, bytes.Repeat([]byte{0xAB}, 230*1024)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			encoded, err := Encode(tc.typ, 42, tc.payload)
			require.NoError(t, err)

			decoded, err := DecodeStream(bytes.NewReader(encoded))
			require.NoError(t, err)
			require.Equal(t, tc.typ, decoded.Type)
			require.Equal(t, uint32(42), decoded.Sequence)
			require.Equal(t, tc.payload, decoded.Payload)
		})
	}
}

func TestEncodeOversizeRejected(t *testing.T) {
	_, err := Encode(TypeImageFrame, 1, make([]byte, MaxPayloadSize+1))
	require.Error(t, err)
	code, ok := acerr.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, acerr.Oversize, code)
}

func TestDecodeDetectsBitCorruption(t *testing.T) {
	encoded, err := Encode(TypePing, 1, []byte{0x01, 0x02, 0x03, 0x04})
	require.NoError(t, err)

	// Flip one bit in the payload; CRC32 must catch it.
	encoded[HeaderSize] ^= 0x01

	_, err = DecodeStream(bytes.NewReader(encoded))
	require.Error(t, err)
	code, ok := acerr.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, acerr.CorruptPayload, code)
}

func TestDecodeMagicMismatch(t *testing.T) {
	encoded, err := Encode(TypePing, 1, nil)
	require.NoError(t, err)
	encoded[0] ^= 0xFF

	_, err = DecodeStream(bytes.NewReader(encoded))
	code, ok := acerr.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, acerr.MagicMismatch, code)
}

func TestDecodeOversizeLengthNeverSucceeds(t *testing.T) {
	// Corrupt the length field and confirm the decoder never returns
	// OK -- only Oversize or MagicMismatch.
	encoded, err := Encode(TypePing, 1, nil)
	require.NoError(t, err)

	var corrupted [HeaderSize]byte
	copy(corrupted[:], encoded)
	corrupted[6] = 0xFF // length byte 0 (most significant)
	corrupted[7] = 0xFF
	corrupted[8] = 0xFF
	corrupted[9] = 0xFF

	_, err = DecodeStream(bytes.NewReader(corrupted[:]))
	require.Error(t, err)
	code, ok := acerr.CodeOf(err)
	require.True(t, ok)
	require.Contains(t, []acerr.Code{acerr.Oversize, acerr.MagicMismatch}, code)
}

func TestZeroLengthPayloadHasZeroCRC(t *testing.T) {
	encoded, err := Encode(TypePong, 1, nil)
	require.NoError(t, err)
	require.Equal(t, uint32(0), checksum(nil))
	decoded, err := DecodeStream(bytes.NewReader(encoded))
	require.NoError(t, err)
	require.Empty(t, decoded.Payload)
}

func TestSequenceCounterMonotonic(t *testing.T) {
	ResetSequenceCounter()
	a := NextSequence()
	b := NextSequence()
	require.Less(t, a, b)
}

func TestTypeRangeClassification(t *testing.T) {
	require.True(t, TypeImageFrame.IsMediaControl())
	require.False(t, TypeImageFrame.IsHandshake())
	require.True(t, TypeHandshakeHello.IsHandshake())
	require.True(t, TypeSessionCreate.IsDiscovery())
	require.False(t, TypeSessionCreate.IsMediaControl())
}

func TestSettingsRoundTrip(t *testing.T) {
	s := Settings{
		Version:       3,
		Width:         120,
		Height:        40,
		ColorMode:     ColorModeTrueColor,
		RenderMode:    RenderModeBraille,
		PaletteType:   PaletteCustom,
		CustomPalette: " .:-=+*#%@",
		AudioEnabled:  true,
		EncryptionReq: true,
	}

	buf, err := s.Encode()
	require.NoError(t, err)
	require.Len(t, buf, SettingsSize)

	decoded, err := DecodeSettings(buf)
	require.NoError(t, err)
	require.Equal(t, s, decoded)
}

func TestSettingsValidatesBounds(t *testing.T) {
	s := DefaultSettings()
	s.Width = 0
	_, err := s.Encode()
	require.Error(t, err)

	s = DefaultSettings()
	s.Height = 2000
	_, err = s.Encode()
	require.Error(t, err)

	s = DefaultSettings()
	s.CustomPalette = string(bytes.Repeat([]byte{'x'}, 32))
	_, err = s.Encode()
	require.Error(t, err)
}
