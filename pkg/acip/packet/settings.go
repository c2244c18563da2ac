package packet

import (
	"encoding/binary"

	"github.com/zfogg/ascii-chat/pkg/acip/acerr"
)

// SettingsSize is the fixed network-byte-order wire size of Settings.
const SettingsSize = 60

// ColorMode enumerates the negotiated color rendering mode.
type ColorMode uint8

const (
	ColorModeMono ColorMode = iota
	ColorMode16
	ColorMode256
	ColorModeTrueColor
)

// RenderMode enumerates the negotiated ASCII render strategy.
type RenderMode uint8

const (
	RenderModeHalfBlock RenderMode = iota
	RenderModeASCII
	RenderModeBraille
)

// PaletteType enumerates the negotiated character palette.
type PaletteType uint8

const (
	PaletteStandard PaletteType = iota
	PaletteBlocks
	PaletteCustom
)

const maxCustomPalette = 31

// Settings is the session-wide configuration negotiated at join time.
// It serializes to a fixed 60-byte record; unknown trailing
// bytes are reserved for future fields and must round-trip as zero.
type Settings struct {
	Version          uint32
	Width            uint32
	Height           uint32
	ColorMode        ColorMode
	RenderMode       RenderMode
	PaletteType      PaletteType
	CustomPalette    string // <= 31 bytes
	AudioEnabled     bool
	EncryptionReq    bool
}

// Validate checks Width/Height bounds and CustomPalette length.
func (s Settings) Validate() error {
	if s.Width < 1 || s.Width > 1024 {
		return acerr.New(acerr.InvalidParam, "width out of range [1,1024]")
	}
	if s.Height < 1 || s.Height > 1024 {
		return acerr.New(acerr.InvalidParam, "height out of range [1,1024]")
	}
	if len(s.CustomPalette) > maxCustomPalette {
		return acerr.New(acerr.InvalidParam, "custom palette exceeds 31 bytes")
	}
	return nil
}

// Encode renders Settings as the fixed 60-byte wire record.
func (s Settings) Encode() ([]byte, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	buf := make([]byte, SettingsSize)
	binary.BigEndian.PutUint32(buf[0:4], s.Version)
	binary.BigEndian.PutUint32(buf[4:8], s.Width)
	binary.BigEndian.PutUint32(buf[8:12], s.Height)
	buf[12] = byte(s.ColorMode)
	buf[13] = byte(s.RenderMode)
	buf[14] = byte(s.PaletteType)
	if s.AudioEnabled {
		buf[15] = 1
	}
	if s.EncryptionReq {
		buf[16] = 1
	}
	buf[17] = byte(len(s.CustomPalette))
	copy(buf[18:18+maxCustomPalette], s.CustomPalette)
	// buf[49:60] remains reserved, zero-filled.
	return buf, nil
}

// DecodeSettings parses a 60-byte wire record produced by Encode.
func DecodeSettings(buf []byte) (Settings, error) {
	if len(buf) != SettingsSize {
		return Settings{}, acerr.New(acerr.InvalidParam, "session settings must be exactly 60 bytes")
	}
	paletteLen := int(buf[17])
	if paletteLen > maxCustomPalette {
		return Settings{}, acerr.New(acerr.CorruptPayload, "custom palette length field out of range")
	}
	s := Settings{
		Version:       binary.BigEndian.Uint32(buf[0:4]),
		Width:         binary.BigEndian.Uint32(buf[4:8]),
		Height:        binary.BigEndian.Uint32(buf[8:12]),
		ColorMode:     ColorMode(buf[12]),
		RenderMode:    RenderMode(buf[13]),
		PaletteType:   PaletteType(buf[14]),
		AudioEnabled:  buf[15] != 0,
		EncryptionReq: buf[16] != 0,
		CustomPalette: string(buf[18 : 18+paletteLen]),
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// DefaultSettings returns the baseline negotiated settings a fresh session
// starts with before any join-time override.
func DefaultSettings() Settings {
	return Settings{
		Version:     1,
		Width:       80,
		Height:      24,
		ColorMode:   ColorMode256,
		RenderMode:  RenderModeHalfBlock,
		PaletteType: PaletteStandard,
	}
}
