package frame

import (
	"encoding/binary"
	"fmt"
)

const (
	LengthMarker  = 0xA1
	ControlSendNR = 0x44
	CIExtendedLL  = 0x8C
	CIShortTPL    = 0x7A

	dllSize = 10
	ellSize = 3
	tplSize = 5
)

// Telegram is the parsed header of a Wireless M-Bus frame. Payload aliases
// the caller's buffer starting at PayloadOffset.
type Telegram struct {
	Raw           []byte
	Length        byte
	Control       byte
	Manufacturer  uint16
	MeterID       [4]byte
	Version       byte
	DeviceType    byte
	ELL           ELLInfo
	TPL           TPLInfo
	PayloadOffset int
	Payload       []byte
}

// ELLInfo is the short Extended Link Layer block. It only shifts offsets.
type ELLInfo struct {
	Present      bool
	Control      byte
	AccessNumber byte
}

// TPLInfo is the short Transport Layer header (CI 0x7A).
type TPLInfo struct {
	CI           byte
	AccessNumber byte
	Status       byte
	ConfigLow    byte
	ConfigHigh   byte
}

// Config returns the configuration field as high:low.
func (t TPLInfo) Config() uint16 {
	return uint16(t.ConfigHigh)<<8 | uint16(t.ConfigLow)
}

// Parse walks the DLL, the optional ELL and the short TPL header.
func Parse(raw []byte) (Telegram, error) {
	if len(raw) < dllSize {
		return Telegram{}, fieldErr("dll", "header", 0, ErrTruncatedFrame,
			fmt.Sprintf("need %d bytes, got %d", dllSize, len(raw)))
	}
	if raw[0] != LengthMarker {
		return Telegram{}, fieldErr("dll", "L", 0, ErrInvalidDLLMarker,
			fmt.Sprintf("got 0x%02X, want 0x%02X", raw[0], LengthMarker))
	}
	if raw[1] != ControlSendNR {
		return Telegram{}, fieldErr("dll", "C", 1, ErrInvalidDLLMarker,
			fmt.Sprintf("got 0x%02X, want 0x%02X", raw[1], ControlSendNR))
	}
	t := Telegram{
		Raw:          raw,
		Length:       raw[0],
		Control:      raw[1],
		Manufacturer: binary.LittleEndian.Uint16(raw[2:4]),
		Version:      raw[8],
		DeviceType:   raw[9],
	}
	copy(t.MeterID[:], raw[4:8])

	cursor := dllSize
	if cursor >= len(raw) {
		return Telegram{}, fieldErr("tpl", "CI", cursor, ErrTruncatedFrame, "no byte after DLL")
	}
	if raw[cursor] == CIExtendedLL {
		ell, err := parseELL(raw, cursor)
		if err != nil {
			return Telegram{}, err
		}
		t.ELL = ell
		cursor += ellSize
	}

	tpl, err := parseShortTPL(raw, cursor)
	if err != nil {
		return Telegram{}, err
	}
	t.TPL = tpl
	cursor += tplSize

	t.PayloadOffset = cursor
	t.Payload = raw[cursor:]
	return t, nil
}

func parseELL(data []byte, offset int) (ELLInfo, error) {
	if len(data) < offset+ellSize {
		return ELLInfo{}, fieldErr("ell", "header", offset, ErrTruncatedFrame,
			fmt.Sprintf("need %d bytes, got %d", ellSize, len(data)-offset))
	}
	return ELLInfo{
		Present:      true,
		Control:      data[offset+1],
		AccessNumber: data[offset+2],
	}, nil
}

func parseShortTPL(data []byte, offset int) (TPLInfo, error) {
	if offset >= len(data) {
		return TPLInfo{}, fieldErr("tpl", "CI", offset, ErrTruncatedFrame, "no TPL header")
	}
	if data[offset] != CIShortTPL {
		return TPLInfo{}, fieldErr("tpl", "CI", offset, ErrInvalidTPLMarker,
			fmt.Sprintf("got 0x%02X, want 0x%02X", data[offset], CIShortTPL))
	}
	if len(data) < offset+tplSize {
		return TPLInfo{}, fieldErr("tpl", "header", offset, ErrTruncatedFrame,
			fmt.Sprintf("need %d bytes, got %d", tplSize, len(data)-offset))
	}
	return TPLInfo{
		CI:           data[offset],
		AccessNumber: data[offset+1],
		Status:       data[offset+2],
		ConfigLow:    data[offset+3],
		ConfigHigh:   data[offset+4],
	}, nil
}

// MeterIDString returns the EN 13757 display format (MSB first).
func (t Telegram) MeterIDString() string {
	return fmt.Sprintf("%02X%02X%02X%02X", t.MeterID[3], t.MeterID[2], t.MeterID[1], t.MeterID[0])
}

// ManufacturerCode unpacks the three-letter FLAG code.
func (t Telegram) ManufacturerCode() string {
	m := t.Manufacturer
	return string([]byte{
		byte((m>>10)&0x1F) + 64,
		byte((m>>5)&0x1F) + 64,
		byte(m&0x1F) + 64,
	})
}

// OMS TPL status byte: bits 1-0 application status, bit 2 power low,
// bit 3 permanent error, bit 4 temporary error, bits 7-5 manufacturer
// specific.
var statusFlagDefs = []struct {
	mask byte
	key  string
}{
	{0x04, "status_power_low"},
	{0x08, "status_permanent_error"},
	{0x10, "status_temporary_error"},
	{0x20, "status_manufacturer_bit5"},
	{0x40, "status_manufacturer_bit6"},
	{0x80, "status_manufacturer_bit7"},
}

var applicationStatus = [4]string{
	"",
	"status_application_busy",
	"status_application_error",
	"status_abnormal_condition",
}

// StatusFlags decodes the TPL status byte.
func (t Telegram) StatusFlags() map[string]bool {
	flags := make(map[string]bool)
	if key := applicationStatus[t.TPL.Status&0x03]; key != "" {
		flags[key] = true
	}
	for _, def := range statusFlagDefs {
		if t.TPL.Status&def.mask != 0 {
			flags[def.key] = true
		}
	}
	return flags
}
