// Package dpt implements encoding and decoding for the subset of KNX
// Datapoint Types used by the com-object layer, plus the byte-length
// table that drives each com-object's telegram length field.
package dpt

import (
	"errors"
	"fmt"
	"math"
)

// Domain errors for datapoint encoding and decoding.
var (
	// ErrInvalidDPT is returned when a datapoint type identifier is unknown.
	ErrInvalidDPT = errors.New("dpt: invalid datapoint type")

	// ErrEncodingFailed is returned when encoding a value to KNX format fails.
	ErrEncodingFailed = errors.New("dpt: encoding failed")

	// ErrDecodingFailed is returned when decoding KNX data to a value fails.
	ErrDecodingFailed = errors.New("dpt: decoding failed")
)

// DPT identifies a KNX Datapoint Type as "major.minor".
type DPT string

// Supported datapoint type identifiers.
const (
	Switch    DPT = "1.001" // 0=Off, 1=On
	Bool      DPT = "1.002" // 0=False, 1=True
	Enable    DPT = "1.003" // 0=Disable, 1=Enable
	Step      DPT = "1.007" // 0=Decrease, 1=Increase
	UpDown    DPT = "1.008" // 0=Up, 1=Down
	OpenClose DPT = "1.009" // 0=Open, 1=Close
	Start     DPT = "1.010" // 0=Stop, 1=Start
	Trigger   DPT = "1.017" // 1=Trigger

	DimmingControl DPT = "3.007" // Direction + steps
	BlindControl   DPT = "3.008" // Direction + steps

	Percentage DPT = "5.001" // 0-100%
	Angle      DPT = "5.003" // 0-360°
	PercentU8  DPT = "5.004" // 0-255 raw

	Temperature DPT = "9.001" // -273 to 670760 °C
	Lux         DPT = "9.004" // 0 to 670760 lux
	Speed       DPT = "9.005" // m/s
	Humidity    DPT = "9.007" // 0-100%
	AirQuality  DPT = "9.008" // ppm

	SceneNumber  DPT = "17.001" // 0-63 scene number
	SceneControl DPT = "18.001" // Scene + learn bit

	ColourRGB DPT = "232.600" // R, G, B
)

const (
	dpt5MaxValue    = 255
	dpt5AngleMax    = 360
	dpt9MaxExponent = 15
	dpt17MaxScene   = 63
	dpt17SceneMask  = 0x3F
	rgbByteCount    = 3
	byteShift       = 8
	dpt9MantissaMask = 0x07FF
)

// byteLengths maps each known DPT to the number of payload bytes its
// value occupies. A length of 0 means the value fits in the telegram's
// 6-bit inline field (com-object length field value 1 in the original
// device's telegram bookkeeping); everything else is carried in the
// long payload area.
var byteLengths = map[DPT]int{
	Switch:    0,
	Bool:      0,
	Enable:    0,
	Step:      0,
	UpDown:    0,
	OpenClose: 0,
	Start:     0,
	Trigger:   0,

	DimmingControl: 0,
	BlindControl:   0,

	Percentage: 1,
	Angle:      1,
	PercentU8:  1,

	Temperature: 2,
	Lux:         2,
	Speed:       2,
	Humidity:    2,
	AirQuality:  2,

	SceneNumber:  1,
	SceneControl: 1,

	ColourRGB: rgbByteCount,
}

// ByteLength returns the number of payload bytes the datapoint type
// occupies, or an error if the type is unknown. A return value of 0
// means the value is carried in the telegram's inline 6-bit field
// rather than the long payload area.
func ByteLength(d DPT) (int, error) {
	n, ok := byteLengths[d]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDPT, d)
	}
	return n, nil
}

// EncodeBool encodes a boolean value to 1-bit KNX format (DPT 1.xxx).
func EncodeBool(value bool) []byte {
	if value {
		return []byte{0x01}
	}
	return []byte{0x00}
}

// DecodeBool decodes a 1-bit KNX value to boolean (DPT 1.xxx).
func DecodeBool(data []byte) (bool, error) {
	if len(data) < 1 {
		return false, fmt.Errorf("%w: DPT1 requires 1 byte, got %d", ErrDecodingFailed, len(data))
	}
	return (data[0] & 0x01) != 0, nil
}

// EncodeControl3 encodes a dimming/blind control value (DPT 3.xxx).
func EncodeControl3(increase bool, steps uint8) []byte {
	var value byte
	if increase {
		value = 0x08
	}
	value |= steps & 0x07
	return []byte{value}
}

// DecodeControl3 decodes a dimming/blind control value (DPT 3.xxx).
func DecodeControl3(data []byte) (increase bool, steps uint8, err error) {
	if len(data) < 1 {
		return false, 0, fmt.Errorf("%w: DPT3 requires 1 byte, got %d", ErrDecodingFailed, len(data))
	}
	increase = (data[0] & 0x08) != 0
	steps = data[0] & 0x07
	return increase, steps, nil
}

// EncodePercent encodes a percentage (0-100) to 1-byte KNX format (DPT 5.001).
func EncodePercent(percent float64) []byte {
	if percent < 0 {
		percent = 0
	} else if percent > 100 {
		percent = 100
	}
	return []byte{uint8(math.Round(percent * dpt5MaxValue / 100))}
}

// DecodePercent decodes a 1-byte KNX value to percentage (DPT 5.001).
func DecodePercent(data []byte) (float64, error) {
	if len(data) < 1 {
		return 0, fmt.Errorf("%w: DPT5 requires 1 byte, got %d", ErrDecodingFailed, len(data))
	}
	return float64(data[0]) * 100 / dpt5MaxValue, nil
}

// EncodeAngle encodes an angle (0-360) to 1-byte KNX format (DPT 5.003).
func EncodeAngle(angle float64) []byte {
	if angle < 0 {
		angle = 0
	} else if angle > dpt5AngleMax {
		angle = dpt5AngleMax
	}
	return []byte{uint8(math.Round(angle * dpt5MaxValue / dpt5AngleMax))}
}

// DecodeAngle decodes a 1-byte KNX value to angle (DPT 5.003).
func DecodeAngle(data []byte) (float64, error) {
	if len(data) < 1 {
		return 0, fmt.Errorf("%w: DPT5 angle requires 1 byte, got %d", ErrDecodingFailed, len(data))
	}
	return float64(data[0]) * dpt5AngleMax / dpt5MaxValue, nil
}

// EncodeFloat16 encodes a float value to the 2-byte KNX floating point
// format used by DPT 9.xxx (temperature, lux, humidity, ...).
//
// Byte 0: SEEE EMMM (Sign, Exponent high, Mantissa high)
// Byte 1: MMMM MMMM (Mantissa low)
// Value = (0.01 x Mantissa) x 2^Exponent
func EncodeFloat16(value float64) ([]byte, error) {
	if value < -671088.64 || value > 670760.96 {
		return nil, fmt.Errorf("%w: DPT9 value out of range: %.2f", ErrEncodingFailed, value)
	}

	var sign uint16
	if value < 0 {
		sign = 0x8000
		value = -value
	}

	exp := 0
	mantissa := value * 100
	for mantissa > 2047 {
		mantissa /= 2
		exp++
	}
	if exp > dpt9MaxExponent {
		return nil, fmt.Errorf("%w: DPT9 exponent overflow for value %.2f", ErrEncodingFailed, value)
	}

	m := int16(mantissa)
	if sign != 0 {
		m = -m
	}

	encoded := sign | (uint16(exp) << 11) | (uint16(m) & dpt9MantissaMask) //nolint:gosec // exp bounded above
	return []byte{byte(encoded >> byteShift), byte(encoded)}, nil
}

// DecodeFloat16 decodes a 2-byte KNX floating point value (DPT 9.xxx).
func DecodeFloat16(data []byte) (float64, error) {
	if len(data) < 2 {
		return 0, fmt.Errorf("%w: DPT9 requires 2 bytes, got %d", ErrDecodingFailed, len(data))
	}

	raw := uint16(data[0])<<8 | uint16(data[1])
	if raw == 0x7FFF {
		return 0, fmt.Errorf("%w: DPT9 invalid value 0x7FFF (sensor error or not available)", ErrDecodingFailed)
	}

	sign := (raw & 0x8000) != 0
	exp := (raw >> 11) & 0x0F
	mantissa := int16(raw & dpt9MantissaMask) //nolint:gosec // 11-bit value fits in int16
	if sign {
		mantissa |= -0x800
	}

	return float64(mantissa) * 0.01 * math.Pow(2, float64(exp)), nil
}

// EncodeScene encodes a scene number (0-63) to 1-byte format (DPT 17.001).
func EncodeScene(scene uint8) ([]byte, error) {
	if scene > dpt17MaxScene {
		return nil, fmt.Errorf("%w: DPT17 scene must be 0-%d, got %d", ErrEncodingFailed, dpt17MaxScene, scene)
	}
	return []byte{scene & dpt17SceneMask}, nil
}

// DecodeScene decodes a scene number from 1-byte format (DPT 17.001).
func DecodeScene(data []byte) (uint8, error) {
	if len(data) < 1 {
		return 0, fmt.Errorf("%w: DPT17 requires 1 byte, got %d", ErrDecodingFailed, len(data))
	}
	return data[0] & dpt17SceneMask, nil
}

// EncodeSceneControl encodes a scene control value (DPT 18.001).
func EncodeSceneControl(scene uint8, learn bool) ([]byte, error) {
	if scene > dpt17MaxScene {
		return nil, fmt.Errorf("%w: DPT18 scene must be 0-%d, got %d", ErrEncodingFailed, dpt17MaxScene, scene)
	}
	value := scene & dpt17SceneMask
	if learn {
		value |= 0x80
	}
	return []byte{value}, nil
}

// DecodeSceneControl decodes a scene control value (DPT 18.001).
func DecodeSceneControl(data []byte) (scene uint8, learn bool, err error) {
	if len(data) < 1 {
		return 0, false, fmt.Errorf("%w: DPT18 requires 1 byte, got %d", ErrDecodingFailed, len(data))
	}
	scene = data[0] & dpt17SceneMask
	learn = (data[0] & 0x80) != 0
	return scene, learn, nil
}

// RGB represents an RGB colour value (DPT 232.600).
type RGB struct {
	R uint8
	G uint8
	B uint8
}

// EncodeRGB encodes an RGB colour to 3-byte format.
func EncodeRGB(rgb RGB) []byte {
	return []byte{rgb.R, rgb.G, rgb.B}
}

// DecodeRGB decodes a 3-byte RGB colour value.
func DecodeRGB(data []byte) (RGB, error) {
	if len(data) < rgbByteCount {
		return RGB{}, fmt.Errorf("%w: DPT232 requires %d bytes, got %d", ErrDecodingFailed, rgbByteCount, len(data))
	}
	return RGB{R: data[0], G: data[1], B: data[2]}, nil
}

// DecodeValue decodes data according to d's datapoint family, returning
// a presentation-ready Go value: bool for the 1.xxx family, a
// map[string]any for the composite 3.xxx/18.001 families, float64 for
// 5.xxx/9.xxx, uint8 for 17.001, and RGB for 232.600. It is used by
// callers that want a decoded value rather than the raw payload bytes
// (the diagnostics API's object view, the InfluxDB writer).
func DecodeValue(d DPT, data []byte) (any, error) {
	switch d {
	case Switch, Bool, Enable, Step, UpDown, OpenClose, Start, Trigger:
		return DecodeBool(data)
	case DimmingControl, BlindControl:
		increase, steps, err := DecodeControl3(data)
		if err != nil {
			return nil, err
		}
		return map[string]any{"increase": increase, "steps": steps}, nil
	case Percentage:
		return DecodePercent(data)
	case Angle:
		return DecodeAngle(data)
	case Temperature, Lux, Speed, Humidity, AirQuality:
		return DecodeFloat16(data)
	case SceneNumber:
		return DecodeScene(data)
	case SceneControl:
		scene, learn, err := DecodeSceneControl(data)
		if err != nil {
			return nil, err
		}
		return map[string]any{"scene": scene, "learn": learn}, nil
	case ColourRGB:
		return DecodeRGB(data)
	default:
		return nil, fmt.Errorf("%w: %q has no decoder", ErrInvalidDPT, d)
	}
}

// EncodeValue is the inverse of DecodeValue: it encodes a
// presentation-level Go value (as produced by decoding JSON request
// bodies, where object values surface as bool, float64, or
// map[string]any) into the payload bytes for d's datapoint family. It
// backs the diagnostics API's write endpoint when a caller submits a
// decoded value instead of a raw integer or hex payload.
func EncodeValue(d DPT, v any) ([]byte, error) {
	switch d {
	case Switch, Bool, Enable, Step, UpDown, OpenClose, Start, Trigger:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("%w: %q expects a bool", ErrEncodingFailed, d)
		}
		return EncodeBool(b), nil
	case DimmingControl, BlindControl:
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %q expects an object with increase/steps", ErrEncodingFailed, d)
		}
		increase, _ := m["increase"].(bool)
		steps, _ := m["steps"].(float64)
		return EncodeControl3(increase, uint8(steps)), nil
	case Percentage:
		f, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("%w: %q expects a number", ErrEncodingFailed, d)
		}
		return EncodePercent(f), nil
	case Angle:
		f, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("%w: %q expects a number", ErrEncodingFailed, d)
		}
		return EncodeAngle(f), nil
	case Temperature, Lux, Speed, Humidity, AirQuality:
		f, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("%w: %q expects a number", ErrEncodingFailed, d)
		}
		return EncodeFloat16(f)
	case SceneNumber:
		f, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("%w: %q expects a number", ErrEncodingFailed, d)
		}
		return EncodeScene(uint8(f))
	case SceneControl:
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %q expects an object with scene/learn", ErrEncodingFailed, d)
		}
		scene, _ := m["scene"].(float64)
		learn, _ := m["learn"].(bool)
		return EncodeSceneControl(uint8(scene), learn)
	case ColourRGB:
		m, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %q expects an object with r/g/b", ErrEncodingFailed, d)
		}
		r, _ := m["r"].(float64)
		g, _ := m["g"].(float64)
		b, _ := m["b"].(float64)
		return EncodeRGB(RGB{R: uint8(r), G: uint8(g), B: uint8(b)}), nil
	default:
		return nil, fmt.Errorf("%w: %q has no encoder", ErrInvalidDPT, d)
	}
}
