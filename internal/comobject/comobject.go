// Package comobject implements the KNX communication object model: the
// per-datapoint record that tracks a group address, its flags, and its
// last known value, and knows how to exchange that value with a
// telegram.
package comobject

import (
	"errors"
	"fmt"

	"github.com/nerrad567/knx-tpuart-gateway/internal/address"
	"github.com/nerrad567/knx-tpuart-gateway/internal/dpt"
	"github.com/nerrad567/knx-tpuart-gateway/internal/telegram"
)

// Indicator bits, per the KNX com-object flag byte: B7 B6 C R W T U I.
const (
	IndicatorCommunication = 0x20 // C: object is linked to a group address
	IndicatorRead          = 0x10 // R: object answers GroupValueRead
	IndicatorWrite         = 0x08 // W: object accepts GroupValueWrite
	IndicatorTransmit      = 0x04 // T: object sends on local value change
	IndicatorUpdate        = 0x02 // U: object accepts GroupValueResponse
	IndicatorInitRead      = 0x01 // I: object issues a read on startup
)

// ErrLengthMismatch is returned when a telegram's payload length does
// not match the object's configured length.
var ErrLengthMismatch = errors.New("comobject: telegram payload length mismatch")

// ErrValueTooWide is returned when an integer value is assigned to an
// object whose datapoint occupies more than 2 bytes.
var ErrValueTooWide = errors.New("comobject: integer assignment requires length <= 2")

// Object is a single communication object: a group address, its DPT,
// its indicator flags, and its current value.
type Object struct {
	addr      address.Group
	dptID     dpt.DPT
	indicator byte
	length    int // telegram payload-length field value: dpt byte count + 1

	value     byte   // used when length == 1 or length == 2
	longValue []byte // used when length > 2, sized length-1
	valid     bool
}

// New constructs an Object for the given group address, datapoint type
// and indicator flags. Validity starts false if the I (init-read) flag
// is set, matching the original device's bring-up behaviour.
func New(addr address.Group, dptID dpt.DPT, indicator byte) (*Object, error) {
	n, err := dpt.ByteLength(dptID)
	if err != nil {
		return nil, err
	}
	length := n + 1

	o := &Object{
		addr:      addr,
		dptID:     dptID,
		indicator: indicator,
		length:    length,
		valid:     indicator&IndicatorInitRead == 0,
	}
	if length > 2 {
		o.longValue = make([]byte, length-1)
	}
	return o, nil
}

// Address returns the object's group address.
func (o *Object) Address() address.Group { return o.addr }

// DPT returns the object's datapoint type identifier.
func (o *Object) DPT() dpt.DPT { return o.dptID }

// Indicator returns the object's raw indicator byte.
func (o *Object) Indicator() byte { return o.indicator }

// HasFlag reports whether the given indicator bit is set.
func (o *Object) HasFlag(bit byte) bool { return o.indicator&bit != 0 }

// Length returns the telegram payload-length field value this object
// produces and expects.
func (o *Object) Length() int { return o.length }

// Valid reports whether the object holds a value received from the bus
// (or written locally) since startup.
func (o *Object) Valid() bool { return o.valid }

// Value returns the object's current value as an unsigned integer, for
// objects with length <= 2 (bit, 1-byte and the single-byte "length 2"
// case). Use LongValue for wider datapoints.
func (o *Object) Value() (uint, error) {
	if o.length > 2 {
		return 0, fmt.Errorf("comobject: %s has length %d, use LongValue", o.addr, o.length)
	}
	return uint(o.value), nil
}

// LongValue returns the raw bytes of a datapoint wider than 2 bytes
// (e.g. DPT 232.600 RGB). The returned slice aliases the object's
// internal storage and must not be retained across updates.
func (o *Object) LongValue() []byte {
	return o.longValue
}

// UpdateFromTelegram absorbs a received telegram's payload into the
// object's value, validating that the payload length matches.
func (o *Object) UpdateFromTelegram(tg *telegram.Telegram) error {
	if tg.PayloadLength() != o.length {
		return fmt.Errorf("%w: object %s wants %d, telegram has %d",
			ErrLengthMismatch, o.addr, o.length, tg.PayloadLength())
	}

	switch {
	case o.length == 1:
		o.value = tg.FirstPayloadByte()
	case o.length == 2:
		buf := make([]byte, 1)
		tg.LongPayload(buf, 1)
		o.value = buf[0]
	default:
		tg.LongPayload(o.longValue, o.length-1)
	}

	o.valid = true
	return nil
}

// UpdateFromInt assigns a scalar value directly, for objects whose
// datapoint fits in 2 bytes (bit flags, 1-byte scales, scene numbers).
func (o *Object) UpdateFromInt(v uint) error {
	if o.length > 2 {
		return ErrValueTooWide
	}
	o.value = byte(v)
	o.valid = true
	return nil
}

// SetLongValue assigns the raw bytes of a datapoint wider than 2
// bytes. len(v) must equal Length()-1.
func (o *Object) SetLongValue(v []byte) error {
	if o.length <= 2 {
		return fmt.Errorf("comobject: %s has length %d, use UpdateFromInt", o.addr, o.length)
	}
	if len(v) != o.length-1 {
		return fmt.Errorf("comobject: %s expects %d bytes, got %d", o.addr, o.length-1, len(v))
	}
	copy(o.longValue, v)
	o.valid = true
	return nil
}

// CopyAttributesTo writes this object's priority, target address and
// payload length into dest, preparing it to carry this object's value.
func (o *Object) CopyAttributesTo(dest *telegram.Telegram) {
	dest.ChangePriority(telegram.PriorityNormal)
	dest.SetTargetAddress(o.addr.Uint16())
	dest.SetPayloadLength(o.length)
}

// CopyValueTo writes this object's current value into dest's payload.
func (o *Object) CopyValueTo(dest *telegram.Telegram) {
	switch {
	case o.length == 1:
		dest.SetFirstPayloadByte(o.value)
	case o.length == 2:
		dest.SetLongPayload([]byte{o.value}, 1)
	default:
		dest.SetLongPayload(o.longValue, o.length-1)
	}
}
