// Package device drives a tpuart.Link and a table of com-objects as a
// single cooperative device: it dispatches received telegrams against
// their indicator flags, retries the object-validity read-back on
// startup, and queues outbound reads/writes/responses for the link's
// transmit side.
package device

import (
	"fmt"
	"time"

	"github.com/nerrad567/knx-tpuart-gateway/internal/actionqueue"
	"github.com/nerrad567/knx-tpuart-gateway/internal/address"
	"github.com/nerrad567/knx-tpuart-gateway/internal/comobject"
	"github.com/nerrad567/knx-tpuart-gateway/internal/telegram"
	"github.com/nerrad567/knx-tpuart-gateway/internal/tpuart"
)

// State is the device's coarse transmit-coordination state.
type State int

// Device states, mirroring the original firmware's INIT/IDLE/TX_ONGOING.
const (
	StateInit State = iota
	StateIdle
	StateTxOngoing
)

// Polling and retry intervals, matching the original device's timing.
const (
	initReadbackInterval = 500 * time.Millisecond
	rxTaskInterval       = 200 * time.Microsecond
	txTaskInterval       = 800 * time.Microsecond
)

// Device binds a tpuart.Link to a table of communication objects.
type Device struct {
	link    *tpuart.Link
	objects []*comobject.Object
	queue   *actionqueue.Queue

	txTelegram *telegram.Telegram

	state State

	initCompleted bool
	initIndex     int
	lastInitTime  time.Time

	lastRXTime time.Time
	lastTXTime time.Time

	onUpdate    func(index int)
	onLinkEvent func(tpuart.Event)
	onAck       func(tpuart.AckStatus)
}

// New returns a Device for the given link and com-object table. The
// link must not yet have been reset. onUpdate, if non-nil, is called
// whenever a received telegram updates a com-object's value.
func New(link *tpuart.Link, objects []*comobject.Object, onUpdate func(index int)) *Device {
	return &Device{
		link:       link,
		objects:    objects,
		queue:      actionqueue.New(actionqueue.DefaultCapacity),
		txTelegram: telegram.New(),
		state:      StateInit,
		onUpdate:   onUpdate,
	}
}

// SetLinkEventHook registers an additional observer notified of every
// raw link event, independent of the device's own handling. Used to
// feed a diagnostics event log or live feed.
func (d *Device) SetLinkEventHook(fn func(tpuart.Event)) { d.onLinkEvent = fn }

// SetAckHook registers an additional observer notified of every raw
// transmission outcome.
func (d *Device) SetAckHook(fn func(tpuart.AckStatus)) { d.onAck = fn }

// Begin resets the link, attaches the com-object table, and completes
// the TP-UART2 handshake. Call it once before Task.
func (d *Device) Begin() error {
	if err := d.link.Reset(); err != nil {
		return fmt.Errorf("device: resetting link: %w", err)
	}
	if err := d.link.AttachComObjects(d.objects); err != nil {
		return fmt.Errorf("device: attaching com-objects: %w", err)
	}
	d.link.SetEventCallback(d.handleLinkEvent)
	d.link.SetAckCallback(d.handleAck)
	if err := d.link.Init(); err != nil {
		return fmt.Errorf("device: initialising link: %w", err)
	}

	d.state = StateIdle
	d.lastInitTime = time.Now()
	d.lastRXTime = time.Now()
	d.lastTXTime = time.Now()
	return nil
}

// Task advances the device: it drives the startup validity read-back,
// polls the link's receive side, dispatches one queued action when
// idle, and polls the link's transmit side. Call it frequently (e.g.
// every 100us) from a tight loop or ticker.
func (d *Device) Task() {
	d.driveInitReadback()

	if time.Since(d.lastRXTime) > rxTaskInterval {
		d.lastRXTime = time.Now()
		d.link.RxTask()
	}

	if d.state == StateIdle {
		if action, ok := d.queue.Pop(); ok {
			d.dispatch(action)
		}
	}

	if time.Since(d.lastTXTime) > txTaskInterval {
		d.lastTXTime = time.Now()
		d.link.TxTask()
	}
}

// driveInitReadback queues a GroupValueRead for the first com-object
// that has not yet received a value, one per initReadbackInterval
// tick, until every object is valid. An object that never becomes
// valid is read again on every tick.
func (d *Device) driveInitReadback() {
	if d.initCompleted {
		return
	}
	if time.Since(d.lastInitTime) < initReadbackInterval {
		return
	}

	for d.initIndex < len(d.objects) && d.objects[d.initIndex].Valid() {
		d.initIndex++
	}

	if d.initIndex == len(d.objects) {
		d.initCompleted = true
		return
	}

	d.queue.Push(actionqueue.Action{Command: actionqueue.CommandRead, Index: d.initIndex})
	d.lastInitTime = time.Now()
}

func (d *Device) dispatch(action actionqueue.Action) {
	switch action.Command {
	case actionqueue.CommandRead:
		obj := d.objects[action.Index]
		obj.CopyAttributesTo(d.txTelegram)
		d.txTelegram.ClearLongPayload()
		d.txTelegram.ClearFirstPayloadByte()
		d.txTelegram.SetCommand(telegram.CommandRead)
		d.txTelegram.UpdateChecksum()
		if err := d.link.SendTelegram(d.txTelegram); err == nil {
			d.state = StateTxOngoing
		}

	case actionqueue.CommandResponse:
		obj := d.objects[action.Index]
		obj.CopyAttributesTo(d.txTelegram)
		obj.CopyValueTo(d.txTelegram)
		d.txTelegram.SetCommand(telegram.CommandResponse)
		d.txTelegram.UpdateChecksum()
		if err := d.link.SendTelegram(d.txTelegram); err == nil {
			d.state = StateTxOngoing
		}

	case actionqueue.CommandWrite:
		obj := d.objects[action.Index]
		if action.LongValue != nil {
			obj.SetLongValue(action.LongValue) //nolint:errcheck // length already validated by WriteLong
		} else {
			obj.UpdateFromInt(uint(action.Value)) //nolint:errcheck // length already validated by Write
		}

		if !obj.HasFlag(comobject.IndicatorTransmit) {
			return
		}
		obj.CopyAttributesTo(d.txTelegram)
		obj.CopyValueTo(d.txTelegram)
		d.txTelegram.SetCommand(telegram.CommandWrite)
		d.txTelegram.UpdateChecksum()
		if err := d.link.SendTelegram(d.txTelegram); err == nil {
			d.state = StateTxOngoing
		}
	}
}

// handleLinkEvent reacts to an asynchronous event raised by the link.
func (d *Device) handleLinkEvent(e tpuart.Event) {
	if d.onLinkEvent != nil {
		d.onLinkEvent(e)
	}

	switch e {
	case tpuart.EventReceivedTelegram:
		d.state = StateIdle
		d.handleReceivedTelegram()

	case tpuart.EventReset:
		// The bus controller reset unexpectedly. Re-establish the link
		// and re-announce our physical address before resuming,
		// correcting the original firmware's retry loop (which called
		// Init after every failed Reset attempt instead of once after
		// the first successful one).
		for d.link.Reset() != nil {
		}
		if err := d.link.Init(); err == nil {
			d.state = StateIdle
		}
	}
}

func (d *Device) handleReceivedTelegram() {
	idx := d.link.AddressedIndex()
	if idx < 0 || idx >= len(d.objects) {
		return
	}
	obj := d.objects[idx]
	rx := d.link.ReceivedTelegram()

	switch rx.Command() {
	case telegram.CommandRead:
		if obj.HasFlag(comobject.IndicatorRead) {
			d.queue.Push(actionqueue.Action{Command: actionqueue.CommandResponse, Index: idx})
		}

	case telegram.CommandResponse:
		if obj.HasFlag(comobject.IndicatorUpdate) {
			if err := obj.UpdateFromTelegram(rx); err == nil && d.onUpdate != nil {
				d.onUpdate(idx)
			}
		}

	case telegram.CommandWrite:
		if obj.HasFlag(comobject.IndicatorWrite) {
			if err := obj.UpdateFromTelegram(rx); err == nil && d.onUpdate != nil {
				d.onUpdate(idx)
			}
		}
	}
}

// handleAck reacts to the outcome of a telegram the device sent.
func (d *Device) handleAck(a tpuart.AckStatus) {
	if d.onAck != nil {
		d.onAck(a)
	}
	d.state = StateIdle
}

// Read returns the current scalar value of the com-object at index,
// for objects whose datapoint occupies at most 2 bytes.
func (d *Device) Read(index int) (uint, error) {
	if index < 0 || index >= len(d.objects) {
		return 0, ErrIndexOutOfRange
	}
	return d.objects[index].Value()
}

// ReadLong returns the current raw bytes of the com-object at index,
// for datapoints wider than 2 bytes.
func (d *Device) ReadLong(index int) ([]byte, error) {
	if index < 0 || index >= len(d.objects) {
		return nil, ErrIndexOutOfRange
	}
	return d.objects[index].LongValue(), nil
}

// Write queues a scalar value to be applied to the com-object at
// index and, if its Transmit flag is set, sent on the bus.
func (d *Device) Write(index int, value uint) error {
	if index < 0 || index >= len(d.objects) {
		return ErrIndexOutOfRange
	}
	if d.objects[index].Length() > 2 {
		return ErrNotWritable
	}
	d.queue.Push(actionqueue.Action{Command: actionqueue.CommandWrite, Index: index, Value: byte(value)})
	return nil
}

// WriteLong queues a wide value to be applied to the com-object at
// index and, if its Transmit flag is set, sent on the bus.
func (d *Device) WriteLong(index int, value []byte) error {
	if index < 0 || index >= len(d.objects) {
		return ErrIndexOutOfRange
	}
	if d.objects[index].Length() <= 2 {
		return ErrNotWritable
	}
	d.queue.Push(actionqueue.Action{Command: actionqueue.CommandWrite, Index: index, LongValue: value})
	return nil
}

// State returns the device's current coordination state.
func (d *Device) State() State { return d.state }

// Objects returns the device's attached com-object table. Callers must
// not mutate the returned slice; individual objects are safe to read.
func (d *Device) Objects() []*comobject.Object { return d.objects }

// IndexOf returns the table index of the com-object addressed by ga.
func (d *Device) IndexOf(ga address.Group) (int, bool) {
	for i, obj := range d.objects {
		if obj.Address() == ga {
			return i, true
		}
	}
	return -1, false
}
