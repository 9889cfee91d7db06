// Package tpuart implements the link layer talking to a Siemens
// TP-UART2 chip over a serial port: the reset/init handshake, the
// byte-level RX and TX state machines, and addressed-reception
// lookup against a table of attached communication objects.
//
// RxTask and TxTask are designed to be polled from a tight loop or
// ticker by the caller (see internal/device); neither blocks for
// longer than a single non-blocking serial read.
package tpuart

import (
	"fmt"
	"sort"
	"time"

	"github.com/nerrad567/knx-tpuart-gateway/internal/comobject"
	"github.com/nerrad567/knx-tpuart-gateway/internal/telegram"
)

// RxState is the receive-side state machine's current state.
type RxState int

// Receive states, in the order the original link walks through them.
const (
	RxReset RxState = iota
	RxStopped
	RxInit
	RxIdleWaitingForCtrl
	RxReceptionStarted
	RxReceptionAddressed
	RxReceptionLengthInvalid
	RxReceptionNotAddressed
)

// TxState is the transmit-side state machine's current state.
type TxState int

// Transmit states, in the order the original link walks through them.
const (
	TxReset TxState = iota
	TxStopped
	TxInit
	TxIdle
	TxSendingOngoing
	TxWaitingAck
)

// Event is an asynchronous notification raised to the device layer.
type Event int

// Events raised through the event callback.
const (
	EventReset Event = iota
	EventReceivedTelegram
	EventReceptionError
	EventStateIndication
)

// AckStatus is the outcome of a telegram transmission, raised through
// the ack callback.
type AckStatus int

// Ack outcomes.
const (
	AckOK AckStatus = iota
	AckNack
	AckTimeout
	AckResetDuringSend
)

// Service bytes exchanged with the TP-UART2 chip (host -> chip unless noted).
const (
	serviceResetReq        = 0x01
	serviceStateReq        = 0x02
	serviceSetAddrReq      = 0x28
	serviceDataConfirmOK   = 0x8B // chip -> host
	serviceResetIndication = 0x03 // chip -> host
	serviceDataConfirmNack = 0x0B // chip -> host
	serviceRxAckNotAddr    = 0x10
	serviceRxAckAddr       = 0x11
	serviceDataEndReq      = 0x40
	serviceDataStartReq    = 0x80

	stateIndicationMask  = 0x07
	stateIndicationValue = 0x07

	controlFieldPatternMask  = 0xD3 // 211
	controlFieldValidPattern = 0x90 // 144
)

const (
	resetAttempts    = 10
	resetAttemptWait = time.Second
	rxByteTimeout    = 2 * time.Millisecond
	ackTimeout       = 500 * time.Millisecond
)

// rxSide holds the receive state machine's mutable fields.
type rxSide struct {
	state            RxState
	telegram         *telegram.Telegram
	readBytes        int
	lastByteTime     time.Time
	addressedIndex   int
	receivedTelegram *telegram.Telegram
}

// txSide holds the transmit state machine's mutable fields.
type txSide struct {
	state           TxState
	sendTelegram    *telegram.Telegram
	remainingBytes  int
	byteIndex       int
	sentMessageTime time.Time
}

// Link drives a single TP-UART2 chip over a serial port.
type Link struct {
	open         Opener
	port         SerialPort
	physicalAddr uint16

	rx rxSide
	tx txSide

	stateIndication byte

	onEvent func(Event)
	onAck   func(AckStatus)

	objects      []*comobject.Object
	orderedIndex []int // indices into objects, sorted by address, C-flagged only
}

// New returns a Link for the given physical address. open is called
// by Reset to (re)establish the serial connection.
func New(physicalAddr uint16, open Opener) *Link {
	return &Link{
		open:         open,
		physicalAddr: physicalAddr,
		rx: rxSide{
			state:            RxReset,
			telegram:         telegram.New(),
			receivedTelegram: telegram.New(),
		},
		tx: txSide{state: TxReset},
	}
}

// SetEventCallback registers the function notified of reset, reception
// and state-indication events.
func (l *Link) SetEventCallback(fn func(Event)) { l.onEvent = fn }

// SetAckCallback registers the function notified of the outcome of a
// telegram transmission.
func (l *Link) SetAckCallback(fn func(AckStatus)) { l.onAck = fn }

// Reset closes any existing connection, reopens the serial port, and
// repeatedly requests a chip reset until it answers or the attempt
// budget is exhausted.
func (l *Link) Reset() error {
	if l.rx.state > RxReset || l.tx.state > TxReset {
		if l.port != nil {
			l.port.Close()
		}
		l.rx.state = RxReset
		l.tx.state = TxReset
	}

	port, err := l.open()
	if err != nil {
		return fmt.Errorf("%w: opening serial port: %v", ErrResetFailed, err)
	}
	l.port = port

	buf := make([]byte, 1)
	for attempt := 0; attempt < resetAttempts; attempt++ {
		if _, err := l.port.Write([]byte{serviceResetReq}); err != nil {
			continue
		}

		deadline := time.Now().Add(resetAttemptWait)
		for time.Now().Before(deadline) {
			n, _ := l.port.Read(buf)
			if n > 0 && buf[0] == serviceResetIndication {
				l.rx.state = RxInit
				l.tx.state = TxInit
				return nil
			}
		}
	}

	l.port.Close()
	return ErrResetFailed
}

// Init completes the handshake: announces the device's physical
// address and requests the chip's current state. The event and ack
// callbacks must already be registered.
func (l *Link) Init() error {
	if l.rx.state != RxInit || l.tx.state != TxInit {
		return ErrNotInitState
	}
	if l.onEvent == nil || l.onAck == nil {
		return ErrCallbacksNotSet
	}

	addrMsg := []byte{serviceSetAddrReq, byte(l.physicalAddr >> 8), byte(l.physicalAddr)}
	if _, err := l.port.Write(addrMsg); err != nil {
		return fmt.Errorf("tpuart: writing address request: %w", err)
	}
	if _, err := l.port.Write([]byte{serviceStateReq}); err != nil {
		return fmt.Errorf("tpuart: writing state request: %w", err)
	}

	l.rx.state = RxIdleWaitingForCtrl
	l.tx.state = TxIdle
	return nil
}

// SendTelegram queues tg for transmission. The link must be idle.
func (l *Link) SendTelegram(tg *telegram.Telegram) error {
	if l.tx.state != TxIdle {
		return ErrNotIdle
	}
	if tg.SourceAddress() != l.physicalAddr {
		tg.SetSourceAddress(l.physicalAddr)
		tg.UpdateChecksum()
	}
	l.tx.sendTelegram = tg
	l.tx.remainingBytes = tg.TelegramLength()
	l.tx.byteIndex = 0
	l.tx.state = TxSendingOngoing
	return nil
}

// ReceivedTelegram returns the most recently completed inbound
// telegram, valid after an EventReceivedTelegram callback.
func (l *Link) ReceivedTelegram() *telegram.Telegram { return l.rx.receivedTelegram }

// AddressedIndex returns the object-table index the most recent
// received telegram was addressed to.
func (l *Link) AddressedIndex() int { return l.rx.addressedIndex }

// StateIndication returns the last TP-UART2 state-indication byte.
func (l *Link) StateIndication() byte { return l.stateIndication }

// RxTask advances the receive state machine, reading at most one byte
// from the serial port. Call it frequently (every few hundred
// microseconds) to avoid missing bytes on the bus.
func (l *Link) RxTask() {
	if l.rx.state >= RxReceptionStarted {
		if time.Since(l.rx.lastByteTime) > rxByteTimeout {
			switch l.rx.state {
			case RxReceptionLengthInvalid:
				l.raiseEvent(EventReceptionError)
			case RxReceptionAddressed:
				if l.rx.telegram.VerifyChecksum() {
					l.rx.telegram.CopyTo(l.rx.receivedTelegram)
					l.raiseEvent(EventReceivedTelegram)
				} else {
					l.raiseEvent(EventReceptionError)
				}
			default:
				l.raiseEvent(EventReceptionError)
			}
			l.rx.state = RxIdleWaitingForCtrl
		}
	}

	buf := make([]byte, 1)
	n, _ := l.port.Read(buf)
	if n == 0 {
		return
	}
	b := buf[0]
	l.rx.lastByteTime = time.Now()

	switch l.rx.state {
	case RxIdleWaitingForCtrl:
		l.handleIdleByte(b)
	case RxReceptionStarted:
		l.handleReceptionStartedByte(b)
	case RxReceptionAddressed:
		if l.rx.readBytes == telegram.MaxSize {
			l.rx.state = RxReceptionLengthInvalid
		} else {
			l.rx.telegram.WriteRawByte(l.rx.readBytes, b)
			l.rx.readBytes++
		}
	}
}

func (l *Link) handleIdleByte(b byte) {
	switch {
	case b&controlFieldPatternMask == controlFieldValidPattern:
		l.rx.state = RxReceptionStarted
		l.rx.readBytes = 1
		l.rx.telegram.WriteRawByte(0, b)

	case b == serviceDataConfirmOK:
		if l.tx.state == TxWaitingAck {
			l.raiseAck(AckOK)
			l.tx.state = TxIdle
		}

	case b == serviceResetIndication:
		if l.tx.state == TxSendingOngoing || l.tx.state == TxWaitingAck {
			l.raiseAck(AckResetDuringSend)
		}
		l.tx.state = TxStopped
		l.rx.state = RxStopped
		l.raiseEvent(EventReset)

	case b&stateIndicationMask == stateIndicationValue:
		l.stateIndication = b
		l.raiseEvent(EventStateIndication)

	case b == serviceDataConfirmNack:
		if l.tx.state == TxWaitingAck {
			l.raiseAck(AckNack)
			l.tx.state = TxIdle
		}
	}
}

func (l *Link) handleReceptionStartedByte(b byte) {
	l.rx.telegram.WriteRawByte(l.rx.readBytes, b)
	l.rx.readBytes++

	switch l.rx.readBytes {
	case 3:
		if l.rx.telegram.SourceAddress() == l.physicalAddr {
			l.rx.state = RxReceptionNotAddressed
		}
	case 6:
		if idx, ok := l.isAddressedAssigned(l.rx.telegram.TargetAddress()); ok {
			l.rx.addressedIndex = idx
			l.rx.state = RxReceptionAddressed
			l.port.Write([]byte{serviceRxAckAddr})
		} else {
			l.rx.state = RxReceptionNotAddressed
			l.port.Write([]byte{serviceRxAckNotAddr})
		}
	}
}

// TxTask advances the transmit state machine by at most one byte.
// Call it frequently to keep transmission latency low.
func (l *Link) TxTask() {
	if l.tx.state == TxWaitingAck {
		if time.Since(l.tx.sentMessageTime) > ackTimeout {
			l.raiseAck(AckTimeout)
			l.tx.state = TxIdle
		}
	}

	if l.tx.state != TxSendingOngoing {
		return
	}
	if l.rx.state == RxReceptionStarted {
		return // yield the bus to an inbound telegram already underway
	}

	if l.tx.remainingBytes == 1 {
		l.port.Write([]byte{
			serviceDataEndReq + byte(l.tx.byteIndex),
			l.tx.sendTelegram.ReadRawByte(l.tx.byteIndex),
		})
		l.tx.sentMessageTime = time.Now()
		l.tx.state = TxWaitingAck
		return
	}

	l.port.Write([]byte{
		serviceDataStartReq + byte(l.tx.byteIndex),
		l.tx.sendTelegram.ReadRawByte(l.tx.byteIndex),
	})
	l.tx.byteIndex++
	l.tx.remainingBytes--
}

// AttachComObjects indexes the subset of objs carrying the
// Communication flag, sorted by group address for binary-search
// lookup. It rejects a duplicate group address among those objects
// rather than silently dropping one, resolving the ambiguity in the
// original device's dedup pass. Call it after Reset and before Init,
// while the link is still in the RX/TX INIT state.
func (l *Link) AttachComObjects(objs []*comobject.Object) error {
	if l.rx.state != RxInit || l.tx.state != TxInit {
		return ErrNotInitState
	}

	var indices []int
	for i, o := range objs {
		if o.HasFlag(comobject.IndicatorCommunication) {
			indices = append(indices, i)
		}
	}

	sort.Slice(indices, func(a, b int) bool {
		return objs[indices[a]].Address().Uint16() < objs[indices[b]].Address().Uint16()
	})

	for i := 1; i < len(indices); i++ {
		if objs[indices[i]].Address().Uint16() == objs[indices[i-1]].Address().Uint16() {
			return fmt.Errorf("%w: %s", ErrDuplicateAddress, objs[indices[i]].Address())
		}
	}

	l.objects = objs
	l.orderedIndex = indices
	return nil
}

// isAddressedAssigned reports whether addr belongs to an attached
// communication object, returning its index into objects.
func (l *Link) isAddressedAssigned(addr uint16) (int, bool) {
	if len(l.orderedIndex) == 0 {
		return 0, false
	}
	pos := sort.Search(len(l.orderedIndex), func(i int) bool {
		return l.objects[l.orderedIndex[i]].Address().Uint16() >= addr
	})
	if pos == len(l.orderedIndex) {
		return 0, false
	}
	idx := l.orderedIndex[pos]
	if l.objects[idx].Address().Uint16() != addr {
		return 0, false
	}
	return idx, true
}

func (l *Link) raiseEvent(e Event) {
	if l.onEvent != nil {
		l.onEvent(e)
	}
}

func (l *Link) raiseAck(a AckStatus) {
	if l.onAck != nil {
		l.onAck(a)
	}
}
