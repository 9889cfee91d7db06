package tpuart

import (
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/knx-tpuart-gateway/internal/address"
	"github.com/nerrad567/knx-tpuart-gateway/internal/comobject"
	"github.com/nerrad567/knx-tpuart-gateway/internal/dpt"
	"github.com/nerrad567/knx-tpuart-gateway/internal/telegram"
)

// fakePort is an in-memory SerialPort: writes are recorded, and bytes
// queued via feed() are delivered one at a time from Read, matching
// the non-blocking poll semantics the link expects.
type fakePort struct {
	mu      sync.Mutex
	written [][]byte
	inbound []byte
	closed  bool
}

func (p *fakePort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.inbound) == 0 {
		return 0, nil
	}
	n := copy(buf, p.inbound[:1])
	p.inbound = p.inbound[1:]
	return n, nil
}

func (p *fakePort) Write(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := append([]byte(nil), buf...)
	p.written = append(p.written, cp)
	return len(buf), nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePort) feed(bytes ...byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inbound = append(p.inbound, bytes...)
}

func newTestLink(t *testing.T) (*Link, *fakePort) {
	t.Helper()
	port := &fakePort{}
	l := New(0x1101, func() (SerialPort, error) { return port, nil })
	return l, port
}

func TestResetSucceedsOnIndicationByte(t *testing.T) {
	l, port := newTestLink(t)
	port.feed(serviceResetIndication)

	if err := l.Reset(); err != nil {
		t.Fatalf("Reset() error: %v", err)
	}
	if l.rx.state != RxInit || l.tx.state != TxInit {
		t.Fatalf("states after reset: rx=%v tx=%v, want RxInit/TxInit", l.rx.state, l.tx.state)
	}
	if len(port.written) == 0 || port.written[0][0] != serviceResetReq {
		t.Fatalf("expected reset request byte to be written first")
	}
}

func TestInitRequiresCallbacks(t *testing.T) {
	l, port := newTestLink(t)
	port.feed(serviceResetIndication)
	if err := l.Reset(); err != nil {
		t.Fatal(err)
	}

	if err := l.Init(); err == nil {
		t.Fatal("Init() without callbacks should fail")
	}

	l.SetEventCallback(func(Event) {})
	l.SetAckCallback(func(AckStatus) {})
	if err := l.Init(); err != nil {
		t.Fatalf("Init() error: %v", err)
	}
	if l.rx.state != RxIdleWaitingForCtrl || l.tx.state != TxIdle {
		t.Fatalf("states after init: rx=%v tx=%v", l.rx.state, l.tx.state)
	}
}

func resetOnlyLink(t *testing.T) (*Link, *fakePort) {
	t.Helper()
	l, port := newTestLink(t)
	port.feed(serviceResetIndication)
	if err := l.Reset(); err != nil {
		t.Fatal(err)
	}
	return l, port
}

func initializedLink(t *testing.T) (*Link, *fakePort) {
	t.Helper()
	l, port := newTestLink(t)
	port.feed(serviceResetIndication)
	if err := l.Reset(); err != nil {
		t.Fatal(err)
	}
	l.SetEventCallback(func(Event) {})
	l.SetAckCallback(func(AckStatus) {})
	if err := l.Init(); err != nil {
		t.Fatal(err)
	}
	return l, port
}

func TestAttachComObjectsRejectsDuplicateAddress(t *testing.T) {
	l, _ := resetOnlyLink(t)

	ga := address.Group{Main: 1, Middle: 1, Sub: 1}
	o1, _ := comobject.New(ga, dpt.Switch, comobject.IndicatorCommunication)
	o2, _ := comobject.New(ga, dpt.Switch, comobject.IndicatorCommunication)

	if err := l.AttachComObjects([]*comobject.Object{o1, o2}); err == nil {
		t.Fatal("AttachComObjects should reject duplicate group addresses")
	}
}

func TestAttachComObjectsIgnoresNonCommunicationObjects(t *testing.T) {
	l, _ := resetOnlyLink(t)

	ga1 := address.Group{Main: 1, Middle: 1, Sub: 1}
	ga2 := address.Group{Main: 1, Middle: 1, Sub: 2}
	withC, _ := comobject.New(ga1, dpt.Switch, comobject.IndicatorCommunication)
	withoutC, _ := comobject.New(ga2, dpt.Switch, 0)

	if err := l.AttachComObjects([]*comobject.Object{withC, withoutC}); err != nil {
		t.Fatal(err)
	}
	if _, ok := l.isAddressedAssigned(ga2.Uint16()); ok {
		t.Fatal("object without Communication flag should not be addressable")
	}
	if idx, ok := l.isAddressedAssigned(ga1.Uint16()); !ok || idx != 0 {
		t.Fatalf("expected ga1 addressable at index 0, got idx=%d ok=%v", idx, ok)
	}
}

func TestIsAddressedAssignedBinarySearch(t *testing.T) {
	l, _ := resetOnlyLink(t)

	var objs []*comobject.Object
	addrs := []address.Group{
		{Main: 0, Middle: 0, Sub: 5},
		{Main: 0, Middle: 0, Sub: 1},
		{Main: 0, Middle: 0, Sub: 9},
		{Main: 0, Middle: 0, Sub: 3},
	}
	for _, a := range addrs {
		o, err := comobject.New(a, dpt.Switch, comobject.IndicatorCommunication)
		if err != nil {
			t.Fatal(err)
		}
		objs = append(objs, o)
	}
	if err := l.AttachComObjects(objs); err != nil {
		t.Fatal(err)
	}

	for _, a := range addrs {
		idx, ok := l.isAddressedAssigned(a.Uint16())
		if !ok {
			t.Fatalf("address %s should be found", a)
		}
		if objs[idx].Address() != a {
			t.Fatalf("found index %d has address %s, want %s", idx, objs[idx].Address(), a)
		}
	}

	if _, ok := l.isAddressedAssigned(address.Group{Main: 5, Middle: 5, Sub: 5}.Uint16()); ok {
		t.Fatal("unassigned address should not be found")
	}
}

func TestSendTelegramRequiresIdle(t *testing.T) {
	l, _ := initializedLink(t)
	l.tx.state = TxSendingOngoing

	tg := telegram.New()
	if err := l.SendTelegram(tg); err == nil {
		t.Fatal("SendTelegram should fail when not idle")
	}
}

func TestSendTelegramStampsSourceAddress(t *testing.T) {
	l, _ := initializedLink(t)

	tg := telegram.New()
	tg.SetPayloadLength(1)
	tg.SetFirstPayloadByte(1)

	if err := l.SendTelegram(tg); err != nil {
		t.Fatal(err)
	}
	if tg.SourceAddress() != l.physicalAddr {
		t.Fatalf("source address = %#x, want %#x", tg.SourceAddress(), l.physicalAddr)
	}
	if !tg.VerifyChecksum() {
		t.Fatal("checksum should be updated after stamping source address")
	}
	if l.tx.state != TxSendingOngoing {
		t.Fatalf("tx state = %v, want TxSendingOngoing", l.tx.state)
	}
}

func TestTxTaskSendsByteByByte(t *testing.T) {
	l, port := initializedLink(t)

	tg := telegram.New()
	tg.SetTargetAddress(0x0A03)
	tg.SetPayloadLength(1)
	tg.SetFirstPayloadByte(1)
	if err := l.SendTelegram(tg); err != nil {
		t.Fatal(err)
	}

	total := tg.TelegramLength()
	for i := 0; i < total-1; i++ {
		l.TxTask()
	}
	if l.tx.state != TxSendingOngoing {
		t.Fatalf("tx state after %d bytes = %v, want still sending", total-1, l.tx.state)
	}

	l.TxTask() // final byte
	if l.tx.state != TxWaitingAck {
		t.Fatalf("tx state after final byte = %v, want TxWaitingAck", l.tx.state)
	}

	last := port.written[len(port.written)-1]
	if last[0] != serviceDataEndReq+byte(total-1) {
		t.Fatalf("final control byte = %#x, want %#x", last[0], serviceDataEndReq+byte(total-1))
	}
}

func TestTxTaskTimesOutWaitingForAck(t *testing.T) {
	l, _ := initializedLink(t)
	l.tx.state = TxWaitingAck
	l.tx.sentMessageTime = time.Now().Add(-time.Second)

	var gotAck AckStatus
	l.SetAckCallback(func(a AckStatus) { gotAck = a })

	l.TxTask()
	if l.tx.state != TxIdle {
		t.Fatalf("tx state = %v, want TxIdle after timeout", l.tx.state)
	}
	if gotAck != AckTimeout {
		t.Fatalf("ack = %v, want AckTimeout", gotAck)
	}
}

func TestRxTaskAssemblesAddressedTelegram(t *testing.T) {
	l, port := resetOnlyLink(t)

	ga := address.Group{Main: 0, Middle: 0, Sub: 3}
	o, err := comobject.New(ga, dpt.Switch, comobject.IndicatorCommunication)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.AttachComObjects([]*comobject.Object{o}); err != nil {
		t.Fatal(err)
	}
	l.SetEventCallback(func(Event) {})
	l.SetAckCallback(func(AckStatus) {})
	if err := l.Init(); err != nil {
		t.Fatal(err)
	}

	src := telegram.New()
	src.SetSourceAddress(0x1104)
	src.SetTargetAddress(ga.Uint16())
	src.SetPayloadLength(1)
	src.SetFirstPayloadByte(1)
	src.UpdateChecksum()

	for i := 0; i < src.TelegramLength(); i++ {
		port.feed(src.ReadRawByte(i))
	}

	var gotEvent Event
	gotEventSeen := false
	l.SetEventCallback(func(e Event) { gotEvent = e; gotEventSeen = true })

	for i := 0; i < src.TelegramLength(); i++ {
		l.RxTask()
	}
	// force the inter-byte timeout to finalize reception
	l.rx.lastByteTime = time.Now().Add(-time.Second)
	l.RxTask()

	if !gotEventSeen || gotEvent != EventReceivedTelegram {
		t.Fatalf("expected EventReceivedTelegram, got seen=%v event=%v", gotEventSeen, gotEvent)
	}
	if l.AddressedIndex() != 0 {
		t.Fatalf("addressed index = %d, want 0", l.AddressedIndex())
	}
	if l.ReceivedTelegram().TargetAddress() != ga.Uint16() {
		t.Fatalf("received telegram target = %#x, want %#x", l.ReceivedTelegram().TargetAddress(), ga.Uint16())
	}
}

func TestRxTaskResetIndicationStopsLink(t *testing.T) {
	l, port := initializedLink(t)
	port.feed(serviceResetIndication)

	var gotEvent Event
	seen := false
	l.SetEventCallback(func(e Event) { gotEvent = e; seen = true })

	l.RxTask()

	if !seen || gotEvent != EventReset {
		t.Fatalf("expected EventReset, got seen=%v event=%v", seen, gotEvent)
	}
	if l.rx.state != RxStopped || l.tx.state != TxStopped {
		t.Fatalf("states after reset indication: rx=%v tx=%v", l.rx.state, l.tx.state)
	}
}
