package telegram

import "testing"

func TestClear(t *testing.T) {
	tg := New()
	if tg.ReadRawByte(offControl) != controlDefault {
		t.Fatalf("control = %#x, want %#x", tg.ReadRawByte(offControl), controlDefault)
	}
	if tg.ReadRawByte(offRouting) != routingDefault {
		t.Fatalf("routing = %#x, want %#x", tg.ReadRawByte(offRouting), routingDefault)
	}
	for i := 1; i < MaxSize; i++ {
		if i == offRouting {
			continue
		}
		if tg.ReadRawByte(i) != 0 {
			t.Fatalf("byte %d = %#x, want 0", i, tg.ReadRawByte(i))
		}
	}
}

func TestCommandRoundTrip(t *testing.T) {
	for _, cmd := range []int{CommandRead, CommandResponse, CommandWrite, 3} {
		tg := New()
		tg.SetCommand(cmd)
		if got := tg.Command(); got != cmd {
			t.Errorf("command %d round-trip: got %d", cmd, got)
		}
	}
}

func TestCommandPreservesOtherBits(t *testing.T) {
	tg := New()
	tg.WriteRawByte(offCommandH, 0xFC) // top bits set, command bits clear
	tg.SetCommand(CommandWrite)
	if tg.ReadRawByte(offCommandH)&^commandHighMask != 0xFC {
		t.Fatalf("SetCommand disturbed bits outside its mask: %#x", tg.ReadRawByte(offCommandH))
	}
}

func TestPayloadLengthRoundTrip(t *testing.T) {
	for _, n := range []int{0, 1, 2, 14, 15} {
		tg := New()
		tg.SetPayloadLength(n)
		if got := tg.PayloadLength(); got != n {
			t.Errorf("payload length %d round-trip: got %d", n, got)
		}
	}
}

func TestFirstPayloadByteRoundTrip(t *testing.T) {
	tg := New()
	tg.SetFirstPayloadByte(0x2A)
	if got := tg.FirstPayloadByte(); got != 0x2A {
		t.Fatalf("first payload byte = %#x, want 0x2A", got)
	}
}

func TestAddressRoundTrip(t *testing.T) {
	tg := New()
	tg.SetSourceAddress(0x1101)
	tg.SetTargetAddress(0x0A03)
	if tg.SourceAddress() != 0x1101 {
		t.Errorf("source = %#x", tg.SourceAddress())
	}
	if tg.TargetAddress() != 0x0A03 {
		t.Errorf("target = %#x", tg.TargetAddress())
	}
}

func TestLongPayloadRoundTrip(t *testing.T) {
	tg := New()
	src := []byte{1, 2, 3, 4, 5}
	tg.SetLongPayload(src, len(src))
	dst := make([]byte, len(src))
	tg.LongPayload(dst, len(src))
	for i := range src {
		if dst[i] != src[i] {
			t.Fatalf("long payload byte %d: got %d want %d", i, dst[i], src[i])
		}
	}
}

func TestSetLongPayloadClampsToMax(t *testing.T) {
	tg := New()
	src := make([]byte, 20)
	for i := range src {
		src[i] = byte(i + 1)
	}
	tg.SetLongPayload(src, len(src))
	// Byte at offset 8+14 = 22 must not have been written (clamped to 14 bytes).
	if tg.ReadRawByte(MaxSize-1) != 0 {
		t.Fatalf("SetLongPayload wrote past the clamp: byte 22 = %d", tg.ReadRawByte(MaxSize-1))
	}
}

func TestChecksumIdempotentAndVerifiable(t *testing.T) {
	tg := New()
	tg.SetTargetAddress(0x0A03)
	tg.SetPayloadLength(1)
	tg.SetFirstPayloadByte(1)
	tg.SetCommand(CommandWrite)

	tg.UpdateChecksum()
	first := tg.Checksum()
	if !tg.VerifyChecksum() {
		t.Fatal("checksum should verify immediately after update")
	}
	tg.UpdateChecksum()
	if tg.Checksum() != first {
		t.Fatalf("UpdateChecksum not idempotent: %#x != %#x", tg.Checksum(), first)
	}
}

func TestChecksumDetectsCorruption(t *testing.T) {
	tg := New()
	tg.SetTargetAddress(0x0A03)
	tg.SetPayloadLength(1)
	tg.SetFirstPayloadByte(1)
	tg.UpdateChecksum()

	tg.WriteRawByte(offTargetLow, tg.ReadRawByte(offTargetLow)^0xFF)
	if tg.VerifyChecksum() {
		t.Fatal("checksum should not verify after corrupting a header byte")
	}
}

func TestChecksumBoundaryPayloadLengths(t *testing.T) {
	for _, n := range []int{0, 1, 2, 14} {
		tg := New()
		tg.SetPayloadLength(n)
		buf := make([]byte, n)
		for i := range buf {
			buf[i] = byte(i + 1)
		}
		if n > 0 {
			tg.SetLongPayload(buf, n)
		}
		tg.UpdateChecksum()
		if !tg.VerifyChecksum() {
			t.Errorf("payload length %d: checksum does not verify", n)
		}
	}
}

func TestCopyToBoundedByLength(t *testing.T) {
	src := New()
	src.SetTargetAddress(0x1234)
	src.SetPayloadLength(2)
	src.SetLongPayload([]byte{0xAA}, 1)
	src.UpdateChecksum()

	dst := New()
	src.CopyTo(dst)

	if dst.TargetAddress() != 0x1234 {
		t.Fatalf("copy did not carry target address")
	}
	if dst.Checksum() != src.Checksum() {
		t.Fatalf("copy did not carry checksum byte")
	}
}

func TestChangePriorityPreservesOtherControlBits(t *testing.T) {
	tg := New()
	before := tg.ReadRawByte(offControl) &^ controlPrioMsk
	tg.ChangePriority(PriorityNormal)
	if tg.ReadRawByte(offControl)&^controlPrioMsk != before {
		t.Fatalf("ChangePriority disturbed bits outside its mask")
	}
	if (tg.ReadRawByte(offControl) & controlPrioMsk) != PriorityNormal {
		t.Fatalf("priority not written: %#x", tg.ReadRawByte(offControl))
	}
}

func TestTelegramLength(t *testing.T) {
	tg := New()
	tg.SetPayloadLength(1)
	if got := tg.TelegramLength(); got != 9 {
		t.Fatalf("telegram length = %d, want 9", got)
	}
}
