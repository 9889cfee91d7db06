package tpuart

import (
	"testing"

	"github.com/nerrad567/knx-tpuart-gateway/internal/address"
	"github.com/nerrad567/knx-tpuart-gateway/internal/comobject"
	"github.com/nerrad567/knx-tpuart-gateway/internal/dpt"
)

func BenchmarkIsAddressedAssigned(b *testing.B) {
	port := &fakePort{}
	l := New(0x1101, func() (SerialPort, error) { return port, nil })
	port.feed(serviceResetIndication)
	if err := l.Reset(); err != nil {
		b.Fatal(err)
	}

	var objs []*comobject.Object
	for i := 0; i < 200; i++ {
		ga := address.GroupFromUint16(uint16(i * 7))
		o, err := comobject.New(ga, dpt.Switch, comobject.IndicatorCommunication)
		if err != nil {
			b.Fatal(err)
		}
		objs = append(objs, o)
	}
	if err := l.AttachComObjects(objs); err != nil {
		b.Fatal(err)
	}

	target := objs[100].Address().Uint16()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		l.isAddressedAssigned(target)
	}
}
