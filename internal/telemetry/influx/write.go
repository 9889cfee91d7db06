package influx

import (
	"encoding/hex"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/knx-tpuart-gateway/internal/address"
	"github.com/nerrad567/knx-tpuart-gateway/internal/dpt"
)

// WriteComObjectUpdate records a single com-object update as an
// "knx_com_object" point, tagged by group address and datapoint type.
// value is the raw numeric reading for datapoints that fit in an
// integer accessor; it is omitted (zero) for wide datapoints, which
// are recorded as a hex string field instead. Where the datapoint
// decodes to a scalar (DPT 1.xxx booleans, 5.xxx/9.xxx scaled values,
// 17.001 scene numbers), a "decoded" field carries that scaled value
// so dashboards don't have to reimplement the DPT math.
func (c *Client) WriteComObjectUpdate(ga address.Group, dptID string, value uint, long []byte) {
	if !c.IsConnected() {
		return
	}

	fields := map[string]interface{}{}
	var raw []byte
	if long != nil {
		raw = long
		fields["raw_hex"] = hex.EncodeToString(long)
	} else {
		fields["value"] = float64(value)
		raw = []byte{byte(value)}
	}

	if decoded, err := dpt.DecodeValue(dpt.DPT(dptID), raw); err == nil {
		switch dv := decoded.(type) {
		case bool:
			fields["decoded"] = boolToFloat(dv)
		case float64:
			fields["decoded"] = dv
		case uint8:
			fields["decoded"] = float64(dv)
		}
	}

	point := write.NewPoint(
		"knx_com_object",
		map[string]string{
			"ga":  ga.String(),
			"dpt": dptID,
		},
		fields,
		time.Now(),
	)
	c.writeAPI.WritePoint(point)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
