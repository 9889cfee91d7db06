// Command knxgw is a KNX TP-UART bus gateway: it drives a single
// TP-UART2 transceiver, keeps a table of communication objects in
// sync with the bus, and optionally exposes that state over MQTT,
// InfluxDB, a SQLite event log, and a small diagnostics HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/knx-tpuart-gateway/internal/address"
	"github.com/nerrad567/knx-tpuart-gateway/internal/comobject"
	"github.com/nerrad567/knx-tpuart-gateway/internal/config"
	"github.com/nerrad567/knx-tpuart-gateway/internal/device"
	"github.com/nerrad567/knx-tpuart-gateway/internal/diagapi"
	"github.com/nerrad567/knx-tpuart-gateway/internal/dpt"
	"github.com/nerrad567/knx-tpuart-gateway/internal/eventlog"
	"github.com/nerrad567/knx-tpuart-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/knx-tpuart-gateway/internal/serialport"
	"github.com/nerrad567/knx-tpuart-gateway/internal/telemetry/influx"
	"github.com/nerrad567/knx-tpuart-gateway/internal/telemetry/mqtt"
	"github.com/nerrad567/knx-tpuart-gateway/internal/tpuart"
)

// Version information, set at build time via ldflags, e.g.
// go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123".
var (
	version = "dev"
	commit  = "unknown"
)

const defaultConfigPath = "/etc/knxgw/config.yaml"

// taskInterval is how often Device.Task is driven. It is finer than
// the device's own internal RX/TX polling intervals (200us and 800us);
// Task is cheap to call more often than strictly necessary.
const taskInterval = 100 * time.Microsecond

func main() {
	fmt.Printf("knxgw %s (%s)\n", version, commit)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func getConfigPath() string {
	if v := os.Getenv("KNXGW_CONFIG"); v != "" {
		return v
	}
	return defaultConfigPath
}

// run wires the dependency graph and drives the device until ctx is
// cancelled. It is split from main so tests can exercise it directly.
func run(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.New(cfg.Logging, version)
	logger.Info("starting knxgw", "version", version, "commit", commit)

	objects, err := buildComObjects(cfg.Objects)
	if err != nil {
		return fmt.Errorf("building com-object table: %w", err)
	}

	physAddr, err := address.ParsePhysical(cfg.Link.PhysicalAddress)
	if err != nil {
		return fmt.Errorf("parsing link.physical_address: %w", err)
	}

	link := tpuart.New(physAddr.Uint16(), func() (tpuart.SerialPort, error) {
		return serialport.Open(cfg.Link.SerialDevice)
	})

	deps, err := wireTelemetry(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close(logger)

	dev := device.New(link, objects, func(index int) {
		deps.onComObjectUpdate(logger, objects[index])
	})
	dev.SetLinkEventHook(func(e tpuart.Event) { deps.onLinkEvent(logger, e) })
	dev.SetAckHook(func(a tpuart.AckStatus) { deps.onAck(logger, a) })

	if deps.mqttClient != nil {
		if err := deps.mqttClient.SubscribeCommands(commandHandler(dev, logger)); err != nil {
			logger.Error("subscribing to mqtt write commands failed", "error", err)
		}
	}

	if cfg.DiagAPI.Enabled {
		deps.diagServer = diagapi.New(dev, cfg.DiagAPI.Address, cfg.DiagAPI.JWTSecret, logger)
		if deps.eventDB != nil {
			deps.diagServer.SetEventLog(deps.eventDB)
		}
	}

	if err := dev.Begin(); err != nil {
		return fmt.Errorf("starting link: %w", err)
	}
	logger.Info("link initialised", "objects", len(objects))

	if deps.diagServer != nil {
		go func() {
			if err := deps.diagServer.ListenAndServe(ctx); err != nil {
				logger.Error("diagnostics api stopped", "error", err)
			}
		}()
		logger.Info("diagnostics api listening", "address", cfg.DiagAPI.Address)
	}

	ticker := time.NewTicker(taskInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutdown signal received")
			return nil
		case <-ticker.C:
			dev.Task()
		}
	}
}

func buildComObjects(specs []config.ObjectConfig) ([]*comobject.Object, error) {
	objects := make([]*comobject.Object, 0, len(specs))
	for _, spec := range specs {
		ga, err := address.ParseGroup(spec.GA)
		if err != nil {
			return nil, fmt.Errorf("object %q: %w", spec.Name, err)
		}

		var indicator byte
		flagBits := map[byte]byte{
			'C': comobject.IndicatorCommunication,
			'R': comobject.IndicatorRead,
			'W': comobject.IndicatorWrite,
			'T': comobject.IndicatorTransmit,
			'U': comobject.IndicatorUpdate,
			'I': comobject.IndicatorInitRead,
		}
		for i := 0; i < len(spec.Flags); i++ {
			indicator |= flagBits[spec.Flags[i]]
		}

		obj, err := comobject.New(ga, dpt.DPT(spec.DPT), indicator)
		if err != nil {
			return nil, fmt.Errorf("object %q: %w", spec.Name, err)
		}
		objects = append(objects, obj)
	}
	return objects, nil
}

// commandHandler turns an MQTT write command into a device.Write or
// device.WriteLong call against the matching com-object.
func commandHandler(dev *device.Device, logger *logging.Logger) func(mqtt.WriteCommand) {
	return func(cmd mqtt.WriteCommand) {
		index, ok := dev.IndexOf(cmd.GA)
		if !ok {
			logger.Warn("mqtt write command references unknown object", "ga", cmd.GA.String())
			return
		}
		var err error
		if len(cmd.Long) > 0 {
			err = dev.WriteLong(index, cmd.Long)
		} else {
			err = dev.Write(index, cmd.Value)
		}
		if err != nil {
			logger.Warn("mqtt write command rejected", "ga", cmd.GA.String(), "error", err)
		}
	}
}

// wiredDeps holds the optional ambient services, any of which may be
// nil when its section of the config is disabled.
type wiredDeps struct {
	mqttClient   *mqtt.Client
	influxClient *influx.Client
	eventDB      *eventlog.DB
	diagServer   *diagapi.Server
}

func wireTelemetry(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*wiredDeps, error) {
	deps := &wiredDeps{}

	if cfg.MQTT.Enabled {
		client, err := mqtt.Connect(cfg.MQTT)
		if err != nil {
			return nil, fmt.Errorf("connecting to mqtt: %w", err)
		}
		client.SetLogger(logger)
		deps.mqttClient = client
	}

	if cfg.Influx.Enabled {
		client, err := influx.Connect(ctx, cfg.Influx)
		if err != nil {
			return nil, fmt.Errorf("connecting to influxdb: %w", err)
		}
		client.SetOnError(func(err error) { logger.Warn("influx write failed", "error", err) })
		deps.influxClient = client
	}

	if cfg.EventLog.Enabled {
		db, err := eventlog.Open(cfg.EventLog.Path)
		if err != nil {
			return nil, fmt.Errorf("opening event log: %w", err)
		}
		deps.eventDB = db
	}

	return deps, nil
}

func (d *wiredDeps) onComObjectUpdate(logger *logging.Logger, obj *comobject.Object) {
	if d.mqttClient != nil {
		if obj.Length() <= 2 {
			value, err := obj.Value()
			if err == nil {
				if err := d.mqttClient.PublishState(obj.Address(), string(obj.DPT()), value, nil); err != nil {
					logger.Warn("mqtt publish failed", "ga", obj.Address().String(), "error", err)
				}
			}
		} else if err := d.mqttClient.PublishState(obj.Address(), string(obj.DPT()), 0, obj.LongValue()); err != nil {
			logger.Warn("mqtt publish failed", "ga", obj.Address().String(), "error", err)
		}
	}
	if d.influxClient != nil {
		value, _ := obj.Value() //nolint:errcheck // WriteComObjectUpdate falls back to raw_hex for wide objects
		d.influxClient.WriteComObjectUpdate(obj.Address(), string(obj.DPT()), value, obj.LongValue())
	}
	if d.diagServer != nil {
		value, _ := obj.Value() //nolint:errcheck // 0 for wide objects, which carry their own hex field
		d.diagServer.Hub().Broadcast("object.update", map[string]any{
			"ga":    obj.Address().String(),
			"value": value,
		})
	}
}

func (d *wiredDeps) onLinkEvent(logger *logging.Logger, e tpuart.Event) {
	if d.eventDB != nil {
		if kind := eventlog.KindFromLinkEvent(e); kind != "" {
			if err := d.eventDB.Record(kind, ""); err != nil {
				logger.Warn("event log record failed", "error", err)
			}
		}
	}
	if d.diagServer != nil {
		d.diagServer.Hub().Broadcast("link.event", map[string]int{"event": int(e)})
	}
}

func (d *wiredDeps) onAck(logger *logging.Logger, a tpuart.AckStatus) {
	kind := eventlog.KindFromAck(a)
	if kind == "" {
		return
	}
	if d.eventDB != nil {
		if err := d.eventDB.Record(kind, ""); err != nil {
			logger.Warn("event log record failed", "error", err)
		}
	}
}

func (d *wiredDeps) Close(logger *logging.Logger) {
	if d.mqttClient != nil {
		if err := d.mqttClient.Close(); err != nil {
			logger.Warn("mqtt close failed", "error", err)
		}
	}
	if d.influxClient != nil {
		if err := d.influxClient.Close(); err != nil {
			logger.Warn("influx close failed", "error", err)
		}
	}
	if d.eventDB != nil {
		if err := d.eventDB.Close(); err != nil {
			logger.Warn("event log close failed", "error", err)
		}
	}
}
