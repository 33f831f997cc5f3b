// Package daemon assembles a configured device fleet, command registry,
// orchestrators, and supporting stores into a single running instrument
// process, and owns its startup/shutdown/reload lifecycle.
//
// Grounded on original_source/cct/core2/instrument/instrument.py (the
// Instrument god-object's device-construction loop) and the teacher's
// cmd/octoreflex/main.go startup-ordering and SIGHUP-reload idiom.
package daemon

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/awacha/cctd/internal/config"
	"github.com/awacha/cctd/internal/detector"
	"github.com/awacha/cctd/internal/device"
	"github.com/awacha/cctd/internal/devicemanager"
	"github.com/awacha/cctd/internal/devproto"
	"github.com/awacha/cctd/internal/motor"
	"github.com/awacha/cctd/internal/pump"
	"github.com/awacha/cctd/internal/thermostat"
	"github.com/awacha/cctd/internal/transport"
	"github.com/awacha/cctd/internal/vacuum"
	"github.com/awacha/cctd/internal/xraysource"
)

// kindOf maps a config-file device kind string to its devicemanager.Kind.
func kindOf(s string) (devicemanager.Kind, error) {
	switch s {
	case "motor":
		return devicemanager.KindMotor, nil
	case "detector":
		return devicemanager.KindDetector, nil
	case "source":
		return devicemanager.KindSource, nil
	case "vacuum":
		return devicemanager.KindVacuum, nil
	case "thermostat":
		return devicemanager.KindThermostat, nil
	case "pump":
		return devicemanager.KindPump, nil
	default:
		return 0, fmt.Errorf("daemon: unknown device kind %q", s)
	}
}

// backendFor constructs the Backend for one device, plus the frame shape
// its transport must split the wire stream into.
func backendFor(dc config.DeviceConfig, log *zap.Logger) (device.Backend, frameShape, error) {
	switch dc.Kind {
	case "motor":
		if dc.Motor == nil || len(dc.Motor.Axes) == 0 {
			return nil, frameShape{}, fmt.Errorf("daemon: motor device %q has no axes configured", dc.Name)
		}
		converters := make([]motor.UnitConverter, len(dc.Motor.Axes))
		for i, a := range dc.Motor.Axes {
			converters[i] = motor.UnitConverter{
				TopRMSCurrent:       a.TopRMSCurrent,
				FullStepSize:        a.FullStepSize,
				ClockFrequency:      a.ClockFrequency,
				PulseDivisor:        a.PulseDivisor,
				RampDivisor:         a.RampDivisor,
				MicrostepResolution: a.MicrostepResolution,
			}
		}
		b := motor.NewBackend(motor.Config{
			Address:            dc.Motor.ControllerAddress,
			NumAxes:            len(dc.Motor.Axes),
			Converters:         converters,
			SoftLimitPath:      dc.Motor.SoftLimitPath,
			NormalPollInterval: dc.NormalPollInterval,
			MotionPollInterval: dc.Motor.MotionPollInterval,
		}, log)
		return b, frameShape{fixed: 9}, nil
	case "detector":
		return detector.NewBackend(detector.Config{NormalPollInterval: dc.NormalPollInterval}, log), frameShape{line: true}, nil
	case "source":
		return xraysource.NewBackend(xraysource.Config{NormalPollInterval: dc.NormalPollInterval}, log), frameShape{line: true}, nil
	case "vacuum":
		return vacuum.NewBackend(vacuum.Config{NormalPollInterval: dc.NormalPollInterval}, log), frameShape{fixed: 11}, nil
	case "thermostat":
		return thermostat.NewBackend(thermostat.Config{NormalPollInterval: dc.NormalPollInterval}, log), frameShape{line: true}, nil
	case "pump":
		return pump.NewBackend(pump.Config{NormalPollInterval: dc.NormalPollInterval}, log), frameShape{line: true}, nil
	default:
		return nil, frameShape{}, fmt.Errorf("daemon: unknown device kind %q", dc.Kind)
	}
}

// frameShape describes how a device's wire protocol splits into frames:
// either a fixed byte count (TMCL, the vacuum gauge's ASCII frame) or
// newline-delimited lines (camserver, the GeniX line protocol,
// thermostat/pump ASCII replies).
type frameShape struct {
	fixed int
	line  bool
}

func (s frameShape) tcpReader() transport.FrameReader {
	if s.line {
		return transport.LineFrameReader{}
	}
	return transport.FixedSizeFrameReader{Size: s.fixed}
}

// connectTransport attaches rt's transport and, for TCP, starts its read
// pump. It is called once at initial device construction; the sequencing
// (backend, then runtime, then dial against the runtime's own ToBackend
// channel, then AttachTransport, then spawn the read pump) matters because
// a transport dialed before its runtime exists would be bound to the
// wrong to-backend queue.
func connectTransport(ctx context.Context, rt *device.Runtime, dc config.DeviceConfig, shape frameShape, log *zap.Logger) error {
	switch dc.Transport.Type {
	case "tcp":
		t, err := transport.Dial(dc.Transport.Address, shape.tcpReader(), rt.ToBackend(), log)
		if err != nil {
			return err
		}
		rt.AttachTransport(t)
		errCh := make(chan error, 1)
		go t.Run(ctx, errCh)
		go func() {
			if err, ok := <-errCh; ok && err != nil {
				log.Warn("tcp transport failed", zap.String("device", dc.Name), zap.Error(err))
			}
		}()
		return nil
	case "serial":
		s, err := transport.OpenSerial(dc.Transport.Address, dc.Transport.Baud)
		if err != nil {
			return err
		}
		rt.AttachTransport(s)
		go runSerialPump(ctx, s, shape, rt.ToBackend(), log.Named("transport.serial."+dc.Name))
		return nil
	default:
		return fmt.Errorf("daemon: unsupported transport type %q for device %q", dc.Transport.Type, dc.Name)
	}
}

// buildDevice constructs one device's backend, runtime, transport, and
// front-end, then registers it with the manager. It mirrors
// device.Frontend's own newFunc-based reconnection contract: newFunc
// rebuilds a fresh backend for Reconnect, reusing the same runtime (and
// therefore the same to-backend channel) the Frontend already owns.
func buildDevice(ctx context.Context, dc config.DeviceConfig, devices *devicemanager.Manager, log *zap.Logger) error {
	kind, err := kindOf(dc.Kind)
	if err != nil {
		return err
	}
	backend, shape, err := backendFor(dc, log)
	if err != nil {
		return err
	}

	rt := device.NewRuntime(dc.Name, backend, device.Options{
		PollingInterval: 50 * time.Millisecond,
	}, log)

	if err := connectTransport(ctx, rt, dc, shape, log); err != nil {
		return fmt.Errorf("daemon: device %q: %w", dc.Name, err)
	}

	newFunc := func(params device.ConnectParams) (device.Backend, device.Transport, error) {
		b, s, err := backendFor(dc, log)
		if err != nil {
			return nil, nil, err
		}
		switch dc.Transport.Type {
		case "tcp":
			t, err := transport.Dial(dc.Transport.Address, s.tcpReader(), rt.ToBackend(), log)
			return b, t, err
		case "serial":
			t, err := transport.OpenSerial(dc.Transport.Address, dc.Transport.Baud)
			if err != nil {
				return nil, nil, err
			}
			go runSerialPump(ctx, t, s, rt.ToBackend(), log.Named("transport.serial."+dc.Name))
			return b, t, nil
		default:
			return nil, nil, fmt.Errorf("daemon: unsupported transport type %q", dc.Transport.Type)
		}
	}

	// devicemanager.Manager.Add calls frontend.Connect, which itself
	// starts the runtime's main loop; spawning it here too would run two
	// goroutines against the same Runtime.
	fe := device.NewFrontend(dc.Name, rt, log, newFunc)

	return devices.Add(ctx, dc.Name, kind, fe, device.ConnectParams{Address: dc.Transport.Address})
}

// runSerialPump reads fixed-size or newline-delimited frames off a serial
// line one byte at a time (transport.Serial exposes no bulk read; see its
// ReadByte doc comment) and forwards each as a devproto.Incoming message,
// the same contract transport.TCP.Run delivers for network devices.
func runSerialPump(ctx context.Context, s *transport.Serial, shape frameShape, toDev chan<- devproto.ToBackend, log *zap.Logger) {
	var frame []byte
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		b, err := s.ReadByte()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// A read timeout just means no byte arrived yet; any other
			// error is a dead line and the pump gives up.
			if isTimeout(err) {
				continue
			}
			log.Warn("serial read failed, communication worker exiting", zap.Error(err))
			return
		}
		frame = append(frame, b)

		complete := false
		if shape.line {
			complete = b == '\n'
		} else {
			complete = len(frame) >= shape.fixed
		}
		if !complete {
			continue
		}

		out := frame
		if shape.line {
			out = trimTrailingCRLF(frame)
		}
		frame = nil

		select {
		case toDev <- devproto.Incoming{Data: out}:
		case <-ctx.Done():
			return
		default:
			log.Warn("to-backend queue full, dropping inbound frame")
		}
	}
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}

func trimTrailingCRLF(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}
