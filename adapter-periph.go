//go:build !tinygo

package logport

import (
	"fmt"
	"time"

	tarm "github.com/tarm/serial"
	"go.bug.st/serial"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// Serial backends supported by New.
const (
	BackendBugst = "bugst"
	BackendTarm  = "tarm"
)

// realPin wraps a gpio.PinIO to satisfy the Pin interface.
type realPin struct {
	gpio.PinIO
	pull      gpio.Pull
	stopWatch chan struct{}
}

func (p *realPin) In(pull Pull) error {
	switch pull {
	case PullFloat:
		p.pull = gpio.Float
	case PullDown:
		p.pull = gpio.PullDown
	case PullUp:
		p.pull = gpio.PullUp
	default:
		p.pull = gpio.PullNoChange
	}
	return p.PinIO.In(p.pull, gpio.NoEdge)
}

func (p *realPin) Read() Level {
	if p.PinIO.Read() == gpio.High {
		return High
	}
	return Low
}

func (p *realPin) Watch(edge Edge, handler func()) error {
	var pEdge gpio.Edge
	switch edge {
	case RisingEdge:
		pEdge = gpio.RisingEdge
	case FallingEdge:
		pEdge = gpio.FallingEdge
	case BothEdges:
		pEdge = gpio.BothEdges
	default:
		pEdge = gpio.NoEdge
	}

	if err := p.PinIO.In(p.pull, pEdge); err != nil {
		return err
	}

	stop := make(chan struct{})
	p.stopWatch = stop

	go func() {
		for {
			// Poll the stop channel every 100ms between edges.
			edged := p.PinIO.WaitForEdge(100 * time.Millisecond)
			select {
			case <-stop:
				return
			default:
			}
			if edged {
				handler()
			}
		}
	}()
	return nil
}

func (p *realPin) Unwatch() error {
	if p.stopWatch != nil {
		close(p.stopWatch)
		p.stopWatch = nil
	}
	// Disable edge detection
	return p.PinIO.In(p.pull, gpio.NoEdge)
}

// ctsUART reports busy while the CTS modem line is deasserted.
// CTS changes are not signalled, so the port polls it.
type ctsUART struct {
	gate *txGate
	port serial.Port
}

func (u *ctsUART) State() UARTState {
	if s := u.gate.State(); s != UARTReady {
		return s
	}
	bits, err := u.port.GetModemStatusBits()
	if err != nil {
		return UARTError
	}
	if !bits.CTS {
		return UARTBusy
	}
	return UARTReady
}

func (u *ctsUART) Transmit(p []byte, timeout time.Duration) error {
	return u.gate.Transmit(p, timeout)
}

// Config holds the configuration for the Linux/host port.
type Config struct {
	PortConfig
	KernelConfig
	// Kernel is the kernel the port runs on. Pass the kernel your tasks are
	// spawned on so that ThreadInfo resolves their names.
	// Defaults to a new GoKernel built from KernelConfig if not provided.
	Kernel Kernel
	// Device is the serial device path (e.g., "/dev/ttyUSB0"). Required.
	Device string
	// BaudRate is the serial line speed.
	// Defaults to 115200 if not provided.
	BaudRate int
	// Backend selects the serial library: BackendBugst or BackendTarm.
	// Defaults to BackendBugst if not provided.
	Backend string
	// CTSFlow gates transmits on the CTS modem line. BackendBugst only.
	CTSFlow bool
	// ReadyPin is the GPIO pin number (BCM numbering) of a transmitter ready line.
	// Optional. If not provided, only the serial driver's state is used.
	ReadyPin int
	// ReadyActiveHigh makes ReadyPin signal ready when high.
	// Defaults to false (ready when low, like CTS).
	ReadyActiveHigh bool
}

// New creates an uninitialized port writing to a serial device.
// It applies configuration defaults, opens the device with the selected
// backend and wraps it with the optional CTS and ready pin gates.
// Call Init before handing the port to a logging engine and Close when done.
func New(c Config) (*Port, error) {
	if c.Device == "" {
		return nil, fmt.Errorf("%w: serial device not configured", ErrPkg)
	}
	if c.BaudRate == 0 {
		c.BaudRate = 115200
	}
	if c.Backend == "" {
		c.Backend = BackendBugst
	}

	var (
		uart UART
		res  closers
	)

	switch c.Backend {
	case BackendBugst:
		mode := &serial.Mode{
			BaudRate: c.BaudRate,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		}
		sp, err := serial.Open(c.Device, mode)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to open serial port %s: %w", ErrPkg, c.Device, err)
		}
		gate := newTxGate(sp, sp.Drain)
		res = append(res, sp, gate)
		uart = gate
		if c.CTSFlow {
			uart = &ctsUART{gate: gate, port: sp}
		}
	case BackendTarm:
		if c.CTSFlow {
			return nil, fmt.Errorf("%w: CTS flow control requires the %s backend", ErrPkg, BackendBugst)
		}
		sp, err := tarm.OpenPort(&tarm.Config{Name: c.Device, Baud: c.BaudRate})
		if err != nil {
			return nil, fmt.Errorf("%w: failed to open serial port %s: %w", ErrPkg, c.Device, err)
		}
		gate := newTxGate(sp, nil)
		res = append(res, sp, gate)
		uart = gate
	default:
		return nil, fmt.Errorf("%w: unknown serial backend %q", ErrPkg, c.Backend)
	}

	if c.ReadyPin != 0 {
		if _, err := host.Init(); err != nil {
			res.Close()
			return nil, fmt.Errorf("failed to initialize periph.io host: %w", err)
		}
		name := fmt.Sprintf("GPIO%d", c.ReadyPin)
		pin := gpioreg.ByName(name)
		if pin == nil {
			res.Close()
			return nil, fmt.Errorf("%w: failed to open ready pin %s", ErrPkg, name)
		}
		readyLevel := Low
		if c.ReadyActiveHigh {
			readyLevel = High
		}
		var err error
		uart, res, err = gateOnPin(uart, res, &realPin{PinIO: pin}, readyLevel)
		if err != nil {
			return nil, err
		}
	}

	kernel := c.Kernel
	if kernel == nil {
		kernel = NewKernel(c.KernelConfig)
	}

	p, err := NewWithHardware(HardwareConfig{
		PortConfig: c.PortConfig,
		Kernel:     kernel,
		UART:       uart,
	})
	if err != nil {
		res.Close()
		return nil, err
	}
	p.closer = res

	globalLogger.Info("Serial port " + c.Device + " opened with the " + c.Backend + " backend.")
	return p, nil
}

// ListDevices returns the serial devices present on the host.
func ListDevices() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list serial ports: %w", ErrPkg, err)
	}
	return ports, nil
}
