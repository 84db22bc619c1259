//go:build tinygo

package logport

import (
	"machine"
)

// tinygoPin wraps a machine.Pin to satisfy the Pin interface.
type tinygoPin struct {
	pin machine.Pin
}

func (p *tinygoPin) In(pull Pull) error {
	var mPull machine.PinMode
	switch pull {
	case PullUp:
		mPull = machine.PinInputPullup
	case PullDown:
		mPull = machine.PinInputPulldown
	default:
		mPull = machine.PinInput
	}
	p.pin.Configure(machine.PinConfig{Mode: mPull})
	return nil
}

func (p *tinygoPin) Read() Level {
	return Level(p.pin.Get())
}

func (p *tinygoPin) Watch(edge Edge, handler func()) error {
	var mEdge machine.PinChange
	switch edge {
	case RisingEdge:
		mEdge = machine.PinRising
	case FallingEdge:
		mEdge = machine.PinFalling
	case BothEdges:
		mEdge = machine.PinToggle
	default:
		return nil
	}

	return p.pin.SetInterrupt(mEdge, func(machine.Pin) {
		handler()
	})
}

func (p *tinygoPin) Unwatch() error {
	// A nil callback disables the interrupt.
	return p.pin.SetInterrupt(0, nil)
}

// Config holds the configuration for the TinyGo port.
type Config struct {
	PortConfig
	KernelConfig
	// Kernel is the kernel the port runs on.
	// Defaults to a new GoKernel built from KernelConfig if not provided.
	Kernel Kernel
	// BaudRate is the UART line speed.
	// Defaults to 115200 if not provided.
	BaudRate uint32
	// ReadyActiveHigh makes the ready pin signal ready when high.
	// Defaults to false (ready when low, like CTS).
	ReadyActiveHigh bool
}

// NewTinyGo creates an uninitialized port writing to a TinyGo UART.
// readyPin may be machine.NoPin.
func NewTinyGo(c Config, uart *machine.UART, readyPin machine.Pin) (*Port, error) {
	if c.BaudRate == 0 {
		c.BaudRate = 115200
	}
	if err := uart.Configure(machine.UARTConfig{BaudRate: c.BaudRate}); err != nil {
		return nil, err
	}

	gate := newTxGate(uart, nil)
	res := closers{gate}
	var u UART = gate

	if readyPin != machine.NoPin {
		readyLevel := Low
		if c.ReadyActiveHigh {
			readyLevel = High
		}
		var err error
		u, res, err = gateOnPin(u, res, &tinygoPin{pin: readyPin}, readyLevel)
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
		UART:       u,
	})
	if err != nil {
		res.Close()
		return nil, err
	}
	p.closer = res
	return p, nil
}
