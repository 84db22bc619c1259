package logport

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// ErrBusy is returned by Transmit while a previous transmit is still in flight.
var ErrBusy = errors.New("transmitter busy")

// txGate turns a blocking io.Writer into a UART. A transmit that times out
// keeps the gate busy until the underlying write returns, so State never
// reports ready while bytes may still be going out.
type txGate struct {
	w     io.Writer
	drain func() error

	busy   atomic.Bool
	closed atomic.Bool
	ready  chan struct{}
}

func newTxGate(w io.Writer, drain func() error) *txGate {
	return &txGate{
		w:     w,
		drain: drain,
		ready: make(chan struct{}, 1),
	}
}

func (g *txGate) State() UARTState {
	if g.closed.Load() {
		return UARTReset
	}
	if g.busy.Load() {
		return UARTBusy
	}
	return UARTReady
}

// Ready receives a value each time a transmit completes.
func (g *txGate) Ready() <-chan struct{} {
	return g.ready
}

func (g *txGate) Transmit(p []byte, timeout time.Duration) error {
	if g.closed.Load() {
		return fmt.Errorf("%w: %w", ErrPkg, ErrClosed)
	}
	if !g.busy.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: %w", ErrPkg, ErrBusy)
	}

	// The write may outlive this call when it times out.
	buf := append([]byte(nil), p...)
	result := make(chan error, 1)
	go func() {
		_, err := g.w.Write(buf)
		if err == nil && g.drain != nil {
			err = g.drain()
		}
		g.busy.Store(false)
		select {
		case g.ready <- struct{}{}:
		default:
		}
		result <- err
	}()

	if timeout < 0 {
		return <-result
	}
	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case err := <-result:
		return err
	case <-t.C:
		return fmt.Errorf("%w: transmit of %d bytes after %s: %w", ErrPkg, len(p), timeout, ErrTimeout)
	}
}

func (g *txGate) Close() error {
	g.closed.Store(true)
	return nil
}

// pinGatedUART reports its UART busy while a ready line is not at its
// ready level, like a transmitter gated by a CTS line.
type pinGatedUART struct {
	UART
	pin        Pin
	readyLevel Level

	ready     chan struct{}
	stop      chan struct{}
	closeOnce sync.Once
}

func newPinGatedUART(u UART, pin Pin, readyLevel Level) (*pinGatedUART, error) {
	pull := PullDown
	if readyLevel == Low {
		pull = PullUp
	}
	if err := pin.In(pull); err != nil {
		return nil, fmt.Errorf("%w: failed to configure ready pin: %w", ErrPkg, err)
	}

	g := &pinGatedUART{
		UART:       u,
		pin:        pin,
		readyLevel: readyLevel,
		ready:      make(chan struct{}, 1),
		stop:       make(chan struct{}),
	}
	if err := pin.Watch(BothEdges, g.notify); err != nil {
		return nil, fmt.Errorf("%w: failed to watch ready pin: %w", ErrPkg, err)
	}

	if n, ok := u.(ReadyNotifier); ok {
		go func() {
			for {
				select {
				case <-n.Ready():
					g.notify()
				case <-g.stop:
					return
				}
			}
		}()
	}
	return g, nil
}

func (g *pinGatedUART) notify() {
	select {
	case g.ready <- struct{}{}:
	default:
	}
}

func (g *pinGatedUART) State() UARTState {
	if g.pin.Read() != g.readyLevel {
		return UARTBusy
	}
	return g.UART.State()
}

func (g *pinGatedUART) Ready() <-chan struct{} {
	return g.ready
}

func (g *pinGatedUART) Transmit(p []byte, timeout time.Duration) error {
	if g.pin.Read() != g.readyLevel {
		return fmt.Errorf("%w: ready line inactive: %w", ErrPkg, ErrBusy)
	}
	return g.UART.Transmit(p, timeout)
}

func (g *pinGatedUART) Close() error {
	var err error
	g.closeOnce.Do(func() {
		close(g.stop)
		err = g.pin.Unwatch()
	})
	return err
}

// gateOnPin wraps u with a ready pin and pushes the gate onto res. On
// failure it closes everything already in res.
func gateOnPin(u UART, res closers, pin Pin, readyLevel Level) (UART, closers, error) {
	gated, err := newPinGatedUART(u, pin, readyLevel)
	if err != nil {
		res.Close()
		return nil, nil, err
	}
	return gated, append(res, gated), nil
}

// closers closes a stack of resources in reverse order of acquisition.
type closers []io.Closer

func (c closers) Close() error {
	var errs []error
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
