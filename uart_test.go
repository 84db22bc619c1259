package logport

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingWriter blocks every Write until release is closed.
type blockingWriter struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	release chan struct{}
}

func (w *blockingWriter) Write(p []byte) (int, error) {
	<-w.release
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *blockingWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

type mockPin struct {
	mu        sync.Mutex
	level     Level
	pull      Pull
	edge      Edge
	handler   func()
	unwatched bool
}

func (m *mockPin) In(pull Pull) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pull = pull
	return nil
}

func (m *mockPin) Read() Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

func (m *mockPin) Watch(edge Edge, handler func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edge = edge
	m.handler = handler
	return nil
}

func (m *mockPin) Unwatch() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unwatched = true
	m.handler = nil
	return nil
}

func (m *mockPin) set(l Level) {
	m.mu.Lock()
	m.level = l
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h()
	}
}

func TestTxGateTransmit(t *testing.T) {
	w := &blockingWriter{release: make(chan struct{})}
	close(w.release)
	drained := 0
	g := newTxGate(w, func() error { drained++; return nil })

	assert.Equal(t, UARTReady, g.State())
	require.NoError(t, g.Transmit([]byte("abc"), time.Second))
	assert.Equal(t, "abc", w.String())
	assert.Equal(t, 1, drained)
	assert.Equal(t, UARTReady, g.State())

	select {
	case <-g.Ready():
	default:
		t.Fatal("no ready notification after transmit")
	}
}

func TestTxGateTimeoutKeepsBusy(t *testing.T) {
	w := &blockingWriter{release: make(chan struct{})}
	g := newTxGate(w, nil)

	buf := []byte("slow")
	err := g.Transmit(buf, 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, UARTBusy, g.State())

	// The caller may reuse its buffer while the write is still pending.
	copy(buf, "XXXX")
	assert.ErrorIs(t, g.Transmit([]byte("next"), time.Second), ErrBusy)

	close(w.release)
	select {
	case <-g.Ready():
	case <-time.After(time.Second):
		t.Fatal("gate did not signal readiness after the write finished")
	}
	assert.Equal(t, UARTReady, g.State())
	assert.Equal(t, "slow", w.String())
}

func TestTxGateWriteError(t *testing.T) {
	errWrite := errors.New("device gone")
	g := newTxGate(writerFunc(func(p []byte) (int, error) { return 0, errWrite }), nil)

	assert.ErrorIs(t, g.Transmit([]byte("x"), WaitForever), errWrite)
	assert.Equal(t, UARTReady, g.State())
}

func TestTxGateClosed(t *testing.T) {
	g := newTxGate(&bytes.Buffer{}, nil)
	require.NoError(t, g.Close())

	assert.Equal(t, UARTReset, g.State())
	assert.ErrorIs(t, g.Transmit([]byte("x"), time.Second), ErrClosed)
}

func TestPinGatedUART(t *testing.T) {
	inner := newTxGate(&bytes.Buffer{}, nil)
	pin := &mockPin{level: High}

	g, err := newPinGatedUART(inner, pin, Low)
	require.NoError(t, err)
	assert.Equal(t, PullUp, pin.pull)
	assert.Equal(t, BothEdges, pin.edge)

	assert.Equal(t, UARTBusy, g.State())
	assert.ErrorIs(t, g.Transmit([]byte("x"), time.Second), ErrBusy)

	pin.set(Low)
	select {
	case <-g.Ready():
	case <-time.After(time.Second):
		t.Fatal("no ready notification on pin edge")
	}
	assert.Equal(t, UARTReady, g.State())
	require.NoError(t, g.Transmit([]byte("x"), time.Second))

	require.NoError(t, g.Close())
	require.NoError(t, g.Close())
	assert.True(t, pin.unwatched)
}

func TestPortOverPinGatedUART(t *testing.T) {
	w := &blockingWriter{release: make(chan struct{})}
	close(w.release)
	pin := &mockPin{level: Low}
	g, err := newPinGatedUART(newTxGate(w, nil), pin, High)
	require.NoError(t, err)
	defer g.Close()

	p, _ := newTestPort(t, g, PortConfig{})
	require.NoError(t, p.Init())

	go func() {
		time.Sleep(10 * time.Millisecond)
		pin.set(High)
	}()
	_, err = p.Write([]byte("gated\n"))
	require.NoError(t, err)
	assert.Equal(t, "gated\n", w.String())
}

func TestClosersReverseOrder(t *testing.T) {
	var order []string
	errLast := errors.New("last")
	c := closers{
		closerFunc(func() error { order = append(order, "first"); return nil }),
		closerFunc(func() error { order = append(order, "last"); return errLast }),
	}

	assert.ErrorIs(t, c.Close(), errLast)
	assert.Equal(t, []string{"last", "first"}, order)
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

// brokenPin accepts configuration but cannot watch edges.
type brokenPin struct {
	mockPin
}

func (b *brokenPin) Watch(Edge, func()) error { return errors.New("no interrupt line") }

func TestGateOnPinClosesOnFailure(t *testing.T) {
	gate := newTxGate(&bytes.Buffer{}, nil)
	closed := false
	res := closers{gate, closerFunc(func() error { closed = true; return nil })}

	u, rest, err := gateOnPin(gate, res, &brokenPin{}, Low)
	assert.ErrorIs(t, err, ErrPkg)
	assert.Nil(t, u)
	assert.Nil(t, rest)
	assert.True(t, closed)
	assert.Equal(t, UARTReset, gate.State())
}

func TestGateOnPin(t *testing.T) {
	gate := newTxGate(&bytes.Buffer{}, nil)
	pin := &mockPin{level: Low}

	u, res, err := gateOnPin(gate, closers{gate}, pin, Low)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, UARTReady, u.State())

	require.NoError(t, res.Close())
	assert.True(t, pin.unwatched)
	assert.Equal(t, UARTReset, gate.State())
}
