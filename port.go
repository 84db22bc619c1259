package logport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrPkg                = errors.New("logport")
	ErrInit               = errors.New("port initialization failed")
	ErrAlreadyInitialized = errors.New("port already initialized")
	ErrNotInitialized     = errors.New("port not initialized")
	ErrTimeout            = errors.New("timeout")
	ErrNotOwner           = errors.New("mutex not owned by calling task")
	ErrNoResources        = errors.New("kernel object pool exhausted")
	ErrWouldDeadlock      = errors.New("mutex already owned by calling task")
	ErrMutexDeleted       = errors.New("mutex deleted")
	ErrClosed             = errors.New("transmitter closed")
)

const (
	// DefaultTransmitTimeout bounds a single blocking transmit.
	DefaultTransmitTimeout = 1000 * time.Millisecond
	// DefaultReadyTimeout bounds the wait for the transmitter to become ready.
	DefaultReadyTimeout = 1000 * time.Millisecond
	// DefaultLockName is the kernel name of the output lock.
	DefaultLockName = "elog_lock"
)

// State is the lifecycle state of a Port.
type State uint8

const (
	Uninitialized State = iota
	Ready
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}

// Stats is a snapshot of the port's counters.
type Stats struct {
	// Transmits is the number of transmit calls issued to the UART.
	Transmits uint64
	// BytesSent is the number of bytes successfully transmitted.
	BytesSent uint64
	// TransmitErrors is the number of transmits the UART reported as failed.
	TransmitErrors uint64
	// ReadyTimeouts is the number of buffers dropped because the UART never
	// became ready.
	ReadyTimeouts uint64
	// Dropped is the total number of buffers that were not transmitted.
	Dropped uint64
	// LockErrors counts lock misuse: locking before Init, releasing a lock
	// the task does not own.
	LockErrors uint64
}

// PortConfig holds the platform independent port settings.
type PortConfig struct {
	// TransmitTimeout bounds a single transmit.
	// Defaults to DefaultTransmitTimeout if not provided.
	TransmitTimeout time.Duration
	// ReadyTimeout bounds the wait for the UART to report ready before a
	// buffer is dropped. A negative value waits forever.
	// Defaults to DefaultReadyTimeout if not provided.
	ReadyTimeout time.Duration
	// PollTicks is the number of kernel ticks yielded between readiness polls
	// when the UART cannot notify readiness.
	// Defaults to 1 if not provided.
	PollTicks uint32
	// LockName is the kernel name of the output lock.
	// Defaults to DefaultLockName if not provided.
	LockName string
	// OnDrop is called with every buffer Output drops and the reason.
	// Optional. It runs on the calling task, with the output lock held if
	// the caller holds it, so it must not write to the port.
	OnDrop func(p []byte, err error)
}

type HardwareConfig struct {
	PortConfig
	// Kernel provides the output lock, the tick counter and task names.
	Kernel Kernel
	// UART is the serial transmitter log output is written to.
	UART UART
}

// Port binds the port hooks of a logging engine to a kernel and a UART.
type Port struct {
	config HardwareConfig
	closer io.Closer

	mu      sync.RWMutex
	lock    Mutex
	writeMu sync.Mutex

	transmits      atomic.Uint64
	bytesSent      atomic.Uint64
	transmitErrors atomic.Uint64
	readyTimeouts  atomic.Uint64
	dropped        atomic.Uint64
	lockErrors     atomic.Uint64
}

// NewWithHardware creates an uninitialized port on the provided kernel and UART.
// Init must be called before the port is used by a logging engine.
func NewWithHardware(c HardwareConfig) (*Port, error) {
	if c.Kernel == nil {
		return nil, fmt.Errorf("%w: kernel not configured", ErrPkg)
	}
	if c.UART == nil {
		return nil, fmt.Errorf("%w: UART not configured", ErrPkg)
	}
	if c.TransmitTimeout == 0 {
		c.TransmitTimeout = DefaultTransmitTimeout
	}
	if c.ReadyTimeout == 0 {
		c.ReadyTimeout = DefaultReadyTimeout
	}
	if c.PollTicks == 0 {
		c.PollTicks = 1
	}
	if c.LockName == "" {
		c.LockName = DefaultLockName
	}

	return &Port{config: c}, nil
}

func (p *Port) String() string {
	return fmt.Sprintf("Port(State=%s, Lock=%s, TransmitTimeout=%s, ReadyTimeout=%s)",
		p.State(),
		p.config.LockName,
		p.config.TransmitTimeout,
		p.config.ReadyTimeout,
	)
}

// State returns the lifecycle state of the port.
// This method is concurrent safe.
func (p *Port) State() State {
	if p.handle() == nil {
		return Uninitialized
	}
	return Ready
}

func (p *Port) handle() Mutex {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lock
}

// Init creates the recursive output lock.
// It returns an error wrapping ErrInit if the port is already initialized
// or the kernel cannot allocate the lock.
// This method is concurrent safe.
func (p *Port) Init() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.lock != nil {
		return fmt.Errorf("%w: %w: %w", ErrPkg, ErrInit, ErrAlreadyInitialized)
	}

	lock, err := p.config.Kernel.NewMutex(MutexAttr{Name: p.config.LockName, Recursive: true})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInit, err)
	}
	if lock == nil {
		return fmt.Errorf("%w: %w: kernel returned no mutex", ErrPkg, ErrInit)
	}
	p.lock = lock

	globalLogger.Debug("Output lock " + p.config.LockName + " created.")
	return nil
}

// Deinit deletes the output lock. Init may be called again afterwards.
// This method is concurrent safe.
func (p *Port) Deinit() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.lock == nil {
		globalLogger.Warn("Deinit called on an uninitialized port")
		return
	}
	if err := p.lock.Delete(); err != nil {
		globalLogger.Warn("Failed to delete output lock: " + err.Error())
	}
	p.lock = nil

	globalLogger.Debug("Output lock " + p.config.LockName + " deleted.")
}

// Close deinitializes the port if needed and closes the transmitter opened
// by New.
func (p *Port) Close() error {
	if p.State() == Ready {
		p.Deinit()
	}
	if p.closer != nil {
		if err := p.closer.Close(); err != nil {
			return fmt.Errorf("%w: failed to close transmitter: %w", ErrPkg, err)
		}
	}
	return nil
}

// Output transmits buf verbatim. It waits for the UART to become ready and
// then issues a blocking transmit bounded by TransmitTimeout.
// Failures are not returned: the buffer is dropped, counted and handed to
// OnDrop. Output does not take the output lock; callers must hold it.
func (p *Port) Output(ctx context.Context, buf []byte) {
	if len(buf) == 0 {
		return
	}
	if err := p.send(ctx, buf); err != nil {
		p.drop(buf, err)
	}
}

func (p *Port) drop(buf []byte, err error) {
	p.dropped.Add(1)
	if p.config.OnDrop != nil {
		p.config.OnDrop(buf, err)
	}
}

func (p *Port) send(ctx context.Context, buf []byte) error {
	if err := p.waitReady(ctx); err != nil {
		return err
	}

	p.transmits.Add(1)
	if err := p.config.UART.Transmit(buf, p.config.TransmitTimeout); err != nil {
		p.transmitErrors.Add(1)
		return fmt.Errorf("%w: transmit failed: %w", ErrPkg, err)
	}
	p.bytesSent.Add(uint64(len(buf)))
	return nil
}

// waitReady blocks until the UART reports ready, the ready timeout elapses
// or ctx is done.
func (p *Port) waitReady(ctx context.Context) error {
	uart := p.config.UART
	if uart.State() == UARTReady {
		return nil
	}

	var expired <-chan time.Time
	if p.config.ReadyTimeout > 0 {
		t := time.NewTimer(p.config.ReadyTimeout)
		defer t.Stop()
		expired = t.C
	}
	var done <-chan struct{}
	if ctx != nil {
		done = ctx.Done()
	}
	notifier, _ := uart.(ReadyNotifier)

	for uart.State() != UARTReady {
		if notifier != nil {
			select {
			case <-notifier.Ready():
				continue
			case <-expired:
			case <-done:
				return ctx.Err()
			}
		} else {
			select {
			case <-expired:
			case <-done:
				return ctx.Err()
			default:
				p.config.Kernel.Delay(p.config.PollTicks)
				continue
			}
		}

		p.readyTimeouts.Add(1)
		return fmt.Errorf("%w: UART %s after %s: %w", ErrPkg, uart.State(), p.config.ReadyTimeout, ErrTimeout)
	}
	return nil
}

// Lock acquires the output lock for the task carried by ctx, waiting forever.
// The lock is recursive: a task holding it may lock it again.
func (p *Port) Lock(ctx context.Context) {
	if err := p.acquire(ctx); err != nil {
		globalLogger.Error("Failed to acquire output lock: " + err.Error())
	}
}

// Unlock releases one level of the output lock held by the task carried by ctx.
func (p *Port) Unlock(ctx context.Context) {
	if err := p.release(ctx); err != nil {
		globalLogger.Error("Failed to release output lock: " + err.Error())
	}
}

func (p *Port) acquire(ctx context.Context) error {
	lock := p.handle()
	if lock == nil {
		p.lockErrors.Add(1)
		return fmt.Errorf("%w: %w", ErrPkg, ErrNotInitialized)
	}
	if err := lock.Acquire(ctx, WaitForever); err != nil {
		p.lockErrors.Add(1)
		return err
	}
	return nil
}

func (p *Port) release(ctx context.Context) error {
	lock := p.handle()
	if lock == nil {
		p.lockErrors.Add(1)
		return fmt.Errorf("%w: %w", ErrPkg, ErrNotInitialized)
	}
	if err := lock.Release(ctx); err != nil {
		p.lockErrors.Add(1)
		return err
	}
	return nil
}

// Time returns the kernel tick count as an unsigned decimal string.
func (p *Port) Time() string {
	return strconv.FormatUint(uint64(p.config.Kernel.Ticks()), 10)
}

// ProcessInfo returns the process description, which is always empty:
// there are no processes on this platform.
func (p *Port) ProcessInfo() string {
	return ""
}

// ThreadInfo returns the kernel name of the task carried by ctx.
func (p *Port) ThreadInfo(ctx context.Context) string {
	k := p.config.Kernel
	return k.TaskName(k.CurrentTask(ctx))
}

// Stats returns a snapshot of the port counters.
// This method is concurrent safe.
func (p *Port) Stats() Stats {
	return Stats{
		Transmits:      p.transmits.Load(),
		BytesSent:      p.bytesSent.Load(),
		TransmitErrors: p.transmitErrors.Load(),
		ReadyTimeouts:  p.readyTimeouts.Load(),
		Dropped:        p.dropped.Load(),
		LockErrors:     p.lockErrors.Load(),
	}
}

// Write transmits b under the output lock. Each call runs as its own
// kernel task, so concurrent callers exclude each other and any task holding
// the lock. Unlike Output it reports transmit failures.
func (p *Port) Write(b []byte) (int, error) {
	if ts, ok := p.config.Kernel.(TaskScoper); ok {
		ctx, done := ts.WithTask(context.Background(), "writer")
		defer done()
		return p.write(ctx, b)
	}

	// Kernels without scoped tasks see every caller as the main task.
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.write(context.Background(), b)
}

// Writer returns an io.Writer that transmits under the output lock on behalf
// of the task carried by ctx. A ctx without a task writes as the main task;
// use Write for callers that are not kernel tasks.
func (p *Port) Writer(ctx context.Context) io.Writer {
	return &taskWriter{port: p, ctx: ctx}
}

type taskWriter struct {
	port *Port
	ctx  context.Context
}

func (w *taskWriter) Write(b []byte) (int, error) {
	return w.port.write(w.ctx, b)
}

func (p *Port) write(ctx context.Context, b []byte) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	if err := p.acquire(ctx); err != nil {
		return 0, err
	}
	defer p.Unlock(ctx)

	if err := p.send(ctx, b); err != nil {
		p.drop(b, err)
		return 0, err
	}
	return len(b), nil
}
