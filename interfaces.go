package logport

import (
	"context"
	"time"
)

// Level represents the logical level of a pin (Low or High).
type Level bool

const (
	Low  Level = false
	High Level = true
)

// Pull represents the internal pull-up/down resistor state.
type Pull uint8

const (
	PullNoChange Pull = iota
	PullFloat
	PullDown
	PullUp
)

// Edge represents the signal edge to trigger an interrupt.
type Edge uint8

const (
	NoEdge Edge = iota
	RisingEdge
	FallingEdge
	BothEdges
)

// Pin represents a generic GPIO input pin, used as a transmitter ready line.
type Pin interface {
	// In sets the pin as input with the given pull mode.
	In(pull Pull) error
	// Read returns the current level of the pin.
	Read() Level
	// Watch configures an interrupt/callback on the specified edge.
	// The handler should be called when the edge is detected.
	Watch(edge Edge, handler func()) error
	// Unwatch removes the interrupt/callback.
	Unwatch() error
}

// UARTState is the state reported by a serial transmitter.
type UARTState uint8

const (
	UARTReset UARTState = iota
	UARTReady
	UARTBusy
	UARTError
)

func (s UARTState) String() string {
	switch s {
	case UARTReset:
		return "reset"
	case UARTReady:
		return "ready"
	case UARTBusy:
		return "busy"
	case UARTError:
		return "error"
	default:
		return "unknown"
	}
}

// UART represents a blocking serial transmitter.
type UART interface {
	// State returns the current transmitter state.
	State() UARTState
	// Transmit writes p and blocks until it is sent or timeout elapses.
	Transmit(p []byte, timeout time.Duration) error
}

// ReadyNotifier is implemented by transmitters that can signal readiness
// instead of being polled. The channel receives a value whenever the
// transmitter may have become ready; receivers must re-check State.
type ReadyNotifier interface {
	Ready() <-chan struct{}
}

// TaskID identifies a kernel task. The zero value is the main task.
type TaskID uint32

// WaitForever makes Mutex.Acquire block without a timeout.
const WaitForever time.Duration = -1

// MutexAttr describes a kernel mutex.
type MutexAttr struct {
	Name      string
	Recursive bool
}

// Mutex is a kernel mutex handle. Ownership is tracked per task, the task
// being the one carried by ctx.
type Mutex interface {
	Acquire(ctx context.Context, timeout time.Duration) error
	Release(ctx context.Context) error
	Delete() error
}

// Kernel represents the task scheduler the port runs on.
type Kernel interface {
	// NewMutex allocates a mutex from the kernel's object pool.
	NewMutex(attr MutexAttr) (Mutex, error)
	// Ticks returns the tick count since the kernel started.
	Ticks() uint32
	// CurrentTask returns the task carried by ctx.
	CurrentTask(ctx context.Context) TaskID
	// TaskName returns the configured name of a task, or "" if unknown.
	TaskName(id TaskID) string
	// Delay blocks the calling task for the given number of ticks.
	Delay(ticks uint32)
}

// TaskScoper is implemented by kernels that can give a caller without a task
// its own identity for the length of a call.
type TaskScoper interface {
	// WithTask returns ctx carrying a new task named name and a func that
	// ends the task.
	WithTask(ctx context.Context, name string) (context.Context, func())
}
