package logport

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// kernelMutex is an owner-tracked mutex. Waiters block on the released
// channel, which is closed and replaced every time the mutex becomes free.
type kernelMutex struct {
	kernel *GoKernel
	attr   MutexAttr

	mu       sync.Mutex
	owner    TaskID
	depth    int
	deleted  bool
	released chan struct{}
}

// Acquire takes the mutex for the task carried by ctx. A negative timeout
// (WaitForever) waits without bound; a zero timeout only tries once.
// ctx identifies the caller and is not observed for cancellation.
func (m *kernelMutex) Acquire(ctx context.Context, timeout time.Duration) error {
	me := m.kernel.CurrentTask(ctx)

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	for {
		m.mu.Lock()
		if m.deleted {
			m.mu.Unlock()
			return fmt.Errorf("%w: mutex %q: %w", ErrPkg, m.attr.Name, ErrMutexDeleted)
		}
		if m.depth == 0 {
			m.owner = me
			m.depth = 1
			m.mu.Unlock()
			return nil
		}
		if m.owner == me {
			if !m.attr.Recursive {
				m.mu.Unlock()
				return fmt.Errorf("%w: mutex %q: %w", ErrPkg, m.attr.Name, ErrWouldDeadlock)
			}
			m.depth++
			m.mu.Unlock()
			return nil
		}
		wait := m.released
		m.mu.Unlock()

		if timeout == 0 {
			return fmt.Errorf("%w: mutex %q: %w", ErrPkg, m.attr.Name, ErrTimeout)
		}

		select {
		case <-wait:
		case <-expired:
			return fmt.Errorf("%w: mutex %q: %w", ErrPkg, m.attr.Name, ErrTimeout)
		}
	}
}

// Release drops one level of ownership. The mutex becomes available to other
// tasks when the depth reaches zero.
func (m *kernelMutex) Release(ctx context.Context) error {
	me := m.kernel.CurrentTask(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.deleted {
		return fmt.Errorf("%w: mutex %q: %w", ErrPkg, m.attr.Name, ErrMutexDeleted)
	}
	if m.depth == 0 || m.owner != me {
		return fmt.Errorf("%w: mutex %q: %w", ErrPkg, m.attr.Name, ErrNotOwner)
	}
	m.depth--
	if m.depth == 0 {
		close(m.released)
		m.released = make(chan struct{})
	}
	return nil
}

// Delete returns the mutex to the kernel pool and wakes any waiters,
// which then fail with ErrMutexDeleted.
func (m *kernelMutex) Delete() error {
	m.mu.Lock()
	if m.deleted {
		m.mu.Unlock()
		return fmt.Errorf("%w: mutex %q: %w", ErrPkg, m.attr.Name, ErrMutexDeleted)
	}
	m.deleted = true
	close(m.released)
	m.mu.Unlock()

	m.kernel.freeMutex()
	return nil
}
