package logport

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"
)

// KernelConfig holds the configuration for the goroutine kernel.
type KernelConfig struct {
	// TickRate is the tick frequency in Hz.
	// Defaults to 1000 if not provided.
	TickRate uint32
	// MaxMutexes is the capacity of the kernel's mutex pool. NewMutex fails
	// once every slot is allocated.
	// Defaults to 8 if not provided.
	MaxMutexes int
	// MainTaskName is the name reported for contexts that were not started
	// with Spawn.
	// Defaults to "main" if not provided.
	MainTaskName string
}

type taskKey struct{}

// GoKernel is a Kernel backed by goroutines. Tasks are goroutines started
// with Spawn; their identity travels in the context handed to them.
type GoKernel struct {
	config  KernelConfig
	start   time.Time
	tickDur time.Duration

	mu      sync.Mutex
	nextID  TaskID
	tasks   map[TaskID]string
	mutexes int
}

// NewKernel creates a goroutine kernel. The tick counter starts at zero.
func NewKernel(c KernelConfig) *GoKernel {
	if c.TickRate == 0 {
		c.TickRate = 1000
	}
	if c.MaxMutexes == 0 {
		c.MaxMutexes = 8
	}
	if c.MainTaskName == "" {
		c.MainTaskName = "main"
	}
	tickDur := time.Second / time.Duration(c.TickRate)
	if tickDur <= 0 {
		tickDur = 1
	}
	return &GoKernel{
		config:  c,
		start:   time.Now(),
		tickDur: tickDur,
		tasks:   map[TaskID]string{0: c.MainTaskName},
	}
}

func (k *GoKernel) String() string {
	k.mu.Lock()
	defer k.mu.Unlock()

	return fmt.Sprintf("GoKernel(TickRate=%dHz, Tasks=%d, Mutexes=%d/%d)",
		k.config.TickRate, len(k.tasks), k.mutexes, k.config.MaxMutexes)
}

// Spawn starts fn as a new named task and returns its ID.
// The task is unregistered when fn returns.
func (k *GoKernel) Spawn(ctx context.Context, name string, fn func(ctx context.Context)) TaskID {
	tctx, done := k.WithTask(ctx, name)
	id := k.CurrentTask(tctx)
	go func() {
		defer done()
		fn(tctx)
	}()
	return id
}

// WithTask registers a new task for the caller's goroutine and returns a
// context carrying it. done unregisters the task.
func (k *GoKernel) WithTask(ctx context.Context, name string) (context.Context, func()) {
	k.mu.Lock()
	k.nextID++
	id := k.nextID
	k.tasks[id] = name
	k.mu.Unlock()

	return context.WithValue(ctx, taskKey{}, id), func() { k.exit(id) }
}

func (k *GoKernel) exit(id TaskID) {
	k.mu.Lock()
	delete(k.tasks, id)
	k.mu.Unlock()
}

// Ticks returns the number of ticks since the kernel was created.
// The counter wraps around like a 32-bit RTOS tick counter.
func (k *GoKernel) Ticks() uint32 {
	return uint32(time.Since(k.start) / k.tickDur)
}

// CurrentTask returns the task carried by ctx, or the main task.
func (k *GoKernel) CurrentTask(ctx context.Context) TaskID {
	if ctx == nil {
		return 0
	}
	if id, ok := ctx.Value(taskKey{}).(TaskID); ok {
		return id
	}
	return 0
}

// TaskName returns the name given to Spawn, or "" for unknown tasks.
func (k *GoKernel) TaskName(id TaskID) string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.tasks[id]
}

// Delay sleeps for the given number of ticks. A zero delay yields.
func (k *GoKernel) Delay(ticks uint32) {
	if ticks == 0 {
		runtime.Gosched()
		return
	}
	time.Sleep(time.Duration(ticks) * k.tickDur)
}

// NewMutex allocates a mutex from the pool.
func (k *GoKernel) NewMutex(attr MutexAttr) (Mutex, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.mutexes >= k.config.MaxMutexes {
		return nil, fmt.Errorf("%w: mutex %q: %w", ErrPkg, attr.Name, ErrNoResources)
	}
	k.mutexes++
	return &kernelMutex{
		kernel:   k,
		attr:     attr,
		released: make(chan struct{}),
	}, nil
}

func (k *GoKernel) freeMutex() {
	k.mu.Lock()
	k.mutexes--
	k.mu.Unlock()
}
