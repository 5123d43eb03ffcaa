package parallel

import (
	"runtime"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Pool is a fixed set of worker goroutines, each locked to its own OS thread
// and optionally pinned to one core. It is built once and lives for the rest
// of the process (or until Close in tests).
type Pool struct {
	threads  int
	affinity map[int]int
	pinned   []int

	tasks    chan func()
	quit     chan struct{}
	closed   sync.Once
	executed atomic.Int64
	wg       sync.WaitGroup
}

// newPool starts threads workers and waits until every one of them has
// attempted its pin. Pin failures are collected, never fatal.
func newPool(threads int, affinity map[int]int, pin func(int) error) (*Pool, error) {
	p := &Pool{
		threads:  threads,
		affinity: copyAffinity(affinity),
		tasks:    make(chan func()),
		quit:     make(chan struct{}),
	}

	var (
		g       errgroup.Group
		mu      sync.Mutex
		pinErrs error
	)
	for i := 0; i < threads; i++ {
		core, wantPin := p.affinity[i]
		started := make(chan error, 1)
		p.wg.Add(1)
		go p.worker(i, core, wantPin, pin, started)
		g.Go(func() error {
			if err := <-started; err != nil {
				mu.Lock()
				pinErrs = multierr.Append(pinErrs, err)
				mu.Unlock()
				return nil
			}
			if wantPin {
				mu.Lock()
				p.pinned = append(p.pinned, core)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	sort.Ints(p.pinned)
	return p, pinErrs
}

func (p *Pool) worker(idx, core int, wantPin bool, pin func(int) error, started chan<- error) {
	defer p.wg.Done()
	// The thread stays locked for the worker's lifetime. A pinned thread is
	// discarded by the runtime when the goroutine exits.
	runtime.LockOSThread()
	if wantPin {
		if err := pin(core); err != nil {
			started <- &PinError{Thread: idx, Core: core, Err: err}
		} else {
			started <- nil
		}
	} else {
		started <- nil
	}
	for {
		select {
		case fn := <-p.tasks:
			p.executed.Add(1)
			poolTasksTotal.Inc()
			fn()
		case <-p.quit:
			return
		}
	}
}

// Threads is the number of workers.
func (p *Pool) Threads() int { return p.threads }

// Executed is the number of tasks the workers have run.
func (p *Pool) Executed() int64 { return p.executed.Load() }

// Run executes fn on a pool worker and waits for it. A panic in fn is
// re-raised on the calling goroutine as a *TaskPanic. Run must not be called
// from inside a pool task; nested fan-out goes through ParallelFor.
func (p *Pool) Run(fn func()) error {
	done := make(chan *TaskPanic, 1)
	job := func() {
		var tp *TaskPanic
		defer func() { done <- tp }()
		defer func() {
			if r := recover(); r != nil {
				tp = asTaskPanic(r)
			}
		}()
		fn()
	}
	select {
	case p.tasks <- job:
	case <-p.quit:
		return ErrPoolClosed
	}
	if tp := <-done; tp != nil {
		panic(tp)
	}
	return nil
}

// ParallelFor splits [0, n) into at most Threads() chunks and calls fn on
// each. The caller works through chunks itself while idle workers help, so it
// is safe to call from inside a pool task. The first panic from any chunk is
// re-raised on the caller after all chunks have finished.
func (p *Pool) ParallelFor(n int, fn func(lo, hi int)) {
	if n <= 0 {
		return
	}
	chunks := p.threads
	if chunks < 1 {
		chunks = 1
	}
	if chunks > n {
		chunks = n
	}
	size := (n + chunks - 1) / chunks

	var (
		next  atomic.Int64
		wg    sync.WaitGroup
		first atomic.Pointer[TaskPanic]
	)
	wg.Add(chunks)
	work := func() {
		for {
			c := int(next.Add(1)) - 1
			if c >= chunks {
				return
			}
			lo := c * size
			hi := min(lo+size, n)
			func() {
				defer wg.Done()
				defer func() {
					if r := recover(); r != nil {
						first.CompareAndSwap(nil, asTaskPanic(r))
					}
				}()
				if lo < hi {
					fn(lo, hi)
				}
			}()
		}
	}
	for i := 1; i < chunks; i++ {
		select {
		case p.tasks <- work:
		default:
			// No idle worker; the caller will take the chunk.
		}
	}
	work()
	wg.Wait()
	if tp := first.Load(); tp != nil {
		panic(tp)
	}
}

// Close stops the workers. Tasks already running finish first.
func (p *Pool) Close() {
	p.closed.Do(func() {
		close(p.quit)
		p.wg.Wait()
	})
}

func asTaskPanic(r any) *TaskPanic {
	if tp, ok := r.(*TaskPanic); ok {
		return tp
	}
	return &TaskPanic{Value: r, Stack: debug.Stack()}
}

func copyAffinity(m map[int]int) map[int]int {
	if len(m) == 0 {
		return nil
	}
	out := make(map[int]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
