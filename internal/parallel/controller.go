// Package parallel owns the process-wide worker pool that native operations
// and their internal fan-out run on.
//
// The pool is configured at most once. Configure with the parameters of the
// existing pool is a no-op; anything else after the pool exists fails with
// ErrAlreadyConfigured. When nothing configures it, Pool() builds a default
// pool over all available cores without pinning.
package parallel

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

var (
	poolThreads = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "meshd",
		Subsystem: "pool",
		Name:      "threads",
		Help:      "Number of worker threads in the native pool",
	})
	poolPinFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "meshd",
		Subsystem: "pool",
		Name:      "pin_failures_total",
		Help:      "Worker threads that could not be pinned to their requested core",
	})
	poolTasksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "meshd",
		Subsystem: "pool",
		Name:      "tasks_total",
		Help:      "Tasks executed by pool workers",
	})
)

func init() {
	prometheus.MustRegister(poolThreads, poolPinFailures, poolTasksTotal)
}

// PinReport describes the outcome of building a pool.
type PinReport struct {
	Threads int
	// Pinned lists the cores that workers were successfully pinned to.
	Pinned []int
	// Err holds every per-thread pin failure (see multierr.Errors). A non-nil
	// Err does not mean the pool is unusable.
	Err error
}

// Status is a snapshot of the controller.
type Status struct {
	Configured bool        `json:"configured"`
	Threads    int         `json:"threads"`
	Affinity   map[int]int `json:"affinity,omitempty"`
	Pinned     []int       `json:"pinned,omitempty"`
	PinErrors  []string    `json:"pin_errors,omitempty"`
	Executed   int64       `json:"executed"`
}

// Controller builds and hands out the pool.
type Controller struct {
	mu     sync.Mutex
	pool   *Pool
	report PinReport

	log     zerolog.Logger
	numCPUs func() int
	pin     func(core int) error
}

// Option customizes a Controller.
type Option func(*Controller)

// WithLogger sets the logger used for pin warnings.
func WithLogger(l zerolog.Logger) Option { return func(c *Controller) { c.log = l } }

// WithPinFunc replaces the OS pinning call (tests).
func WithPinFunc(f func(core int) error) Option { return func(c *Controller) { c.pin = f } }

// WithCPUCount replaces core discovery (tests).
func WithCPUCount(f func() int) Option { return func(c *Controller) { c.numCPUs = f } }

// NewController returns an unconfigured controller.
func NewController(opts ...Option) *Controller {
	c := &Controller{log: zerolog.Nop(), numCPUs: availableCPUs, pin: pinThread}
	for _, o := range opts {
		o(c)
	}
	return c
}

var (
	defaultOnce sync.Once
	defaultCtl  *Controller
)

// Default is the process-wide controller.
func Default() *Controller {
	defaultOnce.Do(func() { defaultCtl = NewController() })
	return defaultCtl
}

// MaxThreads bounds the pool size. Every worker locks an OS thread, and the
// Go runtime aborts the process once it holds more than debug.SetMaxThreads
// (10000 by default) threads, so requests past this cap are refused up front.
const MaxThreads = 1024

// AvailableCPUs is the number of cores this process may run on.
func AvailableCPUs() int { return availableCPUs() }

// SetLogger replaces the controller's logger.
func (c *Controller) SetLogger(l zerolog.Logger) {
	c.mu.Lock()
	c.log = l
	c.mu.Unlock()
}

// Configure builds the pool with threads workers (0 means all available
// cores) and pins worker i to core affinity[i] where given. The returned
// error is reserved for invalid or conflicting configuration; pin failures
// land in PinReport.Err.
func (c *Controller) Configure(threads int, affinity map[int]int) (PinReport, error) {
	if threads < 0 || threads > MaxThreads {
		return PinReport{}, configErrorf("threads must be in [0, %d], got %d", MaxThreads, threads)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	n := threads
	if n == 0 {
		n = c.cpuCount()
	}
	for k, core := range affinity {
		if k < 0 || k >= n {
			return PinReport{}, configErrorf("affinity thread index %d outside [0, %d)", k, n)
		}
		if core < 0 {
			return PinReport{}, configErrorf("affinity core %d for thread %d is negative", core, k)
		}
	}

	if c.pool != nil {
		if c.pool.threads == n && sameAffinity(c.pool.affinity, affinity) {
			return c.report, nil
		}
		return c.report, ErrAlreadyConfigured
	}
	return c.build(n, affinity), nil
}

// Pool returns the pool, building the default one on first use.
func (c *Controller) Pool() *Pool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pool == nil {
		c.build(c.cpuCount(), nil)
	}
	return c.pool
}

// Configured reports whether a pool exists.
func (c *Controller) Configured() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pool != nil
}

// Status returns a snapshot for diagnostics.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pool == nil {
		return Status{}
	}
	st := Status{
		Configured: true,
		Threads:    c.pool.threads,
		Affinity:   copyAffinity(c.pool.affinity),
		Pinned:     append([]int(nil), c.report.Pinned...),
		Executed:   c.pool.Executed(),
	}
	for _, err := range multierr.Errors(c.report.Err) {
		st.PinErrors = append(st.PinErrors, err.Error())
	}
	return st
}

// Close stops the pool. Only tests should need this.
func (c *Controller) Close() {
	c.mu.Lock()
	p := c.pool
	c.mu.Unlock()
	if p != nil {
		p.Close()
	}
}

// build must be called with c.mu held.
func (c *Controller) build(n int, affinity map[int]int) PinReport {
	p, pinErr := newPool(n, affinity, c.pin)
	c.pool = p
	c.report = PinReport{Threads: n, Pinned: p.pinned, Err: pinErr}
	poolThreads.Set(float64(n))

	if pinErr != nil {
		errs := multierr.Errors(pinErr)
		poolPinFailures.Add(float64(len(errs)))
		ev := c.log.Warn().Int("threads", n).Int("failed", len(errs))
		msgs := make([]string, 0, len(errs))
		for _, e := range errs {
			msgs = append(msgs, e.Error())
		}
		ev.Strs("errors", msgs).Msg("worker pool: some threads could not be pinned")
	}
	c.log.Debug().Int("threads", n).Ints("pinned", p.pinned).Msg("worker pool ready")
	return c.report
}

// cpuCount is the default pool size, capped at MaxThreads.
func (c *Controller) cpuCount() int {
	if n := c.numCPUs(); n > 0 {
		return min(n, MaxThreads)
	}
	return 1
}

func sameAffinity(a, b map[int]int) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			return false
		}
	}
	return true
}
