// Package facade is the host-facing entry point layer over the engine.
//
// Every entry point validates and converts its array arguments, checks the
// capabilities it needs, releases the host lock and runs the engine call on
// the process worker pool inside a recover boundary. A panic in the engine
// becomes a *FatalFault and invalidates the mesh handle it ran on. Outputs
// are copied into host-owned views. The host lock is held again on every
// return.
//
// The facade never retries. Calls on the same *Mesh must be serialized by
// the caller.
package facade

import (
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"meshd/internal/capability"
	"meshd/internal/engine"
	"meshd/internal/marshal"
	"meshd/internal/parallel"
)

// Config wires a Facade. Zero fields take process defaults.
type Config struct {
	Engine     engine.Engine
	Caps       *capability.Registry
	Controller *parallel.Controller
	// HostLock is held by the caller around every entry point. The facade
	// releases it while the engine runs.
	HostLock  sync.Locker
	Publisher EventPublisher
	Logger    zerolog.Logger
}

// Facade exposes the engine to a host.
type Facade struct {
	eng  engine.Engine
	caps *capability.Registry
	ctl  *parallel.Controller
	lock sync.Locker
	pub  EventPublisher
	log  zerolog.Logger
}

type noLock struct{}

func (noLock) Lock()   {}
func (noLock) Unlock() {}

// poolFan routes engine fan-out through the controller's pool, building the
// default pool on first use.
type poolFan struct{ ctl *parallel.Controller }

func (p poolFan) ParallelFor(n int, fn func(lo, hi int)) { p.ctl.Pool().ParallelFor(n, fn) }

// New returns a Facade for cfg.
func New(cfg Config) *Facade {
	f := &Facade{
		eng:  cfg.Engine,
		caps: cfg.Caps,
		ctl:  cfg.Controller,
		lock: cfg.HostLock,
		pub:  cfg.Publisher,
		log:  cfg.Logger,
	}
	if f.ctl == nil {
		f.ctl = parallel.Default()
	}
	if f.eng == nil {
		f.eng = engine.Default(poolFan{ctl: f.ctl})
	}
	if f.caps == nil {
		f.caps = capability.Default()
	}
	if f.lock == nil {
		f.lock = noLock{}
	}
	if f.pub == nil {
		f.pub = noopPublisher{}
	}
	return f
}

// Engine returns the engine name.
func (f *Facade) Engine() string { return f.eng.Name() }

// Capabilities returns the capability flags of this build.
func (f *Facade) Capabilities() map[string]bool { return f.caps.Flags() }

// ConfigurePool sizes and pins the worker pool. See parallel.Controller.
func (f *Facade) ConfigurePool(threads int, affinity map[int]int) (parallel.PinReport, error) {
	rep, err := f.ctl.Configure(threads, affinity)
	return rep, f.finish("configure_pool", err)
}

// PoolStatus reports the pool state without building it.
func (f *Facade) PoolStatus() parallel.Status { return f.ctl.Status() }

// NewMesh builds a mesh of kind from host arrays: coords (n_verts, dim) f64,
// elems (n_elems, elem_verts) u32, etags (n_elems) i16, faces
// (n_faces, face_verts) u32 and ftags (n_faces) i16.
func (f *Facade) NewMesh(kind engine.Kind, coords, elems, etags, faces, ftags marshal.View) (*Mesh, error) {
	const op = "new_mesh"
	if !kind.Valid() {
		return nil, f.finish(op, marshal.Errorf(marshal.KindInvalidData, "kind", "unknown mesh kind %d", int(kind)))
	}
	mb, err := marshal.MeshArrays(layout(kind), coords, elems, etags, faces, ftags)
	if err != nil {
		return nil, f.finish(op, err)
	}
	data := engine.MeshData{
		Coords: marshal.Slice[float64](mb.Coords),
		Elems:  marshal.Slice[uint32](mb.Elems),
		Etags:  marshal.Slice[int16](mb.Etags),
		Faces:  marshal.Slice[uint32](mb.Faces),
		Ftags:  marshal.Slice[int16](mb.Ftags),
	}
	var h *Mesh
	err = f.invoke(op, nil, nil, func() error {
		m, err := f.eng.NewMesh(kind, data)
		if err != nil {
			return err
		}
		h = f.wrap(m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// ReadMeshb reads a .mesh or .meshb file.
func (f *Facade) ReadMeshb(kind engine.Kind, path string) (*Mesh, error) {
	const op = "read_meshb"
	if !kind.Valid() {
		return nil, f.finish(op, marshal.Errorf(marshal.KindInvalidData, "kind", "unknown mesh kind %d", int(kind)))
	}
	if path == "" {
		return nil, f.finish(op, marshal.Errorf(marshal.KindInvalidData, "path", "empty path"))
	}
	var h *Mesh
	err := f.invoke(op, nil, []capability.Backend{capability.Tucanos, capability.Meshb}, func() error {
		m, err := f.eng.ReadMeshb(kind, path)
		if err != nil {
			return err
		}
		h = f.wrap(m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// ReadSolb reads a .sol or .solb file as an (n, m) f64 view.
func (f *Facade) ReadSolb(path string) (marshal.View, error) {
	const op = "read_solb"
	if path == "" {
		return marshal.View{}, f.finish(op, marshal.Errorf(marshal.KindInvalidData, "path", "empty path"))
	}
	var fld engine.Field
	err := f.invoke(op, nil, []capability.Backend{capability.Tucanos, capability.Meshb}, func() (err error) {
		fld, err = f.eng.ReadSolb(path)
		return err
	})
	if err != nil {
		return marshal.View{}, err
	}
	return marshal.FromNative(fld.Data, fld.Cols), nil
}

func layout(k engine.Kind) marshal.Layout {
	return marshal.Layout{Dim: k.Dim(), ElemVerts: k.ElemVerts(), FaceVerts: k.FaceVerts()}
}

// wrap builds a handle for m and caches its counts. It reads engine state, so
// it only runs inside an invoke fn.
func (f *Facade) wrap(m engine.Mesh) *Mesh {
	h := &Mesh{f: f, m: m, kind: m.Kind()}
	h.counts()
	return h
}

// invoke runs fn as one engine call for op. h, when set, must be usable.
func (f *Facade) invoke(op string, h *Mesh, need []capability.Backend, fn func() error) error {
	if h != nil {
		if err := h.usable(); err != nil {
			return f.finish(op, err)
		}
	}
	if err := f.caps.Require(need...); err != nil {
		return f.finish(op, err)
	}
	f.pub.Publish(Event{Name: EventOpStart, Op: op})
	return f.finish(op, f.native(op, h, fn))
}

// native releases the host lock and runs fn on the pool. The lock is taken
// back on every exit path, including a recovered fault.
func (f *Facade) native(op string, h *Mesh, fn func() error) (err error) {
	f.lock.Unlock()
	defer f.lock.Lock()
	defer func() {
		if r := recover(); r != nil {
			err = f.fault(op, h, r)
		}
	}()

	start := time.Now()
	var inner error
	if rerr := f.ctl.Pool().Run(func() { inner = fn() }); rerr != nil {
		return rerr
	}
	nativeSeconds.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if inner != nil {
		return nativeError{op: op, err: inner}
	}
	return nil
}

func (f *Facade) fault(op string, h *Mesh, r any) error {
	ff := &FatalFault{Op: op}
	if tp, ok := r.(*parallel.TaskPanic); ok {
		ff.Value, ff.Stack = tp.Value, tp.Stack
	} else {
		ff.Value, ff.Stack = r, debug.Stack()
	}
	if h != nil {
		h.poison()
	}
	f.log.Error().
		Str("op", op).
		Interface("panic", ff.Value).
		Bool("handle_invalidated", h != nil).
		Msg("native fault")
	return ff
}

// finish records the outcome of op and returns err unchanged.
func (f *Facade) finish(op string, err error) error {
	outcome := Outcome(err)
	callsTotal.WithLabelValues(op, outcome).Inc()
	switch {
	case err == nil:
		f.pub.Publish(Event{Name: EventOpDone, Op: op})
		f.log.Debug().Str("op", op).Msg("ok")
	case IsFatalFault(err):
		f.pub.Publish(Event{Name: EventOpFault, Op: op, Fields: map[string]any{"error": err.Error()}})
	default:
		f.pub.Publish(Event{Name: EventOpError, Op: op, Fields: map[string]any{"error": err.Error(), "outcome": outcome}})
		f.log.Debug().Str("op", op).Str("outcome", outcome).Err(err).Msg("rejected")
	}
	return err
}
