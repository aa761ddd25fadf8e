// Package spatial is the registry and per-tick orchestration of the
// propagation engine. Mutations are validated when called and applied at
// the start of the next Tick; the tick then fans the path computations out
// over a scheduler and publishes the results for the query methods.
package spatial

import (
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-acoustics/internal/acoustics/diffraction"
	"github.com/Faultbox/midgard-acoustics/internal/acoustics/geometry"
	"github.com/Faultbox/midgard-acoustics/internal/acoustics/imagesource"
	"github.com/Faultbox/midgard-acoustics/internal/acoustics/rooms"
	"github.com/Faultbox/midgard-acoustics/internal/acoustics/stochastic"
	"github.com/Faultbox/midgard-acoustics/internal/logger"
	"github.com/Faultbox/midgard-acoustics/internal/scheduler"
	"github.com/Faultbox/midgard-acoustics/pkg/math"
)

// GameObjectID names a listener or an emitter.
type GameObjectID uint64

// Engine errors.
var (
	ErrUnknownGeometry   = errors.New("unknown geometry")
	ErrUnknownGameObject = errors.New("unknown game object")
	ErrBadTransform      = errors.New("transform orientation is zero or parallel")
	ErrBadAttenuation    = errors.New("attenuation outside [0, 1]")
)

// Options tunes an Engine.
type Options struct {
	Tolerances geometry.Tolerances
	Search     diffraction.Params
	Stochastic stochastic.Config

	MaxTraversal      int     // portals per propagation path
	MovementThreshold float32 // movement that invalidates cached portal segments
	PortalRayOffset   float32 // distance of a portal's ray-trace position from the opening
	SceneCapacity     int     // indexed primitives per scene, 0 = unbounded
	Grain             int     // tasks per scheduler chunk, 0 = spread evenly
}

// DefaultOptions returns the engine defaults.
func DefaultOptions() Options {
	return Options{
		Tolerances:        geometry.DefaultTolerances(),
		Search:            diffraction.DefaultParams(),
		Stochastic:        stochastic.DefaultConfig(),
		MaxTraversal:      rooms.MaxTraversal,
		MovementThreshold: 0.25,
		PortalRayOffset:   0.1,
		Grain:             1,
	}
}

// Stats counts the work of one tick.
type Stats struct {
	Tick          uint64
	Commands      int
	Rejected      int
	Scenes        int
	Rebuilt       int // scenes whose caches were invalidated
	PortalTasks   int // portal openings recut
	P2PTasks      int // portal pairs searched
	ListenerTasks int
	CastTasks     int // portal-side ray casts
	EmitterTasks  int
	PairTasks     int
	Invalidated   int // emitters whose portal segments were dropped
}

type gameObject struct {
	transform math.Transform
	room      geometry.RoomID
	listener  bool
	emitter   bool
}

// portalSegments caches the diffraction segments between a game object and
// the portals of its room.
type portalSegments struct {
	segs    map[geometry.PortalID][]diffraction.Segment
	at      math.Vec3
	room    geometry.RoomID
	scene   *geometry.Scene
	version uint64
	sync    uint64
	valid   bool
}

func (c *portalSegments) stale(pos math.Vec3, room geometry.RoomID, scene *geometry.Scene, sync uint64, threshold float32) bool {
	return !c.valid || c.room != room || c.scene != scene || c.version != scene.Version() ||
		c.sync != sync || c.at.Distance(pos) > threshold
}

type listener struct {
	id       GameObjectID
	pos      math.Vec3
	room     geometry.RoomID
	scene    *geometry.Scene
	caster   *stochastic.Engine
	searcher *diffraction.Searcher
	portals  portalSegments
}

type emitter struct {
	id        GameObjectID
	transform math.Transform
	room      geometry.RoomID
	scene     *geometry.Scene
	searcher  *diffraction.Searcher
	portals   portalSegments
	pairs     map[GameObjectID]*pair
}

// pair holds what one emitter keeps for one listener. The task of the pair
// owns everything but the published fields, which are written in the
// single-threaded result pass and read by queries.
type pair struct {
	searcher    *diffraction.Searcher
	reflections stochastic.EmitterState
	through     stochastic.EmitterState // reflections seen through a portal
	side        portalSide

	diffraction []diffraction.Path
	propagation []rooms.PropagationPath
	virtual     []imagesource.VirtualSource
}

// portalSide names the room a portal caster looks into.
type portalSide struct {
	portal geometry.PortalID
	room   geometry.RoomID
}

// portalCut records the holes a portal cut and what they were cut against.
type portalCut struct {
	scene   *geometry.Scene
	shape   portalShape
	version uint64
	planes  []geometry.PlaneRef
}

type command struct {
	op    string
	apply func() error
}

// Engine is the propagation engine: the geometry, room and game-object
// registries plus the per-tick task pipeline. All methods are safe for
// concurrent use; Tick must be called from one goroutine at a time.
type Engine struct {
	opts  Options
	sched scheduler.Scheduler
	log   *zap.Logger

	inMu     sync.Mutex
	commands []command
	inputs   map[GameObjectID]math.Transform

	// mu is the geometry lock. The tick holds it exclusively while applying
	// commands and writing results back, and shared while tasks run.
	mu           sync.RWMutex
	graph        *rooms.Graph
	graphSync    uint64
	sets         map[geometry.SetID]*geometry.GeometrySet
	scenes       map[uint64]*geometry.Scene
	defaultScene *geometry.Scene
	roomScene    map[geometry.RoomID]*geometry.Scene
	nextScene    uint64
	cuts         map[geometry.PortalID]*portalCut
	casters      map[portalSide]*stochastic.Engine
	objects      map[GameObjectID]*gameObject
	listeners    map[GameObjectID]*listener
	emitters     map[GameObjectID]*emitter
	tick         uint64
	stats        Stats

	portalQ   *scheduler.Queue[portalTask]
	p2pQ      *scheduler.Queue[p2pTask]
	listenerQ *scheduler.Queue[listenerTask]
	castQ     *scheduler.Queue[castTask]
	emitterQ  *scheduler.Queue[emitterTask]
	pairQ     *scheduler.Queue[pairTask]

	// per-tick scratch
	cutPre   map[*geometry.Scene]uint64
	cutDirty map[*geometry.Scene]bool
	p2pRooms []*rooms.Room
}

// New creates an engine. A nil scheduler runs every task serially; a nil
// logger uses the package logger.
func New(opts Options, sched scheduler.Scheduler, log *zap.Logger) *Engine {
	if sched == nil {
		sched = scheduler.Serial{}
	}
	if log == nil {
		log = logger.Named("spatial")
	}
	if opts.MaxTraversal <= 0 || opts.MaxTraversal > rooms.MaxTraversal {
		opts.MaxTraversal = rooms.MaxTraversal
	}
	if opts.PortalRayOffset <= 0 {
		opts.PortalRayOffset = DefaultOptions().PortalRayOffset
	}
	e := &Engine{
		opts:      opts,
		sched:     sched,
		log:       log,
		inputs:    make(map[GameObjectID]math.Transform),
		graph:     rooms.NewGraph(),
		sets:      make(map[geometry.SetID]*geometry.GeometrySet),
		scenes:    make(map[uint64]*geometry.Scene),
		roomScene: make(map[geometry.RoomID]*geometry.Scene),
		cuts:      make(map[geometry.PortalID]*portalCut),
		casters:   make(map[portalSide]*stochastic.Engine),
		objects:   make(map[GameObjectID]*gameObject),
		listeners: make(map[GameObjectID]*listener),
		emitters:  make(map[GameObjectID]*emitter),
		cutPre:    make(map[*geometry.Scene]uint64),
		cutDirty:  make(map[*geometry.Scene]bool),
	}
	e.defaultScene = geometry.NewScene(0, opts.Tolerances, opts.SceneCapacity)
	e.defaultScene.Retain()
	e.scenes[0] = e.defaultScene
	e.roomScene[rooms.Outdoors] = e.defaultScene

	e.portalQ = scheduler.NewQueue("portal-raycast", e.runPortal, e.processPortal)
	e.p2pQ = scheduler.NewQueue("portal-to-portal", e.runP2P, e.processP2P)
	e.listenerQ = scheduler.NewQueue("listener", e.runListener, nil)
	e.castQ = scheduler.NewQueue("portal-cast", runCast, nil)
	e.emitterQ = scheduler.NewQueue("emitter", e.runEmitter, nil)
	e.pairQ = scheduler.NewQueue("emitter-listener", e.runPair, processPair)
	return e
}

// Options returns the engine's options.
func (e *Engine) Options() Options { return e.opts }

func (e *Engine) newListener(id GameObjectID) *listener {
	return &listener{
		id:       id,
		caster:   stochastic.New(e.opts.Stochastic, nil),
		searcher: diffraction.NewSearcher(e.opts.Search),
	}
}

func (e *Engine) newEmitter(id GameObjectID) *emitter {
	return &emitter{
		id:       id,
		searcher: diffraction.NewSearcher(e.opts.Search),
		pairs:    make(map[GameObjectID]*pair),
	}
}

func sortedIDs[K ~uint64, V any](m map[K]V) []K {
	ids := make([]K, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
