package main

import (
	"flag"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-acoustics/internal/config"
	"github.com/Faultbox/midgard-acoustics/internal/logger"
	"github.com/Faultbox/midgard-acoustics/internal/scenefile"
	"github.com/Faultbox/midgard-acoustics/internal/scheduler"
	"github.com/Faultbox/midgard-acoustics/internal/spatial"
)

type sessionFlags struct {
	config *config.Flags
	ticks  *int
	dt     *float64
}

func registerSessionFlags(fs *flag.FlagSet) *sessionFlags {
	return &sessionFlags{
		config: config.RegisterFlags(fs),
		ticks:  fs.Int("ticks", 1, "Ticks to run"),
		dt:     fs.Float64("dt", 0.1, "Simulated seconds per tick"),
	}
}

// session is a scene loaded into an engine.
type session struct {
	cfg    *config.Config
	scene  *scenefile.Scene
	engine *spatial.Engine
	ticks  int
	dt     float64
}

type pairKey struct {
	emitter  spatial.GameObjectID
	listener spatial.GameObjectID
}

type tickStats struct {
	spatial.Stats
	elapsed time.Duration
}

func openSession(sf *sessionFlags, path string) (*session, error) {
	cfg, err := config.Load(sf.config)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.LogFile); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	if *sf.ticks < 1 {
		return nil, fmt.Errorf("ticks must be positive, got %d", *sf.ticks)
	}

	scene, err := scenefile.Load(path)
	if err != nil {
		return nil, err
	}

	sched := scheduler.New(cfg.Scheduler.Workers)
	e := spatial.New(engineOptions(cfg), sched, logger.Named("spatial"))
	if err := scene.Apply(e); err != nil {
		return nil, fmt.Errorf("apply %s: %w", path, err)
	}

	logger.Info("scene loaded",
		zap.String("path", path),
		zap.String("name", scene.Name),
		zap.Int("rooms", len(scene.Rooms)),
		zap.Int("portals", len(scene.Portals)),
		zap.Int("geometry", len(scene.Geometry)),
		zap.Int("workers", cfg.Scheduler.Workers))

	return &session{cfg: cfg, scene: scene, engine: e, ticks: *sf.ticks, dt: *sf.dt}, nil
}

func engineOptions(cfg *config.Config) spatial.Options {
	sp := &cfg.Spatial
	opts := spatial.DefaultOptions()
	opts.Tolerances = sp.GeometryTolerances()
	opts.Search = sp.SearchParams()
	opts.Stochastic = sp.StochasticParams()
	opts.MaxTraversal = sp.MaxTraversal
	opts.MovementThreshold = sp.EmitterMovementThreshold
	opts.PortalRayOffset = sp.PortalRayOffset
	opts.SceneCapacity = sp.SceneCapacity
	opts.Grain = cfg.Scheduler.Grain
	return opts
}

// run ticks the engine, moving objects with a velocity before every tick
// after the first. each, when set, is called after every tick.
func (s *session) run(each func(tickStats)) error {
	for i := 0; i < s.ticks; i++ {
		if i > 0 {
			if err := s.scene.Move(s.engine, float32(float64(i)*s.dt)); err != nil {
				return err
			}
		}
		start := time.Now()
		st := s.engine.Tick()
		elapsed := time.Since(start)
		if st.Rejected > 0 {
			logger.Warn("mutations rejected", zap.Uint64("tick", st.Tick), zap.Int("count", st.Rejected))
		}
		if each != nil {
			each(tickStats{Stats: st, elapsed: elapsed})
		}
	}
	return nil
}

// pairs lists every emitter-listener pair in scene file order.
func (s *session) pairs() []pairKey {
	var out []pairKey
	for _, em := range s.scene.Emitters {
		for _, l := range s.scene.Listeners {
			out = append(out, pairKey{
				emitter:  spatial.GameObjectID(em.ID),
				listener: spatial.GameObjectID(l.ID),
			})
		}
	}
	return out
}

func (s *session) close() {
	logger.Sync()
}
