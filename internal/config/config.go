// Package config handles engine configuration loading and management.
package config

import (
	"github.com/Faultbox/midgard-acoustics/internal/acoustics/diffraction"
	"github.com/Faultbox/midgard-acoustics/internal/acoustics/geometry"
	"github.com/Faultbox/midgard-acoustics/internal/acoustics/rooms"
	"github.com/Faultbox/midgard-acoustics/internal/acoustics/stochastic"
)

// Config holds all engine settings.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Spatial   SpatialConfig   `yaml:"spatial"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// SchedulerConfig sizes the task scheduler.
type SchedulerConfig struct {
	Workers int `yaml:"workers"` // 0 = GOMAXPROCS, 1 = serial
	Grain   int `yaml:"grain"`   // tasks per chunk, 0 = spread evenly
}

// SpatialConfig holds the tuned constants of the propagation engine.
type SpatialConfig struct {
	Tolerances ToleranceConfig  `yaml:"tolerances"`
	Search     SearchConfig     `yaml:"search"`
	Stochastic StochasticConfig `yaml:"stochastic"`

	MaxTraversal             int     `yaml:"max_traversal"`
	EmitterMovementThreshold float32 `yaml:"emitter_movement_threshold"`
	PortalRayOffset          float32 `yaml:"portal_ray_offset"`
	SceneCapacity            int     `yaml:"scene_capacity"` // indexed primitives per scene, 0 = unbounded
}

// ToleranceConfig holds geometric epsilons in scene units.
type ToleranceConfig struct {
	Zone           float32 `yaml:"zone"`
	CoplanarNormal float32 `yaml:"coplanar_normal"`
	CoplanarDist   float32 `yaml:"coplanar_distance"`
	Nudge          float32 `yaml:"nudge"`
	RayOffset      float32 `yaml:"ray_offset"`
}

// SearchConfig tunes the diffraction edge path search.
type SearchConfig struct {
	MaxPaths          int     `yaml:"max_paths"`
	MaxDegree         int     `yaml:"max_degree"`
	MaxPathLength     float32 `yaml:"max_path_length"`
	DistanceWeight    float32 `yaml:"distance_weight"`
	DiffractionWeight float32 `yaml:"diffraction_weight"`
	MaxExpansions     int     `yaml:"max_expansions"`
	RelaxIterations   int     `yaml:"relax_iterations"`
}

// StochasticConfig tunes the reflection ray caster.
type StochasticConfig struct {
	Rays                int     `yaml:"rays"`
	MaxReflectionOrder  int     `yaml:"max_reflection_order"`
	MaxDiffractionOrder int     `yaml:"max_diffraction_order"`
	MaxPathLength       float32 `yaml:"max_path_length"`
	ReceptorSampleRatio float32 `yaml:"receptor_sample_ratio"`
	MovementThreshold   float32 `yaml:"movement_threshold"`
	RepairRadius        float32 `yaml:"repair_radius"`
	Seed                uint64  `yaml:"seed"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	tol := geometry.DefaultTolerances()
	search := diffraction.DefaultParams()
	st := stochastic.DefaultConfig()
	return &Config{
		Logging: LoggingConfig{
			Level:   "info",
			LogFile: "",
		},
		Spatial: SpatialConfig{
			Tolerances: ToleranceConfig{
				Zone:           tol.Zone,
				CoplanarNormal: tol.CoplanarNormal,
				CoplanarDist:   tol.CoplanarDist,
				Nudge:          tol.Nudge,
				RayOffset:      tol.RayOffset,
			},
			Search: SearchConfig{
				MaxPaths:          search.MaxPaths,
				MaxDegree:         search.MaxDegree,
				MaxPathLength:     search.MaxPathLength,
				DistanceWeight:    search.DistanceWeight,
				DiffractionWeight: search.DiffractionWeight,
				MaxExpansions:     search.MaxExpansions,
				RelaxIterations:   search.RelaxIterations,
			},
			Stochastic: StochasticConfig{
				Rays:                st.Rays,
				MaxReflectionOrder:  st.MaxReflectionOrder,
				MaxDiffractionOrder: st.MaxDiffractionOrder,
				MaxPathLength:       st.MaxPathLength,
				ReceptorSampleRatio: st.ReceptorSampleRatio,
				MovementThreshold:   st.MovementThreshold,
				RepairRadius:        st.RepairRadius,
				Seed:                st.Seed,
			},
			MaxTraversal:             rooms.MaxTraversal,
			EmitterMovementThreshold: 0.25,
			PortalRayOffset:          0.1,
		},
		Scheduler: SchedulerConfig{
			Workers: 0,
			Grain:   1,
		},
	}
}

// GeometryTolerances converts the tolerance section.
func (c *SpatialConfig) GeometryTolerances() geometry.Tolerances {
	t := c.Tolerances
	return geometry.Tolerances{
		Zone:           t.Zone,
		CoplanarNormal: t.CoplanarNormal,
		CoplanarDist:   t.CoplanarDist,
		Nudge:          t.Nudge,
		RayOffset:      t.RayOffset,
	}
}

// SearchParams converts the search section.
func (c *SpatialConfig) SearchParams() diffraction.Params {
	s := c.Search
	return diffraction.Params{
		MaxPaths:          s.MaxPaths,
		MaxDegree:         s.MaxDegree,
		MaxPathLength:     s.MaxPathLength,
		DistanceWeight:    s.DistanceWeight,
		DiffractionWeight: s.DiffractionWeight,
		MaxExpansions:     s.MaxExpansions,
		RelaxIterations:   s.RelaxIterations,
	}
}

// StochasticParams converts the stochastic section.
func (c *SpatialConfig) StochasticParams() stochastic.Config {
	s := c.Stochastic
	return stochastic.Config{
		Rays:                s.Rays,
		MaxReflectionOrder:  s.MaxReflectionOrder,
		MaxDiffractionOrder: s.MaxDiffractionOrder,
		MaxPathLength:       s.MaxPathLength,
		ReceptorSampleRatio: s.ReceptorSampleRatio,
		MovementThreshold:   s.MovementThreshold,
		RepairRadius:        s.RepairRadius,
		Seed:                s.Seed,
	}
}
