package stochastic

import (
	stdmath "math"
	"math/rand/v2"

	"github.com/Faultbox/midgard-acoustics/pkg/math"
)

// RayGenerator produces the primary ray directions of a cast.
type RayGenerator interface {
	// Generate appends n unit directions to dst.
	Generate(dst []math.Vec3, n int) []math.Vec3
}

// UniformSphere samples directions uniformly over the unit sphere. Polar angle
// and azimuth come from two independent PCG streams seeded from Seed, so every
// call with the same n returns the same directions.
type UniformSphere struct {
	Seed uint64
}

// NewUniformSphere returns a generator with the given seed.
func NewUniformSphere(seed uint64) *UniformSphere {
	return &UniformSphere{Seed: seed}
}

func (u *UniformSphere) Generate(dst []math.Vec3, n int) []math.Vec3 {
	polar := rand.New(rand.NewPCG(u.Seed, 0x9e3779b97f4a7c15))
	azimuth := rand.New(rand.NewPCG(u.Seed, 0xbf58476d1ce4e5b9))
	for i := 0; i < n; i++ {
		cosTheta := 2*polar.Float64() - 1
		sinTheta := stdmath.Sqrt(1 - cosTheta*cosTheta)
		phi := 2 * stdmath.Pi * azimuth.Float64()
		dst = append(dst, math.V3(
			float32(sinTheta*stdmath.Cos(phi)),
			float32(cosTheta),
			float32(sinTheta*stdmath.Sin(phi)),
		))
	}
	return dst
}

// FixedDirections replays a fixed list of directions, cycling when more are
// requested than it holds.
type FixedDirections []math.Vec3

func (f FixedDirections) Generate(dst []math.Vec3, n int) []math.Vec3 {
	if len(f) == 0 {
		return dst
	}
	for i := 0; i < n; i++ {
		dst = append(dst, f[i%len(f)].Normalize())
	}
	return dst
}
