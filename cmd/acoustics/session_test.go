package main

import (
	"bytes"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Faultbox/midgard-acoustics/internal/acoustics/monitor"
	"github.com/Faultbox/midgard-acoustics/internal/config"
	"github.com/Faultbox/midgard-acoustics/internal/spatial"
)

const hall = `
name: hall
rooms:
  - id: 1
    name: hall
geometry:
  - id: 1
    room: 1
    diffraction: true
    boxes:
      - {min: [-1, 0, -1], max: [1, 2, 1]}
listeners:
  - id: 1
    room: 1
    position: [0, 1, -5]
emitters:
  - id: 2
    room: 1
    position: [0, 1, 5]
    velocity: [1, 0, 0]
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testSession(t *testing.T, args ...string) *session {
	t.Helper()
	cfgPath := writeFile(t, "config.yaml", "logging:\n  level: error\n")
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	sf := registerSessionFlags(fs)
	require.NoError(t, fs.Parse(append([]string{"-config", cfgPath}, args...)))
	s, err := openSession(sf, writeFile(t, "scene.yaml", hall))
	require.NoError(t, err)
	t.Cleanup(s.close)
	return s
}

func TestEngineOptions(t *testing.T) {
	cfg := config.Default()
	cfg.Spatial.Stochastic.Rays = 7
	cfg.Spatial.EmitterMovementThreshold = 2
	cfg.Spatial.SceneCapacity = 64
	cfg.Scheduler.Grain = 4

	opts := engineOptions(cfg)
	assert.Equal(t, 7, opts.Stochastic.Rays)
	assert.Equal(t, float32(2), opts.MovementThreshold)
	assert.Equal(t, 64, opts.SceneCapacity)
	assert.Equal(t, 4, opts.Grain)
	assert.Equal(t, spatial.DefaultOptions().Tolerances, opts.Tolerances)
}

func TestSessionRun(t *testing.T) {
	s := testSession(t, "-ticks", "3", "-dt", "0.5", "-workers", "1", "-rays", "32")
	assert.Equal(t, 32, s.cfg.Spatial.Stochastic.Rays)
	require.Equal(t, []pairKey{{emitter: 2, listener: 1}}, s.pairs())

	var ticks []uint64
	require.NoError(t, s.run(func(st tickStats) {
		ticks = append(ticks, st.Tick)
		assert.Zero(t, st.Rejected)
	}))
	assert.Equal(t, []uint64{1, 2, 3}, ticks)

	paths, ok := s.engine.DiffractionPaths(2, 1)
	require.True(t, ok)
	require.NotEmpty(t, paths)
	assert.Greater(t, paths[0].Length, float32(10), "the box blocks the line of sight")
}

func TestSessionRejectsNoTicks(t *testing.T) {
	cfgPath := writeFile(t, "config.yaml", "logging:\n  level: error\n")
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	sf := registerSessionFlags(fs)
	require.NoError(t, fs.Parse([]string{"-config", cfgPath, "-ticks", "0"}))
	_, err := openSession(sf, writeFile(t, "scene.yaml", hall))
	assert.Error(t, err)
}

func TestSnapshotRoundTrip(t *testing.T) {
	s := testSession(t)
	require.NoError(t, s.run(nil))

	var buf bytes.Buffer
	snap := s.engine.Snapshot()
	require.NoError(t, monitor.Write(&buf, snap))
	got, err := monitor.Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Tick)
	require.Len(t, got.Rooms, 2, "outdoors and the hall")
	assert.Len(t, got.Diffraction, len(snap.Diffraction))
	assert.NotEmpty(t, got.Edges)
}
