// Package rooms models acoustic rooms linked by portals and the propagation of
// sound through that graph.
package rooms

import (
	"errors"
	"fmt"
	"sort"

	"github.com/Faultbox/midgard-acoustics/internal/acoustics/diffraction"
	"github.com/Faultbox/midgard-acoustics/internal/acoustics/geometry"
	"github.com/Faultbox/midgard-acoustics/pkg/math"
)

// Outdoors is the implicit room holding everything not inside a room. It
// always exists and cannot be removed.
const Outdoors = geometry.NoRoom

// Validation errors.
var (
	ErrSameRoom       = errors.New("portal connects a room to itself")
	ErrZeroExtent     = errors.New("portal extent is zero")
	ErrBadOrientation = errors.New("orientation vectors are zero or parallel")
	ErrBadGain        = errors.New("gain outside [0, 1]")
	ErrUnknownRoom    = errors.New("unknown room")
	ErrUnknownPortal  = errors.New("unknown portal")
	ErrOutdoors       = errors.New("the outdoors room cannot be changed")
)

// RoomParams describes a room.
type RoomParams struct {
	Front            math.Vec3
	Up               math.Vec3
	ReverbAuxBus     uint32
	ReverbLevel      float32
	TransmissionLoss float32 // through the room's walls, 0 to 1
	Name             string
}

// ValidateRoom checks p before it is queued.
func ValidateRoom(p *RoomParams) error {
	if err := validateOrientation(p.Front, p.Up); err != nil {
		return err
	}
	if p.ReverbLevel < 0 || p.ReverbLevel > 1 {
		return fmt.Errorf("%w: reverb level %v", ErrBadGain, p.ReverbLevel)
	}
	if p.TransmissionLoss < 0 || p.TransmissionLoss > 1 {
		return fmt.Errorf("%w: transmission loss %v", ErrBadGain, p.TransmissionLoss)
	}
	return nil
}

func validateOrientation(front, up math.Vec3) error {
	if front.IsZero() || up.IsZero() {
		return ErrBadOrientation
	}
	if front.Normalize().Cross(up.Normalize()).LengthSq() < math.Epsilon {
		return ErrBadOrientation
	}
	return nil
}

type portalPair struct{ a, b geometry.PortalID }

func pairOf(a, b geometry.PortalID) portalPair {
	if b < a {
		a, b = b, a
	}
	return portalPair{a, b}
}

// Room is a registry entry. Portal links are IDs resolved through the Graph.
type Room struct {
	ID     geometry.RoomID
	Params RoomParams

	portals []geometry.PortalID // sorted
	sync    uint64

	// Diffraction segments between pairs of the room's portals.
	p2p      map[portalPair][]diffraction.Segment
	p2pState geometry.State
	p2pSync  uint64
}

func newRoom(id geometry.RoomID, p RoomParams) *Room {
	return &Room{
		ID:       id,
		Params:   p,
		p2p:      make(map[portalPair][]diffraction.Segment),
		p2pState: geometry.Dirty,
	}
}

// Portals returns the IDs of the portals opening into the room.
func (r *Room) Portals() []geometry.PortalID { return r.portals }

// Sync returns the graph token of the room's last change.
func (r *Room) Sync() uint64 { return r.sync }

func (r *Room) link(id geometry.PortalID) {
	i := sort.Search(len(r.portals), func(i int) bool { return r.portals[i] >= id })
	if i < len(r.portals) && r.portals[i] == id {
		return
	}
	r.portals = append(r.portals, 0)
	copy(r.portals[i+1:], r.portals[i:])
	r.portals[i] = id
	r.MarkPortalPathsDirty()
}

func (r *Room) unlink(id geometry.PortalID) {
	for i, p := range r.portals {
		if p == id {
			r.portals = append(r.portals[:i], r.portals[i+1:]...)
			r.MarkPortalPathsDirty()
			return
		}
	}
}

// MarkPortalPathsDirty drops the portal-to-portal cache on next rebuild.
func (r *Room) MarkPortalPathsDirty() { r.p2pState = geometry.Dirty }

// PortalPathsState returns the state of the portal-to-portal cache.
func (r *Room) PortalPathsState() geometry.State { return r.p2pState }

// PortalPathsSync returns the scene version the cache was built against.
func (r *Room) PortalPathsSync() uint64 { return r.p2pSync }

// BeginPortalPaths clears a dirty cache before it is refilled. It reports
// whether the cache needs building.
func (r *Room) BeginPortalPaths() bool {
	if r.p2pState != geometry.Dirty {
		return false
	}
	clear(r.p2p)
	r.p2pState = geometry.Rebuilding
	return true
}

// SetPortalPaths stores the segments from portal a to portal b.
func (r *Room) SetPortalPaths(a, b geometry.PortalID, segs []diffraction.Segment) {
	if b < a {
		rev := make([]diffraction.Segment, len(segs))
		for i := range segs {
			rev[i] = segs[i].Reversed()
		}
		segs = rev
	}
	r.p2p[pairOf(a, b)] = segs
}

// FinishPortalPaths marks the cache built against the given scene version.
func (r *Room) FinishPortalPaths(version uint64) {
	r.p2pState = geometry.Clean
	r.p2pSync = version
}

// PortalPaths returns the cached segments from portal a to portal b, walked in
// that direction.
func (r *Room) PortalPaths(a, b geometry.PortalID) ([]diffraction.Segment, bool) {
	segs, ok := r.p2p[pairOf(a, b)]
	if !ok || a < b {
		return segs, ok
	}
	rev := make([]diffraction.Segment, len(segs))
	for i := range segs {
		rev[i] = segs[i].Reversed()
	}
	return rev, true
}
