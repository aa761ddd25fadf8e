// Package scenefile reads YAML scene descriptions: geometry, rooms, portals
// and the game objects placed in them.
package scenefile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Faultbox/midgard-acoustics/internal/acoustics/geometry"
	"github.com/Faultbox/midgard-acoustics/internal/acoustics/rooms"
	"github.com/Faultbox/midgard-acoustics/internal/spatial"
	"github.com/Faultbox/midgard-acoustics/pkg/math"
)

// ErrInvalid reports a scene file that parses but cannot be applied.
var ErrInvalid = errors.New("invalid scene")

// Vec is a vector written as a three-element sequence.
type Vec math.Vec3

// UnmarshalYAML implements yaml.Unmarshaler.
func (v *Vec) UnmarshalYAML(n *yaml.Node) error {
	var xs []float32
	if err := n.Decode(&xs); err != nil {
		return err
	}
	if len(xs) != 3 {
		return fmt.Errorf("line %d: vector has %d components, want 3", n.Line, len(xs))
	}
	*v = Vec{X: xs[0], Y: xs[1], Z: xs[2]}
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (v Vec) MarshalYAML() (interface{}, error) {
	n := &yaml.Node{Kind: yaml.SequenceNode, Style: yaml.FlowStyle}
	for _, x := range []float32{v.X, v.Y, v.Z} {
		var c yaml.Node
		if err := c.Encode(x); err != nil {
			return nil, err
		}
		n.Content = append(n.Content, &c)
	}
	return n, nil
}

func (v Vec) vec3() math.Vec3 { return math.Vec3(v) }

// Scene is a whole scene file.
type Scene struct {
	Name      string     `yaml:"name,omitempty"`
	Rooms     []Room     `yaml:"rooms,omitempty"`
	Portals   []Portal   `yaml:"portals,omitempty"`
	Geometry  []Geometry `yaml:"geometry,omitempty"`
	Listeners []Object   `yaml:"listeners,omitempty"`
	Emitters  []Object   `yaml:"emitters,omitempty"`
}

// Room describes a room.
type Room struct {
	ID               uint64  `yaml:"id"`
	Name             string  `yaml:"name,omitempty"`
	Front            *Vec    `yaml:"front,omitempty"`
	Up               *Vec    `yaml:"up,omitempty"`
	ReverbAuxBus     uint32  `yaml:"reverb_aux_bus,omitempty"`
	ReverbLevel      float32 `yaml:"reverb_level,omitempty"`
	TransmissionLoss float32 `yaml:"transmission_loss,omitempty"`
}

// Portal describes an opening between two rooms.
type Portal struct {
	ID          uint64   `yaml:"id"`
	Position    Vec      `yaml:"position"`
	Front       Vec      `yaml:"front"`
	Up          *Vec     `yaml:"up,omitempty"`
	Extent      Vec      `yaml:"extent"`
	FrontRoom   uint64   `yaml:"front_room"`
	BackRoom    uint64   `yaml:"back_room"`
	Enabled     *bool    `yaml:"enabled,omitempty"`
	Gain        *float32 `yaml:"gain,omitempty"`
	Obstruction float32  `yaml:"obstruction,omitempty"`
	Occlusion   float32  `yaml:"occlusion,omitempty"`
}

// Surface is an acoustic material.
type Surface struct {
	Name         string  `yaml:"name,omitempty"`
	TextureID    uint32  `yaml:"texture,omitempty"`
	Transmission float32 `yaml:"transmission,omitempty"`
}

// Box is an axis-aligned box.
type Box struct {
	Min     Vec     `yaml:"min"`
	Max     Vec     `yaml:"max"`
	Surface *uint16 `yaml:"surface,omitempty"`
}

// Mesh is a raw triangle list. Each triangle holds three vertex indices and
// an optional surface index.
type Mesh struct {
	Vertices  []Vec      `yaml:"vertices"`
	Triangles [][]uint32 `yaml:"triangles"`
}

// Geometry is one geometry set built from boxes, quads and meshes.
type Geometry struct {
	ID            uint64    `yaml:"id"`
	Room          uint64    `yaml:"room,omitempty"`
	Diffraction   bool      `yaml:"diffraction,omitempty"`
	BoundaryEdges bool      `yaml:"boundary_edges,omitempty"`
	Surfaces      []Surface `yaml:"surfaces,omitempty"`
	Boxes         []Box     `yaml:"boxes,omitempty"`
	Quads         [][]Vec   `yaml:"quads,omitempty"`
	Meshes        []Mesh    `yaml:"meshes,omitempty"`
}

// Object is a listener or an emitter.
type Object struct {
	ID       uint64 `yaml:"id"`
	Room     uint64 `yaml:"room,omitempty"`
	Position Vec    `yaml:"position"`
	Front    *Vec   `yaml:"front,omitempty"`
	Up       *Vec   `yaml:"up,omitempty"`
	Velocity *Vec   `yaml:"velocity,omitempty"` // units per second
}

// Load reads and parses a scene file.
func Load(path string) (*Scene, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scene: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Parse decodes a scene and validates it. Unknown keys are errors.
func Parse(data []byte) (*Scene, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var s Scene
	if err := dec.Decode(&s); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parse scene: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Encode writes the scene as YAML.
func (s *Scene) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return err
	}
	return enc.Close()
}

// Validate checks IDs and shapes. Geometry, room and portal payloads are
// checked again by the engine when applied.
func (s *Scene) Validate() error {
	seen := make(map[string]map[uint64]bool)
	unique := func(kind string, id uint64) error {
		if seen[kind] == nil {
			seen[kind] = make(map[uint64]bool)
		}
		if seen[kind][id] {
			return fmt.Errorf("%w: duplicate %s %d", ErrInvalid, kind, id)
		}
		seen[kind][id] = true
		return nil
	}

	for _, r := range s.Rooms {
		if r.ID == uint64(rooms.Outdoors) {
			return fmt.Errorf("%w: room id 0 is the outdoors", ErrInvalid)
		}
		if err := unique("room", r.ID); err != nil {
			return err
		}
	}
	for _, p := range s.Portals {
		if err := unique("portal", p.ID); err != nil {
			return err
		}
	}
	for _, g := range s.Geometry {
		if err := unique("geometry", g.ID); err != nil {
			return err
		}
		if len(g.Boxes)+len(g.Quads)+len(g.Meshes) == 0 {
			return fmt.Errorf("%w: geometry %d has no shape", ErrInvalid, g.ID)
		}
		for i, q := range g.Quads {
			if len(q) != 4 {
				return fmt.Errorf("%w: geometry %d quad %d has %d corners", ErrInvalid, g.ID, i, len(q))
			}
		}
		for i, m := range g.Meshes {
			for j, t := range m.Triangles {
				if len(t) != 3 && len(t) != 4 {
					return fmt.Errorf("%w: geometry %d mesh %d triangle %d has %d entries", ErrInvalid, g.ID, i, j, len(t))
				}
			}
		}
	}
	for _, o := range s.Listeners {
		if err := unique("game object", o.ID); err != nil {
			return err
		}
	}
	for _, o := range s.Emitters {
		if err := unique("game object", o.ID); err != nil {
			return err
		}
	}
	return nil
}

// Params builds the geometry set payload.
func (g *Geometry) Params() geometry.Params {
	var p geometry.Params
	for _, b := range g.Boxes {
		surface := geometry.NoSurface
		if b.Surface != nil {
			surface = *b.Surface
		}
		p = geometry.Merge(p, geometry.Box(b.Min.vec3().Min(b.Max.vec3()), b.Min.vec3().Max(b.Max.vec3()), surface))
	}
	for _, q := range g.Quads {
		p = geometry.Merge(p, geometry.Quad([4]math.Vec3{q[0].vec3(), q[1].vec3(), q[2].vec3(), q[3].vec3()}, geometry.NoSurface))
	}
	for _, m := range g.Meshes {
		mp := geometry.Params{Vertices: make([]math.Vec3, len(m.Vertices))}
		for i, v := range m.Vertices {
			mp.Vertices[i] = v.vec3()
		}
		for _, t := range m.Triangles {
			tri := geometry.Triangle{A: t[0], B: t[1], C: t[2], Surface: geometry.NoSurface}
			if len(t) == 4 {
				tri.Surface = uint16(t[3])
			}
			mp.Triangles = append(mp.Triangles, tri)
		}
		p = geometry.Merge(p, mp)
	}
	for _, s := range g.Surfaces {
		p.Surfaces = append(p.Surfaces, geometry.Surface{TextureID: s.TextureID, Transmission: s.Transmission, Name: s.Name})
	}
	p.Room = geometry.RoomID(g.Room)
	p.EnableDiffraction = g.Diffraction
	p.EnableBoundaryEdges = g.BoundaryEdges
	return p
}

// Params builds the room payload. Orientation defaults to +Z front, +Y up.
func (r *Room) Params() rooms.RoomParams {
	d := math.DefaultTransform()
	p := rooms.RoomParams{
		Front:            d.Front,
		Up:               d.Up,
		ReverbAuxBus:     r.ReverbAuxBus,
		ReverbLevel:      r.ReverbLevel,
		TransmissionLoss: r.TransmissionLoss,
		Name:             r.Name,
	}
	if r.Front != nil {
		p.Front = r.Front.vec3()
	}
	if r.Up != nil {
		p.Up = r.Up.vec3()
	}
	return p
}

// Params builds the portal payload. Portals are enabled with unit gain unless
// stated otherwise; up defaults to +Y.
func (p *Portal) Params() rooms.PortalParams {
	out := rooms.PortalParams{
		Transform: math.Transform{Position: p.Position.vec3(), Front: p.Front.vec3(), Up: math.V3(0, 1, 0)},
		Extent:    p.Extent.vec3(),
		Enabled:   true,
		FrontRoom: geometry.RoomID(p.FrontRoom),
		BackRoom:  geometry.RoomID(p.BackRoom),
		Gain:      1,
	}
	if p.Up != nil {
		out.Transform.Up = p.Up.vec3()
	}
	if p.Enabled != nil {
		out.Enabled = *p.Enabled
	}
	if p.Gain != nil {
		out.Gain = *p.Gain
	}
	return out
}

// TransformAt returns the object's transform after the given time.
func (o *Object) TransformAt(seconds float32) math.Transform {
	t := math.DefaultTransform()
	t.Position = o.Position.vec3()
	if o.Front != nil {
		t.Front = o.Front.vec3()
	}
	if o.Up != nil {
		t.Up = o.Up.vec3()
	}
	if o.Velocity != nil {
		t.Position = t.Position.Add(o.Velocity.vec3().Scale(seconds))
	}
	return t
}

// Target is what a scene is applied to; *spatial.Engine implements it.
type Target interface {
	SetRoom(geometry.RoomID, rooms.RoomParams) error
	SetPortal(geometry.PortalID, rooms.PortalParams) error
	SetPortalObstructionAndOcclusion(geometry.PortalID, float32, float32) error
	SetGeometry(geometry.SetID, geometry.Params) error
	RegisterListener(spatial.GameObjectID) error
	RegisterEmitter(spatial.GameObjectID) error
	SetGameObjectInRoom(spatial.GameObjectID, geometry.RoomID) error
	SetTransform(spatial.GameObjectID, math.Transform) error
}

var _ Target = (*spatial.Engine)(nil)

// Apply issues the mutations that build the scene: rooms, portals, geometry,
// then the game objects.
func (s *Scene) Apply(t Target) error {
	for i := range s.Rooms {
		r := &s.Rooms[i]
		if err := t.SetRoom(geometry.RoomID(r.ID), r.Params()); err != nil {
			return err
		}
	}
	for i := range s.Portals {
		p := &s.Portals[i]
		id := geometry.PortalID(p.ID)
		if err := t.SetPortal(id, p.Params()); err != nil {
			return err
		}
		if p.Obstruction != 0 || p.Occlusion != 0 {
			if err := t.SetPortalObstructionAndOcclusion(id, p.Obstruction, p.Occlusion); err != nil {
				return err
			}
		}
	}
	for i := range s.Geometry {
		g := &s.Geometry[i]
		if err := t.SetGeometry(geometry.SetID(g.ID), g.Params()); err != nil {
			return err
		}
	}
	register := func(objs []Object, reg func(spatial.GameObjectID) error) error {
		for i := range objs {
			o := &objs[i]
			id := spatial.GameObjectID(o.ID)
			if err := reg(id); err != nil {
				return err
			}
			if err := t.SetGameObjectInRoom(id, geometry.RoomID(o.Room)); err != nil {
				return err
			}
			if err := t.SetTransform(id, o.TransformAt(0)); err != nil {
				return err
			}
		}
		return nil
	}
	if err := register(s.Listeners, t.RegisterListener); err != nil {
		return err
	}
	return register(s.Emitters, t.RegisterEmitter)
}

// Move sets the transform of every moving object for the given time.
func (s *Scene) Move(t Target, seconds float32) error {
	for _, objs := range [][]Object{s.Listeners, s.Emitters} {
		for i := range objs {
			o := &objs[i]
			if o.Velocity == nil {
				continue
			}
			if err := t.SetTransform(spatial.GameObjectID(o.ID), o.TransformAt(seconds)); err != nil {
				return err
			}
		}
	}
	return nil
}
