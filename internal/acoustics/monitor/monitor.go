// Package monitor serializes a diagnostics snapshot of the propagation engine
// for external profilers: rooms, portals, the edge visibility graph and the
// live diffraction and reflection paths. The layout is a flat little-endian
// blob versioned by its header and is not a stable contract.
package monitor

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/Faultbox/midgard-acoustics/pkg/math"
)

// Magic opens every blob.
const Magic = "SADB"

// Version is the layout written by Write.
const Version uint16 = 1

// Blob errors.
var (
	ErrInvalidMagic       = errors.New("invalid monitor magic: expected 'SADB'")
	ErrUnsupportedVersion = errors.New("unsupported monitor version")
	ErrTruncated          = errors.New("truncated monitor data")
	ErrTooLarge           = errors.New("monitor record too large")
)

// maxCount bounds every count read from a blob.
const maxCount = 1 << 24

// Header is the fixed-size start of a blob.
type Header struct {
	Version          uint16
	Tick             uint64
	Rooms            uint32
	Portals          uint32
	Edges            uint32
	DiffractionPaths uint32
	ReflectionPaths  uint32
}

type rawHeader struct {
	Magic    [4]byte
	Version  uint16
	Reserved uint16
	Tick     uint64
	Counts   [5]uint32
}

// HeaderSize is the encoded size of a header.
const HeaderSize = 4 + 2 + 2 + 8 + 5*4

// Room is a room and its portal links.
type Room struct {
	ID      uint64
	Name    string
	Portals []uint64
}

// Portal is a portal opening.
type Portal struct {
	ID        uint64
	FrontRoom uint64
	BackRoom  uint64
	Enabled   bool
	Gain      float32
	Corners   [4]math.Vec3
}

// Edge is a diffraction edge with the size of its visibility lists per zone.
// Lists not built yet are reported as zero.
type Edge struct {
	Start    math.Vec3
	End      math.Vec3
	Portal   uint64
	Visible0 uint32
	Visible1 uint32
}

// Node is a bend of a diffraction path.
type Node struct {
	Point  math.Vec3
	Angle  float32
	Room   uint64
	Portal uint64
}

// DiffractionPath is a live listener-emitter diffraction path.
type DiffractionPath struct {
	Emitter     uint64
	Listener    uint64
	Placeholder bool
	Diffraction float32
	Length      float32
	Nodes       []Node
}

// Bounce is a point of a reflection path.
type Bounce struct {
	Point     math.Vec3
	TextureID uint32
}

// ReflectionPath is a live virtual source.
type ReflectionPath struct {
	Emitter     uint64
	Listener    uint64
	ID          uint64
	Order       uint16
	Diffraction float32
	Length      float32
	Image       math.Vec3
	Bounces     []Bounce
}

// Snapshot is the content of one blob.
type Snapshot struct {
	Tick        uint64
	Rooms       []Room
	Portals     []Portal
	Edges       []Edge
	Diffraction []DiffractionPath
	Reflection  []ReflectionPath
}

// Header returns the header Write emits for s.
func (s *Snapshot) Header() Header {
	return Header{
		Version:          Version,
		Tick:             s.Tick,
		Rooms:            uint32(len(s.Rooms)),
		Portals:          uint32(len(s.Portals)),
		Edges:            uint32(len(s.Edges)),
		DiffractionPaths: uint32(len(s.Diffraction)),
		ReflectionPaths:  uint32(len(s.Reflection)),
	}
}

// ReadHeader reads and checks the header at the start of r.
func ReadHeader(r io.Reader) (Header, error) {
	var raw rawHeader
	if err := binary.Read(r, binary.LittleEndian, &raw); err != nil {
		return Header{}, fmt.Errorf("%w: reading header", ErrTruncated)
	}
	if string(raw.Magic[:]) != Magic {
		return Header{}, ErrInvalidMagic
	}
	if raw.Version != Version {
		return Header{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, raw.Version)
	}
	for _, c := range raw.Counts {
		if c > maxCount {
			return Header{}, fmt.Errorf("%w: %d records", ErrTooLarge, c)
		}
	}
	return Header{
		Version:          raw.Version,
		Tick:             raw.Tick,
		Rooms:            raw.Counts[0],
		Portals:          raw.Counts[1],
		Edges:            raw.Counts[2],
		DiffractionPaths: raw.Counts[3],
		ReflectionPaths:  raw.Counts[4],
	}, nil
}

// Parse decodes a blob held in memory.
func Parse(data []byte) (*Snapshot, error) {
	return Read(bytes.NewReader(data))
}
