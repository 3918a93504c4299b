// Package mesh provides mesh buffers, primitive templates and the fusion
// of many instanced meshes into one contiguous buffer.
package mesh

import (
	"errors"
	"fmt"
)

// Mesh errors.
var (
	ErrMissingAttribute    = errors.New("missing mesh attribute")
	ErrLengthMismatch      = errors.New("meshes and transforms length mismatch")
	ErrAttributeLength     = errors.New("attribute length does not match vertex count")
	ErrIndexOutOfRange     = errors.New("index out of range")
	ErrIncompleteTriangle  = errors.New("index count is not a multiple of 3")
	ErrTooManyVertices     = errors.New("vertex count exceeds uint32 index range")
	ErrTooManySubdivisions = errors.New("too many icosphere subdivisions")
)

// Attribute identifies a per-vertex array (or the index list) of a Mesh.
type Attribute uint8

// Mesh attributes.
const (
	AttributePosition Attribute = iota
	AttributeNormal
	AttributeTangent
	AttributeUV
	AttributeColor
	AttributeIndices
)

// String returns the attribute name.
func (a Attribute) String() string {
	switch a {
	case AttributePosition:
		return "position"
	case AttributeNormal:
		return "normal"
	case AttributeTangent:
		return "tangent"
	case AttributeUV:
		return "uv"
	case AttributeColor:
		return "color"
	case AttributeIndices:
		return "indices"
	default:
		return fmt.Sprintf("Unknown(%d)", a)
	}
}

// Mesh is an indexed triangle list with parallel per-vertex arrays.
// A nil optional array means the attribute is absent; a present one has
// exactly one entry per position.
type Mesh struct {
	Positions [][3]float32
	Normals   [][3]float32
	Tangents  [][4]float32 // xyz tangent, w handedness
	UVs       [][2]float32
	Colors    [][4]float32 // linear RGBA in 0..1
	Indices   []uint32
}

// Bounds holds the axis-aligned bounding box of a mesh.
type Bounds struct {
	Min [3]float32
	Max [3]float32
}

// VertexCount returns the number of vertices.
func (m *Mesh) VertexCount() int {
	return len(m.Positions)
}

// TriangleCount returns the number of triangles.
func (m *Mesh) TriangleCount() int {
	return len(m.Indices) / 3
}

// Has reports whether the attribute is present.
func (m *Mesh) Has(a Attribute) bool {
	switch a {
	case AttributePosition:
		return m.Positions != nil
	case AttributeNormal:
		return m.Normals != nil
	case AttributeTangent:
		return m.Tangents != nil
	case AttributeUV:
		return m.UVs != nil
	case AttributeColor:
		return m.Colors != nil
	case AttributeIndices:
		return m.Indices != nil
	default:
		return false
	}
}

// Validate checks the buffer invariants: positions and indices exist,
// every present attribute has one entry per vertex, indices form whole
// triangles and reference existing vertices.
func (m *Mesh) Validate() error {
	if m.Positions == nil {
		return fmt.Errorf("%w: %s", ErrMissingAttribute, AttributePosition)
	}
	if m.Indices == nil {
		return fmt.Errorf("%w: %s", ErrMissingAttribute, AttributeIndices)
	}

	n := len(m.Positions)
	lengths := []struct {
		attr Attribute
		len  int
		ok   bool
	}{
		{AttributeNormal, len(m.Normals), m.Normals != nil},
		{AttributeTangent, len(m.Tangents), m.Tangents != nil},
		{AttributeUV, len(m.UVs), m.UVs != nil},
		{AttributeColor, len(m.Colors), m.Colors != nil},
	}
	for _, l := range lengths {
		if l.ok && l.len != n {
			return fmt.Errorf("%w: %s has %d entries, %d vertices", ErrAttributeLength, l.attr, l.len, n)
		}
	}

	if len(m.Indices)%3 != 0 {
		return fmt.Errorf("%w: %d indices", ErrIncompleteTriangle, len(m.Indices))
	}
	for i, idx := range m.Indices {
		if int(idx) >= n {
			return fmt.Errorf("%w: index %d is %d, %d vertices", ErrIndexOutOfRange, i, idx, n)
		}
	}
	return nil
}

// Bounds returns the axis-aligned bounding box of all positions.
// An empty mesh has zero bounds.
func (m *Mesh) Bounds() Bounds {
	if len(m.Positions) == 0 {
		return Bounds{}
	}
	b := Bounds{Min: m.Positions[0], Max: m.Positions[0]}
	for _, p := range m.Positions[1:] {
		updateBounds(&b, p)
	}
	return b
}

func updateBounds(b *Bounds, p [3]float32) {
	for i := 0; i < 3; i++ {
		if p[i] < b.Min[i] {
			b.Min[i] = p[i]
		}
		if p[i] > b.Max[i] {
			b.Max[i] = p[i]
		}
	}
}

// Size returns the extent of the box on each axis.
func (b Bounds) Size() [3]float32 {
	return [3]float32{b.Max[0] - b.Min[0], b.Max[1] - b.Min[1], b.Max[2] - b.Min[2]}
}
