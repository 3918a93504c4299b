package mesh

import (
	"fmt"
	gomath "math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/Faultbox/plycloud/pkg/math"
)

// minParallelInstances is the instance count below which fusion stays on
// the calling goroutine.
const minParallelInstances = 4096

// FuseOptions selects which optional attributes the fused mesh carries.
type FuseOptions struct {
	UseNormals  bool
	UseTangents bool
	UseUVs      bool
	UseColors   bool

	// Workers bounds the goroutines used for large inputs.
	// Zero means GOMAXPROCS; one disables parallelism.
	Workers int
}

func (o FuseOptions) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// Placement positions and colors one instance of a template.
type Placement struct {
	Transform math.Mat4
	Color     [4]float32
}

// ColorFromRGB8 converts an 8-bit RGB color to normalized RGBA with
// alpha 1.
func ColorFromRGB8(r, g, b uint8) [4]float32 {
	return [4]float32{float32(r) / 255, float32(g) / 255, float32(b) / 255, 1}
}

// require checks that m carries every attribute opts asks for.
// Colors are only required when they come from the mesh itself.
func (m *Mesh) require(opts FuseOptions, colorsFromMesh bool) error {
	required := []Attribute{AttributePosition, AttributeIndices}
	if opts.UseNormals {
		required = append(required, AttributeNormal)
	}
	if opts.UseTangents {
		required = append(required, AttributeTangent)
	}
	if opts.UseUVs {
		required = append(required, AttributeUV)
	}
	if opts.UseColors && colorsFromMesh {
		required = append(required, AttributeColor)
	}

	for _, a := range required {
		if !m.Has(a) {
			return fmt.Errorf("%w: %s", ErrMissingAttribute, a)
		}
	}
	return m.Validate()
}

// newBuffer allocates an output mesh sized for the given totals, with
// only the requested attributes present.
func newBuffer(vertices, indices int, opts FuseOptions) *Mesh {
	out := &Mesh{
		Positions: make([][3]float32, vertices),
		Indices:   make([]uint32, indices),
	}
	if opts.UseNormals {
		out.Normals = make([][3]float32, vertices)
	}
	if opts.UseTangents {
		out.Tangents = make([][4]float32, vertices)
	}
	if opts.UseUVs {
		out.UVs = make([][2]float32, vertices)
	}
	if opts.UseColors {
		out.Colors = make([][4]float32, vertices)
	}
	return out
}

// instance is one write job: src transformed by transform into dst
// starting at the given vertex and index offsets.
type instance struct {
	src        *Mesh
	transform  math.Mat4
	color      [4]float32
	ownColors  bool // take colors from src instead of color
	vertexBase int
	indexBase  int
}

// write copies one instance into its pre-sized region of dst. Regions of
// distinct instances never overlap, so writes need no locking.
func (in *instance) write(dst *Mesh, opts FuseOptions) {
	src := in.src
	vb := in.vertexBase
	n := len(src.Positions)

	for k, p := range src.Positions {
		dst.Positions[vb+k] = in.transform.TransformPoint(p)
	}

	if opts.UseNormals && in.transform.IsTranslation() {
		for k, nv := range src.Normals {
			dst.Normals[vb+k] = math.Vec3FromArray(nv).NormalizeOrZero().Array()
		}
	} else if opts.UseNormals {
		nm, _ := math.NormalMatrix(in.transform)
		for k, nv := range src.Normals {
			dst.Normals[vb+k] = math.Vec3FromArray(nm.MulVec3(nv)).NormalizeOrZero().Array()
		}
	}

	if opts.UseTangents {
		copy(dst.Tangents[vb:vb+n], src.Tangents)
	}

	if opts.UseUVs {
		copy(dst.UVs[vb:vb+n], src.UVs)
	}

	if opts.UseColors {
		if in.ownColors {
			copy(dst.Colors[vb:vb+n], src.Colors)
		} else {
			colors := dst.Colors[vb : vb+n]
			for k := range colors {
				colors[k] = in.color
			}
		}
	}

	offset := uint32(vb)
	for k, idx := range src.Indices {
		dst.Indices[in.indexBase+k] = idx + offset
	}
}

// run writes all instances into dst, splitting them into contiguous
// chunks across workers when there are enough of them.
func run(dst *Mesh, instances []instance, opts FuseOptions) error {
	workers := opts.workers()
	if workers <= 1 || len(instances) < minParallelInstances {
		for i := range instances {
			instances[i].write(dst, opts)
		}
		return nil
	}

	chunk := (len(instances) + workers - 1) / workers
	var g errgroup.Group
	for start := 0; start < len(instances); start += chunk {
		part := instances[start:min(start+chunk, len(instances))]
		g.Go(func() error {
			for i := range part {
				part[i].write(dst, opts)
			}
			return nil
		})
	}
	return g.Wait()
}

// Stamp instances one shared template per placement and fuses them into
// a single mesh, in placement order. The template is never modified.
// Every instance gets its placement color when opts.UseColors is set.
func Stamp(template *Mesh, placements []Placement, opts FuseOptions) (*Mesh, error) {
	if template == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingAttribute, AttributePosition)
	}
	if err := template.require(opts, false); err != nil {
		return nil, fmt.Errorf("template: %w", err)
	}

	vc := template.VertexCount()
	ic := len(template.Indices)
	if uint64(len(placements))*uint64(vc) > gomath.MaxUint32 {
		return nil, fmt.Errorf("%w: %d instances of %d vertices", ErrTooManyVertices, len(placements), vc)
	}

	instances := make([]instance, len(placements))
	for i, p := range placements {
		instances[i] = instance{
			src:        template,
			transform:  p.Transform,
			color:      p.Color,
			vertexBase: i * vc,
			indexBase:  i * ic,
		}
	}

	out := newBuffer(len(placements)*vc, len(placements)*ic, opts)
	if err := run(out, instances, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// Combine fuses independent meshes, each with its own transform, into a
// single mesh in input order. Every mesh must carry every requested
// attribute, including its own colors when opts.UseColors is set.
func Combine(meshes []*Mesh, transforms []math.Mat4, opts FuseOptions) (*Mesh, error) {
	if len(meshes) != len(transforms) {
		return nil, fmt.Errorf("%w: %d meshes, %d transforms", ErrLengthMismatch, len(meshes), len(transforms))
	}

	instances := make([]instance, len(meshes))
	var vertices, indices uint64
	for i, m := range meshes {
		if m == nil {
			return nil, fmt.Errorf("mesh %d: %w: %s", i, ErrMissingAttribute, AttributePosition)
		}
		if err := m.require(opts, true); err != nil {
			return nil, fmt.Errorf("mesh %d: %w", i, err)
		}

		instances[i] = instance{
			src:        m,
			transform:  transforms[i],
			ownColors:  true,
			vertexBase: int(vertices),
			indexBase:  int(indices),
		}
		vertices += uint64(m.VertexCount())
		indices += uint64(len(m.Indices))
		if vertices > gomath.MaxUint32 {
			return nil, fmt.Errorf("%w: %d vertices after mesh %d", ErrTooManyVertices, vertices, i)
		}
	}

	out := newBuffer(int(vertices), int(indices), opts)
	if err := run(out, instances, opts); err != nil {
		return nil, err
	}
	return out, nil
}
