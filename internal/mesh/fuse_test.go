package mesh

import (
	"errors"
	gomath "math"
	"testing"

	"github.com/Faultbox/plycloud/pkg/math"
)

var allAttributes = FuseOptions{UseNormals: true, UseTangents: true, UseUVs: true, UseColors: true}

func unitTriangle() *Mesh {
	return Triangle([3]float32{0, 0, 0}, [3]float32{1, 0, 0}, [3]float32{0, 1, 0})
}

func placementsAt(points ...[3]float32) []Placement {
	out := make([]Placement, len(points))
	for i, p := range points {
		out[i] = Placement{
			Transform: math.Translate(p[0], p[1], p[2]),
			Color:     ColorFromRGB8(uint8(i*10), uint8(i*20), uint8(i*30)),
		}
	}
	return out
}

func checkInvariants(t *testing.T, m *Mesh) {
	t.Helper()
	if len(m.Indices)%3 != 0 {
		t.Errorf("index count %d is not a multiple of 3", len(m.Indices))
	}
	for i, idx := range m.Indices {
		if int(idx) >= len(m.Positions) {
			t.Fatalf("index %d = %d out of range (%d positions)", i, idx, len(m.Positions))
		}
	}
	if err := m.Validate(); err != nil {
		t.Errorf("fused mesh is invalid: %v", err)
	}
}

func TestStamp_OffsetsAndPositions(t *testing.T) {
	template := unitTriangle()
	points := [][3]float32{{0, 0, 0}, {10, 0, 0}, {0, 20, 0}, {1, 2, 3}}

	out, err := Stamp(template, placementsAt(points...), FuseOptions{UseNormals: true, UseUVs: true, UseColors: true})
	if err != nil {
		t.Fatalf("Stamp failed: %v", err)
	}
	checkInvariants(t, out)

	wantIndices := []uint32{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}
	if len(out.Indices) != len(wantIndices) {
		t.Fatalf("expected %d indices, got %d", len(wantIndices), len(out.Indices))
	}
	for i, want := range wantIndices {
		if out.Indices[i] != want {
			t.Errorf("index %d: got %d, want %d", i, out.Indices[i], want)
		}
	}

	for inst, p := range points {
		for k, tp := range template.Positions {
			got := out.Positions[inst*3+k]
			want := [3]float32{tp[0] + p[0], tp[1] + p[1], tp[2] + p[2]}
			if got != want {
				t.Errorf("instance %d vertex %d: got %v, want %v", inst, k, got, want)
			}
		}
	}
}

func TestStamp_ColorPropagation(t *testing.T) {
	template, err := Icosphere(0.06, 0)
	if err != nil {
		t.Fatalf("Icosphere failed: %v", err)
	}

	placements := []Placement{
		{Transform: math.Translate(1, 2, 3), Color: ColorFromRGB8(255, 0, 0)},
		{Transform: math.Translate(4, 5, 6), Color: ColorFromRGB8(0, 51, 255)},
	}
	out, err := Stamp(template, placements, FuseOptions{UseColors: true})
	if err != nil {
		t.Fatalf("Stamp failed: %v", err)
	}

	want := [][4]float32{{1, 0, 0, 1}, {0, 0.2, 1, 1}}
	vc := template.VertexCount()
	for inst := range placements {
		for k := 0; k < vc; k++ {
			c := out.Colors[inst*vc+k]
			for ch := 0; ch < 4; ch++ {
				if gomath.Abs(float64(c[ch]-want[inst][ch])) > 1e-6 {
					t.Fatalf("instance %d vertex %d: color %v, want %v", inst, k, c, want[inst])
				}
			}
		}
	}
}

func TestStamp_TranslationKeepsNormals(t *testing.T) {
	template, err := Icosphere(1, 1)
	if err != nil {
		t.Fatalf("Icosphere failed: %v", err)
	}

	out, err := Stamp(template, placementsAt([3]float32{5, -3, 2}, [3]float32{-1, 0, 9}), FuseOptions{UseNormals: true})
	if err != nil {
		t.Fatalf("Stamp failed: %v", err)
	}

	vc := template.VertexCount()
	for i, n := range out.Normals {
		want := template.Normals[i%vc]
		for c := 0; c < 3; c++ {
			if gomath.Abs(float64(n[c]-want[c])) > 1e-6 {
				t.Fatalf("normal %d: got %v, want %v", i, n, want)
			}
		}
	}
}

func TestStamp_NonUniformScaleNormals(t *testing.T) {
	// Plane x + y = 0 under scale (4,1,1): the correct normal is
	// proportional to (1/4, 1, 0), not the naively scaled (4, 1, 0).
	inv := float32(1 / gomath.Sqrt2)
	template := &Mesh{
		Positions: [][3]float32{{0, 0, 0}, {1, -1, 0}, {0, 0, 1}},
		Normals:   [][3]float32{{inv, inv, 0}, {inv, inv, 0}, {inv, inv, 0}},
		Indices:   []uint32{0, 1, 2},
	}

	out, err := Stamp(template, []Placement{{Transform: math.Scale(4, 1, 1)}}, FuseOptions{UseNormals: true})
	if err != nil {
		t.Fatalf("Stamp failed: %v", err)
	}

	want := math.Vec3{X: 0.25, Y: 1}.Normalize()
	for i, n := range out.Normals {
		got := math.Vec3FromArray(n)
		if got.Sub(want).Length() > 1e-5 {
			t.Errorf("normal %d: got %v, want %v", i, got, want)
		}
	}
}

func TestStamp_SingularTransformZeroNormals(t *testing.T) {
	out, err := Stamp(unitTriangle(), []Placement{{Transform: math.Scale(0, 0, 0)}}, FuseOptions{UseNormals: true})
	if err != nil {
		t.Fatalf("Stamp failed: %v", err)
	}
	for i, n := range out.Normals {
		if n != [3]float32{} {
			t.Errorf("normal %d: got %v, want zero", i, n)
		}
		for _, c := range n {
			if gomath.IsNaN(float64(c)) || gomath.IsInf(float64(c), 0) {
				t.Errorf("normal %d is not finite: %v", i, n)
			}
		}
	}
}

func TestStamp_TangentsAndUVsVerbatim(t *testing.T) {
	template := Cube(1)
	out, err := Stamp(template, placementsAt([3]float32{3, 3, 3}), allAttributes)
	if err != nil {
		t.Fatalf("Stamp failed: %v", err)
	}

	for i := range template.Positions {
		if out.Tangents[i] != template.Tangents[i] {
			t.Errorf("tangent %d: got %v, want %v", i, out.Tangents[i], template.Tangents[i])
		}
		if out.UVs[i] != template.UVs[i] {
			t.Errorf("uv %d: got %v, want %v", i, out.UVs[i], template.UVs[i])
		}
	}
}

func TestStamp_EmptyInput(t *testing.T) {
	out, err := Stamp(unitTriangle(), nil, FuseOptions{UseNormals: true, UseUVs: true, UseColors: true})
	if err != nil {
		t.Fatalf("Stamp failed on empty input: %v", err)
	}
	if len(out.Positions) != 0 || len(out.Indices) != 0 {
		t.Errorf("expected empty mesh, got %d positions and %d indices", len(out.Positions), len(out.Indices))
	}
	if !out.Has(AttributeNormal) || !out.Has(AttributeColor) {
		t.Error("requested attributes should be present, if empty")
	}
	if out.Has(AttributeTangent) {
		t.Error("unrequested attribute should be absent")
	}
}

func TestStamp_MissingAttribute(t *testing.T) {
	template := unitTriangle() // no tangents

	_, err := Stamp(template, placementsAt([3]float32{}), FuseOptions{UseTangents: true})
	if !errors.Is(err, ErrMissingAttribute) {
		t.Fatalf("expected ErrMissingAttribute, got %v", err)
	}
	if want := "template: missing mesh attribute: tangent"; err.Error() != want {
		t.Errorf("error %q, want %q", err.Error(), want)
	}

	if _, err := Stamp(nil, nil, FuseOptions{}); !errors.Is(err, ErrMissingAttribute) {
		t.Errorf("nil template: expected ErrMissingAttribute, got %v", err)
	}
}

func TestStamp_ColorsDoNotComeFromTemplate(t *testing.T) {
	// The template has no colors; placements supply them.
	if _, err := Stamp(unitTriangle(), placementsAt([3]float32{}), FuseOptions{UseColors: true}); err != nil {
		t.Errorf("expected colors to come from placements, got %v", err)
	}
}

func TestStamp_DoesNotModifyTemplate(t *testing.T) {
	template, _ := Icosphere(1, 0)
	before := append([][3]float32(nil), template.Positions...)

	if _, err := Stamp(template, placementsAt([3]float32{7, 7, 7}), FuseOptions{UseNormals: true, UseUVs: true, UseColors: true}); err != nil {
		t.Fatalf("Stamp failed: %v", err)
	}
	for i := range before {
		if template.Positions[i] != before[i] {
			t.Fatalf("template position %d modified", i)
		}
	}
	if template.Colors != nil {
		t.Error("template gained a color attribute")
	}
}

func TestStamp_ParallelMatchesSerial(t *testing.T) {
	template, _ := Icosphere(0.06, 0)

	points := make([][3]float32, minParallelInstances*2+7)
	for i := range points {
		points[i] = [3]float32{float32(i), float32(i % 13), -float32(i % 7)}
	}
	placements := placementsAt(points...)
	opts := FuseOptions{UseNormals: true, UseUVs: true, UseColors: true}

	opts.Workers = 1
	serial, err := Stamp(template, placements, opts)
	if err != nil {
		t.Fatalf("serial Stamp failed: %v", err)
	}

	opts.Workers = 4
	parallel, err := Stamp(template, placements, opts)
	if err != nil {
		t.Fatalf("parallel Stamp failed: %v", err)
	}
	checkInvariants(t, parallel)

	if len(serial.Positions) != len(parallel.Positions) || len(serial.Indices) != len(parallel.Indices) {
		t.Fatal("serial and parallel sizes differ")
	}
	for i := range serial.Positions {
		if serial.Positions[i] != parallel.Positions[i] || serial.Normals[i] != parallel.Normals[i] ||
			serial.UVs[i] != parallel.UVs[i] || serial.Colors[i] != parallel.Colors[i] {
			t.Fatalf("vertex %d differs between serial and parallel", i)
		}
	}
	for i := range serial.Indices {
		if serial.Indices[i] != parallel.Indices[i] {
			t.Fatalf("index %d differs between serial and parallel", i)
		}
	}
}

func TestCombine_Offsets(t *testing.T) {
	tri := unitTriangle()
	tri.Colors = [][4]float32{{1, 0, 0, 1}, {1, 0, 0, 1}, {1, 0, 0, 1}}
	cube := Cube(2)
	cube.Colors = make([][4]float32, cube.VertexCount())
	for i := range cube.Colors {
		cube.Colors[i] = [4]float32{0, 0, 1, 1}
	}

	meshes := []*Mesh{tri, cube, tri}
	transforms := []math.Mat4{math.Identity(), math.Translate(10, 0, 0), math.Translate(0, 10, 0)}

	out, err := Combine(meshes, transforms, FuseOptions{UseNormals: true, UseUVs: true, UseColors: true})
	if err != nil {
		t.Fatalf("Combine failed: %v", err)
	}
	checkInvariants(t, out)

	if out.VertexCount() != 3+24+3 {
		t.Errorf("expected 30 vertices, got %d", out.VertexCount())
	}
	if len(out.Indices) != 3+36+3 {
		t.Errorf("expected 42 indices, got %d", len(out.Indices))
	}

	// Last triangle starts after the cube's 24 vertices.
	last := out.Indices[len(out.Indices)-3:]
	if last[0] != 27 || last[1] != 28 || last[2] != 29 {
		t.Errorf("last triangle indices %v, want [27 28 29]", last)
	}
	if out.Colors[3] != [4]float32{0, 0, 1, 1} || out.Colors[29] != [4]float32{1, 0, 0, 1} {
		t.Error("colors not taken from each mesh")
	}
	if out.Positions[28] != [3]float32{1, 10, 0} {
		t.Errorf("translated position %v, want (1, 10, 0)", out.Positions[28])
	}
}

func TestCombine_LengthMismatch(t *testing.T) {
	_, err := Combine([]*Mesh{unitTriangle()}, []math.Mat4{math.Identity(), math.Identity()}, FuseOptions{})
	if !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("expected ErrLengthMismatch, got %v", err)
	}
}

func TestCombine_PartialAttributeCoverage(t *testing.T) {
	withColors := unitTriangle()
	withColors.Colors = [][4]float32{{1, 1, 1, 1}, {1, 1, 1, 1}, {1, 1, 1, 1}}
	withoutColors := unitTriangle()

	_, err := Combine([]*Mesh{withColors, withoutColors}, []math.Mat4{math.Identity(), math.Identity()}, FuseOptions{UseColors: true})
	if !errors.Is(err, ErrMissingAttribute) {
		t.Fatalf("expected ErrMissingAttribute, got %v", err)
	}
	if want := "mesh 1: missing mesh attribute: color"; err.Error() != want {
		t.Errorf("error %q, want %q", err.Error(), want)
	}
}

func TestCombine_Empty(t *testing.T) {
	out, err := Combine(nil, nil, FuseOptions{UseNormals: true})
	if err != nil {
		t.Fatalf("Combine failed on empty input: %v", err)
	}
	if out.VertexCount() != 0 || len(out.Indices) != 0 {
		t.Error("expected empty mesh")
	}
}

func TestColorFromRGB8(t *testing.T) {
	if got := ColorFromRGB8(255, 0, 0); got != [4]float32{1, 0, 0, 1} {
		t.Errorf("ColorFromRGB8(255, 0, 0) = %v", got)
	}
	if got := ColorFromRGB8(0, 0, 0); got != [4]float32{0, 0, 0, 1} {
		t.Errorf("ColorFromRGB8(0, 0, 0) = %v", got)
	}
}
