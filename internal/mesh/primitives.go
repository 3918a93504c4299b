package mesh

import (
	"fmt"
	gomath "math"
	"sort"

	"github.com/Faultbox/plycloud/pkg/math"
)

// MaxIcosphereSubdivisions is the largest subdivision count Icosphere
// accepts (64002 vertices).
const MaxIcosphereSubdivisions = 79

// Icosahedron corners and faces, counter-clockwise seen from outside.
var (
	icoPhi = float32((1 + gomath.Sqrt(5)) / 2)

	icoCorners = [12]math.Vec3{
		{X: -1, Y: icoPhi, Z: 0}, {X: 1, Y: icoPhi, Z: 0}, {X: -1, Y: -icoPhi, Z: 0}, {X: 1, Y: -icoPhi, Z: 0},
		{X: 0, Y: -1, Z: icoPhi}, {X: 0, Y: 1, Z: icoPhi}, {X: 0, Y: -1, Z: -icoPhi}, {X: 0, Y: 1, Z: -icoPhi},
		{X: icoPhi, Y: 0, Z: -1}, {X: icoPhi, Y: 0, Z: 1}, {X: -icoPhi, Y: 0, Z: -1}, {X: -icoPhi, Y: 0, Z: 1},
	}

	icoFaces = [20][3]int{
		{0, 11, 5}, {0, 5, 1}, {0, 1, 7}, {0, 7, 10}, {0, 10, 11},
		{1, 5, 9}, {5, 11, 4}, {11, 10, 2}, {10, 7, 6}, {7, 1, 8},
		{3, 9, 4}, {3, 4, 2}, {3, 2, 6}, {3, 6, 8}, {3, 8, 9},
		{4, 9, 5}, {2, 4, 11}, {6, 2, 10}, {8, 6, 7}, {9, 8, 1},
	}
)

// gridKey identifies a subdivision point by the icosahedron corners it
// interpolates and their integer weights, sorted by corner. Points on an
// edge shared by two faces produce the same key.
type gridKey [3][2]int32

func makeGridKey(corners [3]int, weights [3]int) gridKey {
	type cw struct{ corner, weight int }
	parts := make([]cw, 0, 3)
	for i := 0; i < 3; i++ {
		if weights[i] != 0 {
			parts = append(parts, cw{corners[i], weights[i]})
		}
	}
	sort.Slice(parts, func(a, b int) bool { return parts[a].corner < parts[b].corner })

	key := gridKey{{-1, 0}, {-1, 0}, {-1, 0}}
	for i, p := range parts {
		key[i] = [2]int32{int32(p.corner), int32(p.weight)}
	}
	return key
}

// Icosphere builds a sphere by splitting each icosahedron edge into
// subdivisions+1 segments and projecting the points onto the sphere.
// The result has 10*(subdivisions+1)^2 + 2 vertices with positions,
// normals and UVs, and no tangents.
func Icosphere(radius float32, subdivisions int) (*Mesh, error) {
	if subdivisions < 0 || subdivisions > MaxIcosphereSubdivisions {
		return nil, fmt.Errorf("%w: %d (max %d)", ErrTooManySubdivisions, subdivisions, MaxIcosphereSubdivisions)
	}

	n := subdivisions + 1
	vertexCount := 10*n*n + 2

	m := &Mesh{
		Positions: make([][3]float32, 0, vertexCount),
		Normals:   make([][3]float32, 0, vertexCount),
		UVs:       make([][2]float32, 0, vertexCount),
		Indices:   make([]uint32, 0, 20*n*n*3),
	}
	lookup := make(map[gridKey]uint32, vertexCount)

	vertex := func(face [3]int, weights [3]int) uint32 {
		key := makeGridKey(face, weights)
		if idx, ok := lookup[key]; ok {
			return idx
		}

		var p math.Vec3
		for i := 0; i < 3; i++ {
			p = p.Add(icoCorners[face[i]].Scale(float32(weights[i])))
		}
		unit := p.Normalize()

		idx := uint32(len(m.Positions))
		m.Positions = append(m.Positions, unit.Scale(radius).Array())
		m.Normals = append(m.Normals, unit.Array())
		m.UVs = append(m.UVs, sphereUV(unit))
		lookup[key] = idx
		return idx
	}

	for _, face := range icoFaces {
		// Row i holds i+1 points; point (i, j) weighs the corners
		// (n-i, i-j, j).
		at := func(i, j int) uint32 {
			return vertex(face, [3]int{n - i, i - j, j})
		}
		for i := 0; i < n; i++ {
			for j := 0; j <= i; j++ {
				m.Indices = append(m.Indices, at(i, j), at(i+1, j), at(i+1, j+1))
				if j < i {
					m.Indices = append(m.Indices, at(i, j), at(i+1, j+1), at(i, j+1))
				}
			}
		}
	}

	return m, nil
}

// sphereUV maps a unit direction to equirectangular texture coordinates.
func sphereUV(p math.Vec3) [2]float32 {
	azimuth := gomath.Atan2(float64(p.Z), float64(p.X))
	inclination := gomath.Acos(float64(max(-1, min(1, p.Y))))
	return [2]float32{
		float32(0.5 - azimuth/(2*gomath.Pi)),
		float32(inclination / gomath.Pi),
	}
}

// cubeFaces lists each face normal with its tangent (U direction).
var cubeFaces = [6]struct{ normal, tangent math.Vec3 }{
	{math.Vec3{X: 1}, math.Vec3{Z: -1}},
	{math.Vec3{X: -1}, math.Vec3{Z: 1}},
	{math.Vec3{Y: 1}, math.Vec3{X: 1}},
	{math.Vec3{Y: -1}, math.Vec3{X: 1}},
	{math.Vec3{Z: 1}, math.Vec3{X: 1}},
	{math.Vec3{Z: -1}, math.Vec3{X: -1}},
}

// Cube builds an axis-aligned cube of the given edge length centered at
// the origin: 4 vertices per face so each face has flat normals, UVs and
// tangents.
func Cube(size float32) *Mesh {
	h := size / 2
	m := &Mesh{
		Positions: make([][3]float32, 0, 24),
		Normals:   make([][3]float32, 0, 24),
		Tangents:  make([][4]float32, 0, 24),
		UVs:       make([][2]float32, 0, 24),
		Indices:   make([]uint32, 0, 36),
	}

	corners := [4][2]float32{{-1, -1}, {1, -1}, {1, 1}, {-1, 1}}
	uvs := [4][2]float32{{0, 1}, {1, 1}, {1, 0}, {0, 0}}

	for _, f := range cubeFaces {
		bitangent := f.normal.Cross(f.tangent)
		base := uint32(len(m.Positions))

		for i, c := range corners {
			p := f.normal.Add(f.tangent.Scale(c[0])).Add(bitangent.Scale(c[1])).Scale(h)
			m.Positions = append(m.Positions, p.Array())
			m.Normals = append(m.Normals, f.normal.Array())
			m.Tangents = append(m.Tangents, [4]float32{f.tangent.X, f.tangent.Y, f.tangent.Z, 1})
			m.UVs = append(m.UVs, uvs[i])
		}
		m.Indices = append(m.Indices, base, base+1, base+2, base, base+2, base+3)
	}

	return m
}

// Triangle builds a single flat triangle a, b, c (counter-clockwise).
func Triangle(a, b, c [3]float32) *Mesh {
	va, vb, vc := math.Vec3FromArray(a), math.Vec3FromArray(b), math.Vec3FromArray(c)
	n := vb.Sub(va).Cross(vc.Sub(va)).NormalizeOrZero().Array()

	return &Mesh{
		Positions: [][3]float32{a, b, c},
		Normals:   [][3]float32{n, n, n},
		UVs:       [][2]float32{{0, 0}, {1, 0}, {0, 1}},
		Indices:   []uint32{0, 1, 2},
	}
}
