// Package pointcloud turns PLY point clouds into fused instance meshes.
package pointcloud

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Faultbox/plycloud/internal/config"
	"github.com/Faultbox/plycloud/internal/logger"
	"github.com/Faultbox/plycloud/internal/mesh"
	"github.com/Faultbox/plycloud/pkg/formats"
	"github.com/Faultbox/plycloud/pkg/math"
)

// ErrUnknownTemplate is returned for a template shape with no builder.
var ErrUnknownTemplate = errors.New("unknown template shape")

// Template shapes.
const (
	ShapeIcosphere = "icosphere"
	ShapeCube      = "cube"
)

// Point is one decoded point cloud sample.
type Point struct {
	Position [3]float32
	Normal   [3]float32
	Color    [3]uint8
}

// PointFromPLY converts a decoded PLY vertex.
func PointFromPLY(v formats.PLYVertex) Point {
	return Point{
		Position: [3]float32{v.X, v.Y, v.Z},
		Normal:   [3]float32{v.NX, v.NY, v.NZ},
		Color:    [3]uint8{v.Red, v.Green, v.Blue},
	}
}

// BuildOptions controls how a point cloud becomes a mesh.
type BuildOptions struct {
	mesh.FuseOptions

	// MaxPoints caps the number of points fused, taken from the front of
	// the cloud. Zero means all points.
	MaxPoints int
}

// BuildOptionsFromConfig maps cloud settings onto build options.
func BuildOptionsFromConfig(cfg config.CloudConfig) BuildOptions {
	return BuildOptions{
		FuseOptions: mesh.FuseOptions{
			UseNormals:  cfg.UseNormals,
			UseTangents: cfg.UseTangents,
			UseUVs:      cfg.UseUVs,
			UseColors:   cfg.UseColors,
			Workers:     cfg.Workers,
		},
		MaxPoints: cfg.MaxPoints,
	}
}

// TemplateFromConfig builds the mesh stamped at every point.
func TemplateFromConfig(cfg config.TemplateConfig) (*mesh.Mesh, error) {
	switch cfg.Shape {
	case ShapeIcosphere, "":
		return mesh.Icosphere(cfg.Radius, cfg.Subdivisions)
	case ShapeCube:
		return mesh.Cube(cfg.Size), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTemplate, cfg.Shape)
	}
}

// LoadPointCloud reads every vertex of a PLY file as a Point.
func LoadPointCloud(path string) ([]Point, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading PLY file: %w", err)
	}
	return readPointCloud(f, path)
}

// readPointCloud decodes rc and closes it. A failed close fails the
// whole read.
func readPointCloud(rc io.ReadCloser, path string) (points []Point, err error) {
	defer func() {
		if err != nil {
			points = nil
		}
	}()
	defer multierr.AppendInvoke(&err, multierr.Close(rc))

	ply, err := formats.ReadPLY(bufio.NewReaderSize(rc, 64*1024))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	h := ply.Header
	logger.Debug("PLY header",
		zap.String("path", path),
		zap.Stringer("format", h.Format),
		zap.String("version", h.Version),
		zap.Strings("comments", h.Comments),
		zap.Int("elements", len(h.Elements)),
	)

	points = make([]Point, len(ply.Vertices))
	for i, v := range ply.Vertices {
		points[i] = PointFromPLY(v)
	}

	logger.Debug("point cloud loaded", zap.String("path", path), zap.Int("points", len(points)))
	return points, nil
}

// BuildFusedMesh stamps template at every point, translated to the
// point position and colored with the point color, and merges the
// instances into one mesh.
func BuildFusedMesh(points []Point, template *mesh.Mesh, opts BuildOptions) (*mesh.Mesh, error) {
	if opts.MaxPoints > 0 && len(points) > opts.MaxPoints {
		logger.Debug("truncating point cloud",
			zap.Int("points", len(points)),
			zap.Int("maxPoints", opts.MaxPoints),
		)
		points = points[:opts.MaxPoints]
	}

	placements := make([]mesh.Placement, len(points))
	for i, p := range points {
		placements[i] = mesh.Placement{
			Transform: math.Translate(p.Position[0], p.Position[1], p.Position[2]),
			Color:     mesh.ColorFromRGB8(p.Color[0], p.Color[1], p.Color[2]),
		}
	}

	fused, err := mesh.Stamp(template, placements, opts.FuseOptions)
	if err != nil {
		return nil, fmt.Errorf("fusing point cloud: %w", err)
	}

	logger.Info("point cloud fused",
		zap.Int("instances", len(placements)),
		zap.Int("vertices", fused.VertexCount()),
		zap.Int("triangles", fused.TriangleCount()),
	)
	return fused, nil
}
