// Package formats provides parsers for 3D asset file formats.
//
// PLY (polygon file format) point clouds are implemented in ply.go: the
// header is parsed in full, while the payload reader decodes only the
// vertex element with position, normal and 8-bit color properties.
package formats
