package formats

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// PLY format errors.
var (
	ErrMalformedPLYHeader    = errors.New("malformed PLY header")
	ErrInvalidPLYMagic       = fmt.Errorf("%w: expected 'ply'", ErrMalformedPLYHeader)
	ErrUnsupportedPLYElement = errors.New("unsupported PLY element")
	ErrUnexpectedPLYProperty = errors.New("unexpected PLY property")
	ErrMissingPLYProperty    = errors.New("missing PLY property")
	ErrTruncatedPLYData      = errors.New("truncated PLY data")
	ErrMalformedPLYPayload   = errors.New("malformed PLY payload")
)

// PLYVertexElement is the only element name whose payload is decoded.
const PLYVertexElement = "vertex"

// maxPLYPrealloc caps the upfront allocation driven by a declared count,
// so a lying header fails on truncation instead of exhausting memory.
const maxPLYPrealloc = 1 << 20

// maxPLYLineLength bounds a header line or an ASCII record, terminator
// included.
const maxPLYLineLength = 4096

var errPLYLineTooLong = errors.New("line too long")

// PLYFormat is the payload encoding declared by the format line.
type PLYFormat uint8

// Payload encodings.
const (
	PLYFormatUnknown PLYFormat = iota
	PLYFormatASCII
	PLYFormatBinaryLittleEndian
	PLYFormatBinaryBigEndian
)

// String returns the format keyword as written in the header.
func (f PLYFormat) String() string {
	switch f {
	case PLYFormatASCII:
		return "ascii"
	case PLYFormatBinaryLittleEndian:
		return "binary_little_endian"
	case PLYFormatBinaryBigEndian:
		return "binary_big_endian"
	default:
		return fmt.Sprintf("Unknown(%d)", f)
	}
}

// IsBinary returns true for the binary encodings.
func (f PLYFormat) IsBinary() bool {
	return f == PLYFormatBinaryLittleEndian || f == PLYFormatBinaryBigEndian
}

func (f PLYFormat) byteOrder() binary.ByteOrder {
	if f == PLYFormatBinaryBigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func parsePLYFormat(token string) PLYFormat {
	switch token {
	case "ascii":
		return PLYFormatASCII
	case "binary_little_endian":
		return PLYFormatBinaryLittleEndian
	case "binary_big_endian":
		return PLYFormatBinaryBigEndian
	default:
		return PLYFormatUnknown
	}
}

// PLYPropertyType is the scalar type of a property or list component.
type PLYPropertyType uint8

// Scalar types. Both the classic names (uchar, float) and the sized
// names (uint8, float32) map onto the same constants.
const (
	PLYInvalid PLYPropertyType = iota
	PLYInt8
	PLYUint8
	PLYInt16
	PLYUint16
	PLYInt32
	PLYUint32
	PLYFloat32
	PLYFloat64
)

var plyTypeTokens = map[string]PLYPropertyType{
	"char":    PLYInt8,
	"int8":    PLYInt8,
	"uchar":   PLYUint8,
	"uint8":   PLYUint8,
	"short":   PLYInt16,
	"int16":   PLYInt16,
	"ushort":  PLYUint16,
	"uint16":  PLYUint16,
	"int":     PLYInt32,
	"int32":   PLYInt32,
	"uint":    PLYUint32,
	"uint32":  PLYUint32,
	"float":   PLYFloat32,
	"float32": PLYFloat32,
	"double":  PLYFloat64,
	"float64": PLYFloat64,
}

// ParsePLYPropertyType maps a header type token to its type.
func ParsePLYPropertyType(token string) (PLYPropertyType, bool) {
	t, ok := plyTypeTokens[token]
	return t, ok
}

// String returns the classic PLY type name.
func (t PLYPropertyType) String() string {
	switch t {
	case PLYInt8:
		return "char"
	case PLYUint8:
		return "uchar"
	case PLYInt16:
		return "short"
	case PLYUint16:
		return "ushort"
	case PLYInt32:
		return "int"
	case PLYUint32:
		return "uint"
	case PLYFloat32:
		return "float"
	case PLYFloat64:
		return "double"
	default:
		return fmt.Sprintf("Unknown(%d)", t)
	}
}

// Size returns the encoded size in bytes for binary payloads.
func (t PLYPropertyType) Size() int {
	switch t {
	case PLYInt8, PLYUint8:
		return 1
	case PLYInt16, PLYUint16:
		return 2
	case PLYInt32, PLYUint32, PLYFloat32:
		return 4
	case PLYFloat64:
		return 8
	default:
		return 0
	}
}

// PLYProperty is one declared field of an element.
type PLYProperty struct {
	Name      string
	Type      PLYPropertyType // item type for lists
	IsList    bool
	CountType PLYPropertyType // list length type, only set for lists
}

// String returns the property as it appears after the "property" keyword.
func (p PLYProperty) String() string {
	if p.IsList {
		return fmt.Sprintf("list %s %s %s", p.CountType, p.Type, p.Name)
	}
	return fmt.Sprintf("%s %s", p.Type, p.Name)
}

// PLYElement is a named, counted group of records.
type PLYElement struct {
	Name       string
	Count      int
	Properties []PLYProperty
}

// Stride returns the binary record size. ok is false if the element
// contains list properties and has no fixed stride.
func (e *PLYElement) Stride() (stride int, ok bool) {
	for _, p := range e.Properties {
		if p.IsList {
			return 0, false
		}
		stride += p.Type.Size()
	}
	return stride, true
}

// PLYHeader is the parsed header of a PLY file.
type PLYHeader struct {
	Format   PLYFormat
	Version  string
	Comments []string
	ObjInfo  []string
	Elements []PLYElement
}

// Element returns the first element with the given name, or nil.
func (h *PLYHeader) Element(name string) *PLYElement {
	for i := range h.Elements {
		if h.Elements[i].Name == name {
			return &h.Elements[i]
		}
	}
	return nil
}

// PLYVertex is one decoded vertex of the fixed point-cloud schema.
type PLYVertex struct {
	X, Y, Z          float32
	NX, NY, NZ       float32
	Red, Green, Blue uint8
}

// PLY is a parsed point-cloud file.
type PLY struct {
	Header   *PLYHeader
	Vertices []PLYVertex
}

// ReadPLYHeader consumes header lines from r up to and including
// end_header. The reader is left positioned at the first payload byte.
func ReadPLYHeader(r *bufio.Reader) (*PLYHeader, error) {
	line, err := readPLYHeaderLine(r)
	if err != nil {
		if errors.Is(err, errPLYLineTooLong) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPLYMagic, errPLYLineTooLong)
		}
		return nil, err
	}
	if strings.TrimSpace(line) != "ply" {
		return nil, ErrInvalidPLYMagic
	}

	h := &PLYHeader{}
	for lineNo := 2; ; lineNo++ {
		line, err := readPLYHeaderLine(r)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			return nil, fmt.Errorf("%w: line %d: empty line", ErrMalformedPLYHeader, lineNo)
		}

		switch fields[0] {
		case "format":
			if h.Format != PLYFormatUnknown {
				return nil, fmt.Errorf("%w: line %d: duplicate format", ErrMalformedPLYHeader, lineNo)
			}
			if len(fields) != 3 {
				return nil, fmt.Errorf("%w: line %d: expected 'format <type> <version>'", ErrMalformedPLYHeader, lineNo)
			}
			h.Format = parsePLYFormat(fields[1])
			if h.Format == PLYFormatUnknown {
				return nil, fmt.Errorf("%w: line %d: unknown format %q", ErrMalformedPLYHeader, lineNo, fields[1])
			}
			h.Version = fields[2]

		case "comment":
			h.Comments = append(h.Comments, strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "comment")))

		case "obj_info":
			h.ObjInfo = append(h.ObjInfo, strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "obj_info")))

		case "element":
			if len(fields) != 3 {
				return nil, fmt.Errorf("%w: line %d: expected 'element <name> <count>'", ErrMalformedPLYHeader, lineNo)
			}
			count, err := strconv.Atoi(fields[2])
			if err != nil || !isPLYDigits(fields[2]) {
				return nil, fmt.Errorf("%w: line %d: invalid element count %q", ErrMalformedPLYHeader, lineNo, fields[2])
			}
			h.Elements = append(h.Elements, PLYElement{Name: fields[1], Count: count})

		case "property":
			if len(h.Elements) == 0 {
				return nil, fmt.Errorf("%w: line %d: property before any element", ErrMalformedPLYHeader, lineNo)
			}
			prop, err := parsePLYProperty(fields[1:])
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedPLYHeader, lineNo, err)
			}
			e := &h.Elements[len(h.Elements)-1]
			e.Properties = append(e.Properties, prop)

		case "end_header":
			if len(fields) != 1 {
				return nil, fmt.Errorf("%w: line %d: trailing data after end_header", ErrMalformedPLYHeader, lineNo)
			}
			if h.Format == PLYFormatUnknown {
				return nil, fmt.Errorf("%w: missing format line", ErrMalformedPLYHeader)
			}
			return h, nil

		default:
			return nil, fmt.Errorf("%w: line %d: unknown keyword %q", ErrMalformedPLYHeader, lineNo, fields[0])
		}
	}
}

// readPLYHeaderLine reads one header line without its terminator.
// EOF before a complete header is a header error, not an I/O error.
func readPLYHeaderLine(r *bufio.Reader) (string, error) {
	line, err := readPLYLine(r)
	switch {
	case err == nil:
		return line, nil
	case errors.Is(err, errPLYLineTooLong):
		return "", fmt.Errorf("%w: %w", ErrMalformedPLYHeader, err)
	case errors.Is(err, io.EOF):
		if line == "" {
			return "", fmt.Errorf("%w: unexpected end of header", ErrMalformedPLYHeader)
		}
		return line, nil
	default:
		return "", fmt.Errorf("reading PLY header: %w", err)
	}
}

// readPLYLine reads one line without its terminator, failing with
// errPLYLineTooLong past maxPLYLineLength bytes. At EOF the partial last
// line is returned together with io.EOF.
func readPLYLine(r *bufio.Reader) (string, error) {
	var line []byte
	for {
		chunk, err := r.ReadSlice('\n')
		if len(line)+len(chunk) > maxPLYLineLength {
			return "", errPLYLineTooLong
		}
		line = append(line, chunk...)
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return strings.TrimRight(string(line), "\r\n"), err
	}
}

// isPLYDigits reports whether s is a non-empty run of ASCII digits.
func isPLYDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// parsePLYProperty parses the tokens following the "property" keyword.
func parsePLYProperty(fields []string) (PLYProperty, error) {
	if len(fields) > 0 && fields[0] == "list" {
		if len(fields) != 4 {
			return PLYProperty{}, errors.New("expected 'property list <count-type> <item-type> <name>'")
		}
		countType, ok := ParsePLYPropertyType(fields[1])
		if !ok {
			return PLYProperty{}, fmt.Errorf("unknown type %q", fields[1])
		}
		itemType, ok := ParsePLYPropertyType(fields[2])
		if !ok {
			return PLYProperty{}, fmt.Errorf("unknown type %q", fields[2])
		}
		return PLYProperty{Name: fields[3], Type: itemType, IsList: true, CountType: countType}, nil
	}

	if len(fields) != 2 {
		return PLYProperty{}, errors.New("expected 'property <type> <name>'")
	}
	typ, ok := ParsePLYPropertyType(fields[0])
	if !ok {
		return PLYProperty{}, fmt.Errorf("unknown type %q", fields[0])
	}
	return PLYProperty{Name: fields[1], Type: typ}, nil
}

// plyVertexSchema is the fixed vertex layout this reader accepts.
// The slot is the field index used by vertexField.
var plyVertexSchema = map[string]struct {
	slot int
	typ  PLYPropertyType
}{
	"x":     {0, PLYFloat32},
	"y":     {1, PLYFloat32},
	"z":     {2, PLYFloat32},
	"nx":    {3, PLYFloat32},
	"ny":    {4, PLYFloat32},
	"nz":    {5, PLYFloat32},
	"red":   {6, PLYUint8},
	"green": {7, PLYUint8},
	"blue":  {8, PLYUint8},
}

var plyVertexSchemaOrder = []string{"x", "y", "z", "nx", "ny", "nz", "red", "green", "blue"}

// vertexField is one step of a decoding plan: which vertex slot a
// declared property writes to and where it lives in a binary record.
type vertexField struct {
	name   string
	slot   int
	typ    PLYPropertyType
	offset int
}

func (v *PLYVertex) f32(slot int) *float32 {
	switch slot {
	case 0:
		return &v.X
	case 1:
		return &v.Y
	case 2:
		return &v.Z
	case 3:
		return &v.NX
	case 4:
		return &v.NY
	default:
		return &v.NZ
	}
}

func (v *PLYVertex) u8(slot int) *uint8 {
	switch slot {
	case 6:
		return &v.Red
	case 7:
		return &v.Green
	default:
		return &v.Blue
	}
}

// planVertexFields matches every declared property of e against the
// fixed vertex schema, in declared order.
func planVertexFields(e *PLYElement) ([]vertexField, error) {
	plan := make([]vertexField, 0, len(e.Properties))
	seen := make(map[string]bool, len(e.Properties))
	offset := 0

	for _, p := range e.Properties {
		want, known := plyVertexSchema[p.Name]
		switch {
		case !known:
			return nil, fmt.Errorf("%w: %s: unknown property %q (%s)", ErrUnexpectedPLYProperty, e.Name, p.Name, p)
		case p.IsList:
			return nil, fmt.Errorf("%w: %s: %q is a list, expected %s", ErrUnexpectedPLYProperty, e.Name, p.Name, want.typ)
		case p.Type != want.typ:
			return nil, fmt.Errorf("%w: %s: %q has type %s, expected %s", ErrUnexpectedPLYProperty, e.Name, p.Name, p.Type, want.typ)
		case seen[p.Name]:
			return nil, fmt.Errorf("%w: %s: duplicate property %q", ErrUnexpectedPLYProperty, e.Name, p.Name)
		}
		seen[p.Name] = true

		plan = append(plan, vertexField{name: p.Name, slot: want.slot, typ: p.Type, offset: offset})
		offset += p.Type.Size()
	}

	for _, name := range plyVertexSchemaOrder {
		if !seen[name] {
			return nil, fmt.Errorf("%w: %s: %q", ErrMissingPLYProperty, e.Name, name)
		}
	}

	return plan, nil
}

// ReadPLYVertices decodes exactly e.Count vertex records from r, which
// must be positioned at the start of e's payload.
func ReadPLYVertices(r *bufio.Reader, h *PLYHeader, e *PLYElement) ([]PLYVertex, error) {
	if e.Name != PLYVertexElement {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedPLYElement, e.Name)
	}

	plan, err := planVertexFields(e)
	if err != nil {
		return nil, err
	}

	vertices := make([]PLYVertex, 0, min(e.Count, maxPLYPrealloc))

	switch h.Format {
	case PLYFormatASCII:
		return readPLYVerticesASCII(r, e, plan, vertices)
	case PLYFormatBinaryLittleEndian, PLYFormatBinaryBigEndian:
		return readPLYVerticesBinary(r, h.Format.byteOrder(), e, plan, vertices)
	default:
		return nil, fmt.Errorf("%w: unknown format %s", ErrMalformedPLYHeader, h.Format)
	}
}

func readPLYVerticesBinary(r io.Reader, order binary.ByteOrder, e *PLYElement, plan []vertexField, vertices []PLYVertex) ([]PLYVertex, error) {
	// planVertexFields rejects lists, so the stride is always fixed here.
	stride, _ := e.Stride()
	buf := make([]byte, stride)

	for i := 0; i < e.Count; i++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, fmt.Errorf("%w: vertex %d of %d", ErrTruncatedPLYData, i, e.Count)
			}
			return nil, fmt.Errorf("reading vertex %d: %w", i, err)
		}

		var v PLYVertex
		for _, f := range plan {
			switch f.typ {
			case PLYFloat32:
				*v.f32(f.slot) = math.Float32frombits(order.Uint32(buf[f.offset:]))
			case PLYUint8:
				*v.u8(f.slot) = buf[f.offset]
			}
		}
		vertices = append(vertices, v)
	}

	return vertices, nil
}

func readPLYVerticesASCII(r *bufio.Reader, e *PLYElement, plan []vertexField, vertices []PLYVertex) ([]PLYVertex, error) {
	for i := 0; i < e.Count; i++ {
		// One record per line; a last line without a terminator counts.
		line, err := readPLYLine(r)
		switch {
		case err == nil, errors.Is(err, io.EOF) && line != "":
		case errors.Is(err, io.EOF):
			return nil, fmt.Errorf("%w: vertex %d of %d", ErrTruncatedPLYData, i, e.Count)
		case errors.Is(err, errPLYLineTooLong):
			return nil, fmt.Errorf("%w: vertex %d: %v", ErrMalformedPLYPayload, i, err)
		default:
			return nil, fmt.Errorf("reading vertex %d: %w", i, err)
		}

		tokens := strings.Fields(line)
		if len(tokens) != len(plan) {
			return nil, fmt.Errorf("%w: vertex %d: %d values, expected %d", ErrMalformedPLYPayload, i, len(tokens), len(plan))
		}

		var v PLYVertex
		for k, f := range plan {
			switch f.typ {
			case PLYFloat32:
				val, err := strconv.ParseFloat(tokens[k], 32)
				if err != nil {
					return nil, fmt.Errorf("%w: vertex %d: %s: %q", ErrMalformedPLYPayload, i, f.name, tokens[k])
				}
				*v.f32(f.slot) = float32(val)
			case PLYUint8:
				val, err := strconv.ParseUint(tokens[k], 10, 8)
				if err != nil {
					return nil, fmt.Errorf("%w: vertex %d: %s: %q", ErrMalformedPLYPayload, i, f.name, tokens[k])
				}
				*v.u8(f.slot) = uint8(val)
			}
		}
		vertices = append(vertices, v)
	}

	return vertices, nil
}

// ReadPLY reads a header and then the payload of every element in
// header order. Only the vertex element can be decoded; any other
// element fails the whole read before any payload is consumed.
func ReadPLY(r io.Reader) (*PLY, error) {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}

	h, err := ReadPLYHeader(br)
	if err != nil {
		return nil, err
	}

	seenVertex := false
	for _, e := range h.Elements {
		if e.Name != PLYVertexElement {
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedPLYElement, e.Name)
		}
		if seenVertex {
			return nil, fmt.Errorf("%w: duplicate %q element", ErrUnsupportedPLYElement, e.Name)
		}
		seenVertex = true
	}

	ply := &PLY{Header: h}
	for i := range h.Elements {
		vertices, err := ReadPLYVertices(br, h, &h.Elements[i])
		if err != nil {
			return nil, err
		}
		ply.Vertices = vertices
	}

	return ply, nil
}

// ParsePLY parses a PLY file from raw bytes.
func ParsePLY(data []byte) (*PLY, error) {
	return ReadPLY(bytes.NewReader(data))
}

// ParsePLYFile parses a PLY file from disk.
func ParsePLYFile(path string) (*PLY, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading PLY file: %w", err)
	}
	return ParsePLY(data)
}
