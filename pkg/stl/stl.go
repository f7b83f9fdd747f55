// Package stl reads and writes triangle meshes in the binary STL format.
package stl

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/spatial/r3"

	"dcmsurface/internal/models"
)

const (
	// HeaderSize is the length of the free-form header at the start of a
	// binary STL file.
	HeaderSize = 80

	// TriangleSize is the encoded length of one triangle record: normal and
	// three vertices as float32 triples plus a uint16 attribute.
	TriangleSize = 50
)

// DefaultNormal is written for degenerate triangles whose edges do not span
// a plane.
var DefaultNormal = r3.Vec{X: 0, Y: 0, Z: 1}

// Triangle represents a triangle in 3D space
type Triangle struct {
	Normal  [3]float32
	Vertex1 [3]float32
	Vertex2 [3]float32
	Vertex3 [3]float32
}

// WriteError reports a failure to produce the file at Path.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("failed to write STL file %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// FileSize is the encoded size of a binary STL holding n triangles.
func FileSize(n int) int64 {
	return HeaderSize + 4 + int64(n)*TriangleSize
}

// FaceNormal returns the unit normal of the triangle (v0, v1, v2) following
// the right-hand rule, or DefaultNormal when the triangle is degenerate.
func FaceNormal(v0, v1, v2 r3.Vec) r3.Vec {
	n := r3.Cross(r3.Sub(v1, v0), r3.Sub(v2, v0))
	length := r3.Norm(n)
	if length == 0 || math.IsNaN(length) || math.IsInf(length, 0) {
		return DefaultNormal
	}
	return r3.Scale(1/length, n)
}

// NewTriangle builds a triangle with its computed face normal.
func NewTriangle(v0, v1, v2 r3.Vec) Triangle {
	return Triangle{
		Normal:  toFloat32(FaceNormal(v0, v1, v2)),
		Vertex1: toFloat32(v0),
		Vertex2: toFloat32(v1),
		Vertex3: toFloat32(v2),
	}
}

// TrianglesFromMesh expands an indexed mesh into triangles in index order.
func TrianglesFromMesh(m *models.Mesh) ([]Triangle, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %d indices over %d vertices", err, len(m.Indices), len(m.Vertices))
	}

	triangles := make([]Triangle, 0, m.TriangleCount())
	for i := 0; i < len(m.Indices); i += 3 {
		triangles = append(triangles, NewTriangle(
			m.Vertices[m.Indices[i]],
			m.Vertices[m.Indices[i+1]],
			m.Vertices[m.Indices[i+2]],
		))
	}
	return triangles, nil
}

// Write encodes triangles as binary STL: a zeroed 80-byte header, the
// little-endian triangle count, then one 50-byte record per triangle.
func Write(w io.Writer, triangles []Triangle) error {
	var header [HeaderSize + 4]byte
	binary.LittleEndian.PutUint32(header[HeaderSize:], uint32(len(triangles)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}

	var record [TriangleSize]byte
	for _, t := range triangles {
		offset := 0
		for _, vec := range [4][3]float32{t.Normal, t.Vertex1, t.Vertex2, t.Vertex3} {
			for _, f := range vec {
				binary.LittleEndian.PutUint32(record[offset:], math.Float32bits(f))
				offset += 4
			}
		}
		// attribute byte count stays zero
		if _, err := w.Write(record[:]); err != nil {
			return err
		}
	}
	return nil
}

// SaveToSTL writes triangles to filename. The data is written to a temporary
// file next to the destination and renamed into place, so a failed write
// never leaves a partial file at filename.
func SaveToSTL(filename string, triangles []Triangle) error {
	dir := filepath.Dir(filename)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(filename)+".*.tmp")
	if err != nil {
		return &WriteError{Path: filename, Err: err}
	}
	tmpName := tmp.Name()

	fail := func(err error) error {
		tmp.Close()
		os.Remove(tmpName)
		return &WriteError{Path: filename, Err: err}
	}

	buf := bufio.NewWriter(tmp)
	if err := Write(buf, triangles); err != nil {
		return fail(err)
	}
	if err := buf.Flush(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &WriteError{Path: filename, Err: err}
	}
	if err := os.Rename(tmpName, filename); err != nil {
		os.Remove(tmpName)
		return &WriteError{Path: filename, Err: err}
	}
	return nil
}

// WriteMesh validates m, computes face normals and saves it to filename.
func WriteMesh(filename string, m *models.Mesh) error {
	triangles, err := TrianglesFromMesh(m)
	if err != nil {
		return err
	}
	return SaveToSTL(filename, triangles)
}

// Read decodes a binary STL stream.
func Read(r io.Reader) ([]Triangle, error) {
	var header [HeaderSize + 4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("failed to read STL header: %w", err)
	}
	count := binary.LittleEndian.Uint32(header[HeaderSize:])

	triangles := make([]Triangle, 0, min(int(count), 1<<20))
	var record [TriangleSize]byte
	for i := uint32(0); i < count; i++ {
		if _, err := io.ReadFull(r, record[:]); err != nil {
			return nil, fmt.Errorf("failed to read triangle %d of %d: %w", i, count, err)
		}
		var vecs [4][3]float32
		offset := 0
		for v := range vecs {
			for c := range vecs[v] {
				vecs[v][c] = math.Float32frombits(binary.LittleEndian.Uint32(record[offset:]))
				offset += 4
			}
		}
		triangles = append(triangles, Triangle{
			Normal:  vecs[0],
			Vertex1: vecs[1],
			Vertex2: vecs[2],
			Vertex3: vecs[3],
		})
	}
	return triangles, nil
}

// ReadFile decodes the binary STL file at filename.
func ReadFile(filename string) ([]Triangle, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open STL file: %w", err)
	}
	defer f.Close()

	triangles, err := Read(bufio.NewReader(f))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return triangles, nil
}

func toFloat32(v r3.Vec) [3]float32 {
	return [3]float32{float32(v.X), float32(v.Y), float32(v.Z)}
}
