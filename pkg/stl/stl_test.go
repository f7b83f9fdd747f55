package stl

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"dcmsurface/internal/models"
)

// tetrahedron is a closed mesh with four faces
func tetrahedron() *models.Mesh {
	return &models.Mesh{
		Vertices: []r3.Vec{
			{X: 0, Y: 0, Z: 0},
			{X: 1, Y: 0, Z: 0},
			{X: 0, Y: 1, Z: 0},
			{X: 0, Y: 0, Z: 1},
		},
		Indices: []int{
			0, 2, 1,
			0, 1, 3,
			0, 3, 2,
			1, 2, 3,
		},
	}
}

// TestSaveToSTL verifies that the STL file can be written
func TestSaveToSTL(t *testing.T) {
	triangles := []Triangle{
		{
			Normal:  [3]float32{0, 0, 1},
			Vertex1: [3]float32{0, 0, 0},
			Vertex2: [3]float32{1, 0, 0},
			Vertex3: [3]float32{0, 1, 0},
		},
	}

	path := filepath.Join(t.TempDir(), "test.stl")
	if err := SaveToSTL(path, triangles); err != nil {
		t.Fatalf("Failed to save STL: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Failed to stat output file: %v", err)
	}

	// STL header: 80 bytes
	// Number of triangles: 4 bytes
	// Triangle: 50 bytes (12 bytes per vertex, 12 bytes per normal, 2 bytes attribute)
	if info.Size() != 80+4+50 {
		t.Errorf("Unexpected STL file size: expected %d bytes, got %d", 80+4+50, info.Size())
	}
}

func TestWriteLayout(t *testing.T) {
	tri := Triangle{
		Normal:  [3]float32{0, 0, 1},
		Vertex1: [3]float32{1.5, -2, 3},
		Vertex2: [3]float32{4, 5, 6},
		Vertex3: [3]float32{7, 8, 9.25},
	}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, []Triangle{tri, tri}))

	data := buf.Bytes()
	require.Len(t, data, int(FileSize(2)))
	assert.Equal(t, make([]byte, 80), data[:80], "header must be zeroed")
	assert.Equal(t, uint32(2), binary.LittleEndian.Uint32(data[80:84]))

	first := data[84 : 84+50]
	assert.Equal(t, float32(1), math.Float32frombits(binary.LittleEndian.Uint32(first[8:12])))
	assert.Equal(t, float32(1.5), math.Float32frombits(binary.LittleEndian.Uint32(first[12:16])))
	assert.Equal(t, float32(9.25), math.Float32frombits(binary.LittleEndian.Uint32(first[44:48])))
	assert.Equal(t, uint16(0), binary.LittleEndian.Uint16(first[48:50]))
}

func TestWriteEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, nil))
	assert.Equal(t, 84, buf.Len())
}

func TestFaceNormal(t *testing.T) {
	testCases := []struct {
		name       string
		v0, v1, v2 r3.Vec
		want       r3.Vec
	}{
		{
			name: "xy plane counter-clockwise",
			v0:   r3.Vec{}, v1: r3.Vec{X: 1}, v2: r3.Vec{Y: 1},
			want: r3.Vec{Z: 1},
		},
		{
			name: "xy plane clockwise",
			v0:   r3.Vec{}, v1: r3.Vec{Y: 1}, v2: r3.Vec{X: 1},
			want: r3.Vec{Z: -1},
		},
		{
			name: "scaled triangle is normalized",
			v0:   r3.Vec{}, v1: r3.Vec{Y: 10}, v2: r3.Vec{Z: 10},
			want: r3.Vec{X: 1},
		},
		{
			name: "collinear",
			v0:   r3.Vec{}, v1: r3.Vec{X: 1}, v2: r3.Vec{X: 2},
			want: DefaultNormal,
		},
		{
			name: "coincident",
			v0:   r3.Vec{X: 3, Y: 3, Z: 3}, v1: r3.Vec{X: 3, Y: 3, Z: 3}, v2: r3.Vec{X: 3, Y: 3, Z: 3},
			want: DefaultNormal,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := FaceNormal(tc.v0, tc.v1, tc.v2)
			assert.InDelta(t, tc.want.X, got.X, 1e-12)
			assert.InDelta(t, tc.want.Y, got.Y, 1e-12)
			assert.InDelta(t, tc.want.Z, got.Z, 1e-12)
		})
	}
}

func TestWriteMeshRoundTrip(t *testing.T) {
	mesh := tetrahedron()
	path := filepath.Join(t.TempDir(), "tetra.stl")

	require.NoError(t, WriteMesh(path, mesh))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, FileSize(4), info.Size())

	got, err := ReadFile(path)
	require.NoError(t, err)

	want, err := TrianglesFromMesh(mesh)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	// first face winds 0,2,1 so it faces -Z
	assert.Equal(t, [3]float32{0, 0, -1}, got[0].Normal)
	assert.Equal(t, [3]float32{0, 1, 0}, got[0].Vertex2)
}

func TestWriteMeshDegenerateNormal(t *testing.T) {
	mesh := &models.Mesh{
		Vertices: []r3.Vec{{X: 1, Y: 1, Z: 1}, {X: 2, Y: 2, Z: 2}, {X: 3, Y: 3, Z: 3}},
		Indices:  []int{0, 1, 2},
	}
	triangles, err := TrianglesFromMesh(mesh)
	require.NoError(t, err)
	require.Len(t, triangles, 1)
	assert.Equal(t, [3]float32{0, 0, 1}, triangles[0].Normal)
}

func TestMalformedMesh(t *testing.T) {
	testCases := []struct {
		name    string
		indices []int
	}{
		{name: "partial triangle", indices: []int{0, 1, 2, 0}},
		{name: "index out of range", indices: []int{0, 1, 4}},
		{name: "negative index", indices: []int{0, -1, 2}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			mesh := tetrahedron()
			mesh.Indices = tc.indices
			path := filepath.Join(t.TempDir(), "bad.stl")

			err := WriteMesh(path, mesh)
			require.Error(t, err)
			assert.True(t, errors.Is(err, models.ErrMalformedMesh))

			_, statErr := os.Stat(path)
			assert.True(t, os.IsNotExist(statErr), "no file should be written")
		})
	}
}

func TestSaveToSTLMissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "out.stl")

	err := SaveToSTL(path, []Triangle{NewTriangle(r3.Vec{}, r3.Vec{X: 1}, r3.Vec{Y: 1})})
	require.Error(t, err)

	var writeErr *WriteError
	require.True(t, errors.As(err, &writeErr))
	assert.Equal(t, path, writeErr.Path)
	assert.Contains(t, err.Error(), path)
}

func TestSaveToSTLLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteMesh(filepath.Join(dir, "a.stl"), tetrahedron()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.stl", entries[0].Name())
}

func TestReadShortFile(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, []Triangle{{}, {}}))
	truncated := buf.Bytes()[:buf.Len()-10]

	_, err := Read(bytes.NewReader(truncated))
	assert.Error(t, err)

	_, err = Read(bytes.NewReader(make([]byte, 40)))
	assert.Error(t, err)
}

func BenchmarkWrite(b *testing.B) {
	triangles := make([]Triangle, 10000)
	for i := range triangles {
		f := float64(i)
		triangles[i] = NewTriangle(r3.Vec{X: f}, r3.Vec{X: f + 1}, r3.Vec{X: f, Y: 1})
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var buf bytes.Buffer
		Write(&buf, triangles)
	}
}
