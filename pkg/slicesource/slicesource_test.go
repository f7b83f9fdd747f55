package slicesource

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSlice struct {
	id    string
	attrs map[Attribute]string
}

func (s *stubSlice) ID() string { return s.id }

func (s *stubSlice) Dimensions() (int, int, error) { return 1, 1, nil }

func (s *stubSlice) Decode() (*Grayscale, error) {
	return &Grayscale{Rows: 1, Cols: 1, Pix: []float64{0}}, nil
}

func (s *stubSlice) Lookup(a Attribute) (string, bool) {
	v, ok := s.attrs[a]
	return v, ok
}

func TestParseNumbers(t *testing.T) {
	testCases := []struct {
		in   string
		want []float64
		ok   bool
	}{
		{`0.5\0.75`, []float64{0.5, 0.75}, true},
		{` -12.5 \ 3 \ 40.25 `, []float64{-12.5, 3, 40.25}, true},
		{`abc\1.5`, []float64{1.5}, true},
		{``, nil, false},
		{`x\y`, nil, false},
	}
	for _, tc := range testCases {
		got, ok := ParseNumbers(tc.in)
		assert.Equal(t, tc.ok, ok, "ParseNumbers(%q)", tc.in)
		assert.Equal(t, tc.want, got, "ParseNumbers(%q)", tc.in)
	}
}

func TestSortByPosition(t *testing.T) {
	slices := []Slice{
		&stubSlice{id: "c", attrs: map[Attribute]string{ImagePosition: `0\0\30`}},
		&stubSlice{id: "none"},
		&stubSlice{id: "a", attrs: map[Attribute]string{ImagePosition: `0\0\-10`}},
		&stubSlice{id: "bad", attrs: map[Attribute]string{ImagePosition: `0\0`}},
		&stubSlice{id: "b", attrs: map[Attribute]string{ImagePosition: `1.5\2\5`}},
	}
	SortByPosition(slices)

	var ids []string
	for _, s := range slices {
		ids = append(ids, s.ID())
	}
	assert.Equal(t, []string{"a", "b", "c", "none", "bad"}, ids)
}

func TestSanitizeName(t *testing.T) {
	testCases := map[string]string{
		"T1 AXIAL":      "T1 AXIAL",
		"a/b\\c:d*e?f":  "a_b_c_d_e_f",
		`"x"<y>|z`:      "_x__y__z",
		"  padded  ":    "padded",
		"tab\there":     "tab_here",
		"1.2.840.10008": "1.2.840.10008",
	}
	for in, want := range testCases {
		assert.Equal(t, want, SanitizeName(in), "SanitizeName(%q)", in)
	}
}

func TestSortGroupKeys(t *testing.T) {
	groups := map[string]int{"10": 0, "2": 0, "1": 0, "unknown": 0}
	keys := sortGroupKeys(groups)
	assert.Equal(t, []string{"1", "2", "10", "unknown"}, keys)
}

func TestToGrayscale(t *testing.T) {
	t.Run("Gray8", func(t *testing.T) {
		img := image.NewGray(image.Rect(0, 0, 3, 2))
		img.SetGray(2, 1, color.Gray{Y: 200})
		img.SetGray(0, 0, color.Gray{Y: 17})
		g := ToGrayscale(img)
		require.Equal(t, 2, g.Rows)
		require.Equal(t, 3, g.Cols)
		assert.Equal(t, 200.0, g.At(1, 2))
		assert.Equal(t, 17.0, g.At(0, 0))
	})

	t.Run("Gray16Rescaled", func(t *testing.T) {
		img := image.NewGray16(image.Rect(0, 0, 2, 2))
		img.SetGray16(0, 0, color.Gray16{Y: 1000})
		img.SetGray16(1, 0, color.Gray16{Y: 2000})
		img.SetGray16(0, 1, color.Gray16{Y: 3000})
		img.SetGray16(1, 1, color.Gray16{Y: 1500})
		g := ToGrayscale(img)
		assert.InDelta(t, 0.0, g.At(0, 0), 1e-9)
		assert.InDelta(t, 255.0, g.At(1, 0), 1e-9)
		assert.InDelta(t, 127.5, g.At(0, 1), 1e-9)
		assert.InDelta(t, 63.75, g.At(1, 1), 1e-9)
	})
}

func writePNG(t *testing.T, path string, width, height int, value uint8) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, width, height))
	for i := range img.Pix {
		img.Pix[i] = value
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestDiscoverImageFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "knee")
	require.NoError(t, os.MkdirAll(dir, 0755))
	for _, n := range []int{10, 2, 1} {
		writePNG(t, filepath.Join(dir, fmt.Sprintf("slice_%d.png", n)), 4, 3, uint8(n))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))

	groups, err := Discover(dir, DiscoverOptions{SliceGap: 2.5})
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "knee", groups[0].ID)
	require.Len(t, groups[0].Slices, 3)

	wantOrder := []string{"slice_1.png", "slice_2.png", "slice_10.png"}
	for i, s := range groups[0].Slices {
		assert.Equal(t, wantOrder[i], filepath.Base(s.ID()))
	}

	first := groups[0].Slices[0]
	rows, cols, err := first.Dimensions()
	require.NoError(t, err)
	assert.Equal(t, 3, rows)
	assert.Equal(t, 4, cols)

	thickness, ok := first.Lookup(SliceThickness)
	require.True(t, ok)
	assert.Equal(t, "2.5", thickness)
	_, ok = first.Lookup(PixelSpacing)
	assert.False(t, ok)

	g, err := first.Decode()
	require.NoError(t, err)
	assert.Equal(t, 1.0, g.At(2, 3))
}

func TestDiscoverErrors(t *testing.T) {
	_, err := Discover(filepath.Join(t.TempDir(), "missing"), DiscoverOptions{})
	assert.Error(t, err)

	empty := t.TempDir()
	groups, err := Discover(empty, DiscoverOptions{})
	require.NoError(t, err)
	assert.Empty(t, groups)

	_, err = SplitBy("bogus").Tag()
	assert.Error(t, err)
}
