package slicesource

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// StackID is the (0020,9056) Stack ID tag, absent from older dictionaries.
var StackID = tag.Tag{Group: 0x0020, Element: 0x9056}

var attributeTags = map[Attribute]tag.Tag{
	PixelSpacing:   tag.PixelSpacing,
	SliceThickness: tag.SliceThickness,
	ImagePosition:  tag.ImagePositionPatient,
}

// DICOMSlice reads a single-frame DICOM file. The header is parsed once on
// first use; pixel data is only parsed by Decode.
type DICOMSlice struct {
	path string

	header    *dicom.Dataset
	headerErr error
}

// NewDICOMSlice returns a slice backed by the DICOM file at path.
func NewDICOMSlice(path string) *DICOMSlice {
	return &DICOMSlice{path: path}
}

// ID returns the file path.
func (s *DICOMSlice) ID() string { return s.path }

func (s *DICOMSlice) loadHeader() (*dicom.Dataset, error) {
	if s.header == nil && s.headerErr == nil {
		ds, err := dicom.ParseFile(s.path, nil, dicom.SkipPixelData())
		if err != nil {
			s.headerErr = errors.Wrapf(err, "parse dicom header %s", s.path)
		} else {
			s.header = &ds
		}
	}
	return s.header, s.headerErr
}

// Dimensions reads Rows and Columns from the header.
func (s *DICOMSlice) Dimensions() (int, int, error) {
	ds, err := s.loadHeader()
	if err != nil {
		return 0, 0, err
	}
	rows, _ := intValue(ds, tag.Rows)
	cols, _ := intValue(ds, tag.Columns)
	return rows, cols, nil
}

// Decode parses the pixel data and converts the first frame to grayscale.
func (s *DICOMSlice) Decode() (*Grayscale, error) {
	ds, err := dicom.ParseFile(s.path, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "parse dicom %s", s.path)
	}
	elem, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, errors.Wrapf(err, "decode pixel data %s", s.path)
	}
	info, ok := elem.Value.GetValue().(dicom.PixelDataInfo)
	if !ok || len(info.Frames) == 0 {
		return nil, errors.Errorf("decode pixel data %s: no frames", s.path)
	}
	fr := info.Frames[0]
	if native, err := fr.GetNativeFrame(); err == nil && native.BitsPerSample == 8 {
		return nativeGrayscale(s.path, native)
	}
	img, err := fr.GetImage()
	if err != nil {
		return nil, errors.Wrapf(err, "convert frame %s", s.path)
	}
	return ToGrayscale(img), nil
}

// nativeGrayscale keeps 8-bit samples as they are. GetImage would widen them
// to 16 bits and lose the original scale.
func nativeGrayscale(path string, f *frame.NativeFrame) (*Grayscale, error) {
	n := f.Rows * f.Cols
	if n <= 0 || len(f.Data) != n {
		return nil, errors.Errorf("decode pixel data %s: %d samples for %dx%d frame",
			path, len(f.Data), f.Cols, f.Rows)
	}
	g := &Grayscale{Rows: f.Rows, Cols: f.Cols, Pix: make([]float64, n)}
	for i, px := range f.Data {
		if len(px) > 0 {
			g.Pix[i] = float64(px[0])
		}
	}
	return g, nil
}

// Lookup returns the attribute value joined with backslashes.
func (s *DICOMSlice) Lookup(attr Attribute) (string, bool) {
	t, ok := attributeTags[attr]
	if !ok {
		return "", false
	}
	return s.TagString(t)
}

// TagString returns the value of an arbitrary tag as a backslash-joined string.
func (s *DICOMSlice) TagString(t tag.Tag) (string, bool) {
	ds, err := s.loadHeader()
	if err != nil {
		return "", false
	}
	return stringValue(ds, t)
}

func stringValue(ds *dicom.Dataset, t tag.Tag) (string, bool) {
	elem, err := ds.FindElementByTag(t)
	if err != nil || elem.Value == nil {
		return "", false
	}
	var parts []string
	switch v := elem.Value.GetValue().(type) {
	case []string:
		parts = v
	case []int:
		for _, n := range v {
			parts = append(parts, strconv.Itoa(n))
		}
	case []float64:
		for _, f := range v {
			parts = append(parts, strconv.FormatFloat(f, 'g', -1, 64))
		}
	default:
		return "", false
	}
	joined := strings.TrimSpace(strings.Join(parts, `\`))
	if joined == "" {
		return "", false
	}
	return joined, true
}

func intValue(ds *dicom.Dataset, t tag.Tag) (int, bool) {
	raw, ok := stringValue(ds, t)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(strings.Split(raw, `\`)[0]))
	if err != nil {
		return 0, false
	}
	return n, true
}

func (s *DICOMSlice) String() string {
	return fmt.Sprintf("dicom:%s", s.path)
}
