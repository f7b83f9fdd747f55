package slicesource

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/suyashkumar/dicom/pkg/tag"
)

// SplitBy selects the DICOM tag used to separate files into series.
type SplitBy string

const (
	SplitBySeriesNumber      SplitBy = "series-number"
	SplitBySeriesUID         SplitBy = "series-uid"
	SplitByAcquisitionNumber SplitBy = "acquisition-number"
	SplitByDescription       SplitBy = "description"
	SplitByOrientation       SplitBy = "orientation"
	SplitByStackID           SplitBy = "stack-id"
)

// UnknownGroup collects files that do not carry the split tag.
const UnknownGroup = "unknown"

// Tag returns the DICOM tag for the split key.
func (s SplitBy) Tag() (tag.Tag, error) {
	switch s {
	case SplitBySeriesNumber, "":
		return tag.SeriesNumber, nil
	case SplitBySeriesUID:
		return tag.SeriesInstanceUID, nil
	case SplitByAcquisitionNumber:
		return tag.AcquisitionNumber, nil
	case SplitByDescription:
		return tag.SeriesDescription, nil
	case SplitByOrientation:
		return tag.ImageOrientationPatient, nil
	case SplitByStackID:
		return StackID, nil
	}
	return tag.Tag{}, fmt.Errorf("unknown split key %q", string(s))
}

// Group is an ordered stack of slices reconstructed together.
type Group struct {
	// ID is the split-tag value (or directory name) identifying the group.
	ID     string
	Slices []Slice
}

// DiscoverOptions controls how a directory is turned into groups.
type DiscoverOptions struct {
	SplitBy SplitBy

	// SliceGap is the thickness reported for image-file slices.
	SliceGap float64
}

// Discover lists the slices in dir. DICOM files take precedence and are
// grouped by the split tag then ordered by position; otherwise JPEG/PNG files
// form a single group ordered by the number in their filename.
func Discover(dir string, opts DiscoverOptions) ([]Group, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("input folder does not exist: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("input path is not a directory: %s", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read input folder %s: %w", dir, err)
	}

	var dcmFiles, imageFiles []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".dcm":
			dcmFiles = append(dcmFiles, filepath.Join(dir, entry.Name()))
		case ".jpg", ".jpeg", ".png":
			imageFiles = append(imageFiles, filepath.Join(dir, entry.Name()))
		}
	}

	if len(dcmFiles) > 0 {
		splitTag, err := opts.SplitBy.Tag()
		if err != nil {
			return nil, err
		}
		byKey := make(map[string][]Slice)
		for _, path := range dcmFiles {
			s := NewDICOMSlice(path)
			key, ok := s.TagString(splitTag)
			if !ok {
				key = UnknownGroup
			}
			byKey[key] = append(byKey[key], s)
		}
		groups := make([]Group, 0, len(byKey))
		for _, key := range sortGroupKeys(byKey) {
			slices := byKey[key]
			SortByPosition(slices)
			groups = append(groups, Group{ID: key, Slices: slices})
		}
		return groups, nil
	}

	if len(imageFiles) == 0 {
		return nil, nil
	}

	sort.SliceStable(imageFiles, func(i, j int) bool {
		return extractNumber(imageFiles[i]) < extractNumber(imageFiles[j])
	})
	slices := make([]Slice, len(imageFiles))
	for i, path := range imageFiles {
		slices[i] = NewImageSlice(path, opts.SliceGap)
	}
	return []Group{{ID: filepath.Base(filepath.Clean(dir)), Slices: slices}}, nil
}

// SortByPosition orders slices by the Z component of their image position.
// Slices without a usable position sort last, keeping their relative order.
func SortByPosition(slices []Slice) {
	type keyed struct {
		s Slice
		z float64
	}
	items := make([]keyed, len(slices))
	for i, s := range slices {
		z, ok := PositionZ(s)
		if !ok {
			z = math.MaxFloat64
		}
		items[i] = keyed{s: s, z: z}
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].z < items[j].z
	})
	for i := range items {
		slices[i] = items[i].s
	}
}

// sortGroupKeys sorts numerically when both keys are integers, otherwise lexically.
func sortGroupKeys[T any](groups map[string]T) []string {
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.Atoi(keys[i])
		b, errB := strconv.Atoi(keys[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return keys[i] < keys[j]
	})
	return keys
}

// SanitizeName makes a group identifier safe to use as a file or folder name.
func SanitizeName(name string) string {
	mapped := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		if r < unicode.MaxASCII && unicode.IsControl(r) {
			return '_'
		}
		return r
	}, name)
	return strings.TrimSpace(mapped)
}
