package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"braintumor/internal/models"
)

// Source is where one modality comes from. Exactly one of the fields is used,
// in this order: NIfTI bytes, a NIfTI path, slice image bytes, a slice directory.
type Source struct {
	NIfTI    []byte
	Path     string
	Slices   [][]byte
	SliceDir string
}

// IsZero reports whether the source names no input.
func (s Source) IsZero() bool {
	return s.NIfTI == nil && s.Path == "" && len(s.Slices) == 0 && s.SliceDir == ""
}

func (s Source) kind() string {
	switch {
	case s.NIfTI != nil:
		return "nifti"
	case s.Path != "":
		return "nifti-file"
	case len(s.Slices) > 0:
		return "slices"
	case s.SliceDir != "":
		return "slice-dir"
	default:
		return "none"
	}
}

// Inputs holds one source per modality.
type Inputs map[models.Modality]Source

// Validate checks that every modality has a source.
func (in Inputs) Validate() error {
	for _, m := range models.Modalities {
		if in[m].IsZero() {
			return &StageError{Modality: m.String(), Stage: StageInput, Err: ErrMissingInput}
		}
	}
	return nil
}

// sliceExtensions are the image formats the slice adapter can decode.
var sliceExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".bmp": true, ".tif": true, ".tiff": true, ".webp": true,
}

// LoadSliceDir reads every slice image in dir, ordered by the number embedded
// in each file name.
func LoadSliceDir(dir string) ([][]byte, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var imageFiles []string
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		if sliceExtensions[strings.ToLower(filepath.Ext(file.Name()))] {
			imageFiles = append(imageFiles, file.Name())
		}
	}
	if len(imageFiles) == 0 {
		return nil, fmt.Errorf("no slice images found in %s", dir)
	}

	// Slice order is anatomical order; names without numbers sort by name.
	sort.SliceStable(imageFiles, func(i, j int) bool {
		numI := extractNumber(imageFiles[i])
		numJ := extractNumber(imageFiles[j])
		if numI != numJ {
			return numI < numJ
		}
		return imageFiles[i] < imageFiles[j]
	})

	images := make([][]byte, 0, len(imageFiles))
	for _, name := range imageFiles {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to load image %s: %w", name, err)
		}
		images = append(images, b)
	}
	return images, nil
}

// extractNumber returns the last run of digits in a file name, or -1.
func extractNumber(filename string) int {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	end := -1
	for i := len(base) - 1; i >= 0; i-- {
		if base[i] >= '0' && base[i] <= '9' {
			if end < 0 {
				end = i + 1
			}
		} else if end >= 0 {
			n, err := strconv.Atoi(base[i+1 : end])
			if err != nil {
				return -1
			}
			return n
		}
	}
	if end < 0 {
		return -1
	}
	n, err := strconv.Atoi(base[:end])
	if err != nil {
		return -1
	}
	return n
}
