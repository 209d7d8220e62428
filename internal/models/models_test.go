package models

import (
	"errors"
	"testing"
)

func TestShapeIndex(t *testing.T) {
	s := Shape3D{Height: 3, Width: 4, Depth: 5}
	if s.Size() != 60 {
		t.Errorf("Expected size 60, got %d", s.Size())
	}

	// Row-major: the depth index varies fastest.
	seen := make(map[int]bool)
	next := 0
	for i := 0; i < s.Height; i++ {
		for j := 0; j < s.Width; j++ {
			for k := 0; k < s.Depth; k++ {
				idx := s.Index(i, j, k)
				if idx != next {
					t.Fatalf("Index(%d,%d,%d) = %d, want %d", i, j, k, idx, next)
				}
				seen[idx] = true
				next++
			}
		}
	}
	if len(seen) != s.Size() {
		t.Errorf("Expected %d distinct indices, got %d", s.Size(), len(seen))
	}
}

func TestShapeValid(t *testing.T) {
	tests := []struct {
		shape Shape3D
		valid bool
	}{
		{Shape3D{1, 1, 1}, true},
		{Shape3D{128, 128, 96}, true},
		{Shape3D{0, 1, 1}, false},
		{Shape3D{1, -2, 1}, false},
		{Shape3D{1, 1, 0}, false},
	}
	for _, tt := range tests {
		if got := tt.shape.Valid(); got != tt.valid {
			t.Errorf("%v.Valid() = %v, want %v", tt.shape, got, tt.valid)
		}
		err := CheckShape("test", tt.shape)
		var shapeErr *ShapeError
		if tt.valid && err != nil {
			t.Errorf("CheckShape(%v) returned %v", tt.shape, err)
		}
		if !tt.valid && !errors.As(err, &shapeErr) {
			t.Errorf("CheckShape(%v) should return *ShapeError, got %v", tt.shape, err)
		}
	}
}

func TestToRowMajor(t *testing.T) {
	s := Shape3D{Height: 2, Width: 3, Depth: 4}
	// File order: the first axis varies fastest.
	data := make([]float32, s.Size())
	for k := 0; k < s.Depth; k++ {
		for j := 0; j < s.Width; j++ {
			for i := 0; i < s.Height; i++ {
				data[i+j*s.Height+k*s.Height*s.Width] = float32(100*i + 10*j + k)
			}
		}
	}

	out := ToRowMajor(data, s)
	for i := 0; i < s.Height; i++ {
		for j := 0; j < s.Width; j++ {
			for k := 0; k < s.Depth; k++ {
				want := float32(100*i + 10*j + k)
				if got := out[s.Index(i, j, k)]; got != want {
					t.Errorf("(%d,%d,%d): expected %f, got %f", i, j, k, want, got)
				}
			}
		}
	}
}

func TestTensorAt(t *testing.T) {
	tensor := &Tensor4D{
		Shape:    Shape3D{Height: 1, Width: 2, Depth: 1},
		Channels: 4,
		Data:     []float32{1, 2, 3, 4, 5, 6, 7, 8},
	}
	if got := tensor.At(0, 1, 0, int(FLAIR)); got != 8 {
		t.Errorf("Expected 8, got %f", got)
	}
	dims := tensor.Dims()
	if len(dims) != 4 || dims[1] != 2 || dims[3] != 4 {
		t.Errorf("Unexpected dims %v", dims)
	}
}

func TestParseModality(t *testing.T) {
	for _, m := range Modalities {
		got, err := ParseModality(m.String())
		if err != nil || got != m {
			t.Errorf("ParseModality(%q) = %v, %v", m.String(), got, err)
		}
	}
	if m, err := ParseModality("FLAIR"); err != nil || m != FLAIR {
		t.Errorf("Expected case-insensitive parse, got %v, %v", m, err)
	}
	if _, err := ParseModality("dwi"); err == nil {
		t.Error("Expected error for unknown modality")
	}
}

func TestModalityChannelOrder(t *testing.T) {
	want := []string{"t1", "t1ce", "t2", "flair"}
	for i, m := range Modalities {
		if int(m) != i || m.String() != want[i] {
			t.Errorf("Channel %d: expected %s, got %s (%d)", i, want[i], m, int(m))
		}
	}
}

func TestVolumeWithData(t *testing.T) {
	v := &Volume{Header: VolumeHeader{DataType: 4, Description: "src"}, Shape: Shape3D{2, 2, 2}, Data: make([]float32, 8)}
	out := v.WithData([]float32{1}, Shape3D{1, 1, 1})
	if out.Header.Description != "src" || out.Shape.Size() != 1 || len(v.Data) != 8 {
		t.Errorf("WithData should copy the header and leave the source untouched")
	}
}

func TestToFileOrderInverse(t *testing.T) {
	s := Shape3D{Height: 4, Width: 3, Depth: 2}
	data := make([]float32, s.Size())
	for i := range data {
		data[i] = float32(i)
	}
	back := ToRowMajor(ToFileOrder(data, s), s)
	for i := range data {
		if back[i] != data[i] {
			t.Fatalf("Sample %d: expected %f, got %f", i, data[i], back[i])
		}
	}
	// The first axis varies fastest in file order.
	if got := ToFileOrder(data, s)[1]; got != float32(s.Index(1, 0, 0)) {
		t.Errorf("Expected voxel (1,0,0) second in file order, got %f", got)
	}
}

func TestVolumeResampled(t *testing.T) {
	v := &Volume{Shape: Shape3D{240, 240, 155}}
	v.Header.Dims = [8]int{3, 240, 240, 155, 1, 1, 1, 1}
	v.Header.PixDim = [8]float64{1, 1, 1, 1}

	target := Shape3D{128, 128, 96}
	out := v.Resampled(make([]float32, target.Size()), target)
	if out.Header.Dims[1] != 128 || out.Header.Dims[3] != 96 {
		t.Errorf("Expected dims to follow the target, got %v", out.Header.Dims)
	}
	x, _, z := out.Header.Spacing()
	if x != 240.0/128 || z != 155.0/96 {
		t.Errorf("Expected spacing scaled by extent, got %g and %g", x, z)
	}
	if v.Header.PixDim[1] != 1 {
		t.Error("Resampled should leave the source header untouched")
	}
}
