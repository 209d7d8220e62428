package nifti

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"braintumor/internal/models"
)

// Encode writes v as a little-endian single-file NIfTI-1 float32 volume. v.Data
// is row-major (height, width, depth) and is written with the first axis
// varying fastest, so Decode followed by models.ToRowMajor returns it.
// Spacing is taken from the volume header when set.
func Encode(v *models.Volume) ([]byte, error) {
	if err := models.CheckShape("nifti encode", v.Shape); err != nil {
		return nil, err
	}
	if len(v.Data) != v.Shape.Size() {
		return nil, fmt.Errorf("nifti encode: volume has %d samples, shape %v needs %d",
			len(v.Data), v.Shape, v.Shape.Size())
	}
	for _, n := range v.Shape.Slice() {
		if n > math.MaxInt16 {
			return nil, fmt.Errorf("nifti encode: axis size %d exceeds %d", n, math.MaxInt16)
		}
	}

	h := Header{
		SizeOfHdr: HeaderSize,
		Regular:   'r',
		DataType:  DTFloat32,
		BitPix:    32,
		VoxOffset: HeaderSize + 4,
		SclSlope:  1,
	}
	h.Dim = [8]int16{3, int16(v.Shape.Height), int16(v.Shape.Width), int16(v.Shape.Depth), 1, 1, 1, 1}
	h.PixDim = [8]float32{1, 1, 1, 1, 1, 1, 1, 1}
	for i := 1; i <= 3; i++ {
		if s := v.Header.PixDim[i]; s > 0 {
			h.PixDim[i] = float32(s)
		}
	}
	copy(h.Descrip[:], v.Header.Description)
	copy(h.Magic[:], MagicSingle)

	var buf bytes.Buffer
	buf.Grow(HeaderSize + 4 + 4*len(v.Data))
	if err := binary.Write(&buf, binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("nifti encode: %w", err)
	}
	// Empty extension block.
	buf.Write([]byte{0, 0, 0, 0})

	samples := models.ToFileOrder(v.Data, v.Shape)
	payload := make([]byte, 4*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(payload[4*i:], math.Float32bits(s))
	}
	buf.Write(payload)
	return buf.Bytes(), nil
}

// EncodeFile writes v to path.
func EncodeFile(v *models.Volume, path string) error {
	b, err := Encode(v)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}
