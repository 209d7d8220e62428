// Package nifti decodes single-file NIfTI-1 volumes into float32 voxel buffers.
//
// Only uncompressed files are accepted. The 348-byte header is read at the fixed
// offsets of the NIfTI-1 standard and the payload is converted sample by sample.
package nifti

import (
	"bytes"
	"encoding/binary"
	"strings"

	"braintumor/internal/models"
)

// HeaderSize is the fixed size of a NIfTI-1 header in bytes.
const HeaderSize = 348

// Scalar-type codes with a defined decoding rule.
const (
	DTUint8   = 2
	DTInt16   = 4
	DTInt32   = 8
	DTFloat32 = 16
	DTFloat64 = 64
)

// Accepted magic tags, without NUL padding. "n+1" marks header and data in
// one file, "ni1" a header stored apart from its data.
const (
	MagicSingle = "n+1"
	MagicPair   = "ni1"
)

// Header mirrors the on-disk NIfTI-1 header. binary.Read fills it without
// padding, so every field lands at its standard offset.
type Header struct {
	SizeOfHdr      int32    // 0
	DataTypeUnused [10]byte // 4
	DBName         [18]byte // 14
	Extents        int32    // 32
	SessionError   int16    // 36
	Regular        byte     // 38
	DimInfo        byte     // 39

	Dim        [8]int16   // 40
	IntentP1   float32    // 56
	IntentP2   float32    // 60
	IntentP3   float32    // 64
	IntentCode int16      // 68
	DataType   int16      // 70
	BitPix     int16      // 72
	SliceStart int16      // 74
	PixDim     [8]float32 // 76
	VoxOffset  float32    // 108
	SclSlope   float32    // 112
	SclInter   float32    // 116
	SliceEnd   int16      // 120
	SliceCode  byte       // 122
	XYZTUnits  byte       // 123
	CalMax     float32    // 124
	CalMin     float32    // 128
	SliceDur   float32    // 132
	TOffset    float32    // 136
	GLMax      int32      // 140
	GLMin      int32      // 144

	Descrip [80]byte // 148
	AuxFile [24]byte // 228

	QFormCode int16 // 252
	SFormCode int16 // 254

	QuaternB float32 // 256
	QuaternC float32 // 260
	QuaternD float32 // 264
	QOffsetX float32 // 268
	QOffsetY float32 // 272
	QOffsetZ float32 // 276

	SRowX [4]float32 // 280
	SRowY [4]float32 // 296
	SRowZ [4]float32 // 312

	IntentName [16]byte // 328
	Magic      [4]byte  // 344
}

// readHeader reads the header in little-endian order, falling back to
// big-endian when dim[0] is only plausible that way.
func readHeader(b []byte) (Header, binary.ByteOrder, error) {
	var h Header
	var order binary.ByteOrder = binary.LittleEndian
	if err := binary.Read(bytes.NewReader(b[:HeaderSize]), order, &h); err != nil {
		return h, nil, err
	}
	if h.Dim[0] < 1 || h.Dim[0] > 7 {
		var swapped Header
		if err := binary.Read(bytes.NewReader(b[:HeaderSize]), binary.BigEndian, &swapped); err != nil {
			return h, nil, err
		}
		if swapped.Dim[0] >= 1 && swapped.Dim[0] <= 7 {
			return swapped, binary.BigEndian, nil
		}
	}
	return h, order, nil
}

// MagicString returns the magic tag with NUL padding removed.
func (h Header) MagicString() string {
	return cString(h.Magic[:])
}

// Shape returns the first three spatial axes as (height, width, depth), with
// axes beyond dim[0] defaulting to 1.
func (h Header) Shape() models.Shape3D {
	axis := func(a int) int {
		if int(h.Dim[0]) < a {
			return 1
		}
		return int(h.Dim[a])
	}
	return models.Shape3D{Height: axis(1), Width: axis(2), Depth: axis(3)}
}

// bytesPerVoxel returns the storage width of a supported scalar type, or 0.
func bytesPerVoxel(dataType int16) int {
	switch dataType {
	case DTUint8:
		return 1
	case DTInt16:
		return 2
	case DTInt32, DTFloat32:
		return 4
	case DTFloat64:
		return 8
	}
	return 0
}

// VolumeHeader converts the raw header into the pipeline's header record.
func (h Header) VolumeHeader(order binary.ByteOrder) models.VolumeHeader {
	vh := models.VolumeHeader{
		DataType:    int(h.DataType),
		BitPix:      int(h.BitPix),
		VoxOffset:   float64(h.VoxOffset),
		SclSlope:    float64(h.SclSlope),
		SclInter:    float64(h.SclInter),
		Description: cString(h.Descrip[:]),
		Magic:       h.MagicString(),
		ByteOrder:   order,
	}
	for i := range h.Dim {
		vh.Dims[i] = int(h.Dim[i])
		vh.PixDim[i] = float64(h.PixDim[i])
	}
	return vh
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return strings.TrimSpace(string(b))
}
