package nifti

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"strings"

	"braintumor/internal/models"
)

var gzipMagic = []byte{0x1f, 0x8b}

// IsCompressed reports whether b starts with a gzip stream.
func IsCompressed(b []byte) bool {
	return bytes.HasPrefix(b, gzipMagic)
}

// DecodeFile reads and decodes the NIfTI file at path. Files named *.gz are
// rejected before they are read.
func DecodeFile(path string) (*models.Volume, error) {
	if strings.HasSuffix(strings.ToLower(path), ".gz") {
		return nil, formatErrorf(ErrCompressed, "file %s", path)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return Decode(b)
}

// Decode parses an uncompressed single-file NIfTI-1 buffer. The returned
// volume owns a new float32 buffer; b is never retained.
//
// Decoding fails with a *FormatError when the buffer is compressed, shorter
// than the header or its declared payload, carries an unknown magic tag,
// declares a spatial axis below 1, or uses a scalar type without a rule.
func Decode(b []byte) (*models.Volume, error) {
	if IsCompressed(b) {
		return nil, formatErrorf(ErrCompressed, "gzip stream detected")
	}
	if len(b) < HeaderSize {
		return nil, formatErrorf(ErrTruncated, "got %d bytes, header needs %d", len(b), HeaderSize)
	}

	h, order, err := readHeader(b)
	if err != nil {
		return nil, formatErrorf(ErrTruncated, "reading header: %v", err)
	}

	magic := h.MagicString()
	if magic != MagicSingle && magic != MagicPair {
		return nil, formatErrorf(ErrBadMagic, "got %q", magic)
	}

	shape := h.Shape()
	if !shape.Valid() {
		return nil, formatErrorf(ErrBadDims, "dim %v", h.Dim[:4])
	}

	bpv := bytesPerVoxel(h.DataType)
	if bpv == 0 {
		return nil, formatErrorf(ErrUnsupportedType, "datatype code %d", h.DataType)
	}

	offset := HeaderSize
	if int(h.VoxOffset) > offset {
		offset = int(h.VoxOffset)
	}
	n := shape.Size()
	end := offset + n*bpv
	if end > len(b) || end < offset {
		return nil, formatErrorf(ErrTruncated, "payload needs %d bytes from offset %d, buffer has %d",
			n*bpv, offset, len(b))
	}

	data := decodeSamples(b[offset:end], h.DataType, n, order)

	if slope := h.SclSlope; slope != 0 && !math.IsNaN(float64(slope)) && !math.IsInf(float64(slope), 0) {
		inter := float64(h.SclInter)
		for i, v := range data {
			data[i] = float32(float64(v)*float64(slope) + inter)
		}
	}

	return &models.Volume{
		Header: h.VolumeHeader(order),
		Shape:  shape,
		Data:   data,
	}, nil
}

// decodeSamples converts n samples of the given scalar type to float32.
// The caller has already checked that payload holds n samples.
func decodeSamples(payload []byte, dataType int16, n int, order binary.ByteOrder) []float32 {
	out := make([]float32, n)
	switch dataType {
	case DTUint8:
		for i := range out {
			out[i] = float32(payload[i])
		}
	case DTInt16:
		for i := range out {
			out[i] = float32(int16(order.Uint16(payload[2*i:])))
		}
	case DTInt32:
		for i := range out {
			out[i] = float32(int32(order.Uint32(payload[4*i:])))
		}
	case DTFloat32:
		// Same width as the output, so this is a straight bit copy.
		for i := range out {
			out[i] = math.Float32frombits(order.Uint32(payload[4*i:]))
		}
	case DTFloat64:
		for i := range out {
			out[i] = float32(math.Float64frombits(order.Uint64(payload[8*i:])))
		}
	}
	return out
}
