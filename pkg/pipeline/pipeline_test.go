package pipeline

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"braintumor/internal/models"
	"braintumor/pkg/config"
	"braintumor/pkg/inference"
	"braintumor/pkg/nifti"
)

// fixedModel labels the first n voxels with class 1 and the rest background.
type fixedModel struct {
	n   int
	err error
}

func (f *fixedModel) Name() string { return "fixed" }

func (f *fixedModel) Predict(ctx context.Context, t *models.Tensor4D) (*models.ClassLabelVolume, error) {
	if f.err != nil {
		return nil, f.err
	}
	labels := make([]int32, t.Shape.Size())
	for i := 0; i < f.n && i < len(labels); i++ {
		labels[i] = 1
	}
	return &models.ClassLabelVolume{Shape: t.Shape, Labels: labels}, nil
}

func testParams(t *testing.T, target models.Shape3D) *Params {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Processing.NumCores = 2
	cfg.Processing.TargetShape = target
	params, err := ParamsFromConfig(cfg)
	if err != nil {
		t.Fatalf("ParamsFromConfig failed: %v", err)
	}
	return params
}

// niftiVolume encodes a ramp volume whose values are offset per modality.
func niftiVolume(t *testing.T, shape models.Shape3D, offset float32) []byte {
	t.Helper()
	data := make([]float32, shape.Size())
	for i := range data {
		data[i] = float32(i) + offset
	}
	b, err := nifti.Encode(&models.Volume{Shape: shape, Data: data})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	return b
}

func niftiInputs(t *testing.T, shape models.Shape3D) Inputs {
	in := Inputs{}
	for _, m := range models.Modalities {
		in[m] = Source{NIfTI: niftiVolume(t, shape, float32(m)*10)}
	}
	return in
}

func pngSlice(t *testing.T, w, h int, value uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: value + uint8(x+y)})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode failed: %v", err)
	}
	return buf.Bytes()
}

func TestProcessNIfTI(t *testing.T) {
	target := models.Shape3D{Height: 4, Width: 4, Depth: 3}
	p, err := New(testParams(t, target), &fixedModel{n: 12}, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	res, err := p.Process(context.Background(), niftiInputs(t, models.Shape3D{Height: 8, Width: 6, Depth: 5}))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if res.RunID == "" {
		t.Error("Expected a run id")
	}
	if got := res.Tensor.Dims(); got[0] != 4 || got[1] != 4 || got[2] != 3 || got[3] != 4 {
		t.Errorf("Expected tensor dims [4 4 3 4], got %v", got)
	}
	if len(res.Tensor.Data) != target.Size()*4 {
		t.Errorf("Expected %d tensor values, got %d", target.Size()*4, len(res.Tensor.Data))
	}
	for i, v := range res.Tensor.Data {
		if v < 0 || v > 1 {
			t.Fatalf("Tensor value %d out of [0, 1]: %f", i, v)
		}
	}
	for _, m := range models.Modalities {
		if res.Volumes[m].Shape != target {
			t.Errorf("%s: expected resampled shape %v, got %v", m, target, res.Volumes[m].Shape)
		}
	}

	if res.Statistics == nil {
		t.Fatal("Expected statistics")
	}
	if res.Statistics.TotalVoxels != 48 || res.Statistics.TumorVoxels != 12 {
		t.Errorf("Expected 12 of 48 tumor voxels, got %d of %d", res.Statistics.TumorVoxels, res.Statistics.TotalVoxels)
	}
	if res.Statistics.TumorPercentage != 25 {
		t.Errorf("Expected 25%% tumor, got %f", res.Statistics.TumorPercentage)
	}
	if len(res.Statistics.Regions) != 1 || res.Statistics.Regions[0].Name != "NCR/NET" {
		t.Errorf("Expected a single NCR/NET region, got %+v", res.Statistics.Regions)
	}

	stages := make(map[string]bool)
	for _, timing := range res.Timings {
		stages[timing.Stage] = true
	}
	for _, s := range []string{StageResample, StageStack, StagePredict, StageStatistics} {
		if !stages[s] {
			t.Errorf("Expected timing for stage %s", s)
		}
	}
	if len(res.Summary) != 4 || res.Summary[1].Modality != "t1ce" {
		t.Errorf("Unexpected tensor summary %+v", res.Summary)
	}
}

func TestProcessChannelOrder(t *testing.T) {
	shape := models.Shape3D{Height: 2, Width: 2, Depth: 2}
	p, _ := New(testParams(t, shape), nil, nil)

	// Modality m is bright only at voxel m.
	in := Inputs{}
	for _, m := range models.Modalities {
		data := make([]float32, shape.Size())
		data[m] = 100
		b, _ := nifti.Encode(&models.Volume{Shape: shape, Data: data})
		in[m] = Source{NIfTI: b}
	}

	res, err := p.Prepare(context.Background(), in)
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	for i := 0; i < shape.Size(); i++ {
		for c := 0; c < 4; c++ {
			var want float32
			if i == c {
				want = 1
			}
			if got := res.Tensor.Data[i*4+c]; got != want {
				t.Fatalf("Voxel %d channel %d: expected %f, got %f", i, c, want, got)
			}
		}
	}
}

func TestProcessStageError(t *testing.T) {
	shape := models.Shape3D{Height: 4, Width: 4, Depth: 4}
	in := niftiInputs(t, shape)
	bad := append([]byte(nil), in[models.T1CE].NIfTI...)
	copy(bad[344:348], "xxxx")
	in[models.T1CE] = Source{NIfTI: bad}

	p, _ := New(testParams(t, shape), inference.NewHeuristic(), nil)
	_, err := p.Process(context.Background(), in)
	if err == nil {
		t.Fatal("Expected error for bad magic")
	}

	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("Expected *StageError, got %T: %v", err, err)
	}
	if stageErr.Modality != "t1ce" || stageErr.Stage != StageDecode {
		t.Errorf("Expected t1ce decode failure, got %s %s", stageErr.Modality, stageErr.Stage)
	}
	if !errors.Is(err, nifti.ErrBadMagic) {
		t.Errorf("Expected ErrBadMagic in chain, got %v", err)
	}
	if !strings.HasPrefix(err.Error(), "t1ce: decode: ") {
		t.Errorf("Unexpected error text %q", err.Error())
	}
}

func TestProcessMissingInput(t *testing.T) {
	shape := models.Shape3D{Height: 2, Width: 2, Depth: 2}
	in := niftiInputs(t, shape)
	delete(in, models.FLAIR)

	p, _ := New(testParams(t, shape), inference.NewHeuristic(), nil)
	_, err := p.Process(context.Background(), in)
	if !errors.Is(err, ErrMissingInput) {
		t.Fatalf("Expected ErrMissingInput, got %v", err)
	}
	if !strings.HasPrefix(err.Error(), "flair: input") {
		t.Errorf("Unexpected error text %q", err.Error())
	}
}

func TestProcessWithoutModel(t *testing.T) {
	shape := models.Shape3D{Height: 2, Width: 2, Depth: 2}
	p, _ := New(testParams(t, shape), nil, nil)

	if _, err := p.Process(context.Background(), niftiInputs(t, shape)); !errors.Is(err, ErrNoModel) {
		t.Errorf("Expected ErrNoModel, got %v", err)
	}

	res, err := p.Prepare(context.Background(), niftiInputs(t, shape))
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if res.Tensor == nil || res.Labels != nil || res.Statistics != nil {
		t.Errorf("Prepare should stop after stacking: %+v", res)
	}
}

func TestProcessModelError(t *testing.T) {
	shape := models.Shape3D{Height: 2, Width: 2, Depth: 2}
	boom := errors.New("service unavailable")
	p, _ := New(testParams(t, shape), &fixedModel{err: boom}, nil)

	_, err := p.Process(context.Background(), niftiInputs(t, shape))
	var stageErr *StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != StagePredict || !errors.Is(err, boom) {
		t.Errorf("Expected predict StageError wrapping the model error, got %v", err)
	}
}

func TestProcessCanceled(t *testing.T) {
	shape := models.Shape3D{Height: 2, Width: 2, Depth: 2}
	p, _ := New(testParams(t, shape), inference.NewHeuristic(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Process(ctx, niftiInputs(t, shape)); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestProcessDegenerateWarning(t *testing.T) {
	shape := models.Shape3D{Height: 3, Width: 3, Depth: 3}
	in := niftiInputs(t, shape)
	flat, _ := nifti.Encode(&models.Volume{Shape: shape, Data: make([]float32, shape.Size())})
	in[models.T2] = Source{NIfTI: flat}

	p, _ := New(testParams(t, shape), inference.NewHeuristic(), nil)
	res, err := p.Process(context.Background(), in)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(res.Warnings) != 1 || res.Warnings[0].Modality != "t2" {
		t.Fatalf("Expected one t2 warning, got %+v", res.Warnings)
	}
	if res.Reports[models.T2].Warning == nil {
		t.Error("Expected the t2 report to carry the warning")
	}
	if !strings.HasPrefix(res.Warnings[0].String(), "t2: normalize: ") {
		t.Errorf("Unexpected warning text %q", res.Warnings[0].String())
	}
}

func TestProcessSliceImages(t *testing.T) {
	target := models.Shape3D{Height: 6, Width: 5, Depth: 4}
	in := Inputs{}
	for _, m := range models.Modalities {
		in[m] = Source{Slices: [][]byte{
			pngSlice(t, 10, 12, uint8(20*m)),
			pngSlice(t, 10, 12, uint8(20*m+40)),
		}}
	}

	p, _ := New(testParams(t, target), &fixedModel{}, nil)
	res, err := p.Process(context.Background(), in)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if res.Tensor.Shape != target {
		t.Errorf("Expected tensor shape %v, got %v", target, res.Tensor.Shape)
	}
	if res.Statistics.TumorVoxels != 0 || res.Statistics.TotalVoxels != target.Size() {
		t.Errorf("Unexpected statistics %+v", res.Statistics)
	}
}

func TestProcessSliceDir(t *testing.T) {
	target := models.Shape3D{Height: 4, Width: 4, Depth: 3}
	in := Inputs{}
	for _, m := range models.Modalities {
		dir := filepath.Join(t.TempDir(), m.String())
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
		for i := 0; i < 3; i++ {
			name := filepath.Join(dir, fmt.Sprintf("slice_%d.png", i))
			if err := os.WriteFile(name, pngSlice(t, 8, 8, uint8(30*i)), 0644); err != nil {
				t.Fatal(err)
			}
		}
		in[m] = Source{SliceDir: dir}
	}

	p, _ := New(testParams(t, target), inference.NewHeuristic(), nil)
	res, err := p.Process(context.Background(), in)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if res.Method != inference.BackendHeuristic {
		t.Errorf("Expected heuristic method, got %q", res.Method)
	}
}

func TestSaveIntermediaryResults(t *testing.T) {
	shape := models.Shape3D{Height: 4, Width: 4, Depth: 2}
	params := testParams(t, shape)
	params.SaveIntermediaryResults = true
	params.IntermediaryDir = t.TempDir()

	p, _ := New(params, &fixedModel{n: 3}, nil)
	res, err := p.Process(context.Background(), niftiInputs(t, shape))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	for _, sub := range []string{"01_normalized/flair", "02_labels"} {
		dir := filepath.Join(params.IntermediaryDir, res.RunID, sub)
		entries, err := os.ReadDir(dir)
		if err != nil {
			t.Fatalf("Expected directory %s: %v", dir, err)
		}
		if len(entries) != shape.Depth {
			t.Errorf("Expected %d slices in %s, got %d", shape.Depth, sub, len(entries))
		}
	}
}

func TestResponse(t *testing.T) {
	shape := models.Shape3D{Height: 2, Width: 2, Depth: 1}
	p, _ := New(testParams(t, shape), &fixedModel{n: 1}, nil)
	res, err := p.Process(context.Background(), niftiInputs(t, shape))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	data, err := json.Marshal(res.Response(now))
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded["success"] != true || decoded["method"] != "fixed" {
		t.Errorf("Unexpected response header fields: %s", data)
	}
	if decoded["timestamp"] != "2024-05-01T12:00:00.000000Z" {
		t.Errorf("Unexpected timestamp %v", decoded["timestamp"])
	}
	if shape, ok := decoded["shape"].([]interface{}); !ok || len(shape) != 3 {
		t.Errorf("Expected 3-element shape, got %v", decoded["shape"])
	}
	if pred, ok := decoded["prediction"].([]interface{}); !ok || len(pred) != 4 || pred[0] != float64(1) {
		t.Errorf("Unexpected prediction %v", decoded["prediction"])
	}
	stats := decoded["statistics"].(map[string]interface{})
	if stats["totalVoxels"] != float64(4) || stats["tumorVoxels"] != float64(1) {
		t.Errorf("Unexpected statistics %v", stats)
	}
}

func TestLoadSliceDirOrder(t *testing.T) {
	dir := t.TempDir()
	for i, name := range []string{"slice_10.png", "slice_2.png", "slice_1.png", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte{byte(i)}, 0644); err != nil {
			t.Fatal(err)
		}
	}

	images, err := LoadSliceDir(dir)
	if err != nil {
		t.Fatalf("LoadSliceDir failed: %v", err)
	}
	if len(images) != 3 {
		t.Fatalf("Expected 3 images, got %d", len(images))
	}
	// Contents are the write index: slice_1 was written third, slice_2 second, slice_10 first.
	want := []byte{2, 1, 0}
	for i, w := range want {
		if images[i][0] != w {
			t.Errorf("Position %d: expected file %d, got %d", i, w, images[i][0])
		}
	}

	if _, err := LoadSliceDir(t.TempDir()); err == nil {
		t.Error("Expected error for empty directory")
	}
}

func TestExtractNumber(t *testing.T) {
	tests := map[string]int{
		"slice_012.png":       12,
		"BraTS_001_t1_45.jpg": 45,
		"image.png":           -1,
		"7.png":               7,
	}
	for name, want := range tests {
		if got := extractNumber(name); got != want {
			t.Errorf("extractNumber(%q) = %d, want %d", name, got, want)
		}
	}
}

func TestParamsFromConfigErrors(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Processing.ResampleMode = "cubic"
	if _, err := ParamsFromConfig(cfg); err == nil {
		t.Error("Expected error for unknown resample mode")
	}

	cfg = config.DefaultConfig()
	cfg.Processing.StackPolicy = "pad"
	if _, err := ParamsFromConfig(cfg); err == nil {
		t.Error("Expected error for unknown stack policy")
	}
}

// TestProcessDefaultTarget runs the full-size grid with the heuristic model.
func TestProcessDefaultTarget(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping full-size pipeline run in short mode")
	}

	cfg := config.DefaultConfig()
	params, err := ParamsFromConfig(cfg)
	if err != nil {
		t.Fatalf("ParamsFromConfig failed: %v", err)
	}
	p, _ := New(params, inference.NewHeuristic(), nil)

	res, err := p.Process(context.Background(), niftiInputs(t, models.Shape3D{Height: 60, Width: 60, Depth: 40}))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if res.Statistics.TotalVoxels != 128*128*96 {
		t.Errorf("Expected %d voxels, got %d", 128*128*96, res.Statistics.TotalVoxels)
	}
	sum := res.Statistics.BackgroundVoxels
	for _, r := range res.Statistics.Regions {
		sum += r.Voxels
	}
	if sum != res.Statistics.TotalVoxels {
		t.Errorf("Region counts do not add up: %d != %d", sum, res.Statistics.TotalVoxels)
	}
}

// fileOrderNIfTI assembles an n+1 float32 file by hand whose payload is in
// NIfTI order (x fastest) and whose voxel (x, y, z) holds its file position.
func fileOrderNIfTI(t *testing.T, nx, ny, nz int) []byte {
	t.Helper()
	h := nifti.Header{
		SizeOfHdr: nifti.HeaderSize,
		DataType:  nifti.DTFloat32,
		BitPix:    32,
		VoxOffset: nifti.HeaderSize + 4,
	}
	h.Dim = [8]int16{3, int16(nx), int16(ny), int16(nz), 1, 1, 1, 1}
	h.PixDim = [8]float32{1, 1, 1, 1, 1, 1, 1, 1}
	copy(h.Magic[:], nifti.MagicSingle)

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &h); err != nil {
		t.Fatalf("binary.Write failed: %v", err)
	}
	buf.Write([]byte{0, 0, 0, 0})
	for pos := 0; pos < nx*ny*nz; pos++ {
		if err := binary.Write(&buf, binary.LittleEndian, float32(pos)); err != nil {
			t.Fatal(err)
		}
	}
	return buf.Bytes()
}

func TestPrepareAxisOrder(t *testing.T) {
	nx, ny, nz := 4, 3, 2
	shape := models.Shape3D{Height: nx, Width: ny, Depth: nz}
	file := fileOrderNIfTI(t, nx, ny, nz)
	in := Inputs{}
	for _, m := range models.Modalities {
		in[m] = Source{NIfTI: file}
	}

	p, err := New(testParams(t, shape), nil, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	res, err := p.Prepare(context.Background(), in)
	if err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}

	// Positions 0..23 normalize to pos/23; the first two fall under the noise floor.
	last := float64(nx*ny*nz - 1)
	for x := 0; x < nx; x++ {
		for y := 0; y < ny; y++ {
			for z := 0; z < nz; z++ {
				pos := x + nx*y + nx*ny*z
				if pos < 2 {
					continue
				}
				for c := 0; c < len(models.Modalities); c++ {
					got := int(math.Round(float64(res.Tensor.At(x, y, z, c)) * last))
					if got != pos {
						t.Fatalf("Voxel (%d,%d,%d) channel %d: got file voxel #%d, want #%d", x, y, z, c, got, pos)
					}
				}
			}
		}
	}
}

func TestNewCopiesParams(t *testing.T) {
	params := testParams(t, models.Shape3D{Height: 2, Width: 2, Depth: 2})
	params.NumCores = 0
	if _, err := New(params, nil, nil); err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if params.NumCores != 0 {
		t.Errorf("New should not modify the caller's params, NumCores is now %d", params.NumCores)
	}
}
