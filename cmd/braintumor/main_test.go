package main

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"braintumor/internal/models"
	"braintumor/pkg/pipeline"
)

func testOptions(paths, dirs map[models.Modality]string) *options {
	opts := &options{
		niftiPaths: make(map[models.Modality]*string),
		sliceDirs:  make(map[models.Modality]*string),
	}
	for _, m := range models.Modalities {
		p, d := paths[m], dirs[m]
		opts.niftiPaths[m] = &p
		opts.sliceDirs[m] = &d
	}
	return opts
}

func TestBuildInputs(t *testing.T) {
	opts := testOptions(
		map[models.Modality]string{models.T1: "t1.nii", models.T1CE: "t1ce.nii", models.T2: "t2.nii"},
		map[models.Modality]string{models.FLAIR: "flair_slices"},
	)
	inputs, err := buildInputs(opts)
	if err != nil {
		t.Fatalf("buildInputs failed: %v", err)
	}
	if inputs[models.T1].Path != "t1.nii" || inputs[models.FLAIR].SliceDir != "flair_slices" {
		t.Errorf("Unexpected inputs %+v", inputs)
	}

	missing := testOptions(map[models.Modality]string{models.T1: "t1.nii"}, nil)
	if _, err := buildInputs(missing); err == nil {
		t.Error("Expected error for missing modalities")
	}

	both := testOptions(
		map[models.Modality]string{models.T1: "a", models.T1CE: "b", models.T2: "c", models.FLAIR: "d"},
		map[models.Modality]string{models.T2: "dir"},
	)
	if _, err := buildInputs(both); err == nil {
		t.Error("Expected error for a modality given twice")
	}
}

func TestWriteTensor(t *testing.T) {
	tensor := &models.Tensor4D{
		Shape:    models.Shape3D{Height: 1, Width: 1, Depth: 2},
		Channels: 2,
		Data:     []float32{0.25, 0.5, 0.75, 1},
	}
	path := filepath.Join(t.TempDir(), "tensor.bin")

	n, err := writeTensor(tensor, path)
	if err != nil {
		t.Fatalf("writeTensor failed: %v", err)
	}
	if n != 16 {
		t.Errorf("Expected 16 bytes, got %d", n)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read tensor: %v", err)
	}
	for i, want := range tensor.Data {
		if got := math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:])); got != want {
			t.Errorf("Value %d: expected %f, got %f", i, want, got)
		}
	}
}

func TestConsoleWriter(t *testing.T) {
	if consoleWriter("-") != os.Stderr {
		t.Error("Expected console output on stderr when the response goes to stdout")
	}
	if consoleWriter("response.json") != os.Stdout {
		t.Error("Expected console output on stdout when the response goes to a file")
	}
	if consoleWriter("") != os.Stdout {
		t.Error("Expected console output on stdout without a response")
	}
}

func TestPrintSummaryWriter(t *testing.T) {
	res := &pipeline.Result{
		RunID: "run-1",
		Statistics: &models.TumorStatistics{
			TotalVoxels: 1000,
			TumorVoxels: 10,
			Regions:     []models.RegionStatistics{{ID: 2, Name: "Edema", Voxels: 10, Percentage: 1}},
		},
		Method: "heuristic",
	}

	var buf bytes.Buffer
	printSummary(&buf, res, 1500*time.Millisecond)
	out := buf.String()
	for _, want := range []string{"run-1", "Total voxels: 1,000", "Edema"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected summary to contain %q, got:\n%s", want, out)
		}
	}
}
