package inference

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"braintumor/internal/models"
)

// ONNXOptions describes a segmentation model exported to ONNX.
type ONNXOptions struct {
	ModelPath     string
	InputName     string
	OutputName    string
	SharedLibrary string
	NumClasses    int
}

// ONNX runs a local onnxruntime session. Input is [1,H,W,D,C] and output is
// [1,H,W,D,K] class scores. Tensors are allocated for the first shape seen
// and rebuilt when the shape changes. Runs are serialized.
type ONNX struct {
	opts ONNXOptions

	mu           sync.Mutex
	shape        models.Shape3D
	channels     int
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

// NewONNX initializes the onnxruntime environment and checks the model file.
// The session itself is created on the first Predict.
func NewONNX(opts ONNXOptions) (*ONNX, error) {
	if opts.ModelPath == "" {
		return nil, errors.New("onnx: no model path configured")
	}
	if _, err := os.Stat(opts.ModelPath); err != nil {
		return nil, fmt.Errorf("onnx: %w", err)
	}
	if opts.NumClasses < 1 {
		return nil, fmt.Errorf("onnx: numClasses must be positive, got %d", opts.NumClasses)
	}
	if opts.InputName == "" {
		opts.InputName = "input"
	}
	if opts.OutputName == "" {
		opts.OutputName = "output"
	}

	if opts.SharedLibrary != "" {
		ort.SetSharedLibraryPath(opts.SharedLibrary)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}
	return &ONNX{opts: opts}, nil
}

func (*ONNX) Name() string {
	return BackendONNX
}

// Predict runs the model on t and takes the argmax over class scores.
func (o *ONNX) Predict(ctx context.Context, t *models.Tensor4D) (*models.ClassLabelVolume, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.session == nil || o.shape != t.Shape || o.channels != t.Channels {
		o.destroy()
		if err := o.build(t.Shape, t.Channels); err != nil {
			return nil, err
		}
	}

	copy(o.inputTensor.GetData(), t.Data)
	if err := o.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	scores := make([]float32, len(o.outputTensor.GetData()))
	copy(scores, o.outputTensor.GetData())
	return Argmax(scores, o.opts.NumClasses, t.Shape)
}

func (o *ONNX) build(shape models.Shape3D, channels int) error {
	h, w, d := int64(shape.Height), int64(shape.Width), int64(shape.Depth)

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, h, w, d, int64(channels)))
	if err != nil {
		return fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, h, w, d, int64(o.opts.NumClasses)))
	if err != nil {
		inputTensor.Destroy()
		return fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(o.opts.ModelPath,
		[]string{o.opts.InputName}, []string{o.opts.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return fmt.Errorf("failed to create ONNX session: %w", err)
	}

	o.session = session
	o.inputTensor = inputTensor
	o.outputTensor = outputTensor
	o.shape = shape
	o.channels = channels
	return nil
}

func (o *ONNX) destroy() {
	if o.inputTensor != nil {
		o.inputTensor.Destroy()
		o.inputTensor = nil
	}
	if o.outputTensor != nil {
		o.outputTensor.Destroy()
		o.outputTensor = nil
	}
	if o.session != nil {
		o.session.Destroy()
		o.session = nil
	}
}

// Close releases the session and the onnxruntime environment.
func (o *ONNX) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.destroy()
	if ort.IsInitialized() {
		return ort.DestroyEnvironment()
	}
	return nil
}
