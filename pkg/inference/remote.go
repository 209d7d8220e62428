package inference

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"braintumor/internal/models"
)

// Request headers describing the posted tensor.
const (
	HeaderShape    = "X-Tensor-Shape"
	HeaderChannels = "X-Tensor-Channels"
	HeaderDType    = "X-Tensor-Dtype"
)

// maxReplySize bounds the JSON reply read from the service.
const maxReplySize = 256 << 20

// RemoteOptions tunes the HTTP client.
type RemoteOptions struct {
	Timeout time.Duration
	Client  *http.Client
}

// Remote posts the tensor to an inference service and decodes its label map.
type Remote struct {
	url    string
	client *http.Client
}

// RemoteReply is the service's JSON reply. Only the fields needed to rebuild
// the label volume are decoded.
type RemoteReply struct {
	Success    *bool   `json:"success,omitempty"`
	Prediction []int32 `json:"prediction"`
	Shape      []int   `json:"shape"`
	Detail     string  `json:"detail,omitempty"`
}

// RemoteError reports a non-2xx reply.
type RemoteError struct {
	StatusCode int
	Detail     string
}

func (e *RemoteError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("remote inference: status %d", e.StatusCode)
	}
	return fmt.Sprintf("remote inference: status %d: %s", e.StatusCode, e.Detail)
}

// NewRemote returns a client for the service at url.
func NewRemote(url string, opts RemoteOptions) (*Remote, error) {
	if url == "" {
		return nil, errors.New("remote inference: no URL configured")
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &Remote{url: url, client: client}, nil
}

func (*Remote) Name() string {
	return BackendRemote
}

// Predict sends t as a little-endian float32 body and returns the label
// volume from the reply. The reply shape must match t's spatial shape.
func (r *Remote) Predict(ctx context.Context, t *models.Tensor4D) (*models.ClassLabelVolume, error) {
	body := make([]byte, 4*len(t.Data))
	for i, v := range t.Data {
		binary.LittleEndian.PutUint32(body[4*i:], math.Float32bits(v))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("remote inference: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(HeaderShape, fmt.Sprintf("%d,%d,%d", t.Shape.Height, t.Shape.Width, t.Shape.Depth))
	req.Header.Set(HeaderChannels, fmt.Sprint(t.Channels))
	req.Header.Set(HeaderDType, "float32-le")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote inference: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplySize))
	if err != nil {
		return nil, fmt.Errorf("remote inference: reading reply: %w", err)
	}

	var reply RemoteReply
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = json.Unmarshal(data, &reply)
		return nil, &RemoteError{StatusCode: resp.StatusCode, Detail: reply.Detail}
	}
	if err := json.Unmarshal(data, &reply); err != nil {
		return nil, fmt.Errorf("remote inference: decoding reply: %w", err)
	}
	if reply.Success != nil && !*reply.Success {
		return nil, &RemoteError{StatusCode: resp.StatusCode, Detail: "service reported failure"}
	}

	return reply.Volume(t.Shape)
}

// Volume checks the reply against the expected shape and wraps its labels.
func (rr *RemoteReply) Volume(want models.Shape3D) (*models.ClassLabelVolume, error) {
	if len(rr.Shape) != 3 || rr.Shape[0] != want.Height || rr.Shape[1] != want.Width || rr.Shape[2] != want.Depth {
		return nil, fmt.Errorf("remote inference: reply shape %v, want %v", rr.Shape, want)
	}
	if len(rr.Prediction) != want.Size() {
		return nil, fmt.Errorf("remote inference: got %d labels, want %d", len(rr.Prediction), want.Size())
	}
	return &models.ClassLabelVolume{Shape: want, Labels: rr.Prediction}, nil
}
