// Package stack fuses same-shaped single-channel volumes into one
// channel-minor tensor.
package stack

import (
	"errors"
	"fmt"
	"strings"

	"braintumor/internal/models"
)

// Policy decides what happens when a channel holds fewer samples than the shape.
type Policy string

const (
	// ZeroFill treats missing samples as 0.
	ZeroFill Policy = "zerofill"

	// Strict rejects short channels with ErrShortChannel.
	Strict Policy = "strict"
)

// ErrShortChannel is returned under the Strict policy.
var ErrShortChannel = errors.New("channel shorter than shape")

// ChannelError identifies the short channel under the Strict policy. Name is
// the modality when the channels are the four modalities in stacking order.
type ChannelError struct {
	Channel int
	Name    string
	Samples int
	Need    int
}

func (e *ChannelError) Error() string {
	name := e.Name
	if name == "" {
		name = fmt.Sprintf("channel %d", e.Channel)
	}
	return fmt.Sprintf("stack: %s has %d samples, needs %d: %v", name, e.Samples, e.Need, ErrShortChannel)
}

func (e *ChannelError) Unwrap() error {
	return ErrShortChannel
}

// ParsePolicy parses a policy name. An empty name selects ZeroFill.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(s)) {
	case "", ZeroFill:
		return ZeroFill, nil
	case Strict:
		return Strict, nil
	default:
		return "", fmt.Errorf("unknown stack policy %q (must be %q or %q)", s, ZeroFill, Strict)
	}
}

// Stack interleaves the four modalities in the order
// [t1, t1ce, t2, flair] using the ZeroFill policy.
func Stack(t1, t1ce, t2, flair []float32, shape models.Shape3D) (*models.Tensor4D, error) {
	return Channels([][]float32{t1, t1ce, t2, flair}, shape, ZeroFill)
}

// Channels interleaves any number of channels in the given order. The output
// satisfies Data[i*len(channels)+c] == channels[c][i] for every voxel index i.
func Channels(channels [][]float32, shape models.Shape3D, policy Policy) (*models.Tensor4D, error) {
	if err := models.CheckShape("stack", shape); err != nil {
		return nil, err
	}
	if len(channels) == 0 {
		return nil, fmt.Errorf("stack: no channels given")
	}

	size := shape.Size()
	if policy == Strict {
		for c, ch := range channels {
			if len(ch) < size {
				err := &ChannelError{Channel: c, Samples: len(ch), Need: size}
				if len(channels) == len(models.Modalities) {
					err.Name = models.Modality(c).String()
				}
				return nil, err
			}
		}
	}

	nc := len(channels)
	data := make([]float32, size*nc)
	for c, ch := range channels {
		n := len(ch)
		if n > size {
			n = size
		}
		for i := 0; i < n; i++ {
			data[i*nc+c] = ch[i]
		}
	}

	return &models.Tensor4D{
		Shape:    shape,
		Channels: nc,
		Data:     data,
	}, nil
}

// Unstack extracts channel c from a tensor into a new buffer.
func Unstack(t *models.Tensor4D, c int) ([]float32, error) {
	if c < 0 || c >= t.Channels {
		return nil, fmt.Errorf("stack: channel %d out of range [0, %d)", c, t.Channels)
	}
	size := t.Shape.Size()
	out := make([]float32, size)
	for i := 0; i < size; i++ {
		out[i] = t.Data[i*t.Channels+c]
	}
	return out, nil
}
