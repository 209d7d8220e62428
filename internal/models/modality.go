package models

import (
	"fmt"
	"strings"
)

// Modality identifies one of the four MRI acquisition protocols.
// The numeric value is the channel position in a stacked tensor.
type Modality int

const (
	T1 Modality = iota
	T1CE
	T2
	FLAIR
)

// Modalities lists the modalities in channel order.
var Modalities = []Modality{T1, T1CE, T2, FLAIR}

func (m Modality) String() string {
	switch m {
	case T1:
		return "t1"
	case T1CE:
		return "t1ce"
	case T2:
		return "t2"
	case FLAIR:
		return "flair"
	default:
		return fmt.Sprintf("modality%d", int(m))
	}
}

// Role returns the protocol role of the modality.
func (m Modality) Role() string {
	switch m {
	case T1:
		return "primary"
	case T1CE:
		return "contrast-enhanced"
	case T2:
		return "secondary"
	case FLAIR:
		return "fluid-sensitive"
	default:
		return "unknown"
	}
}

// ParseModality parses a modality name such as "t1ce" or "FLAIR".
func ParseModality(s string) (Modality, error) {
	for _, m := range Modalities {
		if strings.EqualFold(s, m.String()) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown modality %q", s)
}
