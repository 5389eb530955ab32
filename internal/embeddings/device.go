package embeddings

import (
	"fmt"
	"strconv"
	"strings"
)

// Device is a compute device for inference
type Device struct {
	CUDA bool
	ID   int
}

// CPU is the default device
var CPU = Device{}

// ParseDevice parses "cpu", "cuda" or "cuda:<id>"
func ParseDevice(s string) (Device, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case s == "cpu":
		return CPU, nil
	case s == "cuda":
		return Device{CUDA: true}, nil
	case strings.HasPrefix(s, "cuda:"):
		id, err := strconv.Atoi(strings.TrimPrefix(s, "cuda:"))
		if err != nil || id < 0 {
			return Device{}, fmt.Errorf("invalid device '%s': bad cuda device id", s)
		}
		return Device{CUDA: true, ID: id}, nil
	default:
		return Device{}, fmt.Errorf("invalid device '%s': expected cpu or cuda:<id>", s)
	}
}

func (d Device) String() string {
	if d.CUDA {
		return "cuda:" + strconv.Itoa(d.ID)
	}
	return "cpu"
}
