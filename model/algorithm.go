package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownAlgorithm is returned by ParseAlgorithm for unrecognised names.
var ErrUnknownAlgorithm = errors.New("unknown algorithm")

// Algorithm selects how the scheduler picks a link for each new packet.
type Algorithm string

const (
	AlgorithmRoundRobin         Algorithm = "round-robin"
	AlgorithmWeightedRoundRobin Algorithm = "weighted-round-robin"
)

// ParseAlgorithm accepts the canonical names plus the short forms "rr" and
// "wrr".
func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "round-robin", "rr", "":
		return AlgorithmRoundRobin, nil
	case "weighted-round-robin", "wrr", "weighted":
		return AlgorithmWeightedRoundRobin, nil
	default:
		return "", fmt.Errorf("%w %q", ErrUnknownAlgorithm, s)
	}
}

func (a Algorithm) String() string { return string(a) }
