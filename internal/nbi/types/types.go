// Package types maps control-surface messages to and from the simulator's
// domain types. The wire messages are google.protobuf.Struct values whose
// fields follow the domain types' JSON names.
package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/wan-balancer-sim/kb"
)

// ErrMalformed indicates a message could not be mapped onto its domain type.
var ErrMalformed = errors.New("malformed message")

// ConfigureRequest replaces the topology's sites and hosts.
type ConfigureRequest struct {
	Sites        int `json:"sites"`
	HostsPerSite int `json:"hosts_per_site"`
}

// UpdateLinkRequest edits one link.
type UpdateLinkRequest struct {
	ID string `json:"id"`
	kb.LinkPatch
}

// LinkIDRequest addresses one link.
type LinkIDRequest struct {
	ID string `json:"id"`
}

// AlgorithmRequest selects the scheduling algorithm.
type AlgorithmRequest struct {
	Algorithm string `json:"algorithm"`
}

// RateRequest sets the generation rate in packets per second.
type RateRequest struct {
	Rate float64 `json:"rate"`
}

// SpeedRequest sets the animation speed.
type SpeedRequest struct {
	Speed float64 `json:"speed"`
}

// TotalPacketsRequest sets the packet budget; 0 means unlimited.
type TotalPacketsRequest struct {
	TotalPackets int `json:"total_packets"`
}

// StartResponse carries the id of the run that was started.
type StartResponse struct {
	RunID string `json:"run_id"`
}

// LinkList wraps a list of links so it can travel as a Struct.
type LinkList[T any] struct {
	Links []T `json:"links"`
}

// ToStruct converts v to a Struct through its JSON form.
func ToStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("ToStruct: marshal %T: %w", v, err)
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, s); err != nil {
		return nil, fmt.Errorf("ToStruct: %T is not a JSON object: %w", v, err)
	}
	return s, nil
}

// FromStruct decodes s into out. Unknown fields are rejected so typos in
// client requests surface as errors instead of silently doing nothing.
func FromStruct(s *structpb.Struct, out any) error {
	if s == nil {
		s = &structpb.Struct{}
	}
	raw, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}
