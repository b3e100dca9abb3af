package types

import (
	"errors"
	"testing"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/wan-balancer-sim/core"
	"github.com/signalsfoundry/wan-balancer-sim/kb"
	"github.com/signalsfoundry/wan-balancer-sim/model"
)

func TestUpdateLinkRequestFlattensPatch(t *testing.T) {
	s, err := structpb.NewStruct(map[string]any{
		"id":     "wanlink-2",
		"weight": 4,
		"color":  "#123456",
	})
	if err != nil {
		t.Fatalf("NewStruct: %v", err)
	}

	var req UpdateLinkRequest
	if err := FromStruct(s, &req); err != nil {
		t.Fatalf("FromStruct error: %v", err)
	}
	if req.ID != "wanlink-2" {
		t.Fatalf("ID = %q, want wanlink-2", req.ID)
	}
	if req.Weight == nil || *req.Weight != 4 {
		t.Fatalf("Weight = %v, want 4", req.Weight)
	}
	if req.Color == nil || *req.Color != "#123456" {
		t.Fatalf("Color = %v, want #123456", req.Color)
	}
	if req.Source != nil || req.BandwidthMbps != nil {
		t.Fatalf("unset fields should stay nil: %+v", req.LinkPatch)
	}
}

func TestFromStructRejectsUnknownFields(t *testing.T) {
	s, _ := structpb.NewStruct(map[string]any{"sites": 3, "hosts": 2})
	var req ConfigureRequest
	if err := FromStruct(s, &req); !errors.Is(err, ErrMalformed) {
		t.Fatalf("FromStruct error = %v, want ErrMalformed", err)
	}
}

func TestFromStructNilIsEmpty(t *testing.T) {
	var req RateRequest
	if err := FromStruct(nil, &req); err != nil {
		t.Fatalf("FromStruct(nil) error: %v", err)
	}
	if req.Rate != 0 {
		t.Fatalf("Rate = %v, want 0", req.Rate)
	}
}

func TestStatsSurviveStructRoundTrip(t *testing.T) {
	theo, dev := 80.0, 1.5
	in := core.Stats{
		Algorithm:      model.AlgorithmWeightedRoundRobin,
		TotalGenerated: 40,
		InFlight:       2,
		Links: []core.LinkStats{{
			LinkID:         "wanlink-1",
			Weight:         4,
			TotalDelivered: 31,
			Percentage:     77.5,
			Theoretical:    &theo,
			Deviation:      &dev,
			Classification: core.Compliant,
		}},
	}
	s, err := ToStruct(in)
	if err != nil {
		t.Fatalf("ToStruct error: %v", err)
	}
	var out core.Stats
	if err := FromStruct(s, &out); err != nil {
		t.Fatalf("FromStruct error: %v", err)
	}
	if out.Algorithm != in.Algorithm || out.TotalGenerated != 40 || len(out.Links) != 1 {
		t.Fatalf("round trip = %+v", out)
	}
	got := out.Links[0]
	if got.Theoretical == nil || *got.Theoretical != theo || got.Classification != core.Compliant {
		t.Fatalf("link = %+v", got)
	}
}

func TestSnapshotSurvivesStructRoundTrip(t *testing.T) {
	topo := kb.New()
	if err := topo.Configure(3, 2); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if _, err := topo.AddLink(kb.LinkConfig{Source: 0, Target: 2}); err != nil {
		t.Fatalf("AddLink: %v", err)
	}
	s, err := ToStruct(topo.Snapshot())
	if err != nil {
		t.Fatalf("ToStruct error: %v", err)
	}
	var out kb.Snapshot
	if err := FromStruct(s, &out); err != nil {
		t.Fatalf("FromStruct error: %v", err)
	}
	if len(out.Sites) != 3 || len(out.Sites[1].Hosts) != 2 || len(out.Links) != 1 {
		t.Fatalf("snapshot = %d sites, %d links", len(out.Sites), len(out.Links))
	}
	if out.Links[0].TargetSiteIndex != 2 {
		t.Fatalf("link target = %d, want 2", out.Links[0].TargetSiteIndex)
	}
}
