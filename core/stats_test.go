package core

import (
	"math"
	"testing"

	"github.com/signalsfoundry/wan-balancer-sim/model"
)

func TestAggregateRoundRobinPercentages(t *testing.T) {
	links := []model.WanLink{
		{ID: "a", SourceSiteIndex: 0, TargetSiteIndex: 1, Weight: 1, TotalDelivered: 3},
		{ID: "b", SourceSiteIndex: 1, TargetSiteIndex: 2, Weight: 1, TotalDelivered: 1},
		{ID: "loop", SourceSiteIndex: 2, TargetSiteIndex: 2, Weight: 9},
	}
	st := Aggregate(StatsInput{Links: links, NumSites: 3, Algorithm: model.AlgorithmRoundRobin, TotalGenerated: 4, InFlight: 2})

	if len(st.Links) != 2 {
		t.Fatalf("len(Links) = %d, want 2 (self-loop excluded)", len(st.Links))
	}
	if a, _ := st.Link("a"); a.Percentage != 75 {
		t.Fatalf("a.Percentage = %v, want 75", a.Percentage)
	}
	if a, _ := st.Link("a"); a.Theoretical != nil || a.Classification != "" {
		t.Fatalf("round-robin stats carry weighted fields: %+v", a)
	}
	if st.InFlight != 2 || st.TotalGenerated != 4 {
		t.Fatalf("aggregate = %d/%d, want 4 generated, 2 in flight", st.TotalGenerated, st.InFlight)
	}
}

func TestAggregateZeroGenerated(t *testing.T) {
	links := []model.WanLink{{ID: "a", SourceSiteIndex: 0, TargetSiteIndex: 1, Weight: 2}}
	st := Aggregate(StatsInput{Links: links, NumSites: 2, Algorithm: model.AlgorithmWeightedRoundRobin})
	a, ok := st.Link("a")
	if !ok {
		t.Fatalf("link a missing")
	}
	if a.Percentage != 0 {
		t.Fatalf("Percentage = %v, want 0", a.Percentage)
	}
	if a.Classification != Unclassified {
		t.Fatalf("Classification = %s, want unclassified", a.Classification)
	}
}

func TestAggregateWeightedDeviation(t *testing.T) {
	links := []model.WanLink{
		{ID: "a", SourceSiteIndex: 0, TargetSiteIndex: 1, Weight: 1, TotalDelivered: 10},
		{ID: "b", SourceSiteIndex: 1, TargetSiteIndex: 0, Weight: 4, TotalDelivered: 90},
		{ID: "gone", SourceSiteIndex: 0, TargetSiteIndex: 7, Weight: 100, TotalDelivered: 5},
	}
	st := Aggregate(StatsInput{Links: links, NumSites: 2, Algorithm: model.AlgorithmWeightedRoundRobin, TotalGenerated: 100})

	a, _ := st.Link("a")
	b, _ := st.Link("b")
	if _, ok := st.Link("gone"); ok {
		t.Fatalf("ineligible link reported")
	}
	if math.Abs(*a.Theoretical-20) > 1e-9 || math.Abs(*b.Theoretical-80) > 1e-9 {
		t.Fatalf("theoretical = %v/%v, want 20/80", *a.Theoretical, *b.Theoretical)
	}
	if math.Abs(*a.Deviation-10) > 1e-9 || a.Classification != Deviating {
		t.Fatalf("a = dev %v %s, want 10 deviating", *a.Deviation, a.Classification)
	}
	if b.Classification != Deviating {
		t.Fatalf("b.Classification = %s, want deviating", b.Classification)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		dev  float64
		gen  int
		want Classification
	}{
		{dev: 50, gen: 20, want: Unclassified},
		{dev: 0, gen: 21, want: Compliant},
		{dev: 5, gen: 21, want: Compliant},
		{dev: 5.01, gen: 21, want: Deviating},
	}
	for _, c := range cases {
		if got := Classify(c.dev, c.gen); got != c.want {
			t.Errorf("Classify(%v, %d) = %s, want %s", c.dev, c.gen, got, c.want)
		}
	}
}
