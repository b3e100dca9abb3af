package core

import "github.com/signalsfoundry/wan-balancer-sim/model"

// Selector picks the link for the next packet.
type Selector interface {
	SelectNext() (*model.WanLink, bool)
}

// LinkScheduler implements round-robin and weighted round-robin link
// selection over the links that were eligible at the last Prepare.
//
// The weighted sequence is built once per Prepare; weight edits made
// afterwards are not seen until the next Prepare. LinkScheduler is not
// safe for concurrent use.
type LinkScheduler struct {
	algorithm model.Algorithm
	eligible  []*model.WanLink
	weighted  []int
	cursor    int
}

// NewLinkScheduler returns an empty scheduler. SelectNext reports no link
// until Prepare is called.
func NewLinkScheduler() *LinkScheduler {
	return &LinkScheduler{algorithm: model.AlgorithmRoundRobin}
}

// Prepare resets the cursor and captures the eligible links, in enumeration
// order, for a topology with numSites sites. The captured pointers are the
// live links so selection always returns the link whose counters the
// lifecycle engine mutates.
func (s *LinkScheduler) Prepare(links []*model.WanLink, numSites int, algorithm model.Algorithm) {
	s.algorithm = algorithm
	s.cursor = 0
	s.eligible = s.eligible[:0]
	s.weighted = s.weighted[:0]

	for _, l := range links {
		if l.Eligible(numSites) {
			s.eligible = append(s.eligible, l)
		}
	}
	if algorithm != model.AlgorithmWeightedRoundRobin {
		return
	}
	for i, l := range s.eligible {
		for range l.Weight {
			s.weighted = append(s.weighted, i)
		}
	}
}

// SelectNext returns the next link and advances the cursor.
func (s *LinkScheduler) SelectNext() (*model.WanLink, bool) {
	if len(s.eligible) == 0 {
		return nil, false
	}

	switch s.algorithm {
	case model.AlgorithmWeightedRoundRobin:
		if len(s.weighted) == 0 {
			return s.eligible[0], true
		}
		link := s.eligible[s.weighted[s.cursor%len(s.weighted)]]
		s.cursor++
		return link, true
	default:
		link := s.eligible[s.cursor%len(s.eligible)]
		s.cursor++
		return link, true
	}
}

// Algorithm reports the algorithm captured by the last Prepare.
func (s *LinkScheduler) Algorithm() model.Algorithm { return s.algorithm }

// Eligible returns the number of links captured by the last Prepare.
func (s *LinkScheduler) Eligible() int { return len(s.eligible) }

// Sequence returns a copy of the weighted sequence as link IDs. It is empty
// in round-robin mode.
func (s *LinkScheduler) Sequence() []string {
	out := make([]string, len(s.weighted))
	for i, idx := range s.weighted {
		out[i] = s.eligible[idx].ID
	}
	return out
}
