package relay

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Status is the tri-state health of an endpoint. Only endpoints that are not down are served.
type Status int

const (
	StatusDown     Status = -1
	StatusChecking Status = 0
	StatusUp       Status = 1
)

func (s Status) String() string {
	switch s {
	case StatusDown:
		return "down"
	case StatusChecking:
		return "checking"
	case StatusUp:
		return "up"
	default:
		return "unknown"
	}
}

func (s Status) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

func (s *Status) UnmarshalJSON(b []byte) error {
	switch string(b) {
	case `"down"`:
		*s = StatusDown
	case `"checking"`:
		*s = StatusChecking
	case `"up"`:
		*s = StatusUp
	default:
		return fmt.Errorf("unknown status %s", b)
	}

	return nil
}

// LivenessState is the mutable health state of one endpoint. Policies read and write it but never
// keep a copy, which lets a single policy value be shared by every endpoint of a remote.
type LivenessState struct {
	Status         Status
	FailureReasons map[string]struct{}

	// Naive counters.
	SuccessScore int
	FailureScore int

	// Leaky bucket level and the time it was last drained.
	Level    float64
	LastLeak time.Time
}

func newLivenessState() LivenessState {
	return LivenessState{Status: StatusChecking}
}

func (s *LivenessState) addReason(reason string) {
	if reason == "" {
		return
	}

	if s.FailureReasons == nil {
		s.FailureReasons = make(map[string]struct{})
	}

	s.FailureReasons[reason] = struct{}{}
}

// setStatus moves the state to status and reports whether it actually changed.
// Reaching StatusUp always clears failure reasons.
func (s *LivenessState) setStatus(status Status) bool {
	if status == StatusUp {
		s.FailureReasons = nil
	}

	if s.Status == status {
		return false
	}

	s.Status = status

	return true
}

func (s *LivenessState) reasons() []string {
	if len(s.FailureReasons) == 0 {
		return nil
	}

	out := make([]string, 0, len(s.FailureReasons))
	for r := range s.FailureReasons {
		out = append(out, r)
	}

	sort.Strings(out)

	return out
}

type LivenessKind string

const (
	LivenessInherit LivenessKind = "inherit"
	LivenessNaive   LivenessKind = "naive"
	LivenessIgnore  LivenessKind = "ignore"
	LivenessLeaky   LivenessKind = "leaky"
)

// Policy decides status transitions from success and failure signals.
// Both operations return true when the visible status changed.
type Policy interface {
	Kind() LivenessKind
	Success(state *LivenessState) bool
	Failure(state *LivenessState, reason string) bool
}

// Ignore never changes an endpoint's status, which keeps it in rotation whatever happens.
type Ignore struct{}

func (Ignore) Kind() LivenessKind                  { return LivenessIgnore }
func (Ignore) Success(*LivenessState) bool         { return false }
func (Ignore) Failure(*LivenessState, string) bool { return false }

// Naive is a consecutive-count threshold breaker.
type Naive struct {
	FailureThreshold int
	SuccessThreshold int
}

func (Naive) Kind() LivenessKind { return LivenessNaive }

func (p Naive) Success(s *LivenessState) bool {
	s.FailureScore = 0
	s.SuccessScore++

	if s.SuccessScore >= p.SuccessThreshold {
		return s.setStatus(StatusUp)
	}

	return s.setStatus(StatusChecking)
}

func (p Naive) Failure(s *LivenessState, reason string) bool {
	s.SuccessScore = 0
	s.FailureScore++
	s.addReason(reason)

	if s.FailureScore >= p.FailureThreshold {
		return s.setStatus(StatusDown)
	}

	return s.setStatus(StatusChecking)
}

// LeakyBucket trips when failures arrive faster than Rate drains them. The level never exceeds
// Capacity, so a long burst does not delay recovery indefinitely.
type LeakyBucket struct {
	Rate      float64 // units drained per second
	Capacity  float64
	Threshold float64

	Now func() time.Time
}

func (LeakyBucket) Kind() LivenessKind { return LivenessLeaky }

func (p LeakyBucket) Success(s *LivenessState) bool {
	p.leak(s)

	if s.Level < p.Threshold {
		return s.setStatus(StatusUp)
	}

	return false
}

func (p LeakyBucket) Failure(s *LivenessState, reason string) bool {
	p.leak(s)

	s.Level = min(s.Level+1.0, p.Capacity)
	s.addReason(reason)

	if s.Level >= p.Threshold {
		return s.setStatus(StatusDown)
	}

	return false
}

func (p LeakyBucket) leak(s *LivenessState) {
	now := p.now()

	if !s.LastLeak.IsZero() {
		elapsed := now.Sub(s.LastLeak).Seconds()
		if elapsed > 0 {
			s.Level = max(0, s.Level-p.Rate*elapsed)
		}
	}

	s.LastLeak = now
}

func (p LeakyBucket) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}

	return time.Now()
}

// defaultPolicy backs a remote configured with inherit, since a remote has no parent to borrow from.
func defaultPolicy() Policy {
	return Naive{FailureThreshold: 1, SuccessThreshold: 1}
}

// LivenessConfig is the tagged configuration of one policy. Fields that do not apply to Type are ignored.
type LivenessConfig struct {
	Type             LivenessKind `json:"type" yaml:"type" toml:"type" validate:"omitempty,oneof=inherit naive ignore leaky"`
	FailureThreshold int          `json:"failure_threshold,omitempty" yaml:"failure_threshold" toml:"failure_threshold" validate:"min=0"`
	SuccessThreshold int          `json:"success_threshold,omitempty" yaml:"success_threshold" toml:"success_threshold" validate:"min=0"`
	Rate             float64      `json:"rate,omitempty" yaml:"rate" toml:"rate"`
	Capacity         float64      `json:"capacity,omitempty" yaml:"capacity" toml:"capacity"`
	Threshold        float64      `json:"threshold,omitempty" yaml:"threshold" toml:"threshold"`
}

func (c LivenessConfig) kind() LivenessKind {
	if c.Type == "" {
		return LivenessInherit
	}

	return c.Type
}

func (c LivenessConfig) validate() error {
	switch c.kind() {
	case LivenessInherit, LivenessIgnore:
		return nil
	case LivenessNaive:
		if c.FailureThreshold < 0 || c.SuccessThreshold < 0 {
			return errors.New("naive thresholds must not be negative")
		}

		return nil
	case LivenessLeaky:
		if c.Rate <= 0 || c.Capacity <= 0 || c.Threshold <= 0 {
			return errors.New("leaky rate, capacity and threshold must be > 0")
		}

		if c.Threshold > c.Capacity {
			return fmt.Errorf("leaky threshold %v exceeds capacity %v", c.Threshold, c.Capacity)
		}

		return nil
	default:
		return fmt.Errorf("unknown liveness type %q", c.Type)
	}
}

// build constructs the policy for c. Inherit yields a nil policy; the caller links it afterwards.
func (c LivenessConfig) build(now func() time.Time) (Policy, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}

	switch c.kind() {
	case LivenessIgnore:
		return Ignore{}, nil
	case LivenessNaive:
		return Naive{
			FailureThreshold: max(c.FailureThreshold, 1),
			SuccessThreshold: max(c.SuccessThreshold, 1),
		}, nil
	case LivenessLeaky:
		return LeakyBucket{
			Rate:      c.Rate,
			Capacity:  c.Capacity,
			Threshold: c.Threshold,
			Now:       now,
		}, nil
	default:
		return nil, nil
	}
}

type policySlot struct {
	policy Policy
	parent int // index of the slot an inherit policy borrows from; -1 for the root
}

// buildPolicies resolves a remote's liveness configs in two passes. Slot 0 is the remote itself and
// the remaining slots are its endpoints in order. Pass one builds every concrete policy and leaves
// inherit slots empty; pass two points every empty slot at its parent's resolved policy.
func buildPolicies(remote LivenessConfig, endpoints []LivenessConfig, now func() time.Time) ([]Policy, error) {
	slots := make([]policySlot, 0, len(endpoints)+1)

	root, err := remote.build(now)
	if err != nil {
		return nil, fmt.Errorf("remote liveness: %w", err)
	}

	slots = append(slots, policySlot{policy: root, parent: -1})

	for i, cfg := range endpoints {
		p, err := cfg.build(now)
		if err != nil {
			return nil, fmt.Errorf("endpoints[%d] liveness: %w", i, err)
		}

		slots = append(slots, policySlot{policy: p, parent: 0})
	}

	if slots[0].policy == nil {
		slots[0].policy = defaultPolicy()
	}

	policies := make([]Policy, len(slots))
	for i, slot := range slots {
		if slot.policy == nil {
			slot.policy = slots[slot.parent].policy
		}

		policies[i] = slot.policy
	}

	return policies, nil
}
