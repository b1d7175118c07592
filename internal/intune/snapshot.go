package intune

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/intunectl/intunectl/internal/core"
)

// Snapshot converts p into its stored form.
func Snapshot(p *Policy, refreshedAt time.Time) (core.PolicySnapshot, error) {
	if p == nil {
		return core.PolicySnapshot{}, errors.New("policy is nil")
	}
	payload, err := json.Marshal(p.Data)
	if err != nil {
		return core.PolicySnapshot{}, fmt.Errorf("encode %s: %w", p.Name(), err)
	}
	snap := core.PolicySnapshot{
		PolicyID:    p.ID(),
		PolicyType:  string(p.Type),
		Name:        p.Name(),
		Assigned:    p.Assigned(),
		Payload:     payload,
		RefreshedAt: refreshedAt.UTC(),
	}
	if p.Assignments != nil {
		assignments, err := json.Marshal(p.Assignments)
		if err != nil {
			return core.PolicySnapshot{}, fmt.Errorf("encode assignments of %s: %w", p.Name(), err)
		}
		snap.Assignments = assignments
	}
	return snap, nil
}

// Snapshots converts an inventory listing, skipping policies without an id.
func Snapshots(policies []*Policy, refreshedAt time.Time) ([]core.PolicySnapshot, error) {
	out := make([]core.PolicySnapshot, 0, len(policies))
	for _, p := range policies {
		if p == nil || p.ID() == "" {
			continue
		}
		snap, err := Snapshot(p, refreshedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

// FromSnapshot rebuilds a policy from its stored form.
func FromSnapshot(s core.PolicySnapshot) (*Policy, error) {
	t, err := ParsePolicyType(s.PolicyType)
	if err != nil {
		return nil, err
	}
	data, err := decodeObject(s.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", s.PolicyID, err)
	}
	p := &Policy{Type: t, Data: data, Source: "snapshot", assigned: s.Assigned}
	if len(s.Assignments) > 0 {
		if err := json.Unmarshal(s.Assignments, &p.Assignments); err != nil {
			return nil, fmt.Errorf("decode snapshot assignments %s: %w", s.PolicyID, err)
		}
	}
	return p, nil
}

// Records flattens a report into operation log rows.
func (r *Report) Records() []core.OperationRecord {
	if r == nil {
		return nil
	}
	created := r.FinishedAt
	if created.IsZero() {
		created = r.StartedAt
	}
	out := make([]core.OperationRecord, 0, len(r.Results))
	for _, res := range r.Results {
		out = append(out, core.OperationRecord{
			RunID:      r.RunID,
			Operation:  string(r.Operation),
			PolicyName: res.Name,
			PolicyID:   res.PolicyID,
			PolicyType: string(res.Type),
			Status:     string(res.Status),
			Details:    res.Details,
			CreatedAt:  created,
		})
	}
	return out
}
