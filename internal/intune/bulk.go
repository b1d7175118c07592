package intune

import (
	"context"
	"errors"
	"time"

	"github.com/fulmenhq/gofulmen/logging"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/intunectl/intunectl/internal/graph"
	"github.com/intunectl/intunectl/internal/metrics"
)

// Status is the outcome of one bulk item.
type Status string

const (
	StatusSuccess Status = "Success"
	StatusWarning Status = "Warning"
	StatusError   Status = "Error"
)

// Operation names a bulk operation.
type Operation string

const (
	OpUpload    Operation = "upload"
	OpDuplicate Operation = "duplicate"
	OpAssign    Operation = "assign"
	OpUnassign  Operation = "unassign"
	OpDelete    Operation = "delete"
)

// Result is the outcome of one policy in a bulk run.
type Result struct {
	Name     string     `json:"name"`
	Status   Status     `json:"status"`
	Details  string     `json:"details"`
	PolicyID string     `json:"policy_id,omitempty"`
	Type     PolicyType `json:"type,omitempty"`

	err error
}

// Report collects the results of one bulk run.
type Report struct {
	RunID      string    `json:"run_id"`
	Operation  Operation `json:"operation"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Results    []Result  `json:"results"`
}

// Count returns the number of results with status s.
func (r *Report) Count(s Status) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == s {
			n++
		}
	}
	return n
}

// UploadOptions controls Upload.
type UploadOptions struct {
	Prefix string
	Target AssignmentTarget
}

// Runner applies an operation to policies one at a time, waiting the
// current adaptive delay between items.
type Runner struct {
	Client *Client
	Pacer  *graph.Pacer
	Logger *logging.Logger

	// Wait defaults to a context-aware sleep.
	Wait func(ctx context.Context, d time.Duration) error

	// OnResult, when set, is called after each item.
	OnResult func(done, total int, res Result)

	// Clock defaults to time.Now in UTC.
	Clock func() time.Time
}

// Upload creates each policy, then assigns it when a target is given.
func (r *Runner) Upload(ctx context.Context, policies []*Policy, opts UploadOptions) (*Report, error) {
	return r.run(ctx, OpUpload, policies, func(ctx context.Context, p *Policy) Result {
		if p == nil || p.Data == nil {
			return Result{Name: "Unknown policy", Status: StatusError, Details: "Policy data not found"}
		}

		target, body, err := PrepareUpload(p, opts.Prefix)
		if err != nil {
			return Result{Name: p.Name(), Status: StatusError, Details: err.Error()}
		}
		name := bodyName(body)

		created, err := r.Client.Create(ctx, target, body)
		if err != nil {
			return Result{Name: name, Status: StatusError, Details: Details(err), Type: target, err: err}
		}

		res := Result{Name: name, Status: StatusSuccess, Details: "Policy uploaded successfully", PolicyID: created.ID(), Type: target}
		if opts.Target.Kind == TargetNone || opts.Target.Kind == "" || created.ID() == "" {
			return res
		}
		if err := r.Client.Assign(ctx, created, opts.Target.Assignments()); err != nil {
			res.Status = StatusWarning
			res.Details = "Policy uploaded but assignment failed: " + Details(err)
			return res
		}
		res.Details = "Policy uploaded and assigned to " + opts.Target.Label()
		return res
	})
}

// Duplicate creates a "Copy of" each policy in its own collection.
func (r *Runner) Duplicate(ctx context.Context, policies []*Policy) (*Report, error) {
	return r.run(ctx, OpDuplicate, policies, func(ctx context.Context, p *Policy) Result {
		body, err := PrepareDuplicate(p)
		if err != nil {
			return Result{Name: p.Name(), Status: StatusError, Details: err.Error(), Type: p.Type}
		}
		created, err := r.Client.Create(ctx, p.Type, body)
		if err != nil {
			return Result{Name: p.Name(), Status: StatusError, Details: Details(err), Type: p.Type, err: err}
		}
		return Result{
			Name:     p.Name(),
			Status:   StatusSuccess,
			Details:  "Duplicated as " + bodyName(body),
			PolicyID: created.ID(),
			Type:     p.Type,
		}
	})
}

// Assign replaces each policy's assignments with target.
func (r *Runner) Assign(ctx context.Context, policies []*Policy, target AssignmentTarget) (*Report, error) {
	if target.Kind == TargetNone || target.Kind == "" {
		return nil, errors.New("an assignment target is required")
	}
	return r.run(ctx, OpAssign, policies, func(ctx context.Context, p *Policy) Result {
		if err := r.Client.Assign(ctx, p, target.Assignments()); err != nil {
			return Result{Name: p.Name(), Status: StatusError, Details: Details(err), PolicyID: p.ID(), Type: p.Type, err: err}
		}
		return Result{Name: p.Name(), Status: StatusSuccess, Details: "Assigned to " + target.Label(), PolicyID: p.ID(), Type: p.Type}
	})
}

// Unassign clears assignments on the policies that have any. Policies
// without assignments are skipped.
func (r *Runner) Unassign(ctx context.Context, policies []*Policy) (*Report, error) {
	assigned := make([]*Policy, 0, len(policies))
	for _, p := range policies {
		if p.Assigned() {
			assigned = append(assigned, p)
		}
	}
	return r.run(ctx, OpUnassign, assigned, func(ctx context.Context, p *Policy) Result {
		if err := r.Client.Assign(ctx, p, []map[string]any{}); err != nil {
			return Result{Name: p.Name(), Status: StatusError, Details: Details(err), PolicyID: p.ID(), Type: p.Type, err: err}
		}
		return Result{Name: p.Name(), Status: StatusSuccess, Details: "All assignments removed", PolicyID: p.ID(), Type: p.Type}
	})
}

// Delete removes each policy.
func (r *Runner) Delete(ctx context.Context, policies []*Policy) (*Report, error) {
	return r.run(ctx, OpDelete, policies, func(ctx context.Context, p *Policy) Result {
		if err := r.Client.Delete(ctx, p); err != nil {
			return Result{Name: p.Name(), Status: StatusError, Details: Details(err), PolicyID: p.ID(), Type: p.Type, err: err}
		}
		return Result{Name: p.Name(), Status: StatusSuccess, Details: "Policy deleted successfully", PolicyID: p.ID(), Type: p.Type}
	})
}

func (r *Runner) run(ctx context.Context, op Operation, policies []*Policy, fn func(context.Context, *Policy) Result) (*Report, error) {
	if r.Client == nil {
		return nil, errors.New("runner has no client")
	}

	report := &Report{
		RunID:     uuid.NewString(),
		Operation: op,
		StartedAt: r.now(),
		Results:   make([]Result, 0, len(policies)),
	}
	defer func() { report.FinishedAt = r.now() }()

	for i, p := range policies {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		res := fn(ctx, p)
		report.Results = append(report.Results, res)
		metrics.RecordBulkItem(string(op), string(res.Status))
		r.log(op, res)
		if r.OnResult != nil {
			r.OnResult(i+1, len(policies), res)
		}

		// A session that is gone will fail every remaining item the same way.
		if errors.Is(res.err, graph.ErrNoSession) {
			return report, graph.ErrNoSession
		}

		if i < len(policies)-1 {
			if err := r.wait(ctx); err != nil {
				return report, err
			}
		}
	}
	return report, nil
}

func (r *Runner) wait(ctx context.Context) error {
	var d time.Duration
	if r.Pacer != nil {
		d = r.Pacer.Current()
	}
	if r.Wait != nil {
		return r.Wait(ctx, d)
	}
	return graph.SleepContext(ctx, d)
}

func (r *Runner) now() time.Time {
	if r.Clock != nil {
		return r.Clock()
	}
	return time.Now().UTC()
}

func (r *Runner) log(op Operation, res Result) {
	if r.Logger == nil {
		return
	}
	fields := []zap.Field{
		zap.String("operation", string(op)),
		zap.String("policy", res.Name),
		zap.String("status", string(res.Status)),
	}
	if res.Status == StatusSuccess {
		r.Logger.Debug("Bulk item completed", fields...)
		return
	}
	r.Logger.Warn("Bulk item did not succeed", append(fields, zap.String("details", res.Details))...)
}

// Details renders an error the way result rows show it: Graph's error
// message when there is one, else the raw body, else the HTTP status.
func Details(err error) string {
	if err == nil {
		return ""
	}
	var respErr *graph.ResponseError
	if errors.As(err, &respErr) {
		return respErr.Error()
	}
	return err.Error()
}

func bodyName(body map[string]any) string {
	if v, ok := body["displayName"].(string); ok && v != "" {
		return v
	}
	if v, ok := body["name"].(string); ok && v != "" {
		return v
	}
	return ""
}
