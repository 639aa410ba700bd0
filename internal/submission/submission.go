// Package submission defines the contract with the program that fills in and
// sends an application, and interprets what it reports back.
package submission

import (
	"context"
	"strings"
	"time"

	"applypilot/internal/jobs"
	"applypilot/internal/services"
	"applypilot/internal/services/extcmd"
	"applypilot/internal/stage"
)

// Request is one submission.
type Request struct {
	Job             jobs.Brief `json:"job"`
	ResumePath      string     `json:"resume_path,omitempty"`
	CoverLetterPath string     `json:"cover_letter_path,omitempty"`
	// Worker is the agent id of the pool worker, so the collaborator can
	// keep one browser profile per worker.
	Worker string `json:"worker"`
}

// Outcome is the collaborator's report. Status is one of applied, skipped,
// failed or retry.
type Outcome struct {
	Status     string        `json:"status"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"-"`
	Confidence *float64      `json:"confidence,omitempty"`
	TaskID     string        `json:"task_id,omitempty"`
}

// Err converts a non-success outcome into a classified error. Applied and
// skipped outcomes return nil.
func (o Outcome) Err() error {
	switch o.Status {
	case jobs.ApplyStatusApplied, jobs.ApplyStatusSkipped:
		return nil
	case jobs.ApplyStatusRetry:
		return services.Wrap(services.ErrTransient, "apply", "submit", o.detail(), nil)
	case jobs.ApplyStatusFailed:
		if services.IsFatalMessage(o.Error) {
			return services.Wrap(services.ErrConfiguration, "apply", "submit", o.detail(), nil)
		}
		return services.Wrap(services.ErrRejected, "apply", "submit", o.detail(), nil)
	default:
		return services.Wrap(services.ErrValidation, "apply", "submit", "unknown status "+o.Status, nil)
	}
}

func (o Outcome) detail() string {
	if msg := strings.TrimSpace(o.Error); msg != "" {
		return msg
	}
	return o.Status
}

// Submitter sends one application.
type Submitter interface {
	Submit(ctx context.Context, req Request) (Outcome, error)
}

// CommandSubmitter runs an external program per application.
type CommandSubmitter struct {
	cmd *extcmd.Command
	now func() time.Time
}

type commandOutcome struct {
	Outcome
	DurationMillis int64 `json:"duration_ms"`
}

// NewCommandSubmitter wraps argv as a submitter.
func NewCommandSubmitter(argv []string, env ...string) (*CommandSubmitter, error) {
	cmd, err := extcmd.New("apply", argv, env...)
	if err != nil {
		return nil, err
	}
	return &CommandSubmitter{cmd: cmd, now: time.Now}, nil
}

// Binary returns the program the submitter runs.
func (s *CommandSubmitter) Binary() string { return s.cmd.Binary() }

// HealthCheck reports whether the program can be found.
func (s *CommandSubmitter) HealthCheck(context.Context) stage.Health {
	return stage.CommandHealth("apply", []string{s.cmd.Binary()})
}

// Submit runs the program once. When the program does not report a duration
// the wall time of the call is used.
func (s *CommandSubmitter) Submit(ctx context.Context, req Request) (Outcome, error) {
	start := s.now()
	var resp commandOutcome
	if err := s.cmd.Call(ctx, req, &resp); err != nil {
		return Outcome{Duration: s.now().Sub(start)}, err
	}
	out := resp.Outcome
	out.Status = strings.ToLower(strings.TrimSpace(out.Status))
	if resp.DurationMillis > 0 {
		out.Duration = time.Duration(resp.DurationMillis) * time.Millisecond
	} else {
		out.Duration = s.now().Sub(start)
	}
	return out, nil
}
