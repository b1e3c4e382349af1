package copyjob

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sdejongh/kopier/internal/platform"
	"github.com/sdejongh/kopier/pkg/logging"
	"github.com/sdejongh/kopier/pkg/models"
)

// Resolver answers naming conflicts. Calls are made from the job's run
// loop, which waits for the answer.
type Resolver interface {
	AskRename(ctx context.Context, req models.ConflictRequest) (models.Decision, error)
}

// SkipAsker is implemented by resolvers that can also decide whether an
// entry that failed for another reason should be skipped. Only Skip,
// AutoSkip and Cancel are meaningful answers.
type SkipAsker interface {
	AskSkip(ctx context.Context, req models.SkipRequest) (models.Decision, error)
}

// ResolverFunc adapts a function to Resolver
type ResolverFunc func(ctx context.Context, req models.ConflictRequest) (models.Decision, error)

// AskRename calls f
func (f ResolverFunc) AskRename(ctx context.Context, req models.ConflictRequest) (models.Decision, error) {
	return f(ctx, req)
}

// PolicyResolver answers every conflict according to a fixed policy
type PolicyResolver struct {
	Policy models.ConflictPolicy
}

// AskRename turns the policy into a sticky decision
func (p PolicyResolver) AskRename(ctx context.Context, req models.ConflictRequest) (models.Decision, error) {
	switch p.Policy {
	case models.PolicySkip:
		return models.Decision{Action: models.DecisionAutoSkip}, nil
	case models.PolicyRename:
		return models.Decision{Action: models.DecisionAutoRename}, nil
	case models.PolicyOverwrite:
		switch {
		case req.AllowOverwrite:
			return models.Decision{Action: models.DecisionOverwriteAll}, nil
		case req.AllowOverwriteItself:
			return models.Decision{Action: models.DecisionOverwriteItself}, nil
		}
		return models.Decision{Action: models.DecisionSkip}, nil
	}
	return models.Decision{}, fmt.Errorf("%w: %s already exists", ErrNotInteractive, req.Dest.String())
}

// AskSkip skips failed entries under the skip policy and fails otherwise
func (p PolicyResolver) AskSkip(ctx context.Context, req models.SkipRequest) (models.Decision, error) {
	if p.Policy == models.PolicySkip {
		return models.Decision{Action: models.DecisionAutoSkip}, nil
	}
	return models.Decision{}, req.Err
}

func (j *Job) ask(req models.ConflictRequest) (models.Decision, error) {
	j.asking.Store(true)
	defer j.asking.Store(false)

	d, err := j.opts.Resolver.AskRename(j.ctx, req)
	if err != nil {
		if errors.Is(err, context.Canceled) || j.ctx.Err() != nil {
			return d, fmt.Errorf("%w: %w", ErrCancelled, err)
		}
		return d, fmt.Errorf("failed to resolve conflict on %s: %w", req.Dest.String(), err)
	}
	j.log.Info(j.ctx, "conflict resolved", logging.Fields{
		"kind":     string(req.Kind),
		"dest":     req.Dest.String(),
		"decision": string(d.Action),
	})
	return d, nil
}

// checkDecision rejects answers the request did not offer. An overwrite of
// an entry with itself is accepted under either name.
func checkDecision(req models.ConflictRequest, d models.Decision) (models.Decision, error) {
	switch d.Action {
	case models.DecisionCancel, models.DecisionSkip, models.DecisionAutoSkip, models.DecisionAutoRename:
		return d, nil
	case models.DecisionRename:
		if d.NewName == "" || strings.Contains(d.NewName, "/") || d.NewName == "." || d.NewName == ".." {
			return d, fmt.Errorf("invalid new name %q", d.NewName)
		}
		if d.NewName == platform.FileName(req.Dest) {
			return d, fmt.Errorf("new name %q is the existing name", d.NewName)
		}
		return d, nil
	case models.DecisionOverwrite, models.DecisionOverwriteAll:
		if req.AllowOverwrite {
			return d, nil
		}
		if req.AllowOverwriteItself {
			return models.Decision{Action: models.DecisionOverwriteItself}, nil
		}
	case models.DecisionOverwriteItself:
		if req.AllowOverwriteItself {
			return d, nil
		}
		if req.AllowOverwrite {
			return models.Decision{Action: models.DecisionOverwrite}, nil
		}
	default:
		return d, fmt.Errorf("unexpected conflict decision %q", d.Action)
	}
	return d, fmt.Errorf("cannot overwrite %s", req.Dest.String())
}

// suggestName proposes a new name for an entry whose name is taken:
// "file.txt" becomes "file 1.txt" and "file 1.txt" becomes "file 2.txt".
// Everything from the first dot that is not a leading dot is kept as the
// extension.
func suggestName(name string) string {
	base, ext := name, ""

	lead := len(name) - len(strings.TrimLeft(name, "."))
	if i := strings.Index(name[lead:], "."); i >= 0 {
		base, ext = name[:lead+i], name[lead+i:]
	}

	if i := strings.LastIndex(base, " "); i >= 0 {
		if n, err := strconv.Atoi(base[i+1:]); err == nil {
			return base[:i+1] + strconv.Itoa(n+1) + ext
		}
	}
	return base + " 1" + ext
}
