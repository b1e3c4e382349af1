package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/sdejongh/kopier/pkg/copyjob"
	"github.com/sdejongh/kopier/pkg/metrics"
	"github.com/sdejongh/kopier/pkg/models"
)

var (
	promptColor = color.New(color.FgYellow, color.Bold)
	keyColor    = color.New(color.FgCyan)
)

// errNoAnswer is returned when the input ends before an answer was given
var errNoAnswer = errors.New("no answer on standard input")

type choice struct {
	key    string
	label  string
	action models.DecisionAction
}

// PromptResolver asks the user how to resolve conflicts. Prompts are
// serialized so that concurrent jobs do not interleave their questions.
type PromptResolver struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

// NewPromptResolver creates a resolver reading answers from in
func NewPromptResolver(in io.Reader, out io.Writer) *PromptResolver {
	return &PromptResolver{in: bufio.NewReader(in), out: out}
}

// AskRename prompts for a naming conflict
func (p *PromptResolver) AskRename(ctx context.Context, req models.ConflictRequest) (models.Decision, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	what := "File"
	if req.Kind == models.ConflictDir {
		what = "Directory"
	}
	promptColor.Fprintf(p.out, "%s already exists: %s\n", what, req.Dest.String())
	if req.AllowOverwriteItself {
		fmt.Fprintln(p.out, "  source and destination are the same entry")
	} else if req.Kind == models.ConflictFile {
		fmt.Fprintf(p.out, "  source: %s, modified %s\n", sizeString(req.SourceSize), req.SourceModified.Format("2006-01-02 15:04:05"))
		fmt.Fprintf(p.out, "  target: %s, modified %s\n", sizeString(req.DestSize), req.DestModified.Format("2006-01-02 15:04:05"))
	}

	d, err := p.choose(ctx, conflictChoices(req))
	if err != nil || d.Action != models.DecisionRename {
		return d, err
	}

	for {
		fmt.Fprint(p.out, "New name: ")
		name, err := p.readLine(ctx)
		if err != nil {
			return models.Decision{}, err
		}
		if name != "" {
			d.NewName = name
			return d, nil
		}
	}
}

// AskSkip prompts for an entry that failed for another reason
func (p *PromptResolver) AskSkip(ctx context.Context, req models.SkipRequest) (models.Decision, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	promptColor.Fprintf(p.out, "Cannot process %s: %v\n", req.Source.String(), req.Err)

	choices := []choice{{"s", "skip", models.DecisionSkip}}
	if req.Multi {
		choices = append(choices, choice{"a", "skip all", models.DecisionAutoSkip})
	}
	choices = append(choices, choice{"c", "cancel", models.DecisionCancel})
	return p.choose(ctx, choices)
}

func conflictChoices(req models.ConflictRequest) []choice {
	var choices []choice
	switch {
	case req.AllowOverwrite:
		choices = append(choices, choice{"o", "overwrite", models.DecisionOverwrite})
		if req.Multi {
			choices = append(choices, choice{"a", "overwrite all", models.DecisionOverwriteAll})
		}
	case req.AllowOverwriteItself:
		choices = append(choices, choice{"o", "overwrite itself", models.DecisionOverwriteItself})
	}
	if req.AllowSkip {
		choices = append(choices, choice{"s", "skip", models.DecisionSkip})
		if req.Multi {
			choices = append(choices, choice{"k", "skip all", models.DecisionAutoSkip})
		}
	}
	choices = append(choices,
		choice{"r", "rename", models.DecisionRename},
		choice{"n", "rename automatically", models.DecisionAutoRename},
		choice{"c", "cancel", models.DecisionCancel},
	)
	return choices
}

func (p *PromptResolver) choose(ctx context.Context, choices []choice) (models.Decision, error) {
	labels := make([]string, len(choices))
	for i, c := range choices {
		labels[i] = fmt.Sprintf("[%s] %s", keyColor.Sprint(c.key), c.label)
	}

	for {
		fmt.Fprintf(p.out, "%s? ", strings.Join(labels, ", "))
		answer, err := p.readLine(ctx)
		if err != nil {
			return models.Decision{}, err
		}
		answer = strings.ToLower(answer)
		for _, c := range choices {
			if answer == c.key || answer == c.label {
				return models.Decision{Action: c.action}, nil
			}
		}
		fmt.Fprintf(p.out, "Unknown answer %q\n", answer)
	}
}

// readLine waits for one line of input or for ctx to be done
func (p *PromptResolver) readLine(ctx context.Context) (string, error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := p.in.ReadString('\n')
		ch <- result{line, err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		line := strings.TrimSpace(r.line)
		if r.err != nil && (line == "" || !errors.Is(r.err, io.EOF)) {
			if errors.Is(r.err, io.EOF) {
				return "", errNoAnswer
			}
			return "", r.err
		}
		return line, nil
	}
}

func sizeString(n int64) string {
	if n < 0 {
		return "unknown size"
	}
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// instrumentedResolver counts answered conflicts
type instrumentedResolver struct {
	inner copyjob.Resolver
}

func (r instrumentedResolver) AskRename(ctx context.Context, req models.ConflictRequest) (models.Decision, error) {
	d, err := r.inner.AskRename(ctx, req)
	if err == nil {
		metrics.RecordConflict(req.Kind, d.Action)
	}
	return d, err
}

// AskSkip forwards to the wrapped resolver. Without one, the failure stays
// fatal as it would for a resolver that cannot skip.
func (r instrumentedResolver) AskSkip(ctx context.Context, req models.SkipRequest) (models.Decision, error) {
	if asker, ok := r.inner.(copyjob.SkipAsker); ok {
		return asker.AskSkip(ctx, req)
	}
	return models.Decision{}, req.Err
}

// newResolver picks the resolver for a conflict policy. Asking needs a
// terminal on standard input; without one, conflicts fail the job.
func newResolver(policy models.ConflictPolicy, prompt *PromptResolver) copyjob.Resolver {
	if policy == models.PolicyAsk && prompt != nil {
		return instrumentedResolver{inner: prompt}
	}
	if policy == models.PolicyAsk {
		policy = models.PolicyFail
	}
	return instrumentedResolver{inner: copyjob.PolicyResolver{Policy: policy}}
}

// stdinPrompt returns a prompt on the terminal, nil when stdin is not one
func stdinPrompt() *PromptResolver {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil
	}
	return NewPromptResolver(os.Stdin, os.Stderr)
}
