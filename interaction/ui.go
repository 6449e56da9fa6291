// Package interaction defines the user-facing capability the runtime
// consumes. The runtime never touches a terminal directly; front-ends
// supply a UI.
package interaction

import (
	"context"
	"errors"
	"log/slog"
)

// ErrNoGoal is returned when no goal was supplied and none can be asked for.
var ErrNoGoal = errors.New("no goal provided")

// UI is the interaction surface of a run.
type UI interface {
	// AskForGoal asks for the user goal that seeds an iteration.
	AskForGoal(ctx context.Context, prompt string) (string, error)

	// Confirm asks a yes/no question. A false answer vetoes the action.
	Confirm(ctx context.Context, prompt string) (bool, error)

	// Select asks the user to choose one of options and returns its index.
	Select(ctx context.Context, prompt string, options []string) (int, error)

	LogInfo(msg string)
	LogError(msg string)

	// RenderArtifact shows a persisted artifact.
	RenderArtifact(kind string, value any)

	// Progress receives LLM stderr line by line while a call runs.
	Progress(line string)
}

// AutoUI answers every question affirmatively and never blocks. It backs
// --yolo runs and headless use.
type AutoUI struct {
	goal   string
	logger *slog.Logger
}

// NewAutoUI creates an AutoUI that returns goal from AskForGoal. A nil
// logger uses slog.Default().
func NewAutoUI(goal string, logger *slog.Logger) *AutoUI {
	if logger == nil {
		logger = slog.Default()
	}
	return &AutoUI{goal: goal, logger: logger}
}

func (a *AutoUI) AskForGoal(_ context.Context, _ string) (string, error) {
	if a.goal == "" {
		return "", ErrNoGoal
	}
	return a.goal, nil
}

func (a *AutoUI) Confirm(context.Context, string) (bool, error) { return true, nil }

func (a *AutoUI) Select(_ context.Context, _ string, options []string) (int, error) {
	if len(options) == 0 {
		return -1, errors.New("select: no options")
	}
	return 0, nil
}

func (a *AutoUI) LogInfo(msg string)  { a.logger.Info(msg) }
func (a *AutoUI) LogError(msg string) { a.logger.Error(msg) }

func (a *AutoUI) RenderArtifact(kind string, _ any) {
	a.logger.Debug("Artifact ready", "kind", kind)
}

func (a *AutoUI) Progress(line string) {
	a.logger.Debug("llm", "stderr", line)
}
