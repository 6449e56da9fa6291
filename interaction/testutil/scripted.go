// Package testutil provides a scripted UI for tests.
package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/c360studio/icl/interaction"
)

// Rendered is one RenderArtifact call.
type Rendered struct {
	Kind  string
	Value any
}

// ScriptedUI answers from fixed scripts and records everything shown.
// Safe for concurrent use.
type ScriptedUI struct {
	// Goal is returned by AskForGoal; empty yields interaction.ErrNoGoal.
	Goal string
	// Answers are consumed by Confirm in order; once exhausted Confirm
	// returns true.
	Answers []bool
	// ConfirmFunc, when set, decides every Confirm instead of Answers.
	ConfirmFunc func(prompt string) bool
	// Selections are consumed by Select in order; once exhausted Select
	// returns 0.
	Selections []int

	mu        sync.Mutex
	confirms  []string
	infos     []string
	errs      []string
	rendered  []Rendered
	progress  []string
	confirmed int
	selected  int
}

var _ interaction.UI = (*ScriptedUI)(nil)

func (s *ScriptedUI) AskForGoal(ctx context.Context, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.Goal == "" {
		return "", interaction.ErrNoGoal
	}
	return s.Goal, nil
}

func (s *ScriptedUI) Confirm(ctx context.Context, prompt string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirms = append(s.confirms, prompt)
	if s.ConfirmFunc != nil {
		return s.ConfirmFunc(prompt), nil
	}
	if s.confirmed < len(s.Answers) {
		ans := s.Answers[s.confirmed]
		s.confirmed++
		return ans, nil
	}
	return true, nil
}

func (s *ScriptedUI) Select(ctx context.Context, _ string, options []string) (int, error) {
	if err := ctx.Err(); err != nil {
		return -1, err
	}
	if len(options) == 0 {
		return -1, errors.New("select: no options")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected < len(s.Selections) {
		idx := s.Selections[s.selected]
		s.selected++
		return idx, nil
	}
	return 0, nil
}

func (s *ScriptedUI) LogInfo(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.infos = append(s.infos, msg)
}

func (s *ScriptedUI) LogError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, msg)
}

func (s *ScriptedUI) RenderArtifact(kind string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rendered = append(s.rendered, Rendered{Kind: kind, Value: value})
}

func (s *ScriptedUI) Progress(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = append(s.progress, line)
}

// Confirms returns every prompt passed to Confirm.
func (s *ScriptedUI) Confirms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.confirms...)
}

func (s *ScriptedUI) Infos() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.infos...)
}

func (s *ScriptedUI) Errors() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.errs...)
}

func (s *ScriptedUI) Rendered() []Rendered {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Rendered(nil), s.rendered...)
}

func (s *ScriptedUI) ProgressLines() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.progress...)
}
