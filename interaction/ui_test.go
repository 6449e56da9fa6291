package interaction

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAutoUI(t *testing.T) {
	ctx := context.Background()
	ui := NewAutoUI("calculator", nil)

	goal, err := ui.AskForGoal(ctx, "Goal?")
	require.NoError(t, err)
	assert.Equal(t, "calculator", goal)

	ok, err := ui.Confirm(ctx, "Dispatch?")
	require.NoError(t, err)
	assert.True(t, ok)

	idx, err := ui.Select(ctx, "Pick", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, 0, idx)

	_, err = ui.Select(ctx, "Pick", nil)
	assert.Error(t, err)

	_, err = NewAutoUI("", nil).AskForGoal(ctx, "Goal?")
	assert.True(t, errors.Is(err, ErrNoGoal))
}

func TestConsoleConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"\n", true},
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"maybe\nno\n", false},
	}
	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			var out bytes.Buffer
			ui := NewConsoleUI(strings.NewReader(tt.input), &out)
			got, err := ui.Confirm(context.Background(), "Dispatch PM creates Req?")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Contains(t, out.String(), "Dispatch PM creates Req?")
		})
	}
}

func TestConsoleSelect(t *testing.T) {
	var out bytes.Buffer
	ui := NewConsoleUI(strings.NewReader("7\nx\n2\n"), &out)
	idx, err := ui.Select(context.Background(), "Which project?", []string{"alpha", "beta"})
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
	assert.Contains(t, out.String(), "1) alpha")
	assert.Contains(t, out.String(), "2) beta")
}

func TestConsoleAskForGoal(t *testing.T) {
	var out bytes.Buffer
	ui := NewConsoleUI(strings.NewReader("\n  build a calculator  \n"), &out)
	goal, err := ui.AskForGoal(context.Background(), "What should we build?")
	require.NoError(t, err)
	assert.Equal(t, "build a calculator", goal)

	_, err = NewConsoleUI(strings.NewReader(""), &out).AskForGoal(context.Background(), "?")
	assert.True(t, errors.Is(err, ErrNoGoal))
}

func TestConsoleAskWithoutTrailingNewline(t *testing.T) {
	var out bytes.Buffer
	ui := NewConsoleUI(strings.NewReader("todo app"), &out)
	goal, err := ui.AskForGoal(context.Background(), "?")
	require.NoError(t, err)
	assert.Equal(t, "todo app", goal)
}

func TestConsoleCancelledConfirm(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var out bytes.Buffer
	// An empty reader returns EOF immediately, so either outcome may win the
	// race; both must be errors.
	_, err := NewConsoleUI(strings.NewReader(""), &out).Confirm(ctx, "?")
	assert.Error(t, err)
}

func TestConsoleRender(t *testing.T) {
	var out bytes.Buffer
	ui := NewConsoleUI(strings.NewReader(""), &out)
	ui.RenderArtifact("Spec", map[string]any{"title": "calc"})
	ui.LogInfo("persisted Spec")
	ui.LogError("edge exhausted")
	ui.Progress("thinking...")
	ui.Quiet = true
	ui.Progress("hidden")

	s := out.String()
	assert.Contains(t, s, "Spec")
	assert.Contains(t, s, `"title": "calc"`)
	assert.Contains(t, s, "persisted Spec")
	assert.Contains(t, s, "edge exhausted")
	assert.Contains(t, s, "thinking...")
	assert.NotContains(t, s, "hidden")
}
