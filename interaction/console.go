package interaction

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
)

var (
	promptStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#00BCD4")).Bold(true)
	infoStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F44336")).Bold(true)
	progressStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	titleStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFC107")).Bold(true)
	boxStyle      = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#555555")).
			Padding(0, 1)
)

// maxRendered caps how much of an artifact the console prints.
const maxRendered = 2000

// ConsoleUI is a line-oriented terminal UI.
type ConsoleUI struct {
	in  *bufio.Reader
	out io.Writer
	mu  sync.Mutex

	pending chan readResult

	// Quiet suppresses LLM progress lines.
	Quiet bool
}

// NewConsoleUI reads answers from in and writes to out.
func NewConsoleUI(in io.Reader, out io.Writer) *ConsoleUI {
	return &ConsoleUI{in: bufio.NewReader(in), out: out}
}

func (c *ConsoleUI) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

type readResult struct {
	line string
	err  error
}

// readLine reads one answer, honoring ctx while waiting. A read abandoned
// by a cancelled ctx is picked up by the next call.
func (c *ConsoleUI) readLine(ctx context.Context) (string, error) {
	if c.pending == nil {
		ch := make(chan readResult, 1)
		go func() {
			line, err := c.in.ReadString('\n')
			ch <- readResult{strings.TrimSpace(line), err}
		}()
		c.pending = ch
	}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-c.pending:
		c.pending = nil
		if r.err != nil && !(r.err == io.EOF && r.line != "") {
			return "", r.err
		}
		return r.line, nil
	}
}

func (c *ConsoleUI) AskForGoal(ctx context.Context, prompt string) (string, error) {
	for {
		c.printf("%s ", promptStyle.Render(prompt))
		line, err := c.readLine(ctx)
		if err == io.EOF {
			return "", ErrNoGoal
		}
		if err != nil {
			return "", err
		}
		if line != "" {
			return line, nil
		}
	}
}

func (c *ConsoleUI) Confirm(ctx context.Context, prompt string) (bool, error) {
	for {
		c.printf("%s %s ", promptStyle.Render(prompt), progressStyle.Render("[Y/n]"))
		line, err := c.readLine(ctx)
		if err != nil {
			return false, err
		}
		switch strings.ToLower(line) {
		case "", "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
	}
}

func (c *ConsoleUI) Select(ctx context.Context, prompt string, options []string) (int, error) {
	if len(options) == 0 {
		return -1, fmt.Errorf("select: no options")
	}
	for {
		c.printf("%s\n", promptStyle.Render(prompt))
		for i, opt := range options {
			c.printf("  %d) %s\n", i+1, opt)
		}
		c.printf("%s ", progressStyle.Render(fmt.Sprintf("[1-%d]", len(options))))
		line, err := c.readLine(ctx)
		if err != nil {
			return -1, err
		}
		n, err := strconv.Atoi(line)
		if err == nil && n >= 1 && n <= len(options) {
			return n - 1, nil
		}
	}
}

func (c *ConsoleUI) LogInfo(msg string) {
	c.printf("%s\n", infoStyle.Render(msg))
}

func (c *ConsoleUI) LogError(msg string) {
	c.printf("%s\n", errorStyle.Render(msg))
}

func (c *ConsoleUI) RenderArtifact(kind string, value any) {
	body, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		body = []byte(fmt.Sprint(value))
	}
	text := string(body)
	if len(text) > maxRendered {
		n := maxRendered
		for n > 0 && !utf8.RuneStart(text[n]) {
			n--
		}
		text = text[:n] + "\n..."
	}
	c.printf("%s\n%s\n", titleStyle.Render(kind), boxStyle.Render(text))
}

func (c *ConsoleUI) Progress(line string) {
	if c.Quiet {
		return
	}
	c.printf("%s\n", progressStyle.Render("  │ "+line))
}
