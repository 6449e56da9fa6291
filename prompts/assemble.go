// Package prompts renders the LLM request for an action from its edge
// template, the target schema, related artifacts, the user goal and recent
// observations.
package prompts

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/c360studio/icl/artifact"
	"github.com/c360studio/icl/ontology"
)

// mdCodeFence is the markdown code fence delimiter.
const mdCodeFence = "```"

// maxEchoedReply caps how much of a failed reply is fed back to the model.
const maxEchoedReply = 4000

// Placeholders understood in templates.
const (
	PlaceholderSchema       = "schema"
	PlaceholderGoal         = "goal"
	PlaceholderSource       = "source_content"
	PlaceholderTarget       = "target_content"
	PlaceholderRelated      = "related"
	PlaceholderObservations = "observations"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-z_]+)\s*\}\}`)

// Feedback describes why the previous attempt in a refinement sub-loop failed.
type Feedback struct {
	Attempt int
	Reason  string
	Raw     string
}

// Params is everything a prompt is assembled from.
type Params struct {
	Triple   ontology.Triple
	Category ontology.Category

	SystemPrompt string
	// Template is the edge template. Empty selects the fallback.
	Template string

	Schema      []byte
	ExpectArray bool

	Goal         string
	Source       any
	Target       any
	Related      []artifact.Entry
	Observations []string

	// Review is the latest verdict on the target, used for refinement.
	Review *artifact.Verification
	// Feedback is set on the second and later attempts of a cycle.
	Feedback *Feedback
}

// FallbackTemplate returns the template synthesized for edges without one.
func FallbackTemplate(t ontology.Triple) string {
	return fmt.Sprintf("Perform %s on %s for %s. Context: {{related}}", t.Verb, t.Target, t.Source)
}

// Render fills the known placeholders of tmpl. Known placeholders without a
// value render as empty; unknown ones are left alone.
func Render(tmpl string, values map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := placeholderPattern.FindStringSubmatch(m)[1]
		switch name {
		case PlaceholderSchema, PlaceholderGoal, PlaceholderSource,
			PlaceholderTarget, PlaceholderRelated, PlaceholderObservations:
			return values[name]
		}
		return m
	})
}

// uses reports whether tmpl references the placeholder.
func uses(tmpl, name string) bool {
	for _, m := range placeholderPattern.FindAllStringSubmatch(tmpl, -1) {
		if m[1] == name {
			return true
		}
	}
	return false
}

// Assemble produces the final prompt string.
func Assemble(p Params) string {
	tmpl := p.Template
	if strings.TrimSpace(tmpl) == "" {
		tmpl = FallbackTemplate(p.Triple)
	}

	values := map[string]string{
		PlaceholderSchema:       string(p.Schema),
		PlaceholderGoal:         p.Goal,
		PlaceholderSource:       FormatValue(p.Source),
		PlaceholderTarget:       FormatValue(p.Target),
		PlaceholderRelated:      FormatRelated(p.Related),
		PlaceholderObservations: FormatObservations(p.Observations),
	}

	var b strings.Builder
	if p.SystemPrompt != "" {
		b.WriteString(strings.TrimSpace(p.SystemPrompt))
		b.WriteString("\n\n")
	}
	b.WriteString(strings.TrimSpace(Render(tmpl, values)))
	b.WriteString("\n")

	if !uses(tmpl, PlaceholderGoal) && p.Goal != "" {
		fmt.Fprintf(&b, "\n## Goal\n\n%s\n", p.Goal)
	}
	if !uses(tmpl, PlaceholderTarget) && p.Target != nil && p.Category != ontology.Creation {
		fmt.Fprintf(&b, "\n## Current %s\n\n%s\n", p.Triple.Target, fenced(values[PlaceholderTarget]))
	}
	if !uses(tmpl, PlaceholderObservations) && len(p.Observations) > 0 {
		fmt.Fprintf(&b, "\n## Recent observations\n\n%s\n", values[PlaceholderObservations])
	}
	if p.Category == ontology.Refinement && p.Review != nil {
		fmt.Fprintf(&b, "\n## Reviewer feedback\n\nScore: %.2f (needs %.2f)\n%s\n",
			p.Review.Score, p.Review.Threshold, strings.TrimSpace(p.Review.Feedback))
	}

	b.WriteString("\n")
	b.WriteString(outputContract(p, uses(tmpl, PlaceholderSchema)))

	if p.Feedback != nil {
		b.WriteString("\n")
		b.WriteString(CorrectionPrompt(*p.Feedback))
	}
	return b.String()
}

// outputContract tells the model the exact shape of the reply.
func outputContract(p Params, schemaShown bool) string {
	var b strings.Builder
	b.WriteString("## Output Format (REQUIRED)\n\n")

	if p.Category == ontology.Verification {
		fmt.Fprintf(&b, "Review the current %s. Output ONLY a single fenced JSON object:\n\n", p.Triple.Target)
		b.WriteString(mdCodeFence + "json\n")
		b.WriteString("{\n  \"score\": 0.0,\n  \"feedback\": \"what must change for the artifact to pass\"\n}\n")
		b.WriteString(mdCodeFence + "\n\n")
		b.WriteString("score is a number between 0 and 1 where 1 means fully acceptable.\n")
		return b.String()
	}

	shape := "a single JSON object"
	if p.ExpectArray {
		shape = "a single JSON array"
	}
	fmt.Fprintf(&b, "Output ONLY %s for %s inside one fenced %sjson block.\n", shape, p.Triple.Target, mdCodeFence)
	if len(p.Schema) > 0 && !schemaShown {
		fmt.Fprintf(&b, "\nThe reply must validate against this JSON schema:\n\n%sjson\n%s\n%s\n",
			mdCodeFence, strings.TrimSpace(string(p.Schema)), mdCodeFence)
	}
	return b.String()
}

// CorrectionPrompt asks for a corrected reply after a parse or validation failure.
func CorrectionPrompt(f Feedback) string {
	raw := f.Raw
	if cut := Truncate(raw, maxEchoedReply); len(cut) < len(raw) {
		raw = cut + "\n...(truncated)"
	}
	return fmt.Sprintf(
		"## Previous Attempt Failed\n\n"+
			"Attempt %d was rejected: %s\n\n"+
			"Your previous reply was:\n\n%s\n%s\n%s\n\n"+
			"Reply again with a corrected response that follows the output format exactly.\n",
		f.Attempt, f.Reason, mdCodeFence, raw, mdCodeFence)
}

// FormatValue renders an artifact value for inclusion in a prompt.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

// FormatRelated renders related artifacts as titled JSON blocks.
func FormatRelated(entries []artifact.Entry) string {
	if len(entries) == 0 {
		return ""
	}
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "### %s\n\n%s\n", e.Kind, fenced(FormatValue(e.Value)))
	}
	return strings.TrimRight(b.String(), "\n")
}

// FormatObservations renders the observation ring as a bullet list.
func FormatObservations(obs []string) string {
	if len(obs) == 0 {
		return ""
	}
	return "- " + strings.Join(obs, "\n- ")
}

func fenced(s string) string {
	return mdCodeFence + "json\n" + s + "\n" + mdCodeFence
}

// CommitPrompt asks the model to stage and commit work-dir changes.
func CommitPrompt(t ontology.Triple, kind string) string {
	return fmt.Sprintf(
		"The %s artifact was just persisted after %s.\n\n"+
			"Stage and commit every change in the working directory:\n\n"+
			"1. Run `git add .`\n"+
			"2. Run `git commit -m \"icl: %s %s\"`\n\n"+
			"If there is nothing to commit, do nothing. Reply with a one-line summary.\n",
		kind, t, t.Verb, kind)
}

// Truncate returns at most n bytes of s without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 0 {
		return ""
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
