// Package render formats diagnoses for a console.
package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/opensource-health/kestrel/internal/domain"
	"github.com/opensource-health/kestrel/internal/engine"
)

// BarWidth is the number of cells in a confidence bar; one cell is 5%.
const BarWidth = 20

// nameWidth is the padded width of condition names in the trace.
const nameWidth = 15

// Console writes reasoning traces, summaries and explanations.
type Console struct {
	Out        io.Writer
	Color      bool
	Thresholds engine.Thresholds
}

// NewConsole creates a console with the default thresholds.
func NewConsole(out io.Writer, color bool) *Console {
	return &Console{Out: out, Color: color, Thresholds: engine.DefaultThresholds()}
}

// Intro prints the questionnaire instructions.
func (c *Console) Intro() {
	fmt.Fprintln(c.Out, "Answer the following with 'y' (yes) or 'n' (no):")
	fmt.Fprintln(c.Out)
}

// Diagnosis prints the trace, summary and explanation of diag. rules lists
// the top condition's symptoms as authored.
func (c *Console) Diagnosis(diag *domain.Diagnosis, rules []string) {
	c.Trace(diag.Ranked)
	c.Summary(diag.Top, diag.Classification)
	c.Explanation(diag.Explanation, rules)
}

// Trace prints one line per condition in ranked order.
func (c *Console) Trace(ranked domain.RankedResult) {
	fmt.Fprintln(c.Out)
	fmt.Fprintln(c.Out, c.style(headerStyle, "--- Reasoning Trace ---"))
	for _, s := range ranked.All() {
		name := fmt.Sprintf("%-*s", nameWidth, s.Name)
		fmt.Fprintf(c.Out, "%s | Confidence: %5.1f%% | %s\n",
			c.style(nameStyle, name), s.Confidence, c.style(c.band(s.Confidence), Bar(s.Confidence)))
	}
}

// Summary prints the headline for the top condition and its advice line.
func (c *Console) Summary(top domain.ScoredCondition, class domain.Classification) {
	fmt.Fprintln(c.Out)
	fmt.Fprintln(c.Out, c.style(headerStyle, "--- Diagnosis Result ---"))

	switch class {
	case domain.ClassificationHigh:
		fmt.Fprintln(c.Out, c.style(highStyle, fmt.Sprintf("✅ Most likely diagnosis: **%s** (Confidence: %.1f%%)", top.Name, top.Confidence)))
	case domain.ClassificationMedium:
		fmt.Fprintln(c.Out, c.style(mediumStyle, fmt.Sprintf("⚠️ Possible diagnosis: **%s** (Confidence: %.1f%%)", top.Name, top.Confidence)))
	default:
		fmt.Fprintln(c.Out, c.style(lowStyle, fmt.Sprintf("❓ Low confidence in diagnosis (Top match: %s, %.1f%%)", top.Name, top.Confidence)))
	}
	fmt.Fprintln(c.Out, "→ "+Advice(class))
}

// Explanation prints the rule, matched and unmatched symptoms of a condition.
func (c *Console) Explanation(expl domain.Explanation, rules []string) {
	fmt.Fprintln(c.Out)
	fmt.Fprintln(c.Out, c.style(headerStyle, fmt.Sprintf("--- Explanation for %s ---", expl.Condition)))
	if rules != nil {
		fmt.Fprintln(c.Out, c.style(labelStyle, "Rules:"), list(rules))
	}
	fmt.Fprintln(c.Out, c.style(labelStyle, "Matched Symptoms:"), list(expl.Matched))
	fmt.Fprintln(c.Out, c.style(labelStyle, "Unmatched Symptoms:"), list(expl.Unmatched))
}

// Advice returns the follow-up line for a classification.
func Advice(class domain.Classification) string {
	switch class {
	case domain.ClassificationHigh:
		return "High confidence based on your symptoms."
	case domain.ClassificationMedium:
		return "Medium confidence; further tests or observation advised."
	default:
		return "Insufficient data. Please provide more symptoms or consult a doctor."
	}
}

// Bar renders a confidence as filled cells padded with '-' to BarWidth.
func Bar(confidence float64) string {
	filled := int(confidence / 5)
	if filled < 0 {
		filled = 0
	}
	if filled > BarWidth {
		filled = BarWidth
	}
	return strings.Repeat("█", filled) + strings.Repeat("-", BarWidth-filled)
}

func (c *Console) band(confidence float64) lipgloss.Style {
	switch engine.Classify(confidence, c.Thresholds) {
	case domain.ClassificationHigh:
		return highStyle
	case domain.ClassificationMedium:
		return mediumStyle
	default:
		return lowStyle
	}
}

func (c *Console) style(s lipgloss.Style, text string) string {
	if !c.Color {
		return text
	}
	return s.Render(text)
}

func list(items []string) string {
	if len(items) == 0 {
		return "None"
	}
	return strings.Join(items, ", ")
}
