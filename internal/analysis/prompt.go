package analysis

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/samber/lo"
	"github.com/technosupport/ts-vigil/internal/data"
)

const DefaultAnalysisPrompt = "Describe what is happening in this camera frame. Focus on people, vehicles, animals and anything unusual. Be concise."

// BuildPrompt combines the camera prompt, what caused the run and who was
// recognised in the frame.
func BuildPrompt(adm data.AdmittedTrigger, faces []data.KnownFaceMatch, language string) string {
	var b strings.Builder

	prompt := strings.TrimSpace(adm.Camera.AnalysisPrompt)
	if prompt == "" {
		prompt = DefaultAnalysisPrompt
	}
	b.WriteString(prompt)

	fmt.Fprintf(&b, "\n\nCamera: %s.", adm.Camera.DisplayName())
	b.WriteString("\nContext: ")
	b.WriteString(TriggerContext(adm.Trigger))
	b.WriteString("\n")
	b.WriteString(PeopleLine(faces))

	if msg, ok := adm.Trigger.(data.MessageTrigger); ok && msg.Instruction != "" {
		b.WriteString("\nInstruction for delivery: ")
		b.WriteString(msg.Instruction)
	}
	if language != "" {
		fmt.Fprintf(&b, "\nRespond in %s.", language)
	}
	return b.String()
}

// TriggerContext describes why the analysis is running.
func TriggerContext(t data.Trigger) string {
	switch tr := t.(type) {
	case data.MotionTrigger:
		return fmt.Sprintf("Motion was detected (score %.2f).", tr.Score)
	case data.ScheduleTrigger:
		return fmt.Sprintf("Routine scheduled check at %s.", tr.ScheduledAt.Format("15:04 MST"))
	case data.WebhookTrigger:
		ctx := "An external system requested this check"
		if tr.Source != "" {
			ctx += " via " + tr.Source
		}
		if details := summarizePayload(tr.Payload); details != "" {
			ctx += " (" + details + ")"
		}
		return ctx + "."
	case data.MessageTrigger:
		who := tr.Source.String()
		if who == "" {
			who = "A user"
		}
		return fmt.Sprintf("%s asked: %q", who, tr.Text)
	case data.PatrolTrigger:
		return "This frame is part of a patrol across all cameras."
	default:
		return "Manual check."
	}
}

// PeopleLine lists recognised names; unmatched faces are described generically.
func PeopleLine(faces []data.KnownFaceMatch) string {
	var names []string
	unknown := 0
	for _, f := range faces {
		if f.Identified() {
			names = append(names, f.DisplayName)
		} else {
			unknown++
		}
	}
	names = lo.Uniq(names)

	parts := names
	switch {
	case unknown == 1:
		parts = append(parts, "an unidentified person")
	case unknown > 1:
		parts = append(parts, fmt.Sprintf("%d unidentified persons", unknown))
	}
	if len(parts) == 0 {
		return "No known faces were identified."
	}
	return "People in the frame: " + strings.Join(parts, ", ") + "."
}

func summarizePayload(p map[string]any) string {
	if len(p) == 0 {
		return ""
	}
	keys := lo.Keys(p)
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		switch v := p[k].(type) {
		case string, float64, bool, int:
			parts = append(parts, fmt.Sprintf("%s=%v", k, v))
		}
	}
	return Truncate(strings.Join(parts, ", "), 200)
}

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*[\\[{].*?```")

// CleanDescription drops any fenced JSON block the model adds before its prose.
func CleanDescription(text string) string {
	return strings.TrimSpace(fencedJSON.ReplaceAllString(text, ""))
}

// Summarize keeps whole leading sentences that fit in max runes, falling back
// to a hard cut of the first sentence.
func Summarize(text string, max int) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= max {
		return text
	}

	var out strings.Builder
	for _, s := range splitSentences(text) {
		if utf8.RuneCountInString(out.String())+utf8.RuneCountInString(s)+1 > max {
			break
		}
		if out.Len() > 0 {
			out.WriteString(" ")
		}
		out.WriteString(s)
	}
	if out.Len() == 0 {
		return Truncate(text, max)
	}
	return out.String()
}

func splitSentences(text string) []string {
	var (
		out   []string
		start int
	)
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			s := strings.TrimSpace(text[start : i+1])
			if s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if rest := strings.TrimSpace(text[start:]); rest != "" {
		out = append(out, rest)
	}
	return out
}

// Truncate cuts s to max runes, marking the cut with an ellipsis.
func Truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	if max <= 1 {
		return "…"
	}
	r := []rune(s)
	return string(r[:max-1]) + "…"
}

// RenderTemplate fills the notification prompt placeholders.
func RenderTemplate(tmpl string, res data.AnalysisResult) string {
	people := strings.Join(res.IdentifiedNames(), ", ")
	if people == "" {
		people = "nobody recognised"
	}
	return strings.NewReplacer(
		"{camera}", res.CameraName,
		"{description}", res.Description,
		"{people}", people,
	).Replace(tmpl)
}
