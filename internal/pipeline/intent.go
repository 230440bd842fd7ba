package pipeline

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/samber/lo"
	"github.com/technosupport/ts-vigil/internal/data"
)

type Intent string

const (
	IntentPatrol     Intent = "patrol"
	IntentFindPerson Intent = "find_person"
	IntentCamera     Intent = "camera"
	IntentNone       Intent = "none"
)

// Classification is the routing decision for a chat message.
type Classification struct {
	Intent      Intent
	CameraID    string
	Person      string
	Instruction string
}

var (
	findPersonRe = regexp.MustCompile(`(?i)\b(?:where is|where's|wheres|find|have you seen|did you see|has anyone seen)\s+([\p{L}][\p{L}'-]*)`)
	patrolRe     = regexp.MustCompile(`(?i)\b(?:how is home|how's home|hows home|how is the house|patrol|check all cameras|check all|check everything|status|is everything ok(?:ay)?)\b`)
)

var notAName = []string{"anyone", "anybody", "someone", "somebody", "everyone", "everybody", "the", "my", "a", "it"}

var filler = map[string]bool{
	"check": true, "show": true, "me": true, "the": true, "on": true, "at": true,
	"in": true, "camera": true, "cam": true, "please": true, "what's": true, "whats": true,
	"what": true, "is": true, "happening": true, "look": true, "a": true, "and": true,
	"how": true, "of": true, "then": true, "also": true, "now": true, "pls": true,
	"status": true,
}

// ClassifyMessage routes free text to an intent. Person queries win over
// camera mentions, which win over patrol phrases; anything else is IntentNone
// and the full text becomes the instruction.
func ClassifyMessage(text string, cams []data.Camera) Classification {
	text = strings.TrimSpace(text)

	if m := findPersonRe.FindStringSubmatchIndex(text); m != nil {
		name := text[m[2]:m[3]]
		if !lo.Contains(notAName, strings.ToLower(name)) {
			return Classification{
				Intent:      IntentFindPerson,
				Person:      name,
				Instruction: remainder(text, m[0], m[1]),
			}
		}
	}

	if cam, start, end, ok := mentionedCamera(text, cams); ok {
		return Classification{
			Intent:      IntentCamera,
			CameraID:    cam.ID,
			Instruction: remainder(text, start, end),
		}
	}

	if loc := patrolRe.FindStringIndex(text); loc != nil {
		return Classification{Intent: IntentPatrol, Instruction: remainder(text, loc[0], loc[1])}
	}

	return Classification{Intent: IntentNone, Instruction: text}
}

// mentionedCamera matches camera names and IDs as whole words, longest first
// so "back door" beats "door".
func mentionedCamera(text string, cams []data.Camera) (data.Camera, int, int, bool) {
	type alias struct {
		cam  data.Camera
		term string
	}
	var aliases []alias
	for _, c := range cams {
		aliases = append(aliases, alias{c, c.ID})
		if c.Name != "" && !strings.EqualFold(c.Name, c.ID) {
			aliases = append(aliases, alias{c, c.Name})
		}
	}
	sort.SliceStable(aliases, func(i, j int) bool { return len(aliases[i].term) > len(aliases[j].term) })

	lower := strings.ToLower(text)
	for _, a := range aliases {
		term := strings.ToLower(a.term)
		if term == "" {
			continue
		}
		for from := 0; from < len(lower); {
			i := strings.Index(lower[from:], term)
			if i < 0 {
				break
			}
			start, end := from+i, from+i+len(term)
			if wordBoundary(lower, start-1) && wordBoundary(lower, end) {
				return a.cam, start, end, true
			}
			from = end
		}
	}
	return data.Camera{}, 0, 0, false
}

func wordBoundary(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return true
	}
	r := rune(s[i])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
}

// remainder drops text[start:end] and trims filler words from both ends of
// what is left.
func remainder(text string, start, end int) string {
	rest := strings.TrimSpace(text[:start] + " " + text[end:])
	words := strings.Fields(rest)
	norm := func(w string) string {
		return strings.ToLower(strings.TrimFunc(w, unicode.IsPunct))
	}
	for len(words) > 0 && (filler[norm(words[0])] || norm(words[0]) == "") {
		words = words[1:]
	}
	for len(words) > 0 && (filler[norm(words[len(words)-1])] || norm(words[len(words)-1]) == "") {
		words = words[:len(words)-1]
	}
	return strings.TrimRight(strings.Join(words, " "), " ,;:")
}

// FindPersonReply lists the cameras whose identified faces include name.
func FindPersonReply(name string, entries []data.AnalysisResult) string {
	seenOn := lo.FilterMap(entries, func(e data.AnalysisResult, _ int) (string, bool) {
		return e.CameraName, lo.ContainsBy(e.Faces, func(f data.KnownFaceMatch) bool {
			return f.Identified() && nameMatches(f.DisplayName, name)
		})
	})
	seenOn = lo.Uniq(seenOn)

	switch len(seenOn) {
	case 0:
		return name + " was not seen on any camera"
	case 1:
		return name + " was seen on " + seenOn[0]
	default:
		return name + " was seen on " + strings.Join(seenOn[:len(seenOn)-1], ", ") + " and " + seenOn[len(seenOn)-1]
	}
}

// nameMatches accepts the full display name or its first word.
func nameMatches(displayName, query string) bool {
	if strings.EqualFold(displayName, query) {
		return true
	}
	first, _, _ := strings.Cut(displayName, " ")
	return strings.EqualFold(first, query)
}
