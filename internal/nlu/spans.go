// Package nlu holds the rule-based collaborators of the dialogue engine:
// intent classification, slot selection, span extraction and value
// normalization.
package nlu

import (
	"regexp"
	"strings"
	"sync"

	"github.com/ent0n29/hrdesk/internal/schema"
)

const (
	monthNames = `(?:jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?`
	dayNames   = `(?:monday|tuesday|wednesday|thursday|friday|saturday|sunday)`
)

var (
	dateSpan = regexp.MustCompile(`(?i)\b(?:` +
		`\d{4}-\d{1,2}-\d{1,2}` +
		`|\d{1,2}/\d{1,2}(?:/\d{2,4})?` +
		`|` + monthNames + `\s+\d{1,2}(?:st|nd|rd|th)?(?:,?\s+\d{4})?` +
		`|\d{1,2}(?:st|nd|rd|th)?\s+(?:of\s+)?` + monthNames + `(?:,?\s+\d{4})?` +
		`|day after tomorrow|today|tomorrow|yesterday` +
		`|(?:(?:next|this|coming)\s+)?` + dayNames +
		`|(?:next|this)\s+(?:week|month)` +
		`)\b`)

	timeSpan = regexp.MustCompile(`(?i)\b(?:` +
		`\d{1,2}(?::[0-5]\d)?\s*(?:a\.?m\.?|p\.?m\.?)` +
		`|(?:[01]?\d|2[0-3]):[0-5]\d` +
		`|morning|afternoon|evening|noon|midnight` +
		`)`)

	emailSpan = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phoneSpan = regexp.MustCompile(`\+?\(?\d[\d\s().\-]{5,}\d`)

	amountSpan      = regexp.MustCompile(`(?i)(?:[$€£]\s?\d[\d,]*(?:\.\d{1,2})?|\b\d[\d,]*(?:\.\d{1,2})?\s?(?:dollars|usd|euros?|eur|bucks)\b)`)
	looseAmountSpan = regexp.MustCompile(`\b\d[\d,]*(?:\.\d{1,2})?\b`)

	clauseEnd = regexp.MustCompile(`[.,;!?]`)
)

// stopWords end a free-form span that follows a cue.
var stopWords = map[string]bool{
	"at": true, "on": true, "from": true, "to": true, "until": true, "till": true,
	"about": true, "regarding": true, "because": true, "since": true, "for": true,
	"today": true, "tomorrow": true, "next": true, "this": true,
	"but": true, "please": true,
}

// nameStopWords extend stopWords for person names, which are short.
var nameStopWords = map[string]bool{
	"i": true, "and": true, "need": true, "want": true, "would": true, "with": true,
}

const maxNameWords = 4

// typedSpan returns the finder for slot types with a recognizable shape.
func typedSpan(t schema.SlotType) *regexp.Regexp {
	switch t {
	case schema.TypeDate:
		return dateSpan
	case schema.TypeTime:
		return timeSpan
	case schema.TypeEmail:
		return emailSpan
	case schema.TypePhone:
		return phoneSpan
	case schema.TypeAmount:
		return amountSpan
	default:
		return nil
	}
}

func freeForm(t schema.SlotType) bool {
	switch t {
	case schema.TypeText, schema.TypeName, schema.TypeParticipants:
		return true
	default:
		return false
	}
}

var phraseCache sync.Map

// phrase compiles a case-insensitive whole-word matcher for a cue or term.
func phrase(p string) *regexp.Regexp {
	p = strings.ToLower(strings.TrimSpace(p))
	if re, ok := phraseCache.Load(p); ok {
		return re.(*regexp.Regexp)
	}
	expr := regexp.QuoteMeta(p)
	if p != "" && isWordByte(p[0]) {
		expr = `\b` + expr
	}
	if p != "" && isWordByte(p[len(p)-1]) {
		expr += `\b`
	}
	re := regexp.MustCompile(`(?i)` + expr)
	phraseCache.Store(p, re)
	return re
}

func isWordByte(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_'
}

// cueIndex returns the end offset of the first cue found in utterance.
func cueIndex(utterance string, cues []string) (int, bool) {
	best := -1
	end := 0
	for _, cue := range cues {
		if strings.TrimSpace(cue) == "" {
			continue
		}
		loc := phrase(cue).FindStringIndex(utterance)
		if loc == nil {
			continue
		}
		if best < 0 || loc[0] < best {
			best = loc[0]
			end = loc[1]
		}
	}
	return end, best >= 0
}

// optionSpan finds the first enum option mentioned in utterance and returns
// it as written.
func optionSpan(utterance string, options []string) (string, bool) {
	best := -1
	var span string
	for _, opt := range options {
		loc := phrase(opt).FindStringIndex(utterance)
		if loc == nil {
			continue
		}
		if best < 0 || loc[0] < best {
			best = loc[0]
			span = strings.TrimSpace(utterance[loc[0]:loc[1]])
		}
	}
	return span, best >= 0
}

// clauseAfter returns the words that follow offset up to the end of the
// clause. Participant and name spans also stop at a stop word or a date or
// time; names are at most maxNameWords long.
func clauseAfter(utterance string, offset int, t schema.SlotType) string {
	rest := utterance[offset:]
	if loc := clauseEnd.FindStringIndex(rest); loc != nil {
		rest = rest[:loc[0]]
	}
	if t == schema.TypeText {
		return strings.TrimSpace(rest)
	}
	name := t == schema.TypeName
	words := strings.Fields(rest)
	out := make([]string, 0, len(words))
	for _, w := range words {
		lw := strings.ToLower(strings.Trim(w, `"'`))
		if len(out) > 0 && (stopWords[lw] || name && nameStopWords[lw]) {
			break
		}
		if dateSpan.FindString(w) == w || timeSpan.FindString(w) == w {
			break
		}
		out = append(out, w)
		if name && len(out) == maxNameWords {
			break
		}
	}
	return strings.Join(out, " ")
}

// freeAnswerPrefixes are lead-ins stripped when a whole utterance answers a
// free-form question.
var freeAnswerPrefixes = []string{
	"my name is", "the name is", "name is", "i'm", "i am", "this is", "it's", "it is",
	"the issue is", "the problem is", "the reason is", "it was", "sure,", "ok,", "okay,",
}

func stripAnswerPrefix(utterance string) string {
	out := strings.TrimSpace(utterance)
	lower := strings.ToLower(out)
	for _, p := range freeAnswerPrefixes {
		if strings.HasPrefix(lower, p+" ") {
			out = strings.TrimSpace(out[len(p):])
			break
		}
	}
	return strings.TrimRight(out, ".!?; ")
}

// spanAfterCue finds a value of shape re that directly follows one of the
// cues, allowing a short filler word in between. It returns the span
// offsets within utterance.
func spanAfterCue(utterance string, cues []string, re *regexp.Regexp) (int, int, bool) {
	bestStart, bestEnd := -1, -1
	for _, cue := range cues {
		if strings.TrimSpace(cue) == "" {
			continue
		}
		for _, loc := range phrase(cue).FindAllStringIndex(utterance, -1) {
			rest := utterance[loc[1]:]
			trimmed := strings.TrimLeft(rest, " \t")
			offset := loc[1] + len(rest) - len(trimmed)
			lower := strings.ToLower(trimmed)
			for _, filler := range cueFillers {
				if strings.HasPrefix(lower, filler) {
					offset += len(filler)
					trimmed = trimmed[len(filler):]
					break
				}
			}
			m := re.FindStringIndex(trimmed)
			if m == nil || m[0] != 0 {
				continue
			}
			if bestStart < 0 || offset < bestStart {
				bestStart, bestEnd = offset, offset+m[1]
			}
		}
	}
	return bestStart, bestEnd, bestStart >= 0
}

var cueFillers = []string{"the ", "about ", "around ", "approximately ", "on "}
