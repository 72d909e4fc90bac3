package policy

import (
	"regexp"
	"strings"
)

// Answer is the interpretation of a reply to a yes/no question.
type Answer int

const (
	AnswerUnclear Answer = iota
	AnswerYes
	AnswerNo
)

func (a Answer) String() string {
	switch a {
	case AnswerYes:
		return "yes"
	case AnswerNo:
		return "no"
	default:
		return "unclear"
	}
}

var (
	yesWords = []string{"yes", "yeah", "yep", "yup", "sure", "ok", "okay", "confirm", "confirmed", "correct", "right", "y"}
	noWords  = []string{"no", "nope", "nah", "incorrect", "wrong", "n"}

	yesPhrases = []string{"that's right", "that is right", "sounds good", "go ahead", "of course"}
	noPhrases  = []string{"not correct", "not right", "that's wrong", "that is wrong"}

	cancelPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^\s*(cancel|stop|abort|quit|exit|never\s*mind|nevermind|forget\s+it)\s*[.!]*\s*$`),
		regexp.MustCompile(`(?i)\b(cancel|abort)\s+(this|that|it|the\s+(request|task|ticket|claim|meeting))\b`),
		regexp.MustCompile(`(?i)\b(i\s+(don'?t|do\s+not)\s+want\s+to\s+(continue|do\s+this)|forget\s+(about\s+)?it)\b`),
	}

	wordSplit = regexp.MustCompile(`[^a-z']+`)
)

// InterpretAnswer maps a free-text reply onto yes, no or unclear. Negative
// phrases win over positive words so "no, that's not right" reads as no.
// A reply that mixes yes and no words is unclear.
func InterpretAnswer(text string) Answer {
	in := strings.ToLower(strings.TrimSpace(text))
	if in == "" {
		return AnswerUnclear
	}
	for _, p := range noPhrases {
		if strings.Contains(in, p) {
			return AnswerNo
		}
	}
	for _, p := range yesPhrases {
		if strings.Contains(in, p) {
			return AnswerYes
		}
	}

	var yes, no bool
	for _, w := range wordSplit.Split(in, -1) {
		if w == "" {
			continue
		}
		if contains(yesWords, w) {
			yes = true
		}
		if contains(noWords, w) {
			no = true
		}
	}
	switch {
	case yes && !no:
		return AnswerYes
	case no && !yes:
		return AnswerNo
	default:
		return AnswerUnclear
	}
}

// YesNoSpan returns the first yes/no word in text exactly as written, for
// boolean slot extraction.
func YesNoSpan(text string) (string, bool) {
	for _, raw := range strings.Fields(text) {
		w := strings.ToLower(strings.Trim(raw, ".,!?;:\"'()"))
		if w == "y" || w == "n" {
			continue
		}
		if contains(yesWords, w) || contains(noWords, w) {
			return strings.Trim(raw, ".,!?;:\"'()"), true
		}
	}
	return "", false
}

// IsCancellation reports an explicit request to abandon the current task.
func IsCancellation(text string) bool {
	in := strings.TrimSpace(text)
	if in == "" {
		return false
	}
	for _, re := range cancelPatterns {
		if re.MatchString(in) {
			return true
		}
	}
	return false
}

func contains(list []string, w string) bool {
	for _, item := range list {
		if item == w {
			return true
		}
	}
	return false
}
