package nlu

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/ent0n29/hrdesk/internal/dialogue"
	"github.com/ent0n29/hrdesk/internal/policy"
	"github.com/ent0n29/hrdesk/internal/schema"
)

// ErrInvalidValue marks a raw value that cannot be used for its slot.
var ErrInvalidValue = errors.New("invalid slot value")

const dateLayout = "2006-01-02"

// vagueTimes is ordered so "afternoon" is tried before "noon".
var vagueTimes = []struct{ word, value string }{
	{"afternoon", "14:00"},
	{"midnight", "00:00"},
	{"morning", "09:00"},
	{"evening", "18:00"},
	{"noon", "12:00"},
}

var weekdayNames = []string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}

// firstWeekday returns the weekday mentioned earliest in lower.
func firstWeekday(lower string) (time.Weekday, bool) {
	best, at := time.Sunday, -1
	for i, name := range weekdayNames {
		if idx := strings.Index(lower, name); idx >= 0 && (at < 0 || idx < at) {
			best, at = time.Weekday(i), idx
		}
	}
	return best, at >= 0
}

var (
	clockTime   = regexp.MustCompile(`(?i)^(\d{1,2})(?::([0-5]\d))?\s*(a\.?m\.?|p\.?m\.?)?$`)
	ordinalDay  = regexp.MustCompile(`(?i)(\d{1,2})(st|nd|rd|th)\b`)
	numericDate = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})$`)
)

// Normalizer canonicalizes raw slot values. Dates become YYYY-MM-DD, times
// HH:MM, amounts a two-decimal number with an optional currency code.
// Values resolved relative to today, or from vague wording, are flagged
// ambiguous.
type Normalizer struct {
	loc *time.Location
	now func() time.Time
}

func NewNormalizer(loc *time.Location, now func() time.Time) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &Normalizer{loc: loc, now: now}
}

func (n *Normalizer) Normalize(_ context.Context, raw string, slot schema.Slot) (dialogue.Normalized, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return dialogue.Normalized{}, fmt.Errorf("%w: empty", ErrInvalidValue)
	}
	switch slot.Type {
	case schema.TypeDate:
		return n.date(raw)
	case schema.TypeTime:
		return n.clock(raw)
	case schema.TypeEnum:
		return enumValue(raw, slot.Options)
	case schema.TypeBoolean:
		return booleanValue(raw)
	case schema.TypeEmail:
		return emailValue(raw)
	case schema.TypePhone:
		return phoneValue(raw)
	case schema.TypeAmount:
		return amountValue(raw)
	default:
		return dialogue.Normalized{Value: raw}, nil
	}
}

func (n *Normalizer) today() time.Time {
	now := n.now().In(n.loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, n.loc)
}

func (n *Normalizer) date(raw string) (dialogue.Normalized, error) {
	lower := strings.ToLower(raw)
	today := n.today()
	relative := func(t time.Time) (dialogue.Normalized, error) {
		return dialogue.Normalized{Value: t.Format(dateLayout), Ambiguous: true}, nil
	}

	switch {
	case strings.Contains(lower, "day after tomorrow"):
		return relative(today.AddDate(0, 0, 2))
	case strings.Contains(lower, "tomorrow"):
		return relative(today.AddDate(0, 0, 1))
	case strings.Contains(lower, "today"):
		return relative(today)
	case strings.Contains(lower, "yesterday"):
		return relative(today.AddDate(0, 0, -1))
	case strings.Contains(lower, "next week"):
		return relative(today.AddDate(0, 0, 7))
	case strings.Contains(lower, "this week"):
		return relative(today)
	case strings.Contains(lower, "next month"):
		return relative(time.Date(today.Year(), today.Month()+1, 1, 0, 0, 0, 0, n.loc))
	}
	if wd, ok := firstWeekday(lower); ok {
		ahead := int(wd - today.Weekday())
		if ahead <= 0 {
			ahead += 7
		}
		if strings.Contains(lower, "next") {
			ahead += 7
		}
		return relative(today.AddDate(0, 0, ahead))
	}

	cleaned := ordinalDay.ReplaceAllString(raw, "$1")
	if t, err := dateparse.ParseIn(cleaned, n.loc); err == nil && t.Year() > 1900 {
		return dialogue.Normalized{Value: t.Format(dateLayout), Ambiguous: ambiguousNumeric(cleaned)}, nil
	}

	// Without a year the nearest future occurrence is assumed, which the
	// user has to confirm.
	year := strconv.Itoa(today.Year())
	candidates := []string{cleaned + " " + year, cleaned + ", " + year}
	if m := numericDate.FindStringSubmatch(cleaned); m != nil {
		candidates = []string{cleaned + "/" + year}
	}
	for _, c := range candidates {
		t, err := dateparse.ParseIn(c, n.loc)
		if err != nil || t.Year() <= 1900 {
			continue
		}
		if t.Before(today) {
			t = t.AddDate(1, 0, 0)
		}
		return relative(t)
	}
	return dialogue.Normalized{}, fmt.Errorf("%w: unrecognized date %q", ErrInvalidValue, raw)
}

// ambiguousNumeric flags slash dates such as 03/04/2026 that read
// differently month-first and day-first.
func ambiguousNumeric(raw string) bool {
	parts := strings.Split(raw, "/")
	if len(parts) < 2 {
		return false
	}
	a, errA := strconv.Atoi(strings.TrimSpace(parts[0]))
	b, errB := strconv.Atoi(strings.TrimSpace(parts[1]))
	return errA == nil && errB == nil && a <= 12 && b <= 12 && a != b
}

func (n *Normalizer) clock(raw string) (dialogue.Normalized, error) {
	lower := strings.ToLower(raw)
	for _, v := range vagueTimes {
		if strings.Contains(lower, v.word) {
			return dialogue.Normalized{Value: v.value, Ambiguous: true}, nil
		}
	}
	m := clockTime.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return dialogue.Normalized{}, fmt.Errorf("%w: unrecognized time %q", ErrInvalidValue, raw)
	}
	hour, _ := strconv.Atoi(m[1])
	minute := 0
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	suffix := strings.ReplaceAll(strings.ToLower(m[3]), ".", "")
	if suffix != "" && (hour < 1 || hour > 12) {
		return dialogue.Normalized{}, fmt.Errorf("%w: hour out of range in %q", ErrInvalidValue, raw)
	}
	switch suffix {
	case "am":
		if hour == 12 {
			hour = 0
		}
	case "pm":
		if hour < 12 {
			hour += 12
		}
	}
	if hour > 23 {
		return dialogue.Normalized{}, fmt.Errorf("%w: hour out of range in %q", ErrInvalidValue, raw)
	}
	if suffix == "" && m[2] == "" {
		// A bare number such as "3" may be morning or afternoon.
		return dialogue.Normalized{Value: fmt.Sprintf("%02d:00", hour), Ambiguous: true}, nil
	}
	return dialogue.Normalized{Value: fmt.Sprintf("%02d:%02d", hour, minute)}, nil
}

func enumValue(raw string, options []string) (dialogue.Normalized, error) {
	lower := strings.ToLower(raw)
	for _, opt := range options {
		if strings.ToLower(opt) == lower {
			return dialogue.Normalized{Value: opt}, nil
		}
	}
	if span, ok := optionSpan(raw, options); ok {
		for _, opt := range options {
			if strings.EqualFold(opt, span) {
				return dialogue.Normalized{Value: opt}, nil
			}
		}
	}
	return dialogue.Normalized{}, fmt.Errorf("%w: %q is not one of %s", ErrInvalidValue, raw, strings.Join(options, ", "))
}

func booleanValue(raw string) (dialogue.Normalized, error) {
	switch policy.InterpretAnswer(raw) {
	case policy.AnswerYes:
		return dialogue.Normalized{Value: "yes"}, nil
	case policy.AnswerNo:
		return dialogue.Normalized{Value: "no"}, nil
	default:
		return dialogue.Normalized{}, fmt.Errorf("%w: %q is not yes or no", ErrInvalidValue, raw)
	}
}

func emailValue(raw string) (dialogue.Normalized, error) {
	addr, err := mail.ParseAddress(raw)
	if err != nil || !strings.Contains(addr.Address, ".") {
		return dialogue.Normalized{}, fmt.Errorf("%w: %q is not an email address", ErrInvalidValue, raw)
	}
	return dialogue.Normalized{Value: strings.ToLower(addr.Address)}, nil
}

func phoneValue(raw string) (dialogue.Normalized, error) {
	var b strings.Builder
	for i, r := range strings.TrimSpace(raw) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	digits := strings.TrimPrefix(b.String(), "+")
	if len(digits) < 7 || len(digits) > 15 {
		return dialogue.Normalized{}, fmt.Errorf("%w: %q is not a phone number", ErrInvalidValue, raw)
	}
	return dialogue.Normalized{Value: b.String()}, nil
}

var currencyCodes = []struct {
	marker string
	code   string
}{
	{"$", "USD"}, {"dollar", "USD"}, {"usd", "USD"}, {"buck", "USD"},
	{"€", "EUR"}, {"euro", "EUR"}, {"eur", "EUR"},
	{"£", "GBP"},
}

func amountValue(raw string) (dialogue.Normalized, error) {
	lower := strings.ToLower(raw)
	number := looseAmountSpan.FindString(raw)
	if number == "" {
		return dialogue.Normalized{}, fmt.Errorf("%w: %q has no amount", ErrInvalidValue, raw)
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(number, ",", ""), 64)
	if err != nil || v <= 0 {
		return dialogue.Normalized{}, fmt.Errorf("%w: %q is not a positive amount", ErrInvalidValue, raw)
	}
	value := strconv.FormatFloat(v, 'f', 2, 64)
	for _, c := range currencyCodes {
		if strings.Contains(lower, c.marker) {
			value += " " + c.code
			break
		}
	}
	return dialogue.Normalized{Value: value}, nil
}
