// Package answer applies cosmetic transformations to summary text: ISO dates
// become English, large dollar amounts are abbreviated, percent and comma
// spacing is tidied. Formatting is best-effort; any failure returns the text
// unchanged.
package answer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	reISODate   = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	reDollar    = regexp.MustCompile(`\$([0-9][0-9,]*(?:\.[0-9]+)?)`)
	rePctSpace  = regexp.MustCompile(`\s+%`)
	reCommaGap  = regexp.MustCompile(`\s+,`)
)

// Format beautifies a summary. The question is consulted only to decide
// whether a date-range phrase should be prepended.
func Format(question, text string) (out string) {
	defer func() {
		if recover() != nil {
			out = text
		}
	}()

	out = text
	out = prependDateRange(question, out)
	out = formatDollars(out)
	out = formatDates(out)
	out = rePctSpace.ReplaceAllString(out, "%")
	out = reCommaGap.ReplaceAllString(out, ",")
	return out
}

// formatDates renders ISO dates as English: 2024-11-11 -> November 11th 2024.
func formatDates(text string) string {
	return reISODate.ReplaceAllStringFunc(text, func(iso string) string {
		t, err := time.Parse("2006-01-02", iso)
		if err != nil {
			return iso
		}
		return humanDate(t)
	})
}

func humanDate(t time.Time) string {
	return fmt.Sprintf("%s %s %d", t.Month().String(), ordinal(t.Day()), t.Year())
}

func ordinal(day int) string {
	suffix := "th"
	if day%100 < 11 || day%100 > 13 {
		switch day % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return strconv.Itoa(day) + suffix
}

// formatDollars abbreviates dollar values of a thousand or more: $1234567 ->
// $1.23M.
func formatDollars(text string) string {
	return reDollar.ReplaceAllStringFunc(text, func(raw string) string {
		val, err := strconv.ParseFloat(strings.ReplaceAll(raw[1:], ",", ""), 64)
		if err != nil || val < 1000 {
			return raw
		}
		return "$" + abbreviate(val)
	})
}

func abbreviate(v float64) string {
	units := []struct {
		scale  float64
		suffix string
	}{
		{1e12, "T"},
		{1e9, "B"},
		{1e6, "M"},
		{1e3, "K"},
	}
	for _, u := range units {
		if v >= u.scale {
			s := strconv.FormatFloat(v/u.scale, 'f', 2, 64)
			s = strings.TrimSuffix(s, ".00")
			return s + u.suffix
		}
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// prependDateRange adds a range phrase when the question constrained the
// dates but the answer does not mention any.
func prependDateRange(question, text string) string {
	if reISODate.MatchString(text) {
		return text
	}
	dates := reISODate.FindAllString(question, -1)
	if len(dates) < 2 {
		return text
	}
	from, err1 := time.Parse("2006-01-02", dates[0])
	to, err2 := time.Parse("2006-01-02", dates[1])
	if err1 != nil || err2 != nil {
		return text
	}
	return fmt.Sprintf("Between %s and %s, %s", humanDate(from), humanDate(to), lowerFirst(text))
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	// Leave acronyms and tickers alone; only a single leading capital
	// followed by lowercase is folded.
	if len(s) > 1 && s[0] >= 'A' && s[0] <= 'Z' && s[1] >= 'a' && s[1] <= 'z' {
		return strings.ToLower(s[:1]) + s[1:]
	}
	return s
}
