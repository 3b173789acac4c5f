package questionnaire

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// parser validates a submitted value and returns its canonical form.
type parser func(string) (string, error)

var parsers = map[string]parser{
	TypeInteger:  parseInteger,
	TypeDecimal:  parseDecimal,
	TypeBoolean:  parseBoolean,
	TypeDate:     parseDate,
	TypeDateTime: parseDateTime,
	TypeTime:     parseTime,
	TypeURL:      parseURL,
	TypeString:   parseText,
	TypeText:     parseText,
}

func parseInteger(s string) (string, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return "", fmt.Errorf("%q is not a valid integer", s)
	}
	return strconv.FormatInt(n, 10), nil
}

func parseDecimal(s string) (string, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("%q is not a valid decimal", s)
	}
	return strconv.FormatFloat(f, 'f', -1, 64), nil
}

func parseBoolean(s string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1":
		return "true", nil
	case "false", "0":
		return "false", nil
	}
	return "", fmt.Errorf("%q is not a valid boolean", s)
}

func parseDate(s string) (string, error) {
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("%q is not a valid date", s)
	}
	return t.Format(time.DateOnly), nil
}

var dateTimeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02T15:04"}

func parseDateTime(s string) (string, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(time.RFC3339Nano), nil
		}
	}
	return "", fmt.Errorf("%q is not a valid date-time", s)
}

func parseTime(s string) (string, error) {
	t, err := time.Parse(time.TimeOnly, strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("%q is not a valid time (HH:MM:SS)", s)
	}
	return t.Format(time.TimeOnly), nil
}

func parseURL(s string) (string, error) {
	u, err := url.ParseRequestURI(strings.TrimSpace(s))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%q is not a valid url", s)
	}
	return u.String(), nil
}

func parseText(s string) (string, error) {
	if strings.TrimSpace(s) == "" {
		return "", errors.New("value cannot be blank")
	}
	return s, nil
}

// compare orders two answers numerically when both parse as numbers and
// lexically otherwise. ISO dates order correctly as strings.
func compare(a, b string) int {
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	if errA == nil && errB == nil {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	return strings.Compare(a, b)
}
