// Package agecheck extracts a date of birth from decoded document text and
// computes exact, day-precise age against a supplied clock.
package agecheck

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrDateUnparsable indicates the text contains no recognizable date of
// birth, or the matched candidate fails calendar validation.
var ErrDateUnparsable = errors.New("no parseable date of birth")

// The day-first pattern is always tried before the year-first pattern; when
// a text contains both forms, the DD-MM-YYYY match wins.
var (
	dayFirstPattern  = regexp.MustCompile(`[0-9]{2}-[0-9]{2}-[0-9]{4}`)
	yearFirstPattern = regexp.MustCompile(`[0-9]{4}-[0-9]{2}-[0-9]{2}`)
)

// DateOfBirth is a calendar date with explicit day, month, and year.
type DateOfBirth struct {
	Year  int
	Month int
	Day   int
}

// ExtractDOB finds the first date substring in the text and parses it.
func ExtractDOB(text string) (DateOfBirth, error) {
	match := dayFirstPattern.FindString(text)
	if match == "" {
		match = yearFirstPattern.FindString(text)
	}
	if match == "" {
		return DateOfBirth{}, ErrDateUnparsable
	}
	return ParseDOB(match)
}

// ParseDOB parses a hyphen- or slash-separated date. A hyphen form whose
// first group has four digits is year-month-day; every other form is
// day-month-year.
func ParseDOB(s string) (DateOfBirth, error) {
	var parts []string
	yearFirst := false

	switch {
	case strings.Contains(s, "-"):
		parts = strings.Split(s, "-")
		yearFirst = len(parts[0]) == 4
	case strings.Contains(s, "/"):
		parts = strings.Split(s, "/")
	default:
		return DateOfBirth{}, fmt.Errorf("%w: %q", ErrDateUnparsable, s)
	}
	if len(parts) != 3 {
		return DateOfBirth{}, fmt.Errorf("%w: %q", ErrDateUnparsable, s)
	}

	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return DateOfBirth{}, fmt.Errorf("%w: %q", ErrDateUnparsable, s)
		}
		nums[i] = n
	}

	dob := DateOfBirth{Year: nums[2], Month: nums[1], Day: nums[0]}
	if yearFirst {
		dob = DateOfBirth{Year: nums[0], Month: nums[1], Day: nums[2]}
	}
	if !dob.valid() {
		return DateOfBirth{}, fmt.Errorf("%w: %q", ErrDateUnparsable, s)
	}
	return dob, nil
}

// valid rejects out-of-range month/day combinations by round-tripping
// through time.Date, which normalizes overflow (e.g. Feb 30 -> Mar 2).
func (d DateOfBirth) valid() bool {
	if d.Year < 1 || d.Month < 1 || d.Month > 12 || d.Day < 1 {
		return false
	}
	t := time.Date(d.Year, time.Month(d.Month), d.Day, 0, 0, 0, 0, time.UTC)
	return t.Year() == d.Year && int(t.Month()) == d.Month && t.Day() == d.Day
}

// Age computes completed years of age at the given date. One year is
// subtracted when the (month, day) pair of today is lexicographically before
// the birthday pair, i.e. the birthday has not yet occurred this year. This
// is exact to the day across leap years with no special casing.
func Age(dob DateOfBirth, today time.Time) int {
	age := today.Year() - dob.Year
	m, d := int(today.Month()), today.Day()
	if m < dob.Month || (m == dob.Month && d < dob.Day) {
		age--
	}
	return age
}

// IsUnder18 reduces the age to the single boolean exposed to callers.
func IsUnder18(dob DateOfBirth, today time.Time) bool {
	return Age(dob, today) < 18
}
