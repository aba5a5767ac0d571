// Package util contains misc internal utilities.
package util

import (
	"strconv"
	"strings"
	"time"
)

// IntSliceToCSV converts a slice of ints to CSV formatted data,
// e.g. the active channels []int{1,3} => "1,3"
func IntSliceToCSV(is []int) string {
	s := make([]string, len(is))
	for i, v := range is {
		s[i] = strconv.Itoa(v)
	}
	return strings.Join(s, ",")
}

// SecsToDuration converts a number of seconds, as sent by HTTP clients,
// to a time.Duration.  Negative and NaN inputs give zero.
func SecsToDuration(secs float64) time.Duration {
	if !(secs > 0) {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}
