// Package util contains small generic helpers shared by the PID,
// channel, and persist packages.
package util

import (
	"fmt"
	"strings"
)

// Clamp limits min <= input <= max.
func Clamp(input, min, max float64) float64 {
	if input < min {
		return min
	}
	if input > max {
		return max
	}
	return input
}

// MergeErrors converts many errors to a single one, newline separated.
// A slice with no non-nil errors returns nil.
func MergeErrors(errs []error) error {
	var strs []string
	for _, err := range errs {
		if err != nil {
			strs = append(strs, err.Error())
		}
	}
	if len(strs) == 0 {
		return nil
	}
	return fmt.Errorf(strings.Join(strs, "\n"))
}
