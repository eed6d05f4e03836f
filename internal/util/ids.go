package util

import (
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	runIDPrefix   = "run_"
	runIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	runIDLength   = 12
)

// NewRunID returns a fresh extraction run id such as "run_4f0c2k9x1abq".
func NewRunID() string {
	return runIDPrefix + gonanoid.MustGenerate(runIDAlphabet, runIDLength)
}

// IsRunID reports whether s has the shape produced by NewRunID.
func IsRunID(s string) bool {
	body, ok := strings.CutPrefix(s, runIDPrefix)
	if !ok || len(body) != runIDLength {
		return false
	}
	for _, r := range body {
		if !strings.ContainsRune(runIDAlphabet, r) {
			return false
		}
	}
	return true
}
