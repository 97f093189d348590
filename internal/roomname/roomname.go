// Package roomname checks and generates room names of the form xxxx-xxxx[-xxxx].
//
// The shape check only narrows the key space so names are hard to guess casually.
// It is not an access control mechanism.
package roomname

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

const (
	segmentLength = 4
	alphabet      = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// ErrInvalidSegments is returned for a segment count other than 2 or 3.
var ErrInvalidSegments = errors.New("room name segments must be 2 or 3")

// Validator matches room names made of a fixed number of four-character word groups.
type Validator struct {
	segments int
	pattern  *regexp.Regexp
}

// New returns a Validator for names with the given number of groups.
func New(segments int) (*Validator, error) {
	if segments != 2 && segments != 3 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSegments, segments)
	}

	expr := fmt.Sprintf(`^\w{%d}(?:-\w{%d}){%d}$`, segmentLength, segmentLength, segments-1)
	return &Validator{
		segments: segments,
		pattern:  regexp.MustCompile(expr),
	}, nil
}

// Segments reports the configured group count.
func (v *Validator) Segments() int {
	return v.segments
}

// Valid reports whether candidate has exactly the configured shape.
func (v *Validator) Valid(candidate string) bool {
	return v.pattern.MatchString(candidate)
}

// Format describes the expected shape, e.g. "xxxx-xxxx-xxxx".
func (v *Validator) Format() string {
	groups := make([]string, v.segments)
	for i := range groups {
		groups[i] = strings.Repeat("x", segmentLength)
	}
	return strings.Join(groups, "-")
}

// Generate returns a random name that passes Valid.
func (v *Validator) Generate() (string, error) {
	var b strings.Builder
	b.Grow(v.segments*(segmentLength+1) - 1)

	limit := big.NewInt(int64(len(alphabet)))
	for s := range v.segments {
		if s > 0 {
			b.WriteByte('-')
		}
		for range segmentLength {
			n, err := rand.Int(rand.Reader, limit)
			if err != nil {
				return "", fmt.Errorf("generate room name: %w", err)
			}
			b.WriteByte(alphabet[n.Int64()])
		}
	}
	return b.String(), nil
}
