// Package regions maps deployment regions to the client-facing LiveKit URL.
package regions

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vovakirdan/meet-server/internal/callengine"
)

// ErrNoURL is returned when no URL is configured for the requested region.
var ErrNoURL = errors.New("no server url configured")

// Resolver is a static, config-backed callengine.URLResolver.
type Resolver struct {
	defaultURL string
	byRegion   map[string]string
}

// New builds a resolver. Region keys are matched case-insensitively.
func New(defaultURL string, regionURLs map[string]string) *Resolver {
	byRegion := make(map[string]string, len(regionURLs))
	for region, u := range regionURLs {
		byRegion[strings.ToLower(strings.TrimSpace(region))] = u
	}
	return &Resolver{
		defaultURL: defaultURL,
		byRegion:   byRegion,
	}
}

// Resolve returns the URL for region, or the default URL when region is empty.
func (r *Resolver) Resolve(region string) (string, error) {
	region = strings.ToLower(strings.TrimSpace(region))
	if region == "" {
		if r.defaultURL == "" {
			return "", ErrNoURL
		}
		return r.defaultURL, nil
	}

	u, ok := r.byRegion[region]
	if !ok || u == "" {
		return "", fmt.Errorf("%w for region %q", ErrNoURL, region)
	}
	return u, nil
}

var _ callengine.URLResolver = (*Resolver)(nil)
