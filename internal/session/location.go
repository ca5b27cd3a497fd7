package session

import (
	"errors"
	"fmt"
	"net/url"
)

var errNoLocation = errors.New("result video location is empty")

// ResolveLocation turns the service's result video path into an absolute URL.
// Absolute locations are returned unchanged.
func ResolveLocation(origin *url.URL, location string) (string, error) {
	if location == "" {
		return "", errNoLocation
	}
	ref, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("result video location %q: %w", location, err)
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	if origin == nil {
		return "", fmt.Errorf("result video location %q is relative and no service origin is set", location)
	}
	return origin.ResolveReference(ref).String(), nil
}
