// Package activation decides which micro apps are active for a location.
package activation

import (
	"net/url"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

type (
	// Evaluator reports whether an app is active at a location, which is
	// either an absolute URL or a path.
	Evaluator interface {
		IsActive(app, location string) bool
	}

	// Func adapts a function to [Evaluator].
	Func func(app, location string) bool

	// Rules maps app names to patterns. A pattern containing glob meta
	// characters is matched against the whole path with doublestar
	// semantics, otherwise it matches that path and everything beneath it.
	Rules map[string][]string
)

var (
	_ Evaluator = Func(nil)
	_ Evaluator = Rules(nil)
)

func (f Func) IsActive(app, location string) bool { return f(app, location) }

func (r Rules) IsActive(app, location string) bool {
	path := Path(location)
	for _, pattern := range r[app] {
		if Match(pattern, path) {
			return true
		}
	}
	return false
}

// Active returns the apps active at location, in no particular order.
func (r Rules) Active(location string) []string {
	var apps []string
	for app := range r {
		if r.IsActive(app, location) {
			apps = append(apps, app)
		}
	}
	return apps
}

// Validate returns an error for the first malformed glob pattern.
func (r Rules) Validate() error {
	for _, patterns := range r {
		for _, pattern := range patterns {
			if isGlob(pattern) && !doublestar.ValidatePattern(pattern) {
				return doublestar.ErrBadPattern
			}
		}
	}
	return nil
}

// Match reports whether path satisfies pattern, see [Rules].
func Match(pattern, path string) bool {
	if isGlob(pattern) {
		ok, err := doublestar.Match(pattern, path)
		return err == nil && ok
	}
	prefix := strings.TrimSuffix(pattern, `/`)
	if prefix == `` {
		return true
	}
	return path == prefix || strings.HasPrefix(path, prefix+`/`)
}

// Path extracts the path of location, defaulting to "/".
func Path(location string) string {
	if u, err := url.Parse(location); err == nil {
		if u.Path == `` {
			return `/`
		}
		return u.Path
	}
	return location
}

func isGlob(pattern string) bool {
	return strings.ContainsAny(pattern, `*?[{`)
}
