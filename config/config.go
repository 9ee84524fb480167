// Package config loads the settings of the microapp command: a TOML
// manifest describing the host document and its apps, and process
// settings from the environment.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/joeycumines/go-microapp/activation"
	"github.com/joeycumines/go-microapp/fetch"
	"github.com/joeycumines/go-microapp/host"
	"github.com/joeycumines/go-microapp/loader"
	"github.com/joeycumines/go-microapp/sandbox"
	"github.com/joeycumines/logiface"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// EnvPrefix prefixes every environment variable read by [LoadEnv].
const EnvPrefix = `MICROAPP`

// ErrInvalidManifest is returned for a manifest that fails validation.
var ErrInvalidManifest = errors.New(`config: invalid manifest`)

type (
	// Env holds the settings read from the environment.
	Env struct {
		Manifest     string        `envconfig:"MANIFEST" default:"microapp.toml"`
		LogLevel     string        `envconfig:"LOG_LEVEL" default:"info"`
		Development  bool          `envconfig:"DEVELOPMENT" default:"false"`
		FetchTimeout time.Duration `envconfig:"FETCH_TIMEOUT" default:"10s"`
		FetchRetries int           `envconfig:"FETCH_RETRIES" default:"3"`
	}

	// Manifest describes a host document, the apps it runs, and the
	// locations to visit.
	Manifest struct {
		// Assets are served in place of fetching, keyed by URL. Every URL
		// is fetched over HTTP when empty.
		Assets map[string]string `toml:"assets"`

		// Singular mounts at most one app at a time. Defaults to true.
		Singular *bool `toml:"singular"`

		// Document is the initial markup of the host document.
		Document string `toml:"document"`

		Location string `toml:"location"`

		// Steps are the locations switched to, in order.
		Steps []string `toml:"steps"`

		Apps []App `toml:"app"`

		Framed bool `toml:"framed"`
	}

	// App is one app entry of a [Manifest].
	App struct {
		Props map[string]any `toml:"props"`

		Name  string `toml:"name"`
		Entry string `toml:"entry"`

		// Container is a selector for the element the app mounts into.
		Container string `toml:"container"`

		ActiveRule []string `toml:"active_rule"`

		// EscapeList names globals the app writes through to the host.
		EscapeList []string `toml:"escape_list"`

		// ExcludeAssets are glob patterns of asset URLs inserted without
		// interception.
		ExcludeAssets []string `toml:"exclude_assets"`
	}
)

var levels = map[string]logiface.Level{
	`disabled`: logiface.LevelDisabled,
	`emerg`:    logiface.LevelEmergency,
	`alert`:    logiface.LevelAlert,
	`crit`:     logiface.LevelCritical,
	`err`:      logiface.LevelError,
	`error`:    logiface.LevelError,
	`warning`:  logiface.LevelWarning,
	`warn`:     logiface.LevelWarning,
	`notice`:   logiface.LevelNotice,
	`info`:     logiface.LevelInformational,
	`debug`:    logiface.LevelDebug,
	`trace`:    logiface.LevelTrace,
}

// LoadEnv reads [Env] from the environment, applying defaults.
func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return nil, fmt.Errorf("config: failed to load env: %w", err)
	}
	return &env, nil
}

// DefaultEnv returns the settings used when the environment sets nothing.
func DefaultEnv() *Env {
	return &Env{
		Manifest:     `microapp.toml`,
		LogLevel:     `info`,
		FetchTimeout: 10 * time.Second,
		FetchRetries: 3,
	}
}

// Level parses LogLevel, accepting the logiface level names, and the
// aliases error and warn.
func (x *Env) Level() (logiface.Level, error) {
	if level, ok := levels[strings.ToLower(strings.TrimSpace(x.LogLevel))]; ok {
		return level, nil
	}
	return 0, fmt.Errorf("config: unknown log level %q", x.LogLevel)
}

// LoadManifest reads and parses the manifest at path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest parses and validates a TOML manifest.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("config: failed to parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks that every app is complete and uniquely named, with valid
// rules and patterns.
func (x *Manifest) Validate() error {
	seen := make(map[string]struct{}, len(x.Apps))
	for i, app := range x.Apps {
		if app.Name == `` {
			return fmt.Errorf("%w: app %d has no name", ErrInvalidManifest, i)
		}
		if _, ok := seen[app.Name]; ok {
			return fmt.Errorf("%w: duplicate app %q", ErrInvalidManifest, app.Name)
		}
		seen[app.Name] = struct{}{}
		if app.Entry == `` || app.Container == `` {
			return fmt.Errorf("%w: app %q needs an entry and a container", ErrInvalidManifest, app.Name)
		}
		if err := (activation.Rules{app.Name: app.ActiveRule}).Validate(); err != nil {
			return fmt.Errorf("%w: app %q: %w", ErrInvalidManifest, app.Name, err)
		}
		for _, pattern := range app.ExcludeAssets {
			if !doublestar.ValidatePattern(pattern) {
				return fmt.Errorf("%w: app %q: bad exclude pattern %q", ErrInvalidManifest, app.Name, pattern)
			}
		}
	}
	return nil
}

// IsSingular reports whether apps are mounted one at a time.
func (x *Manifest) IsSingular() bool { return x.Singular == nil || *x.Singular }

// Encode renders the manifest as TOML.
func (x *Manifest) Encode() ([]byte, error) {
	data, err := toml.Marshal(x)
	if err != nil {
		return nil, fmt.Errorf("config: failed to encode manifest: %w", err)
	}
	return data, nil
}

// HostOptions returns the host options for the document, location and
// framing of the manifest.
func (x *Manifest) HostOptions() []host.Option {
	var opts []host.Option
	if x.Document != `` {
		opts = append(opts, host.WithDocumentHTML(x.Document))
	}
	if x.Location != `` {
		opts = append(opts, host.WithLocation(x.Location))
	}
	return append(opts, host.WithFramed(x.Framed))
}

// Fetcher serves the manifest assets, delegating other URLs to fallback.
// It returns fallback unchanged if there are no assets.
func (x *Manifest) Fetcher(fallback fetch.Fetcher) fetch.Fetcher {
	if len(x.Assets) == 0 {
		return fallback
	}
	assets := fetch.Static(x.Assets)
	return fetch.Func(func(ctx context.Context, url string) (string, error) {
		if _, ok := assets[url]; ok || fallback == nil {
			return assets.Fetch(ctx, url)
		}
		return fallback.Fetch(ctx, url)
	})
}

// HTTPOptions configures an HTTP fetcher from the env.
func (x *Env) HTTPOptions(logger *logiface.Logger[logiface.Event]) []fetch.HTTPOption {
	return []fetch.HTTPOption{
		fetch.WithTimeout(x.FetchTimeout),
		fetch.WithRetryMax(x.FetchRetries),
		fetch.WithHTTPLogger(logger),
	}
}

// ExcludeFilter returns a filter matching asset URLs against the app's
// exclude patterns, or nil if it has none.
func (x *App) ExcludeFilter() func(url string) bool {
	if len(x.ExcludeAssets) == 0 {
		return nil
	}
	patterns := x.ExcludeAssets
	return func(url string) bool {
		for _, pattern := range patterns {
			if ok, _ := doublestar.Match(pattern, url); ok {
				return true
			}
		}
		return false
	}
}

// Registrable converts the app for registration with a framework on h,
// resolving its container by selector.
func (x *App) Registrable(h *host.Host, development bool) loader.RegistrableApp {
	sopts := []sandbox.Option{sandbox.WithDevelopment(development)}
	if x.EscapeList != nil {
		sopts = append(sopts, sandbox.WithEscapeList(x.EscapeList...))
	}
	if filter := x.ExcludeFilter(); filter != nil {
		sopts = append(sopts, sandbox.WithExcludeAssetFilter(filter))
	}
	return loader.RegistrableApp{
		AppConfig: loader.AppConfig{
			Container: loader.Selector(h, x.Container),
			Props:     x.Props,
			Name:      x.Name,
			Entry:     x.Entry,
		},
		ActiveRule: x.ActiveRule,
		Options:    []loader.Option{loader.WithSandboxOptions(sopts...)},
	}
}
