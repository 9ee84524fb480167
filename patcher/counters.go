package patcher

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type (
	// Counters tracks the number of currently applied patches, per app and
	// phase. The zero value is not usable, use [NewCounters].
	Counters struct {
		gauge *prometheus.GaugeVec
		apps  map[string]*[2]int
		mu    sync.Mutex
	}

	// CountersOption configures [NewCounters].
	CountersOption interface {
		applyCounters(*countersOptions) error
	}

	countersOptions struct {
		registerer prometheus.Registerer
	}

	countersOptionImpl struct {
		applyCountersFunc func(*countersOptions) error
	}
)

func (o *countersOptionImpl) applyCounters(opts *countersOptions) error {
	return o.applyCountersFunc(opts)
}

// WithRegisterer exports the counts as the gauge
// microapp_applied_patches{app,phase}, registered with r.
func WithRegisterer(r prometheus.Registerer) CountersOption {
	return &countersOptionImpl{func(opts *countersOptions) error {
		opts.registerer = r
		return nil
	}}
}

// NewCounters returns empty counters.
func NewCounters(opts ...CountersOption) (*Counters, error) {
	var cfg countersOptions
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyCounters(&cfg); err != nil {
			return nil, err
		}
	}

	c := &Counters{apps: make(map[string]*[2]int)}

	if cfg.registerer != nil {
		c.gauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: `microapp`,
			Name:      `applied_patches`,
			Help:      `Number of currently applied patches, per app and phase.`,
		}, []string{`app`, `phase`})
		if err := cfg.registerer.Register(c.gauge); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Increase records a patch applied by app.
func (c *Counters) Increase(app string, phase Phase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	counts := c.apps[app]
	if counts == nil {
		counts = new([2]int)
		c.apps[app] = counts
	}
	counts[phase]++
	c.export(app, phase, counts[phase])
}

// Decrease records a patch released by app. Counts never go below zero,
// since the bootstrapping patch is applied once, but freed on every
// unmount.
func (c *Counters) Decrease(app string, phase Phase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	counts := c.apps[app]
	if counts == nil {
		counts = new([2]int)
		c.apps[app] = counts
	}
	if counts[phase] > 0 {
		counts[phase]--
	}
	c.export(app, phase, counts[phase])
}

// Count returns the current count for app and phase.
func (c *Counters) Count(app string, phase Phase) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if counts := c.apps[app]; counts != nil {
		return counts[phase]
	}
	return 0
}

// Applied reports whether app has any patch applied, in either phase.
func (c *Counters) Applied(app string) bool {
	return c.Count(app, Bootstrapping) > 0 || c.Count(app, Mounting) > 0
}

// AllReleased reports whether every count of every app is zero.
func (c *Counters) AllReleased() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, counts := range c.apps {
		if counts[Bootstrapping] != 0 || counts[Mounting] != 0 {
			return false
		}
	}
	return true
}

func (c *Counters) export(app string, phase Phase, n int) {
	if c.gauge != nil {
		c.gauge.WithLabelValues(app, phase.String()).Set(float64(n))
	}
}
