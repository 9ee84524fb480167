package sandbox

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

func newTransitions(registerer prometheus.Registerer) (*prometheus.CounterVec, error) {
	c := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: `microapp`,
		Subsystem: `sandbox`,
		Name:      `transitions_total`,
		Help:      `Sandbox lifecycle transitions, by app and entered state.`,
	}, []string{`app`, `state`})
	if registerer == nil {
		return c, nil
	}
	if err := registerer.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return c, nil
}
