package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/joeycumines/go-microapp/config"
	"github.com/joeycumines/go-microapp/fetch"
	"github.com/joeycumines/go-microapp/host"
	"github.com/joeycumines/go-microapp/loader"
	"github.com/joeycumines/go-microapp/patcher"
	"github.com/joeycumines/go-microapp/sandbox"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

type runOptions struct {
	each     bool
	prefetch bool
	metrics  bool
}

func newRunCmd(c *cli) *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run [location...]",
		Short: "Switch through locations, then print the document",
		Long: `run registers every app of the manifest, then switches to each location
in turn, defaulting to the manifest steps. Entries found in the manifest
assets are not fetched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := c.loadManifest()
			if err != nil {
				return err
			}
			steps := args
			if len(steps) == 0 {
				steps = m.Steps
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), c.timeout)
			defer cancel()
			return c.run(ctx, cmd.OutOrStdout(), m, steps, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.each, "each", false, "print the document after every step")
	cmd.Flags().BoolVar(&opts.prefetch, "prefetch", true, "fetch every entry before the first step")
	cmd.Flags().BoolVar(&opts.metrics, "metrics", false, "print sandbox metrics after the last step")
	return cmd
}

func (c *cli) run(ctx context.Context, w io.Writer, m *config.Manifest, steps []string, opts runOptions) (err error) {
	fetcher := m.Fetcher(fetch.NewHTTP(c.env.HTTPOptions(c.logger)...))

	h, err := host.New(append(m.HostOptions(),
		host.WithLogger(c.logger),
		host.WithFetcher(fetcher),
	)...)
	if err != nil {
		return err
	}

	loopCtx, stopLoop := context.WithCancel(context.Background())
	loopDone := make(chan error, 1)
	go func() { loopDone <- h.Run(loopCtx) }()
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		err = errors.Join(err, h.Shutdown(sctx))
		stopLoop()
		if lerr := <-loopDone; lerr != nil && !errors.Is(lerr, context.Canceled) {
			c.logger.Debug().Err(lerr).Log(`microapp: loop stopped`)
		}
		patcher.Release(h)
	}()

	registry := prometheus.NewRegistry()
	counters, err := patcher.NewCounters(patcher.WithRegisterer(registry))
	if err != nil {
		return err
	}
	dispatcher := patcher.NewDispatcher(h, counters)

	f, err := loader.NewFramework(h,
		loader.WithSingular(m.IsSingular()),
		loader.WithFrameworkLogger(c.logger),
		loader.WithLoadOptions(loader.WithSandboxOptions(
			sandbox.WithDispatcher(dispatcher),
			sandbox.WithMetrics(registry),
		)),
	)
	if err != nil {
		return err
	}
	defer func() {
		cctx, ccancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer ccancel()
		err = errors.Join(err, f.Close(cctx))
	}()

	apps := make([]loader.RegistrableApp, 0, len(m.Apps))
	for i := range m.Apps {
		apps = append(apps, m.Apps[i].Registrable(h, c.env.Development))
	}
	if err := f.Register(apps...); err != nil {
		return err
	}

	if opts.prefetch {
		if err := f.Prefetch(ctx); err != nil {
			return err
		}
	}

	for _, location := range steps {
		if err := f.Switch(ctx, location); err != nil {
			return fmt.Errorf("switching to %s: %w", location, err)
		}
		c.logger.Info().
			Str(`location`, location).
			Str(`mounted`, strings.Join(f.Mounted(), `,`)).
			Log(`microapp: switched`)
		if opts.each {
			if err := printDocument(ctx, w, h, location); err != nil {
				return err
			}
		}
	}

	if !opts.each {
		if err := printDocument(ctx, w, h, h.Location()); err != nil {
			return err
		}
	}

	if opts.metrics {
		return printMetrics(w, registry)
	}
	return nil
}

func printDocument(ctx context.Context, w io.Writer, h *host.Host, location string) error {
	var markup string
	if err := h.Do(ctx, func() error {
		markup = h.Document().Render()
		return nil
	}); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "<!-- %s -->\n%s\n", location, markup)
	return err
}

func printMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	var lines []string
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			labels := make([]string, 0, len(metric.GetLabel()))
			for _, l := range metric.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", l.GetName(), l.GetValue()))
			}
			value := metric.GetCounter().GetValue() + metric.GetGauge().GetValue()
			lines = append(lines, fmt.Sprintf("%s{%s} %g", mf.GetName(), strings.Join(labels, `,`), value))
		}
	}
	sort.Strings(lines)
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
