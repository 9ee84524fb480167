// Command microapp runs the micro apps of a manifest in a shared host,
// switching through a sequence of locations, and prints the resulting
// document.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joeycumines/go-microapp/config"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/spf13/cobra"
)

type cli struct {
	env      *config.Env
	logger   *logiface.Logger[logiface.Event]
	manifest string
	logLevel string
	timeout  time.Duration
	dev      bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	defaults := config.DefaultEnv()

	rootCmd := &cobra.Command{
		Use:   "microapp",
		Short: "Run micro apps in isolated sandboxes on a shared document",
		Long: `microapp loads the apps described by a TOML manifest into one host,
each behind its own virtual global, then navigates through a sequence of
locations, mounting and unmounting apps by their activation rules.

Settings are read from MICROAPP_* environment variables, and may be
overridden by flags.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&c.manifest, "manifest", "m", defaults.Manifest, "path of the TOML manifest (MICROAPP_MANIFEST)")
	flags.StringVar(&c.logLevel, "log-level", defaults.LogLevel, "log level (MICROAPP_LOG_LEVEL)")
	flags.BoolVar(&c.dev, "dev", defaults.Development, "warn on writes to unmounted sandboxes (MICROAPP_DEVELOPMENT)")
	flags.DurationVar(&c.timeout, "timeout", time.Minute, "overall time limit")

	rootCmd.AddCommand(newRunCmd(c), newValidateCmd(c))

	return rootCmd
}

// setup resolves the env, letting explicitly set flags win, and builds the
// logger.
func (c *cli) setup(cmd *cobra.Command) error {
	env, err := config.LoadEnv()
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("manifest") {
		env.Manifest = c.manifest
	}
	if flags.Changed("log-level") {
		env.LogLevel = c.logLevel
	}
	if flags.Changed("dev") {
		env.Development = c.dev
	}
	level, err := env.Level()
	if err != nil {
		return err
	}
	c.env = env
	c.logger = newLogger(cmd.ErrOrStderr(), level)
	return nil
}

func newLogger(w io.Writer, level logiface.Level) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w)),
		stumpy.L.WithLevel(level),
	).Logger()
}

func (c *cli) loadManifest() (*config.Manifest, error) {
	m, err := config.LoadManifest(c.env.Manifest)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.env.Manifest, err)
	}
	return m, nil
}
