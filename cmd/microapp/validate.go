package main

import (
	"github.com/spf13/cobra"
)

func newValidateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the manifest, and print it normalized",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := c.loadManifest()
			if err != nil {
				return err
			}
			data, err := m.Encode()
			if err != nil {
				return err
			}
			if _, err := cmd.OutOrStdout().Write(data); err != nil {
				return err
			}
			c.logger.Info().Int(`apps`, len(m.Apps)).Int(`steps`, len(m.Steps)).Log(`microapp: manifest is valid`)
			return nil
		},
	}
}
