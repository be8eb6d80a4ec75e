// Package config prints or saves the effective configuration.
package config

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/audiostream/internal/app"
	"github.com/tphakala/audiostream/internal/conf"
)

// Command creates the config command.
func Command(rt *app.Runtime) *cobra.Command {
	var save string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long:  "Print the configuration after defaults, the config file, environment and flags are merged. With --save the result is written as YAML.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if save != "" {
				if err := conf.SaveYAMLConfig(save, rt.Settings); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "configuration saved to %s\n", save)
				return nil
			}
			data, err := yaml.Marshal(rt.Settings)
			if err != nil {
				return fmt.Errorf("error marshaling settings: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVar(&save, "save", "", "Write the configuration to this file instead of printing it")
	return cmd
}
