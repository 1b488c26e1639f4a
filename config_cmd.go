package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/onedrive-uploader/internal/config"
)

var flagInitClientID string

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigInitCmd())

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display effective configuration after all overrides",
		RunE:  runConfigShow,
	}
}

func newConfigInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a commented config file",
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE:        runConfigInit,
	}

	cmd.Flags().StringVar(&flagInitClientID, "client-id", "", "Azure application (client) ID")

	return cmd
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	return config.RenderEffective(cc.Cfg, cc.CfgPath, cc.Stdout)
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	if flagInitClientID == "" {
		return errors.New("--client-id is required")
	}

	path := cc.Flags.ConfigPath
	if path == "" {
		path = config.ReadEnvOverrides().ConfigPath
	}

	if path == "" {
		path = config.DefaultConfigPath()
	}

	if err := config.CreateDefaultConfig(path, flagInitClientID); err != nil {
		return err
	}

	cc.Statusf("Wrote %s\n", path)

	return nil
}
