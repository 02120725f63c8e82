package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/faidrapts/sharepoint-connector/internal/config"
)

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration and readiness",
		Long: `Display the configuration after all overrides (defaults, config file,
environment variables, CLI flags) and whether each command has the
settings it needs. Secrets are never printed.`,
		RunE: runConfigShow,
	}
}

func runConfigShow(_ *cobra.Command, _ []string) error {
	if resolvedCfg == nil {
		return fmt.Errorf("no configuration loaded")
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(resolvedCfg)
	}

	if err := config.RenderEffective(resolvedCfg, os.Stdout); err != nil {
		return err
	}

	fmt.Println()

	return config.RenderReadiness(resolvedCfg, os.Stdout)
}
