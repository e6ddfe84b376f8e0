package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/watchtower/internal/config"
)

var configMode string

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		var mode config.Mode
		switch configMode {
		case "analyze":
			mode = config.ModeAnalyze
		case "faces":
			mode = config.ModeFaces
		default:
			return fatal("Invalid mode", fmt.Errorf("must be analyze or faces, got %q", configMode), nil)
		}

		cfg, err := loadConfig(cmd, mode)
		if err != nil {
			return err
		}
		return cfg.WriteYAML(os.Stdout)
	},
}

func init() {
	configCmd.Flags().StringVar(&configMode, "mode", "analyze", "Which command's defaults to show (analyze or faces)")
	addPipelineFlags(configCmd.Flags(), config.ModeAnalyze)
	rootCmd.AddCommand(configCmd)
}
