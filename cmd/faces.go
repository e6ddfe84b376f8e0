package cmd

import (
	"github.com/spf13/cobra"

	"github.com/andresmejia3/watchtower/internal/config"
)

var facesCmd = &cobra.Command{
	Use:   "faces",
	Short: "Detect and box faces only",
	Long: `Runs face detection alone. Writes a video with face boxes drawn and one
metadata line per analyzed frame with its boxes. No summary is written.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(cmd, config.ModeFaces)
	},
}

func init() {
	addPipelineFlags(facesCmd.Flags(), config.ModeFaces)
	rootCmd.AddCommand(facesCmd)
}
