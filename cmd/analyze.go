package cmd

import (
	"github.com/spf13/cobra"

	"github.com/andresmejia3/watchtower/internal/config"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Detect faces, emotions, activity and motion anomalies in a video",
	Long: `Runs the full analysis pipeline over a video. Writes an annotated copy of
the video and a line-delimited JSON metadata file ending in a session summary.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPipeline(cmd, config.ModeAnalyze)
	},
}

func init() {
	addPipelineFlags(analyzeCmd.Flags(), config.ModeAnalyze)
	rootCmd.AddCommand(analyzeCmd)
}
