package cmd

import (
	"github.com/spf13/cobra"

	"github.com/mediascribe/mediascribe/internal/provider"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <run-dir>",
	Short: "Continue an interrupted or partially failed run",
	Long: `Resume a prior run from its checkpoint log.

Finished items are never re-dispatched. Items that failed with a
transient error (network, timeout, rate limit, empty response) are
retried within their remaining retry budget; attempt counts carry over,
so resuming never grants extra attempts. Items that failed permanently
stay failed.

All run settings come from the manifest written when the run started;
only provider credentials are resolved fresh.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

var (
	resumeAPIKey  string
	resumeKeyFile string
)

func init() {
	rootCmd.AddCommand(resumeCmd)

	resumeCmd.Flags().StringVar(&resumeAPIKey, "api-key", "", "inline API key for cloud providers (prefer --key-file or the environment)")
	resumeCmd.Flags().StringVar(&resumeKeyFile, "key-file", "", "path to an API key file for cloud providers")
}

func runResume(_ *cobra.Command, args []string) error {
	deps, err := initApp()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	result, err := deps.Orchestrator.Resume(ctx, args[0],
		provider.CredentialRef{Key: resumeAPIKey, KeyFile: resumeKeyFile})
	return finishRun(result, err)
}
