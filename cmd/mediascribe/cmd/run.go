package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mediascribe/mediascribe/internal/provider"
	"github.com/mediascribe/mediascribe/internal/workflow"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Describe a file or directory of media",
	Long: `Start a new run over the given input path.

The input may be a single image or video, or a directory scanned
recursively. Each run gets its own directory under the runs folder,
holding the configuration snapshot, the checkpoint log, all intermediate
artifacts, and the final report. Interrupt at any time with Ctrl-C; the
run directory printed at startup can be passed to 'mediascribe resume'.`,
	RunE: runRun,
}

var (
	runInput       string
	runProvider    string
	runModel       string
	runPromptStyle string
	runStages      []string
	runAPIKey      string
	runKeyFile     string
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runInput, "input", "i", "", "file or directory to describe (required)")
	runCmd.Flags().StringVar(&runProvider, "provider", "", "provider backend (ollama, openai, llamafile)")
	runCmd.Flags().StringVar(&runModel, "model", "", "model name (provider default if empty)")
	runCmd.Flags().StringVar(&runPromptStyle, "prompt-style", "", "prompt style (descriptive, brief, keywords)")
	runCmd.Flags().StringSliceVar(&runStages, "stages", nil, "stages to run, in order (default: all)")
	runCmd.Flags().StringVar(&runAPIKey, "api-key", "", "inline API key for cloud providers (prefer --key-file or the environment)")
	runCmd.Flags().StringVar(&runKeyFile, "key-file", "", "path to an API key file for cloud providers")
	_ = runCmd.MarkFlagRequired("input")
}

func runRun(_ *cobra.Command, _ []string) error {
	deps, err := initApp()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	result, err := deps.Orchestrator.Start(ctx, workflow.StartOptions{
		InputPath:   runInput,
		Provider:    runProvider,
		Model:       runModel,
		PromptStyle: runPromptStyle,
		Stages:      runStages,
		Credential:  provider.CredentialRef{Key: runAPIKey, KeyFile: runKeyFile},
	})
	return finishRun(result, err)
}

// finishRun prints the outcome of a run or resume invocation.
func finishRun(result *workflow.RunResult, err error) error {
	if err != nil {
		if errors.Is(err, context.Canceled) && result != nil {
			fmt.Printf("\nInterrupted. Resume with:\n  mediascribe resume %s\n", result.RunDir)
			return err
		}
		return err
	}

	if result.Report != nil {
		if werr := result.Report.WriteText(os.Stdout); werr != nil {
			return werr
		}
	}
	fmt.Printf("\nRun directory: %s\n", result.RunDir)
	return nil
}
