package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mediascribe/mediascribe/internal/media"
	"github.com/mediascribe/mediascribe/internal/provider"
	"github.com/mediascribe/mediascribe/internal/service"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check local dependencies and provider reachability",
	Long:  "Verify that ffmpeg, local resources, and the configured providers are ready for a run.",
	RunE:  runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(_ *cobra.Command, _ []string) error {
	deps, err := initApp()
	if err != nil {
		return err
	}

	fmt.Println("Checking dependencies...")
	fmt.Println()

	allOK := true

	extractor := media.NewFrameExtractor(deps.Config.Pipeline.FFmpegPath, deps.Config.Pipeline.FrameInterval, deps.Config.Pipeline.MaxFrames)
	if err := extractor.Check(); err != nil {
		fmt.Printf("  ○ ffmpeg (video inputs will not work: %v)\n", err)
	} else {
		fmt.Println("  ✓ ffmpeg")
	}

	res := service.RunPreflight(deps.Config.Runs.Dir)
	if res.OK {
		fmt.Println("  ✓ disk space")
	} else {
		allOK = false
		for _, e := range res.Errors {
			fmt.Printf("  ✗ %s\n", e)
		}
	}
	for _, w := range res.Warnings {
		fmt.Printf("  ⚠ %s\n", w)
	}

	fmt.Println()
	fmt.Println("Checking providers...")
	fmt.Println()

	for _, name := range deps.Registry.List() {
		status := checkProvider(deps, name)
		fmt.Printf("  %s\n", status)
	}

	fmt.Println()
	if !allOK {
		return fmt.Errorf("doctor found problems")
	}
	fmt.Println("All required checks passed.")
	return nil
}

// checkProvider builds and pings one provider, returning a display line.
// Unreachable providers are reported but never fail doctor: only the
// provider a run actually selects has to be up.
func checkProvider(deps *appDeps, name string) string {
	profile, err := deps.Registry.Profile(name)
	if err != nil {
		return fmt.Sprintf("○ %s (%v)", name, err)
	}

	var apiKey string
	if profile.RequiresCredential {
		envVar := ""
		if name == "openai" {
			envVar = deps.Config.Providers.OpenAI.APIKeyEnv
		}
		key, err := provider.ResolveCredential(name, provider.CredentialRef{EnvVar: envVar})
		if err != nil {
			return fmt.Sprintf("○ %s (no credential configured)", name)
		}
		apiKey = key
	}

	p, err := deps.Registry.Get(name, deps.Config, "", apiKey, deps.Logger)
	if err != nil {
		return fmt.Sprintf("○ %s (%v)", name, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Ping(ctx); err != nil {
		return fmt.Sprintf("○ %s (unreachable)", name)
	}
	return fmt.Sprintf("✓ %s", name)
}
