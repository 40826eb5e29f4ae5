package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List available provider backends",
	RunE:  runProviders,
}

func init() {
	rootCmd.AddCommand(providersCmd)
}

func runProviders(_ *cobra.Command, _ []string) error {
	deps, err := initApp()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tPAYLOAD CEILING\tCONCURRENCY\tCREDENTIAL")
	for _, name := range deps.Registry.List() {
		profile, err := deps.Registry.Profile(name)
		if err != nil {
			continue
		}
		cred := "-"
		if profile.RequiresCredential {
			cred = "required"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d MB\t%d\t%s\n",
			profile.Name, profile.Kind,
			profile.Ceiling/(1024*1024), profile.Concurrency, cred)
	}
	return tw.Flush()
}
