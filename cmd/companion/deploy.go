package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"project-companion/internal/domain"
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Publish the selected project and print its preview URL",
	Args:  cobra.NoArgs,
	RunE:  withApp(runDeploy),
}

func init() {
	rootCmd.AddCommand(deployCmd)
}

func runDeploy(cmd *cobra.Command, a *app, _ []string) error {
	id, err := a.projectID()
	if err != nil {
		return err
	}
	if err := requireRole(cmd, a, id, domain.PermDeploy); err != nil {
		return err
	}
	resp, err := a.api.Deploy(cmd.Context(), id)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deployed: %s\n", resp.PreviewURL)
	return nil
}
