package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"project-companion/internal/domain"
)

var projectsForce bool

var projectsCmd = &cobra.Command{
	Use:     "projects",
	Aliases: []string{"project"},
	Short:   "List and manage projects",
}

var projectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects you can access",
	Args:  cobra.NoArgs,
	RunE:  withApp(runProjectsList),
}

var projectsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a project",
	Args:  cobra.MinimumNArgs(1),
	RunE:  withApp(runProjectsCreate),
}

var projectsRenameCmd = &cobra.Command{
	Use:   "rename <name>",
	Short: "Rename the selected project",
	Args:  cobra.MinimumNArgs(1),
	RunE:  withApp(runProjectsRename),
}

var projectsDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete the selected project",
	Args:  cobra.NoArgs,
	RunE:  withApp(runProjectsDelete),
}

func init() {
	projectsDeleteCmd.Flags().BoolVar(&projectsForce, "yes", false, "delete without asking")
	projectsCmd.AddCommand(projectsListCmd, projectsCreateCmd, projectsRenameCmd, projectsDeleteCmd)
	rootCmd.AddCommand(projectsCmd)
}

func runProjectsList(cmd *cobra.Command, a *app, _ []string) error {
	projects, err := a.api.ListProjects(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(projects) == 0 {
		fmt.Fprintln(out, "No projects yet. Create one with 'companion projects create <name>'.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tROLE\tCREATED")
	for _, p := range projects {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", p.ID, p.Name, roleLabel(p.Role), formatDate(p.CreatedAt))
	}
	return w.Flush()
}

func runProjectsCreate(cmd *cobra.Command, a *app, args []string) error {
	p, err := a.api.CreateProject(cmd.Context(), strings.Join(args, " "))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created project %q (id %d).\n", p.Name, p.ID)
	return nil
}

func runProjectsRename(cmd *cobra.Command, a *app, args []string) error {
	id, err := a.projectID()
	if err != nil {
		return err
	}
	if err := requireRole(cmd, a, id, domain.PermProjectEdit); err != nil {
		return err
	}
	p, err := a.api.RenameProject(cmd.Context(), id, strings.Join(args, " "))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Renamed project %d to %q.\n", p.ID, p.Name)
	return nil
}

func runProjectsDelete(cmd *cobra.Command, a *app, _ []string) error {
	id, err := a.projectID()
	if err != nil {
		return err
	}
	if err := requireRole(cmd, a, id, domain.PermProjectDelete); err != nil {
		return err
	}
	if !projectsForce {
		return fmt.Errorf("%w: deleting project %s cannot be undone; pass --yes to confirm", domain.ErrInvalidInput, id)
	}
	if err := a.api.DeleteProject(cmd.Context(), id); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted project %s.\n", id)
	return nil
}

// requireRole checks the caller's role on the project before a mutating
// call. A project reported without a role is left to the backend.
func requireRole(cmd *cobra.Command, a *app, projectID string, perm domain.Permission) error {
	p, err := a.api.GetProject(cmd.Context(), projectID)
	if err != nil {
		return err
	}
	if p.Role == "" {
		return nil
	}
	return domain.Authorize(p.Role, perm)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02")
}

func roleLabel(r domain.ProjectRole) string {
	if r == "" {
		return "-"
	}
	return strings.ToLower(string(r))
}
