package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/lipgloss/tree"
	"github.com/spf13/cobra"

	"project-companion/internal/domain"
)

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "Browse the selected project's files",
}

var filesTreeCmd = &cobra.Command{
	Use:   "tree",
	Short: "Print the project file tree",
	Args:  cobra.NoArgs,
	RunE:  withApp(runFilesTree),
}

var filesCatCmd = &cobra.Command{
	Use:   "cat <path>",
	Short: "Print one file",
	Args:  cobra.ExactArgs(1),
	RunE:  withApp(runFilesCat),
}

var filesDownloadCmd = &cobra.Command{
	Use:   "download [out.zip]",
	Short: "Download the project as a zip archive",
	Args:  cobra.MaximumNArgs(1),
	RunE:  withApp(runFilesDownload),
}

func init() {
	filesCmd.AddCommand(filesTreeCmd, filesCatCmd, filesDownloadCmd)
	rootCmd.AddCommand(filesCmd)
}

func runFilesTree(cmd *cobra.Command, a *app, _ []string) error {
	id, err := a.projectID()
	if err != nil {
		return err
	}
	nodes, err := a.api.ListFiles(cmd.Context(), id)
	if err != nil {
		return err
	}
	if len(nodes) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "The project has no files.")
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), fileTree(".", nodes).String())
	return nil
}

func fileTree(root string, nodes []*domain.FileNode) *tree.Tree {
	t := tree.Root(root).Enumerator(tree.RoundedEnumerator)
	for _, n := range nodes {
		if n.Type == domain.FileNodeDirectory {
			t.Child(fileTree(n.Name+"/", n.Children))
			continue
		}
		t.Child(n.Name)
	}
	return t
}

func runFilesCat(cmd *cobra.Command, a *app, args []string) error {
	id, err := a.projectID()
	if err != nil {
		return err
	}
	content, err := a.api.GetFileContent(cmd.Context(), id, args[0])
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), content)
	return err
}

func runFilesDownload(cmd *cobra.Command, a *app, args []string) error {
	id, err := a.projectID()
	if err != nil {
		return err
	}
	out := "project-" + id + ".zip"
	if len(args) == 1 {
		out = args[0]
	}

	f, err := os.CreateTemp(filepath.Dir(out), ".companion-*.zip")
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	n, err := a.api.DownloadZip(cmd.Context(), id, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(f.Name())
		return err
	}
	if err := os.Rename(f.Name(), out); err != nil {
		os.Remove(f.Name())
		return fmt.Errorf("save archive: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%d bytes).\n", out, n)
	return nil
}
