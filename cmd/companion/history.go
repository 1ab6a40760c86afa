package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"project-companion/internal/adapter/history"
	"project-companion/internal/adapter/render"
	"project-companion/internal/domain"
	"project-companion/internal/usecase/turn"
)

var (
	historyLocal bool
	historyLimit int
	historyClear bool
	historyKeep  int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Replay the selected project's conversation",
	Long: `Replay the selected project's conversation.

By default history comes from the backend. --local reads the turns cached
on this machine instead; --clear and --keep manage that cache.`,
	Args: cobra.NoArgs,
	RunE: withApp(runHistory),
}

func init() {
	historyCmd.Flags().BoolVar(&historyLocal, "local", false, "read the local turn cache")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 0, "number of cached turns to show (default history.limit)")
	historyCmd.Flags().BoolVar(&historyClear, "clear", false, "delete the project's cached turns")
	historyCmd.Flags().IntVar(&historyKeep, "keep", -1, "prune the cache to the newest N turns")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, a *app, _ []string) error {
	id, err := a.projectID()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if historyLocal || historyClear || historyKeep >= 0 {
		store, err := history.Open(a.cfg.History.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		switch {
		case historyClear:
			n, err := store.DeleteProject(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Removed %d cached turn(s).\n", n)
			return nil
		case historyKeep >= 0:
			n, err := store.Prune(cmd.Context(), id, historyKeep)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Pruned %d cached turn(s).\n", n)
			return nil
		}

		limit := historyLimit
		if limit <= 0 {
			limit = a.cfg.History.Limit
		}
		recs, err := store.ListTurns(cmd.Context(), id, limit)
		if err != nil {
			return err
		}
		return printHistory(out, turn.ReplayRecords(recs))
	}

	msgs, err := a.api.GetChatHistory(cmd.Context(), id)
	if err != nil {
		return err
	}
	return printHistory(out, turn.Replay(msgs))
}

func printHistory(w io.Writer, entries []turn.Entry) error {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No conversation yet.")
		return nil
	}
	r, err := render.New(render.Options{MarkdownStyle: "notty"})
	if err != nil {
		return err
	}
	for i, e := range entries {
		if i > 0 {
			fmt.Fprintln(w)
		}
		if e.Role == domain.ChatRoleUser {
			fmt.Fprintln(w, "> "+strings.ReplaceAll(e.Text, "\n", "\n> "))
			continue
		}
		printTurn(w, r, turn.Snapshot{Events: e.Events, EditedFiles: e.EditedFiles, Notice: e.Notice})
	}
	return nil
}
