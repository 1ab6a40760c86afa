// Command companion is a terminal client for the project builder: it logs in,
// manages projects and members, and chats with the assistant while applying
// its file edits to a local workspace.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"project-companion/internal/adapter/tui/uxerror"
)

var (
	configPath string
	projectRef string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "companion",
	Short: "Chat with the project assistant from the terminal",
	Long: `companion talks to the project builder backend.

It streams the assistant's replies, applies the files it writes to a local
workspace, and relays errors from the live preview back into the chat.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.companion/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&projectRef, "project", "p", "", "project ID (default api.default_project)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logger.level (debug, info, warn, error)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, uxerror.Humanize(err).Render())
		os.Exit(1)
	}
}
