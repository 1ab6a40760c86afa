package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"project-companion/internal/adapter/render"
	"project-companion/internal/domain"
	"project-companion/internal/usecase/turn"
)

var (
	sendShowCode bool
	sendWidth    int
)

var sendCmd = &cobra.Command{
	Use:   "send <message>|-",
	Short: "Send one message and print the assistant's reply",
	Long: `Send one message to the assistant and print the finished reply.

Files the assistant writes are applied to the workspace, so with
workspace.mirror_dir set they land on disk. Pass "-" to read the message
from stdin.`,
	Args: cobra.MinimumNArgs(1),
	RunE: withApp(runSend),
}

func init() {
	sendCmd.Flags().BoolVar(&sendShowCode, "code", false, "print file contents instead of one line per edited file")
	sendCmd.Flags().IntVar(&sendWidth, "width", render.DefaultWidth, "wrap width for the reply")
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, a *app, args []string) error {
	message, err := messageArg(cmd, args)
	if err != nil {
		return err
	}
	id, err := a.projectID()
	if err != nil {
		return err
	}
	if err := requireRole(cmd, a, id, domain.PermChatSend); err != nil {
		return err
	}

	s, err := openSession(cmd.Context(), a, id, sessionOptions{})
	if err != nil {
		return err
	}
	defer s.Close()

	t, err := s.conv.Send(cmd.Context(), message)
	if t == nil {
		return err
	}
	waitErr := t.Wait(cmd.Context())
	if waitErr != nil && cmd.Context().Err() != nil {
		s.conv.Cancel()
	}

	r, err := render.New(render.Options{
		Width:         sendWidth,
		MarkdownStyle: "notty",
		ShowCode:      sendShowCode,
	})
	if err != nil {
		return err
	}
	printTurn(cmd.OutOrStdout(), r, t.Snapshot())
	if errors.Is(waitErr, domain.ErrTurnCancelled) {
		return nil
	}
	return waitErr
}

func printTurn(w io.Writer, r *render.Renderer, snap turn.Snapshot) {
	if out := r.Events(snap.Events, false); out != "" {
		fmt.Fprintln(w, strings.TrimRight(out, "\n"))
	}
	if len(snap.EditedFiles) > 0 {
		fmt.Fprintln(w, render.EditedFiles(snap.EditedFiles))
	}
	if snap.Notice != "" {
		fmt.Fprintln(w, snap.Notice)
	}
}

// messageArg joins args into the message, or reads it from stdin for "-".
func messageArg(cmd *cobra.Command, args []string) (string, error) {
	msg := strings.Join(args, " ")
	if msg == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("read message: %w", err)
		}
		msg = string(data)
	}
	if strings.TrimSpace(msg) == "" {
		return "", fmt.Errorf("%w: empty message", domain.ErrInvalidInput)
	}
	return msg, nil
}
