package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"project-companion/internal/adapter/render"
	"project-companion/internal/usecase/markup"
)

var (
	parseJSON bool
	parseCode bool
)

var parseCmd = &cobra.Command{
	Use:   "parse <file>|-",
	Short: "Parse a saved assistant reply and print its events",
	Long: `Parse a saved assistant reply offline.

The file holds the raw text the assistant streamed, structural tags
included. Events are rendered as in the chat, or printed as JSON with
--json.`,
	Args: cobra.ExactArgs(1),
	RunE: runParse,
}

func init() {
	parseCmd.Flags().BoolVar(&parseJSON, "json", false, "print events as JSON")
	parseCmd.Flags().BoolVar(&parseCode, "code", true, "render file contents")
	rootCmd.AddCommand(parseCmd)
}

func runParse(cmd *cobra.Command, args []string) error {
	var (
		data []byte
		err  error
	)
	if args[0] == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return fmt.Errorf("read reply: %w", err)
	}

	events := markup.Parse(string(data))
	out := cmd.OutOrStdout()
	if parseJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(events)
	}

	r, err := render.New(render.Options{MarkdownStyle: "notty", ShowCode: parseCode})
	if err != nil {
		return err
	}
	fmt.Fprintln(out, r.Events(events, false))
	return nil
}
