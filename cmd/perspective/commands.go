package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"perspective-engine/backend/internal/client"
	"perspective-engine/backend/internal/workflow"
	"perspective-engine/backend/pkg/models"
)

type options struct {
	server  string
	token   string
	timeout time.Duration
	raw     bool
	// style is a glamour standard style name; empty picks one from the terminal.
	style string
}

var (
	labelStyle      = lipgloss.NewStyle().Bold(true)
	runningStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	terminatedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	erroredStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	faintStyle      = lipgloss.NewStyle().Faint(true)
)

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "perspective",
		Short: "Ask the perspective engine for hidden angles on a decision",
		Long: `perspective talks to a running perspective engine server.

Examples:
  # Analyze a decision and wait for the result
  perspective analyze "Should I take the job in Berlin?"

  # Start an analysis without waiting
  perspective analyze --detach "Should we rewrite the billing service?"

  # Check an instance
  perspective status 01J9Z3S6J4Q3V6X0N5W2K8T1AB

  # Show past decisions
  perspective history
`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.server, "server", getEnvOrDefault("PERSPECTIVE_SERVER", "http://localhost:8080"), "Perspective engine URL")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("PERSPECTIVE_TOKEN"), "Bearer token for /api/v1")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "Per-request timeout")
	root.PersistentFlags().BoolVar(&opts.raw, "raw", false, "Print analyses as plain markdown")
	root.PersistentFlags().StringVar(&opts.style, "style", "", "Markdown style (dark, light, notty); detected when empty")

	root.AddCommand(newAnalyzeCmd(opts), newStatusCmd(opts), newHistoryCmd(opts))
	return root
}

func newAnalyzeCmd(opts *options) *cobra.Command {
	var (
		detach   bool
		attempts int
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "analyze [prompt]",
		Short: "Analyze a decision",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.TrimSpace(strings.Join(args, " "))
			if prompt == "" {
				return errors.New("prompt must not be empty")
			}

			c := opts.client()
			id, err := c.CreateInstance(cmd.Context(), prompt)
			if err != nil {
				return err
			}
			if detach {
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			}
			fmt.Fprintln(cmd.ErrOrStderr(), faintStyle.Render("instance "+id))

			out, err := workflow.NewPoller(c, attempts, interval).Await(cmd.Context(), id)
			switch {
			case errors.Is(err, workflow.ErrWorkflowFailed):
				return fmt.Errorf("analysis %s failed", id)
			case errors.Is(err, workflow.ErrPollTimeout):
				return fmt.Errorf("analysis %s is still running; check it with: perspective status %s", id, id)
			case err != nil:
				return err
			}
			return opts.printMarkdown(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().BoolVar(&detach, "detach", false, "Print the instance id and exit")
	cmd.Flags().IntVar(&attempts, "attempts", 40, "Status checks before giving up")
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "Delay between status checks")
	return cmd
}

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status [id]",
		Short: "Show an analysis instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inst, err := opts.client().Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s %s\n", labelStyle.Render("ID:"), inst.ID)
			fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Status:"), renderStatus(inst.Status))
			fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Prompt:"), inst.Input.Prompt)
			fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Created:"), inst.CreatedAt.Local().Format(time.RFC1123))
			if len(inst.Steps) > 0 {
				fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Steps:"), strings.Join(inst.Steps, " → "))
			}
			if inst.Status == models.StatusTerminated {
				fmt.Fprintln(w)
				return opts.printMarkdown(w, inst.Output)
			}
			return nil
		},
	}
}

func newHistoryCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List your past decisions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := opts.client().History(cmd.Context())
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(w, faintStyle.Render("No decisions yet."))
				return nil
			}
			for _, e := range entries {
				fmt.Fprintf(w, "%s %s\n", faintStyle.Render(e.Timestamp.Local().Format(time.DateTime)), labelStyle.Render(e.Prompt))
				if err := opts.printMarkdown(w, e.Analysis); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func (o *options) client() *client.Client {
	return client.New(o.server, o.token, o.timeout)
}

func (o *options) printMarkdown(w io.Writer, text string) error {
	if o.raw {
		_, err := fmt.Fprintln(w, text)
		return err
	}
	styleOpt := glamour.WithAutoStyle()
	if o.style != "" {
		styleOpt = glamour.WithStandardStyle(o.style)
	}
	r, err := glamour.NewTermRenderer(styleOpt, glamour.WithWordWrap(100))
	if err != nil {
		return fmt.Errorf("create renderer: %w", err)
	}
	rendered, err := r.Render(text)
	if err != nil {
		return fmt.Errorf("render analysis: %w", err)
	}
	_, err = fmt.Fprint(w, rendered)
	return err
}

func renderStatus(s models.Status) string {
	switch s {
	case models.StatusTerminated:
		return terminatedStyle.Render(string(s))
	case models.StatusErrored:
		return erroredStyle.Render(string(s))
	default:
		return runningStyle.Render(string(s))
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
