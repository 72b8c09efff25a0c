package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"auditline/internal/app"
	"auditline/internal/checklist"
	"auditline/internal/config"
	"auditline/internal/domain"
	"auditline/internal/executor"
	"auditline/internal/remote"
	auditlinesdk "auditline/sdk/go"
)

const runHelp = `Commands:
  y | n | na [notes]   answer the current question
  p                    previous question
  s                    skip to the next question
  g <n>                go to question n
  v                    show the summary
  q                    quit (the position is kept)`

func checklistRunCmd() *cobra.Command {
	var serverURL, apiKey, token string
	cmd := &cobra.Command{
		Use:   "run <checklist-id>",
		Short: "Walk a checklist interactively",
		Long: "Shows one question at a time. Answering the last question completes the checklist, or jumps back to the first unanswered one.\n\n" +
			runHelp,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			var rem executor.Remote
			var cursors checklist.CursorStore = checklist.NewMemoryCursorStore()
			if serverURL != "" {
				client := auditlinesdk.New(serverURL)
				client.APIKey = viper.GetString("api-key")
				client.BearerToken = token
				rem = remote.HTTP{Client: client}
			} else {
				e, conn, err := app.OpenEngine(ctx, viper.GetString("workspace"), viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				defer conn.Close()
				if err := requireLocal(ctx, e, config.PermChecklistAnswer); err != nil {
					return err
				}
				rem = remote.Local{Engine: e, ActorID: viper.GetString("actor-id")}
				if e.Config.Execution.PersistCursor {
					cursors = e.Repo
				}
			}
			ex, err := executor.New(executor.Options{Remote: rem, Cursors: cursors, Logger: logger})
			if err != nil {
				return err
			}
			return runChecklist(ctx, ex, auditFlag(cmd), args[0], cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", "", "auditline API base URL; runs against the local workspace when empty")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key for --server")
	cmd.Flags().StringVar(&token, "token", "", "bearer token for --server")
	_ = viper.BindPFlag("api-key", cmd.Flags().Lookup("api-key"))
	return cmd
}

// runChecklist drives one execution session from line-oriented input until the
// checklist completes, the input ends or the user quits.
func runChecklist(ctx context.Context, ex *executor.Engine, auditID, checklistID string, in io.Reader, out io.Writer) error {
	unsubscribe := ex.OnAnswerSubmitted(func(ev executor.ReloadEvent) {
		if ev.Err != nil {
			fmt.Fprintf(out, "(could not reload checklists: %v)\n", ev.Err)
			return
		}
		if ev.Reason == executor.ReloadCompleted {
			done := 0
			for _, c := range ev.Checklists {
				if c.Status == domain.ChecklistCompleted {
					done++
				}
			}
			fmt.Fprintf(out, "Audit %s: %d of %d checklist(s) completed\n", ev.AuditID, done, len(ev.Checklists))
		}
	})
	defer unsubscribe()

	view, err := ex.Open(ctx, auditID, checklistID)
	if err != nil {
		return err
	}
	defer ex.Close(checklistID)
	if view.Status == domain.ChecklistCompleted {
		fmt.Fprintln(out, "Checklist is already completed.")
		printRunSummary(out, view.Summary)
		return nil
	}
	fmt.Fprintln(out, runHelp)

	scanner := bufio.NewScanner(in)
	for {
		view, err = ex.View(checklistID)
		if err != nil {
			return err
		}
		if view.Status == domain.ChecklistCompleted {
			fmt.Fprintln(out, "Checklist completed.")
			printRunSummary(out, view.Summary)
			return nil
		}
		printQuestion(out, view)
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		word, rest, _ := strings.Cut(strings.TrimSpace(scanner.Text()), " ")
		rest = strings.TrimSpace(rest)
		switch strings.ToLower(word) {
		case "":
			continue
		case "q", "quit":
			return nil
		case "p":
			_, err = ex.Previous(ctx, checklistID)
		case "s":
			_, err = ex.Skip(ctx, checklistID)
		case "g":
			n, convErr := strconv.Atoi(rest)
			if convErr != nil {
				fmt.Fprintf(out, "usage: g <1-%d>\n", view.Total)
				continue
			}
			_, err = ex.JumpTo(ctx, checklistID, n-1)
		case "v":
			printRunSummary(out, view.Summary)
		case "?", "h", "help":
			fmt.Fprintln(out, runHelp)
		default:
			answer, parseErr := domain.ParseAnswer(word)
			if parseErr != nil {
				fmt.Fprintf(out, "unknown command %q (? for help)\n", word)
				continue
			}
			err = submit(ctx, ex, out, checklistID, view.Current.Question.ID, answer, rest)
		}
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}

// submit reports gap jumps as messages rather than errors.
func submit(ctx context.Context, ex *executor.Engine, out io.Writer, checklistID, questionID string, answer domain.Answer, notes string) error {
	res, err := ex.SubmitAnswer(ctx, checklistID, questionID, answer, notes)
	var gaps *executor.ValidationGapError
	var refused *executor.RemoteCompletionError
	switch {
	case errors.As(err, &gaps):
		fmt.Fprintf(out, "%d question(s) still unanswered; moved to question %d.\n", gaps.Count, gaps.FirstIndex+1)
		return nil
	case errors.As(err, &refused):
		if refused.FirstIndex >= 0 {
			fmt.Fprintf(out, "Completion refused: %d question(s) unanswered; moved to question %d.\n", refused.Count, refused.FirstIndex+1)
			return nil
		}
		return err
	case err != nil:
		return err
	}
	if res.PreviouslyAnswered && res.Previous != nil {
		fmt.Fprintf(out, "Replaced %s with %s.\n", res.Previous.Answer, answer)
	}
	return nil
}

func printQuestion(out io.Writer, v executor.View) {
	q := v.Current.Question
	fmt.Fprintf(out, "\n[%d/%d] (%s) %s\n", v.Current.Index+1, v.Total, q.Severity, q.Text)
	if e := v.Current.Entry; e != nil {
		line := "  current answer: " + string(e.Answer)
		if e.Notes != "" {
			line += " (" + e.Notes + ")"
		}
		fmt.Fprintln(out, line)
	}
}

func printRunSummary(out io.Writer, s checklist.Summary) {
	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	renderSummary(tw, s)
}
