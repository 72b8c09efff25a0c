package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"auditline/internal/checklist"
	"auditline/internal/config"
	"auditline/internal/domain"
	"auditline/internal/engine"
)

func templateCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "template", Short: "Browse the checklist template catalog"}
	cmd.AddCommand(templateListCmd())
	cmd.AddCommand(templateShowCmd())
	return cmd
}

func templateListCmd() *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List active templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := requireLocal(ctx, e, config.PermTemplateRead); err != nil {
					return err
				}
				items, err := e.Repo.ListTemplates(ctx, category)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Category", "Questions"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.ID, t.Name, t.Category, t.QuestionsCount})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "category filter ("+strings.Join(domain.Categories, ", ")+")")
	return cmd
}

func templateShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <template-id>",
		Short: "Show a template and its questions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := requireLocal(ctx, e, config.PermTemplateRead); err != nil {
					return err
				}
				t, err := e.Repo.GetTemplate(ctx, args[0])
				if err != nil {
					return err
				}
				questions, err := e.Repo.ListQuestions(ctx, t.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"template": t, "questions": questions})
				}
				fmt.Printf("%s (%s) - %s\n", t.Name, t.ID, t.Category)
				if t.Description != "" {
					fmt.Println(t.Description)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"#", "Severity", "Question"})
				for _, q := range questions {
					tw.AppendRow(table.Row{q.Order, q.Severity, q.Text})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "audit", Short: "Manage audits"}
	cmd.AddCommand(auditCreateCmd())
	cmd.AddCommand(auditListCmd())
	cmd.AddCommand(auditShowCmd())
	return cmd
}

func auditCreateCmd() *cobra.Command {
	var opts engine.CreateAuditOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an audit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := requireLocal(ctx, e, config.PermAuditCreate); err != nil {
					return err
				}
				opts.ActorID = viper.GetString("actor-id")
				a, err := e.CreateAudit(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "audit id (generated when empty)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "audit name")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func auditListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List audits",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := requireLocal(ctx, e, config.PermAuditRead); err != nil {
					return err
				}
				audits, err := e.Repo.ListAudits(ctx, status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(audits)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Created"})
				for _, a := range audits {
					tw.AppendRow(table.Row{a.ID, a.Name, a.Status, ago(a.CreatedAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter (Created, In_Progress, Completed)")
	return cmd
}

func auditShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <audit-id>",
		Short: "Show an audit and its checklists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := requireLocal(ctx, e, config.PermAuditRead); err != nil {
					return err
				}
				a, err := e.Repo.GetAudit(ctx, args[0])
				if err != nil {
					return err
				}
				checklists, err := e.ListAuditChecklists(ctx, a.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"audit": a, "checklists": checklists})
				}
				fmt.Printf("Audit: %s (%s) - %s, created %s\n", a.Name, a.ID, a.Status, ago(a.CreatedAt))
				printChecklists(checklists)
				return nil
			})
		},
	}
}

func printChecklists(items []domain.Checklist) {
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Template", "Status", "Answered", "Progress", "Started"})
	for _, c := range items {
		tw.AppendRow(table.Row{
			c.ID, c.TemplateName, c.Status,
			fmt.Sprintf("%d/%d", c.AnsweredQuestions, c.TotalQuestions),
			humanize.FtoaWithDigits(c.Progress, 2) + "%",
			ago(c.StartedAt),
		})
	}
	tw.Render()
}

func checklistCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "checklist", Short: "Run checklists within an audit"}
	cmd.PersistentFlags().String("audit", "", "audit id")
	_ = cmd.MarkPersistentFlagRequired("audit")
	cmd.AddCommand(checklistStartCmd())
	cmd.AddCommand(checklistListCmd())
	cmd.AddCommand(checklistShowCmd())
	cmd.AddCommand(checklistAnswerCmd())
	cmd.AddCommand(checklistCompleteCmd())
	cmd.AddCommand(checklistDeleteCmd())
	cmd.AddCommand(checklistSummaryCmd())
	cmd.AddCommand(checklistRunCmd())
	return cmd
}

func auditFlag(cmd *cobra.Command) string {
	v, _ := cmd.Flags().GetString("audit")
	return v
}

func checklistStartCmd() *cobra.Command {
	var templateID string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a checklist from a template",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := requireLocal(ctx, e, config.PermChecklistStart); err != nil {
					return err
				}
				c, err := e.StartChecklist(ctx, engine.StartChecklistOptions{
					AuditID:    auditFlag(cmd),
					TemplateID: templateID,
					ActorID:    viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&templateID, "template", "", "template id")
	_ = cmd.MarkFlagRequired("template")
	return cmd
}

func checklistListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List checklists of an audit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := requireLocal(ctx, e, config.PermChecklistRead); err != nil {
					return err
				}
				items, err := e.ListAuditChecklists(ctx, auditFlag(cmd))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				printChecklists(items)
				return nil
			})
		},
	}
}

func checklistShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <checklist-id>",
		Short: "Show questions and recorded answers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := requireLocal(ctx, e, config.PermChecklistRead); err != nil {
					return err
				}
				detail, err := e.ChecklistDetail(ctx, auditFlag(cmd), args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(detail)
				}
				c := detail.Checklist
				fmt.Printf("%s (%s) - %s, %d/%d answered\n", c.TemplateName, c.ID, c.Status, c.AnsweredQuestions, c.TotalQuestions)
				tw := newTable()
				tw.AppendHeader(table.Row{"#", "Severity", "Question", "Answer", "Notes", "Answered"})
				for _, it := range detail.Items {
					answer, notes, when := "-", "", ""
					if r := it.Response; r != nil {
						answer, notes, when = string(r.Answer), r.Notes, ago(r.AnsweredAt)
					}
					tw.AppendRow(table.Row{it.Question.Order, it.Question.Severity, it.Question.Text, answer, notes, when})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func checklistAnswerCmd() *cobra.Command {
	var questionID, answer, notes string
	var order int
	cmd := &cobra.Command{
		Use:   "answer <checklist-id>",
		Short: "Record or overwrite one answer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ans, err := domain.ParseAnswer(answer)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := requireLocal(ctx, e, config.PermChecklistAnswer); err != nil {
					return err
				}
				if questionID == "" {
					if order <= 0 {
						return fmt.Errorf("--question or --order required")
					}
					c, err := e.Repo.GetChecklist(ctx, args[0])
					if err != nil {
						return err
					}
					questionID = engine.QuestionID(c.TemplateID, order)
				}
				res, err := e.AnswerQuestion(ctx, engine.AnswerOptions{
					AuditID:     auditFlag(cmd),
					ChecklistID: args[0],
					QuestionID:  questionID,
					Answer:      ans,
					Notes:       notes,
					ActorID:     viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				if res.Overwritten {
					fmt.Printf("Answer %s replaced %s\n", res.Response.Answer, res.Previous.Answer)
				} else {
					fmt.Printf("Answer %s recorded\n", res.Response.Answer)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&questionID, "question", "", "question id")
	cmd.Flags().IntVar(&order, "order", 0, "question position within the template (1-based)")
	cmd.Flags().StringVar(&answer, "answer", "", "Yes, No or N/A (y, n, na)")
	cmd.Flags().StringVar(&notes, "notes", "", "free-form notes")
	_ = cmd.MarkFlagRequired("answer")
	return cmd
}

func checklistCompleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "complete <checklist-id>",
		Short: "Complete a fully answered checklist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := requireLocal(ctx, e, config.PermChecklistComplete); err != nil {
					return err
				}
				c, err := e.CompleteChecklist(ctx, engine.CompleteOptions{
					AuditID:     auditFlag(cmd),
					ChecklistID: args[0],
					ActorID:     viper.GetString("actor-id"),
				})
				var incomplete engine.IncompleteChecklistError
				if errors.As(err, &incomplete) {
					detail, derr := e.ChecklistDetail(ctx, auditFlag(cmd), args[0])
					if derr == nil {
						for _, i := range checklist.UnansweredIndexes(detail.Items, nil) {
							fmt.Printf("  unanswered #%d: %s\n", detail.Items[i].Question.Order, detail.Items[i].Question.Text)
						}
					}
					return err
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
}

func checklistDeleteCmd() *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use:   "delete <checklist-id>",
		Short: "Delete a checklist and its answers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := requireLocal(ctx, e, config.PermChecklistDelete); err != nil {
					return err
				}
				removed, err := e.DeleteChecklist(ctx, engine.DeleteOptions{
					AuditID:     auditFlag(cmd),
					ChecklistID: args[0],
					Confirm:     confirm,
					ActorID:     viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				fmt.Printf("Deleted checklist %s and %s answer(s)\n", args[0], humanize.Comma(removed))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&confirm, "confirm", false, "required to delete a completed checklist")
	return cmd
}

func checklistSummaryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "summary <checklist-id>",
		Short: "Show progress, compliance and severity breakdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := requireLocal(ctx, e, config.PermChecklistRead); err != nil {
					return err
				}
				s, err := e.ChecklistSummary(ctx, auditFlag(cmd), args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				renderSummary(newTable(), s)
				return nil
			})
		},
	}
}

// renderSummary prints the headline figures followed by one row per severity band.
func renderSummary(tw table.Writer, s checklist.Summary) {
	tw.SetTitle(fmt.Sprintf("%d/%d answered (%s%%) - compliance %d%%",
		s.Answered, s.Total, humanize.FtoaWithDigits(checklist.Progress(s.Answered, s.Total), 2), s.ComplianceRate))
	tw.AppendHeader(table.Row{"Severity", "Total", "Yes", "No", "N/A", "Unanswered"})
	for _, sev := range domain.Severities {
		band, ok := s.SeverityBreakdown[sev]
		if !ok {
			continue
		}
		tw.AppendRow(table.Row{sev, band.Total, band.Yes, band.No, band.NA, band.Unanswered})
	}
	tw.AppendFooter(table.Row{"All", s.Total, s.Yes, s.No, s.NA, s.Unanswered})
	tw.Render()
}
