package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harrison/opgate/internal/classify"
	"github.com/harrison/opgate/internal/display"
	"github.com/harrison/opgate/internal/logger"
	"github.com/harrison/opgate/internal/models"
	"github.com/harrison/opgate/internal/parser"
	"github.com/harrison/opgate/internal/pipeline"
)

// NewSubmitCommand creates the 'opgate submit' command
func NewSubmitCommand(opts *globalOptions) *cobra.Command {
	var (
		agent string
		yes   bool
	)
	cmd := &cobra.Command{
		Use:   "submit <request>...",
		Short: "Classify, verify and execute a request",
		Long: `Submit a natural-language request. The request is classified (and split
into several operations when it is compound), each operation is verified,
and operations the approval policy lets through are executed immediately.

Operations that need approval stop and wait for 'opgate approve'. On a
terminal you are asked right away; --yes approves without asking.

Examples:
  opgate submit show my calendar
  opgate submit "delete /tmp/report.txt"
  opgate submit "show my calendar then restart nginx"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			return runApp(cmd, opts, true, func(ctx context.Context, a *app) error {
				res, err := a.svc.Submit(ctx, text, opts.user, agent)
				if res != nil {
					a.printer().submitResult(res)
					a.logOutcomes(res)
				}
				if err != nil {
					return err
				}
				return a.settleApprovals(ctx, res, yes)
			})
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "cli", "source agent recorded with the request")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "approve every operation that needs approval")
	return cmd
}

// NewClarifyCommand creates the 'opgate clarify' command
func NewClarifyCommand(opts *globalOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clarify [answer...]",
		Short: "Show or answer the pending clarification",
		Long: `Without arguments, show the question opgate asked about your last
unclassifiable request. With an answer, re-classify that request using the
answer and continue it like 'opgate submit'.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return runApp(cmd, opts, false, func(ctx context.Context, a *app) error {
					pending, err := a.svc.Classifier.PendingClarification(ctx, opts.user)
					if errors.Is(err, classify.ErrNoPendingClarification) {
						fmt.Fprintln(a.out, "No pending clarification")
						return nil
					}
					if err != nil {
						return err
					}
					p := a.printer()
					p.printf("request: %q\n", pending.Request)
					p.clarification(pending)
					return nil
				})
			}
			answer := strings.Join(args, " ")
			return runApp(cmd, opts, true, func(ctx context.Context, a *app) error {
				res, err := a.svc.Clarify(ctx, opts.user, answer)
				if res != nil {
					a.printer().submitResult(res)
					a.logOutcomes(res)
				}
				if err != nil {
					return err
				}
				return a.settleApprovals(ctx, res, yes)
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "approve every operation that needs approval")
	return cmd
}

// NewRunCommand creates the 'opgate run' command
func NewRunCommand(opts *globalOptions) *cobra.Command {
	var (
		yes      bool
		stopFail bool
	)
	cmd := &cobra.Command{
		Use:   "run <requests-file>",
		Short: "Submit every request in a markdown or yaml batch file",
		Long: `Submit a batch of requests read from a file.

Markdown files hold one "## Request: <title>" section per request; the
paragraphs below the heading are the request text and an optional yaml code
block supplies the classification (destination, consumer, semantics) so the
classifier is skipped. YAML files hold a 'requests' list.

Requests run in file order. Operations that need approval are left waiting
unless --yes is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			batch, err := parser.ParseFile(args[0])
			if err != nil {
				return err
			}
			return runApp(cmd, opts, true, func(ctx context.Context, a *app) error {
				return a.runBatch(ctx, batch, yes, stopFail)
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "approve every operation that needs approval")
	cmd.Flags().BoolVar(&stopFail, "stop-on-failure", false, "stop at the first request that fails")
	return cmd
}

// batchSummary counts operations by how far they got.
type batchSummary struct {
	complete, awaiting, failed, clarifications, errors int
}

func (s *batchSummary) add(res *pipeline.SubmitResult) {
	if res == nil {
		return
	}
	if res.Clarification != nil {
		s.clarifications++
	}
	for _, oc := range res.Outcomes {
		switch oc.Operation.Status {
		case models.StatusComplete:
			s.complete++
		case models.StatusAwaitingApproval:
			s.awaiting++
		case models.StatusFailed, models.StatusCancelled:
			s.failed++
		}
	}
}

func (a *app) runBatch(ctx context.Context, batch *parser.Batch, yes, stopOnFailure bool) error {
	p := a.printer()
	progress := display.NewProgressIndicator(a.out, len(batch.Requests), a.color)
	progress.Start(batch.FilePath)
	sum := &batchSummary{}
	var errs []error

	for i, req := range batch.Requests {
		user := req.UserID
		if user == "" {
			user = a.opts.user
		}
		agent := req.SourceAgent
		if agent == "" {
			agent = "batch"
		}
		title := req.Title
		if title == "" {
			title = req.Text
		}
		progress.Step(title)

		var (
			res *pipeline.SubmitResult
			err error
		)
		if req.Classification != nil {
			res, err = a.svc.SubmitClassified(ctx, req.Text, user, agent, req.Classification)
		} else {
			res, err = a.svc.Submit(ctx, req.Text, user, agent)
		}
		if res != nil {
			if yes {
				res = a.approveAll(ctx, res, &errs)
			}
			p.submitResult(res)
			a.logOutcomes(res)
		}
		sum.add(res)
		if err != nil {
			sum.errors++
			errs = append(errs, fmt.Errorf("request %d: %w", i+1, err))
		}
		if stopOnFailure && (err != nil || anyFailed(res)) {
			break
		}
	}

	progress.Complete(fmt.Sprintf("%d complete, %d awaiting approval, %d failed, %d need clarification, %d errors",
		sum.complete, sum.awaiting, sum.failed, sum.clarifications, sum.errors))
	if len(errs) > 0 {
		w := display.WarnErrors(fmt.Sprintf("%d problems during the run", len(errs)), errs)
		if sum.failed > 0 {
			w.Suggestion = "opgate list --status failed"
		}
		w.Display(a.out, a.color)
	}
	return errors.Join(errs...)
}

func anyFailed(res *pipeline.SubmitResult) bool {
	if res == nil {
		return false
	}
	for _, oc := range res.Outcomes {
		if oc.Operation.Status == models.StatusFailed {
			return true
		}
	}
	return false
}

// approveAll approves every outcome waiting for approval and returns res
// with those outcomes replaced by their execution.
func (a *app) approveAll(ctx context.Context, res *pipeline.SubmitResult, errs *[]error) *pipeline.SubmitResult {
	for i, oc := range res.Outcomes {
		if !oc.AwaitingApproval() {
			continue
		}
		approved, err := a.svc.Approve(ctx, oc.Operation.ID, "")
		if err != nil {
			*errs = append(*errs, fmt.Errorf("approve %s: %w", logger.ShortID(oc.Operation.ID), err))
		}
		if approved != nil {
			approved.Verification = oc.Verification
			res.Outcomes[i] = approved
		}
	}
	if res.Parent != nil {
		if parent, err := a.store.GetOperation(ctx, nil, res.Parent.ID); err == nil {
			res.Parent = parent
		}
	}
	return res
}

// settleApprovals handles operations left awaiting approval after a submit:
// --yes approves them, an interactive terminal asks, otherwise they wait.
func (a *app) settleApprovals(ctx context.Context, res *pipeline.SubmitResult, yes bool) error {
	var waiting []*pipeline.Outcome
	for _, oc := range res.Outcomes {
		if oc.AwaitingApproval() {
			waiting = append(waiting, oc)
		}
	}
	if len(waiting) == 0 {
		return nil
	}
	if !yes && !a.interactive() {
		return nil
	}

	p := a.printer()
	reader := bufio.NewReader(a.in)
	var errs []error
	for _, oc := range waiting {
		id := oc.Operation.ID
		if !yes {
			p.printf("approve %s %q? [y/N] ", logger.ShortID(id), oc.Operation.UserRequest)
			line, _ := reader.ReadString('\n')
			switch strings.ToLower(strings.TrimSpace(line)) {
			case "y", "yes":
			default:
				p.printf("left waiting; run 'opgate approve %s' or 'opgate reject %s'\n", logger.ShortID(id), logger.ShortID(id))
				continue
			}
		}
		approved, err := a.svc.Approve(ctx, id, "")
		if approved != nil {
			p.operationLine(approved.Operation)
			if approved.Execution != nil {
				p.execution("    ", approved.Execution)
				a.logExecution(approved.Operation, approved.Execution)
			}
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("approve %s: %w", logger.ShortID(id), err))
		}
	}
	return errors.Join(errs...)
}

func (a *app) logOutcomes(res *pipeline.SubmitResult) {
	for _, oc := range res.Outcomes {
		if oc.Verification != nil {
			a.console.LogVerification(oc.Operation.ID, oc.Verification)
		}
		if oc.Execution != nil {
			a.logExecution(oc.Operation, oc.Execution)
		}
	}
}
