package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harrison/opgate/internal/feedback"
	"github.com/harrison/opgate/internal/logger"
	"github.com/harrison/opgate/internal/models"
)

// NewApproveCommand creates the 'opgate approve' command
func NewApproveCommand(opts *globalOptions) *cobra.Command {
	var command string
	cmd := &cobra.Command{
		Use:   "approve <operation-id>",
		Short: "Approve and execute an operation awaiting approval",
		Long: `Approve an operation that stopped at the approval gate and execute it.

--command replaces the shell command of a PROCESS operation; the replacement
is recorded with the approval and still passes the command safety check.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, opts, true, func(ctx context.Context, a *app) error {
				id, err := a.resolveID(ctx, args[0])
				if err != nil {
					return err
				}
				oc, err := a.svc.Approve(ctx, id, command)
				if oc != nil {
					p := a.printer()
					p.operationLine(oc.Operation)
					p.outcomeDetail("    ", oc)
					if oc.Execution != nil {
						a.logExecution(oc.Operation, oc.Execution)
					}
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&command, "command", "", "replacement command for a PROCESS operation")
	return cmd
}

// NewRejectCommand creates the 'opgate reject' command
func NewRejectCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reject <operation-id>",
		Short: "Decline an operation awaiting approval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, opts, true, func(ctx context.Context, a *app) error {
				id, err := a.resolveID(ctx, args[0])
				if err != nil {
					return err
				}
				op, err := a.svc.Reject(ctx, id)
				if op != nil {
					a.printer().operationLine(op)
				}
				return err
			})
		},
	}
}

// NewUndoCommand creates the 'opgate undo' command
func NewUndoCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "undo <operation-id>",
		Short: "Reverse an executed operation",
		Long: `Undo an executed operation using the method recorded when it ran:
restoring backups, deleting created paths or running the inverse command.
Undoing a decomposed request undoes its operations in reverse order.

Undo does not change the operation's status; the attempt is recorded as
feedback and shown by 'opgate show'.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, opts, true, func(ctx context.Context, a *app) error {
				id, err := a.resolveID(ctx, args[0])
				if err != nil {
					return err
				}
				reports, err := a.svc.Undo(ctx, id)
				if err != nil {
					return err
				}
				a.printer().undoReports(reports)
				for _, r := range reports {
					if r.Attempted && !r.Success {
						return fmt.Errorf("undo of %s did not fully succeed", logger.ShortID(r.OperationID))
					}
				}
				return nil
			})
		},
	}
}

// correctOptions are the classification fields a correction may override.
type correctOptions struct {
	destination string
	consumer    string
	semantics   string
	domain      string
	action      string
	confidence  float64
	reason      string
}

// NewCorrectCommand creates the 'opgate correct' command
func NewCorrectCommand(opts *globalOptions) *cobra.Command {
	co := &correctOptions{}
	cmd := &cobra.Command{
		Use:   "correct <operation-id>",
		Short: "Correct the classification of an operation before it executes",
		Long: `Replace parts of an operation's classification. Only operations that
have not started executing can be corrected. The correction is logged with
the classification history and recorded as feedback. An operation that was
already verified is verified again: it fails if the new classification is
blocked, otherwise it waits for 'opgate approve'.

Example:
  opgate correct 1a2b3c4d --destination STREAM --semantics READ --reason "only wanted to look"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, opts, true, func(ctx context.Context, a *app) error {
				id, err := a.resolveID(ctx, args[0])
				if err != nil {
					return err
				}
				op, err := a.store.GetOperation(ctx, nil, id)
				if err != nil {
					return err
				}
				if op.Classification == nil {
					return fmt.Errorf("operation %s has no classification to correct", logger.ShortID(id))
				}
				c, err := co.apply(cmd, op.Classification)
				if err != nil {
					return err
				}
				res, err := a.svc.Correct(ctx, id, c, co.reason)
				if res == nil {
					return err
				}
				p := a.printer()
				p.printf("%s reclassified as %s\n", logger.ShortID(id), c.Triple())
				for _, k := range feedback.FieldNames(res.Fields) {
					p.printf("  %s -> %s\n", k, res.Fields[k])
				}
				if res.Outcome != nil {
					p.operationLine(res.Outcome.Operation)
					p.outcomeDetail("    ", res.Outcome)
				}
				return err
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&co.destination, "destination", "", "STREAM, FILE or PROCESS")
	f.StringVar(&co.consumer, "consumer", "", "HUMAN or MACHINE")
	f.StringVar(&co.semantics, "semantics", "", "READ, INTERPRET or EXECUTE")
	f.StringVar(&co.domain, "domain", "", "domain tag")
	f.StringVar(&co.action, "action", "", "action hint")
	f.Float64Var(&co.confidence, "confidence", 0, "classification confidence in [0,1]")
	f.StringVar(&co.reason, "reason", "", "why the classification was wrong")
	return cmd
}

// apply returns a copy of current with the flags the user set applied.
func (co *correctOptions) apply(cmd *cobra.Command, current *models.Classification) (*models.Classification, error) {
	c := current.Clone()
	flags := cmd.Flags()
	if flags.Changed("destination") {
		d, err := models.ParseDestination(co.destination)
		if err != nil {
			return nil, err
		}
		c.Destination = d
	}
	if flags.Changed("consumer") {
		v, err := models.ParseConsumer(co.consumer)
		if err != nil {
			return nil, err
		}
		c.Consumer = v
	}
	if flags.Changed("semantics") {
		s, err := models.ParseSemantics(co.semantics)
		if err != nil {
			return nil, err
		}
		c.Semantics = s
	}
	if flags.Changed("domain") {
		c.Domain = co.domain
	}
	if flags.Changed("action") {
		c.ActionHint = co.action
	}
	if flags.Changed("confidence") {
		c.Confidence = co.confidence
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if co.reason != "" {
		c.Reasoning = "corrected by user: " + co.reason
	}
	return c, nil
}
