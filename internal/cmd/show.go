package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harrison/opgate/internal/models"
	"github.com/harrison/opgate/internal/store"
)

// NewShowCommand creates the 'opgate show' command
func NewShowCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <operation-id>",
		Short: "Show an operation with its verification, execution and feedback",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, opts, false, func(ctx context.Context, a *app) error {
				id, err := a.resolveID(ctx, args[0])
				if err != nil {
					return err
				}
				op, err := a.store.GetOperation(ctx, nil, id)
				if err != nil {
					return err
				}
				layers, err := a.store.GetVerification(ctx, nil, id)
				if err != nil {
					return err
				}
				fb, err := a.store.ListFeedback(ctx, nil, id)
				if err != nil {
					return err
				}
				a.printer().operationDetail(op, layers, fb)
				return nil
			})
		},
	}
}

// NewListCommand creates the 'opgate list' command
func NewListCommand(opts *globalOptions) *cobra.Command {
	var (
		status   string
		parentID string
		limit    int
		all      bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent operations, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, opts, false, func(ctx context.Context, a *app) error {
				f := store.ListFilter{Limit: limit}
				if !all {
					f.UserID = opts.user
				}
				if status != "" {
					s := models.Status(strings.ToUpper(status))
					if !s.Valid() {
						return fmt.Errorf("invalid status %q", status)
					}
					f.Status = s
				}
				if parentID != "" {
					id, err := a.resolveID(ctx, parentID)
					if err != nil {
						return err
					}
					f.ParentID = id
				}
				ops, err := a.store.ListOperations(ctx, nil, f)
				if err != nil {
					return err
				}
				if len(ops) == 0 {
					fmt.Fprintln(a.out, "No operations found")
					return nil
				}
				p := a.printer()
				for _, op := range ops {
					p.operationLine(op)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "only operations with this status")
	cmd.Flags().StringVar(&parentID, "parent", "", "only children of this decomposed operation")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of operations (0 for all)")
	cmd.Flags().BoolVar(&all, "all-users", false, "include every user's operations")
	return cmd
}

// NewHistoryCommand creates the 'opgate history' command
func NewHistoryCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "history <operation-id>",
		Short: "Show every classification and execution attempt of an operation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd, opts, false, func(ctx context.Context, a *app) error {
				id, err := a.resolveID(ctx, args[0])
				if err != nil {
					return err
				}
				classes, err := a.store.ClassificationHistory(ctx, nil, id)
				if err != nil {
					return err
				}
				execs, err := a.store.ExecutionHistory(ctx, nil, id)
				if err != nil {
					return err
				}
				a.printer().history(execs, classes)
				return nil
			})
		},
	}
}
