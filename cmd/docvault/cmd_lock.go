package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/nainya/docvault/pkg/document"
	"github.com/nainya/docvault/pkg/lock"
)

func (c *cli) lockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Acquire, release and inspect document locks",
	}
	cmd.AddCommand(c.lockAcquireCmd(), c.lockReleaseCmd(), c.lockStatusCmd())
	return cmd
}

func (c *cli) lockAcquireCmd() *cobra.Command {
	var (
		lockType string
		duration time.Duration
		reason   string
	)
	cmd := &cobra.Command{
		Use:   "acquire DOCUMENT",
		Short: "Lock a document, or refresh a lock you already hold",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := c.actor()
			if err != nil {
				return err
			}
			opts := []lock.Option{lock.WithType(document.LockType(lockType)), lock.WithReason(reason)}
			if duration > 0 {
				opts = append(opts, lock.WithDuration(duration))
			}
			l, err := c.app.Locks.LockDocument(ctxOf(cmd), args[0], actor, opts...)
			if l != nil {
				if perr := c.print(cmd.OutOrStdout(), l); perr != nil {
					return perr
				}
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&lockType, "type", "t", string(document.LockEdit), "lock type: edit, review or admin")
	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "lease length (default from config)")
	cmd.Flags().StringVar(&reason, "reason", "", "why the lock is taken")
	return c.withApp(cmd)
}

func (c *cli) lockReleaseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "release DOCUMENT",
		Short: "Release a lock you hold (no-op otherwise)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := c.actor()
			if err != nil {
				return err
			}
			return c.app.Locks.UnlockDocument(ctxOf(cmd), args[0], actor)
		},
	}
	return c.withApp(cmd)
}

type lockStatus struct {
	DocumentID string         `json:"documentId" yaml:"documentId"`
	Locked     bool           `json:"locked" yaml:"locked"`
	Lock       *document.Lock `json:"lock,omitempty" yaml:"lock,omitempty"`
}

func (c *cli) lockStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status DOCUMENT",
		Short: "Show the active lock, if any",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := c.app.Locks.IsDocumentLocked(ctxOf(cmd), args[0])
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), lockStatus{DocumentID: args[0], Locked: l != nil, Lock: l})
		},
	}
	return c.withApp(cmd)
}
