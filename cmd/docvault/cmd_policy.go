package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nainya/docvault/pkg/security"
)

func (c *cli) policyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Manage document security profiles",
	}
	cmd.AddCommand(c.policyLoadCmd(), c.policyShowCmd(), c.policyCheckCmd())
	return cmd
}

type loadResult struct {
	Loaded    int      `json:"loaded" yaml:"loaded"`
	Documents []string `json:"documents" yaml:"documents"`
}

func (c *cli) policyLoadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load FILE",
		Short: "Validate and store profiles from a YAML file",
		Long: `Load security profiles from YAML. The file holds a top-level "profiles"
list; every profile is validated before any is stored.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open profiles: %w", err)
			}
			defer f.Close()

			profiles, err := security.LoadProfiles(f)
			if err != nil {
				return err
			}
			if err := c.app.SaveProfiles(ctxOf(cmd), profiles); err != nil {
				return err
			}
			res := loadResult{Loaded: len(profiles), Documents: make([]string, 0, len(profiles))}
			for _, p := range profiles {
				res.Documents = append(res.Documents, p.DocumentID)
			}
			return c.print(cmd.OutOrStdout(), res)
		},
	}
	return c.withApp(cmd)
}

func (c *cli) policyShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show DOCUMENT",
		Short: "Show the stored profile of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := c.app.Store.Profile(ctxOf(cmd), args[0])
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), p)
		},
	}
	return c.withApp(cmd)
}

type checkResult struct {
	DocumentID string `json:"documentId" yaml:"documentId"`
	Operation  string `json:"operation" yaml:"operation"`
	Allowed    bool   `json:"allowed" yaml:"allowed"`
	Reason     string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

func (c *cli) policyCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check DOCUMENT OPERATION",
		Short: "Evaluate a stored profile for one operation without performing it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			op, err := security.ParseOperation(args[1])
			if err != nil {
				return err
			}
			p, err := c.app.Store.Profile(ctxOf(cmd), args[0])
			if err != nil {
				return err
			}
			res := checkResult{DocumentID: args[0], Operation: string(op), Allowed: true}
			if deny := p.Permits(op, time.Now()); deny != nil {
				res.Allowed = false
				res.Reason = deny.Error()
			}
			return c.print(cmd.OutOrStdout(), res)
		},
	}
	return c.withApp(cmd)
}
