package main

import (
	"github.com/spf13/cobra"

	"github.com/nainya/docvault/pkg/document"
)

func (c *cli) conflictsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "conflicts",
		Aliases: []string{"merge"},
		Short:   "Detect and resolve merge conflicts between version branches",
	}
	cmd.AddCommand(c.conflictsDetectCmd(), c.conflictsListCmd(), c.conflictsResolveCmd())
	return cmd
}

func (c *cli) conflictsDetectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "detect DOCUMENT BASE_ID V1_ID V2_ID",
		Short: "Compare two branches against their common base",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			found, err := c.app.Conflicts.DetectMergeConflicts(ctxOf(cmd), args[0], args[1], args[2], args[3])
			if found == nil {
				found = []*document.MergeConflict{}
			}
			if err != nil && len(found) == 0 {
				return err
			}
			if perr := c.print(cmd.OutOrStdout(), found); perr != nil {
				return perr
			}
			return err
		},
	}
	return c.withApp(cmd)
}

func (c *cli) conflictsListCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list DOCUMENT",
		Short: "List open conflicts (--all includes resolved ones)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := c.app.Conflicts.ListConflicts(ctxOf(cmd), args[0], !all)
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), list)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include resolved conflicts")
	return c.withApp(cmd)
}

func (c *cli) conflictsResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve DOCUMENT CONFLICT_ID version1|version2|manual",
		Short: "Record which side of a conflict wins",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := c.actor()
			if err != nil {
				return err
			}
			resolved, err := c.app.Conflicts.ResolveConflict(ctxOf(cmd), args[0], args[1], document.Resolution(args[2]), actor)
			if resolved != nil {
				if perr := c.print(cmd.OutOrStdout(), resolved); perr != nil {
					return perr
				}
			}
			return err
		},
	}
	return c.withApp(cmd)
}
