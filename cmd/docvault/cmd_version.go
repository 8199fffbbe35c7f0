package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nainya/docvault/pkg/audit"
	"github.com/nainya/docvault/pkg/docerr"
	"github.com/nainya/docvault/pkg/document"
	"github.com/nainya/docvault/pkg/security"
	"github.com/nainya/docvault/pkg/version"
)

func (c *cli) versionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "version",
		Aliases: []string{"v"},
		Short:   "Create, inspect and move document versions",
	}
	cmd.AddCommand(
		c.versionCreateCmd(),
		c.versionGetCmd(),
		c.versionLatestCmd(),
		c.versionHistoryCmd(),
		c.versionChangesCmd(),
		c.versionCompareCmd(),
		c.versionRestoreCmd(),
		c.versionDownloadCmd(),
		c.transitionCmd("approve", "Approve a version", (*version.Store).ApproveVersion),
		c.transitionCmd("submit", "Submit a draft for review", (*version.Store).SubmitForReview),
		c.transitionCmd("reject", "Send a version under review back to draft", (*version.Store).RejectVersion),
		c.transitionCmd("archive", "Archive an approved version", (*version.Store).ArchiveVersion),
	)
	return cmd
}

func (c *cli) versionCreateCmd() *cobra.Command {
	var (
		in      version.CreateInput
		file    string
		content string
		meta    map[string]string
	)
	cmd := &cobra.Command{
		Use:   "create DOCUMENT",
		Short: "Create a new version from --file or --content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := c.actor()
			if err != nil {
				return err
			}
			data, err := readContent(file, content)
			if err != nil {
				return err
			}
			in.CreatedBy = actor
			if len(meta) > 0 {
				in.Metadata = make(map[string]any, len(meta))
				for k, v := range meta {
					in.Metadata[k] = v
				}
			}
			v, err := c.app.Versions.CreateVersion(ctxOf(cmd), args[0], data, in)
			if v != nil {
				if perr := c.print(cmd.OutOrStdout(), v); perr != nil {
					return perr
				}
			}
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.Title, "title", "", "version title")
	f.StringVar(&in.Description, "description", "", "version description")
	f.StringVar(&in.ContentType, "content-type", "text/plain", "MIME type of the content")
	f.StringSliceVar(&in.Tags, "tag", nil, "tag (repeatable)")
	f.StringVar(&in.ParentVersionID, "parent", "", "parent version id (branches with a minor number)")
	f.StringVar(&file, "file", "", "read content from file (- for stdin)")
	f.StringVar(&content, "content", "", "inline content")
	f.StringToStringVar(&meta, "meta", nil, "metadata key=value (repeatable)")
	cmd.MarkFlagsMutuallyExclusive("file", "content")
	return c.withApp(cmd)
}

func (c *cli) versionGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get DOCUMENT VERSION_ID",
		Short: "Show one version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := c.app.Versions.GetVersion(ctxOf(cmd), args[0], args[1])
			if err != nil {
				return err
			}
			if v == nil {
				return docerr.NotFound("version %s of document %s", args[1], args[0])
			}
			return c.print(cmd.OutOrStdout(), v)
		},
	}
	return c.withApp(cmd)
}

func (c *cli) versionLatestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "latest DOCUMENT",
		Short: "Show the latest version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := c.app.Versions.GetLatestVersion(ctxOf(cmd), args[0])
			if err != nil {
				return err
			}
			if v == nil {
				return docerr.NotFound("document %s has no versions", args[0])
			}
			return c.print(cmd.OutOrStdout(), v)
		},
	}
	return c.withApp(cmd)
}

func (c *cli) versionHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history DOCUMENT",
		Short: "List versions newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			history, err := c.app.Versions.GetVersionHistory(ctxOf(cmd), args[0])
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), history)
		},
	}
	return c.withApp(cmd)
}

func (c *cli) versionChangesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "changes DOCUMENT",
		Short: "List change records newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			changes, err := c.app.Versions.GetChangeHistory(ctxOf(cmd), args[0])
			if err != nil {
				return err
			}
			return c.print(cmd.OutOrStdout(), changes)
		},
	}
	return c.withApp(cmd)
}

func (c *cli) versionCompareCmd() *cobra.Command {
	var unified bool
	cmd := &cobra.Command{
		Use:   "compare DOCUMENT OLD_ID NEW_ID",
		Short: "Diff metadata and content of two versions",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmp, err := c.app.Versions.CompareVersions(ctxOf(cmd), args[0], args[1], args[2])
			if err != nil {
				return err
			}
			if unified {
				if cmp.ContentDiff.Unified == "" {
					_, err := fmt.Fprintln(cmd.OutOrStdout(), cmp.ContentDiff.Summary)
					return err
				}
				_, err := fmt.Fprint(cmd.OutOrStdout(), cmp.ContentDiff.Unified)
				return err
			}
			return c.print(cmd.OutOrStdout(), cmp)
		},
	}
	cmd.Flags().BoolVar(&unified, "unified", false, "print only the unified content diff")
	return c.withApp(cmd)
}

func (c *cli) versionRestoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore DOCUMENT VERSION_ID",
		Short: "Create a new latest version from an earlier one",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := c.actor()
			if err != nil {
				return err
			}
			v, err := c.app.Versions.RestoreVersion(ctxOf(cmd), args[0], args[1], actor)
			if v != nil {
				if perr := c.print(cmd.OutOrStdout(), v); perr != nil {
					return perr
				}
			}
			return err
		},
	}
	return c.withApp(cmd)
}

func (c *cli) versionDownloadCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "download DOCUMENT VERSION_ID",
		Short: "Write a version's content to a file or stdout",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := ctxOf(cmd)
			actor, err := c.actor()
			if err != nil {
				return err
			}
			documentID, versionID := args[0], args[1]

			if err := c.app.Guard.Check(ctx, documentID, actor, security.OpDownload); err != nil {
				if _, aerr := c.app.Audit.LogDocumentDownload(ctx, actor, documentID, audit.ResultUnauthorized, map[string]any{"versionId": versionID}); aerr != nil {
					c.app.Log.Warn().Err(aerr).Msg("Failed to audit denied download")
				}
				return err
			}
			v, err := c.app.Versions.GetVersion(ctx, documentID, versionID)
			if err != nil {
				return err
			}
			if v == nil {
				return docerr.NotFound("version %s of document %s", versionID, documentID)
			}

			w := cmd.OutOrStdout()
			if out != "" && out != "-" {
				if err := os.WriteFile(out, v.Content, 0o600); err != nil {
					return fmt.Errorf("write %s: %w", out, err)
				}
			} else if _, err := w.Write(v.Content); err != nil {
				return err
			}
			_, err = c.app.Audit.LogDocumentDownload(ctx, actor, documentID, audit.ResultSuccess, map[string]any{
				"versionId":     v.ID,
				"versionNumber": v.VersionNumber,
				"checksum":      v.Checksum,
			})
			return err
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "destination file (default stdout)")
	return c.withApp(cmd)
}

type transitionFunc func(s *version.Store, ctx context.Context, documentID, versionID, actor, comments string) (*document.Version, error)

func (c *cli) transitionCmd(name, short string, fn transitionFunc) *cobra.Command {
	var comments string
	cmd := &cobra.Command{
		Use:   name + " DOCUMENT VERSION_ID",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := c.actor()
			if err != nil {
				return err
			}
			v, err := fn(c.app.Versions, ctxOf(cmd), args[0], args[1], actor, comments)
			if v != nil {
				if perr := c.print(cmd.OutOrStdout(), v); perr != nil {
					return perr
				}
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&comments, "message", "m", "", "comment recorded on the change")
	return c.withApp(cmd)
}
