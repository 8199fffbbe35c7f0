package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nainya/docvault/pkg/audit"
	"github.com/nainya/docvault/pkg/docerr"
)

func (c *cli) auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query, report on and verify the audit trail",
	}
	cmd.AddCommand(
		c.auditReportCmd(),
		c.auditQueryCmd(),
		c.auditVerifyCmd(),
		c.auditAccessCmd(),
		c.auditSuspiciousCmd(),
	)
	return cmd
}

// parseWindow turns --from/--to into an inclusive window. An empty --to
// means now; an empty --from means the zero time.
func parseWindow(from, to string) (time.Time, time.Time, error) {
	var start, end time.Time
	var err error
	if from != "" {
		if start, err = time.Parse(time.RFC3339, from); err != nil {
			return start, end, docerr.Validation("--from: %v", err)
		}
	}
	end = time.Now().UTC()
	if to != "" {
		if end, err = time.Parse(time.RFC3339, to); err != nil {
			return start, end, docerr.Validation("--to: %v", err)
		}
	}
	return start, end, nil
}

func (c *cli) auditReportCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "report access|security|data|system",
		Short: "Compliance report for one category over a time window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := audit.ParseReportType(args[0])
			if err != nil {
				return err
			}
			start, end, err := parseWindow(from, to)
			if err != nil {
				return err
			}
			entries, err := c.app.Audit.GenerateComplianceReport(ctxOf(cmd), start, end, rt)
			if err != nil {
				return err
			}
			if entries == nil {
				entries = []audit.Entry{}
			}
			if err := c.print(cmd.OutOrStdout(), entries); err != nil {
				return err
			}
			_, err = c.app.Audit.LogSystemEvent(ctxOf(cmd), audit.ActionAuditExported, map[string]any{
				"reportType": string(rt),
				"entries":    len(entries),
				"from":       start,
				"to":         end,
			})
			return err
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "window start, RFC 3339")
	cmd.Flags().StringVar(&to, "to", "", "window end, RFC 3339 (default now)")
	return c.withApp(cmd)
}

func (c *cli) auditQueryCmd() *cobra.Command {
	var (
		f        audit.Filter
		resource string
		result   string
		minRisk  string
		from, to string
	)
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Filter audit entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if from != "" || to != "" {
				start, end, err := parseWindow(from, to)
				if err != nil {
					return err
				}
				f.Start, f.End = start, end
			}
			f.ResourceType = audit.ResourceType(resource)
			f.Result = audit.Result(result)
			f.MinRisk = audit.RiskLevel(minRisk)
			entries, err := c.app.Audit.Query(ctxOf(cmd), f)
			if err != nil {
				return err
			}
			if entries == nil {
				entries = []audit.Entry{}
			}
			return c.print(cmd.OutOrStdout(), entries)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.UserID, "by", "", "acting user id")
	fl.StringVar(&f.Action, "action", "", "action name, e.g. version_created")
	fl.StringVar(&resource, "resource-type", "", "document, dataRoom, user or system")
	fl.StringVar(&f.ResourceID, "resource", "", "resource id")
	fl.StringVar(&result, "result", "", "success, failure or unauthorized")
	fl.StringVar(&minRisk, "min-risk", "", "low, medium, high or critical")
	fl.StringVar(&from, "from", "", "window start, RFC 3339")
	fl.StringVar(&to, "to", "", "window end, RFC 3339")
	fl.IntVar(&f.Limit, "limit", 0, "maximum entries (0 for all)")
	return c.withApp(cmd)
}

type verifyResult struct {
	Entries int    `json:"entries" yaml:"entries"`
	Intact  bool   `json:"intact" yaml:"intact"`
	Error   string `json:"error,omitempty" yaml:"error,omitempty"`
}

func (c *cli) auditVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check the audit hash chain",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res := verifyResult{Entries: c.app.Audit.Len(), Intact: true}
			verr := c.app.Audit.Verify()
			if verr != nil {
				res.Intact = false
				res.Error = verr.Error()
			}
			if err := c.print(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if verr != nil {
				return fmt.Errorf("audit trail is not intact: %w", verr)
			}
			return nil
		},
	}
	return c.withApp(cmd)
}

func (c *cli) auditAccessCmd() *cobra.Command {
	var result string
	cmd := &cobra.Command{
		Use:   "access DATAROOM",
		Short: "Record an access attempt on a data room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := c.actor()
			if err != nil {
				return err
			}
			e, err := c.app.Audit.LogDataRoomAccess(ctxOf(cmd), actor, args[0], audit.Result(result), nil)
			if e != nil {
				if perr := c.print(cmd.OutOrStdout(), e); perr != nil {
					return perr
				}
			}
			return err
		},
	}
	cmd.Flags().StringVar(&result, "result", string(audit.ResultSuccess), "success, failure or unauthorized")
	return c.withApp(cmd)
}

func (c *cli) auditSuspiciousCmd() *cobra.Command {
	var details map[string]string
	cmd := &cobra.Command{
		Use:   "suspicious DESCRIPTION",
		Short: "Record suspicious activity (dispatches a security alert)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := c.actor()
			if err != nil {
				return err
			}
			d := make(map[string]any, len(details))
			for k, v := range details {
				d[k] = v
			}
			e, err := c.app.Audit.LogSuspiciousActivity(ctxOf(cmd), actor, args[0], d)
			if e != nil {
				if perr := c.print(cmd.OutOrStdout(), e); perr != nil {
					return perr
				}
			}
			return err
		},
	}
	cmd.Flags().StringToStringVar(&details, "detail", nil, "extra detail key=value (repeatable)")
	return c.withApp(cmd)
}
