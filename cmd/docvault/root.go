package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nainya/docvault/internal/app"
	"github.com/nainya/docvault/internal/config"
	"github.com/nainya/docvault/pkg/audit"
	"github.com/nainya/docvault/pkg/docerr"
)

const cliVersion = "0.3.0"

// cli holds state shared by all commands of one invocation
type cli struct {
	configPath string
	output     string
	user       string

	cfg config.Config
	app *app.App
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "docvault",
		Short:         "Document version control, locking and compliance audit",
		Version:       cliVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "config file (default $"+config.EnvPath+")")
	root.PersistentFlags().StringVarP(&c.output, "output", "o", "json", "output format: json or yaml")
	root.PersistentFlags().StringVarP(&c.user, "user", "u", os.Getenv("DOCVAULT_USER"), "acting principal (default $DOCVAULT_USER)")

	root.AddCommand(
		c.versionCmd(),
		c.lockCmd(),
		c.conflictsCmd(),
		c.auditCmd(),
		c.policyCmd(),
		c.serveCmd(),
		c.configCmd(),
	)
	return root
}

// open loads the config and wires the services. Commands call it from
// PreRunE so that help and flag errors never touch the data directory.
func (c *cli) open(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	c.cfg = cfg

	a, err := app.New(cmd.Context(), cfg, app.Options{})
	if err != nil {
		return err
	}
	c.app = a

	cmd.SetContext(audit.WithRequestInfo(cmd.Context(), audit.RequestInfo{
		UserAgent: "docvault-cli/" + cliVersion,
		SessionID: uuid.NewString(),
	}))
	return nil
}

func (c *cli) close(*cobra.Command, []string) error {
	if c.app == nil {
		return nil
	}
	err := c.app.Close()
	c.app = nil
	return err
}

// withApp marks cmd as needing the wired services
func (c *cli) withApp(cmd *cobra.Command) *cobra.Command {
	cmd.PreRunE = c.open
	cmd.PostRunE = c.close
	run := cmd.RunE
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		err := run(cmd, args)
		if err != nil {
			// PostRunE is skipped when RunE fails
			c.close(cmd, args)
		}
		return err
	}
	return cmd
}

func (c *cli) actor() (string, error) {
	if c.user == "" {
		return "", docerr.Validation("--user (or DOCVAULT_USER) is required")
	}
	return c.user, nil
}

func (c *cli) print(w io.Writer, v any) error {
	switch c.output {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case "json", "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		return docerr.Validation("unknown output format %q", c.output)
	}
}

func ctxOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// readContent returns --file contents, or --content when no file is given
func readContent(path, inline string) ([]byte, error) {
	if path == "" {
		return []byte(inline), nil
	}
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read content: %w", err)
	}
	return data, nil
}
