// Command shotlocker manages lockers, edits and edit access from the
// command line, against the backends named by the environment.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/tendant/shotlocker/pkg/shotlocker/config"
	"gopkg.in/yaml.v3"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	_ = godotenv.Load()

	c := &cli{build: buildFromEnv}
	rootCmd := NewRootCommand(c)
	err := rootCmd.Execute()
	c.close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func buildFromEnv(ctx context.Context) (*config.Runtime, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg.BuildService(ctx)
}

// cli holds state shared by every subcommand
type cli struct {
	build  func(ctx context.Context) (*config.Runtime, error)
	rt     *config.Runtime
	output string
}

// runtime builds the service on first use.
func (c *cli) runtime(ctx context.Context) (*config.Runtime, error) {
	if c.rt != nil {
		return c.rt, nil
	}
	rt, err := c.build(ctx)
	if err != nil {
		return nil, err
	}
	c.rt = rt
	return rt, nil
}

func (c *cli) close() {
	if c.rt != nil {
		c.rt.Close()
		c.rt = nil
	}
}

// print writes v to w in the selected output format.
func (c *cli) print(w io.Writer, v any) error {
	switch c.output {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported output format: %s", c.output)
	}
}

// NewRootCommand creates the shotlocker command tree
func NewRootCommand(c *cli) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "shotlocker",
		Short: "Per-edit, time-bounded access to media in S3 buckets",
		Long: `ShotLocker command line interface

Manages lockers (buckets), edits (uploaded timelines) and the principals
allowed to read an edit's media. Backends are selected by environment
variables; run "shotlocker env" to list them.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&c.output, "output", "o", "yaml", "output format: yaml or json")

	rootCmd.AddCommand(newLockersCommand(c))
	rootCmd.AddCommand(newEditsCommand(c))
	rootCmd.AddCommand(newAccessCommand(c))
	rootCmd.AddCommand(newExpandCommand(c))
	rootCmd.AddCommand(newConformCommand(c))
	rootCmd.AddCommand(newTagCommand(c))
	rootCmd.AddCommand(newClearTagsCommand(c))
	rootCmd.AddCommand(newEnvCommand())
	return rootCmd
}
