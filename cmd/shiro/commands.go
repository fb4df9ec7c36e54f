package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/shiroai/shiro/pkg/builder"
)

// ValidateCmd loads the configuration and reports the first problem.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, loader, err := cli.loadConfig(context.Background())
	if err != nil {
		return err
	}
	defer loader.Close()

	if err := builder.Validate(cfg); err != nil {
		return err
	}

	fmt.Printf("Configuration is valid (%s)\n", cli.Config)
	return nil
}

// IntegrationsCmd prints the integration catalog after configuration.
type IntegrationsCmd struct {
	All bool `help:"Include disabled integrations."`
}

func (c *IntegrationsCmd) Run(cli *CLI) error {
	cfg, loader, err := cli.loadConfig(context.Background())
	if err != nil {
		return err
	}
	defer loader.Close()

	defs, err := builder.Definitions(cfg.Integrations)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tAGENT\tTRANSPORT\tOUTPUT\tWEB SEARCH\tSTATUS")
	for _, d := range defs {
		if d.Disabled && !c.All {
			continue
		}
		transport := d.Transport()
		if transport == "" {
			transport = "-"
		}
		output := "text"
		if d.OutputType != nil {
			output = "structured"
		}
		status := "enabled"
		if d.Disabled {
			status = "disabled"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\n",
			d.Key(), d.AgentName, transport, output, d.RequiresWebSearch, status)
	}
	return w.Flush()
}
