package main

import (
	"context"
	"fmt"
	"time"

	"github.com/ashureev/contextual-writer/internal/clipboard"
	"github.com/ashureev/contextual-writer/internal/health"
	"github.com/ashureev/contextual-writer/internal/prompt"
	"github.com/spf13/cobra"
)

func newCopyCmd() *cobra.Command {
	var tmux bool
	cmd := &cobra.Command{
		Use:   "copy",
		Short: "Copy stdin to the terminal clipboard (OSC 52)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			text, err := input(cmd, "")
			if err != nil {
				return err
			}
			copier := clipboard.NewCopier(
				clipboard.OSC52{Out: cmd.OutOrStdout(), Tmux: tmux},
				clipboard.WithNotify(func(state clipboard.Indicator) {
					if state == clipboard.Copied {
						fmt.Fprintln(cmd.ErrOrStderr(), state)
					}
				}),
			)
			defer copier.Close()
			return copier.Copy(text)
		},
	}
	cmd.Flags().BoolVar(&tmux, "tmux", false, "wrap the sequence for tmux passthrough")
	return cmd
}

func newPromptsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "prompts",
		Short: "List the active prompt catalogue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, overrides, err := opts.modelSettings()
			if err != nil {
				return err
			}
			registry, err := prompt.NewRegistry(overrides, nil)
			if err != nil {
				return err
			}
			defs := registry.Definitions()
			if opts.jsonOut {
				return opts.print(cmd.OutOrStdout(), defs, "")
			}
			for _, def := range defs {
				fmt.Fprintf(cmd.OutOrStdout(), "%-24s %s\n", def.Name, def.Description)
			}
			return nil
		},
	}
}

func newHealthCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "health <addr>",
		Short: "Probe a server's gRPC health endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(commandContext(cmd), timeout)
			defer cancel()

			status, err := health.Probe(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), status)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "wait", 5*time.Second, "how long to wait for the probe")
	return cmd
}
