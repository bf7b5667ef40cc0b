package main

import (
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
)

func askCMD(cfgPath *string) *cobra.Command {
	var flags researchFlags
	ask := &cobra.Command{
		Use:   "ask <query>",
		Short: "Research a single question and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			term, err := newTerminal(*cfgPath, &flags, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer term.close()
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return term.ask(ctx, strings.Join(args, " "))
		},
	}
	flags.register(ask)
	return ask
}
