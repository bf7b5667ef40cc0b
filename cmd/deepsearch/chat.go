package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/mohammad-safakhou/deepsearch/internal/agent/core"
	"github.com/spf13/cobra"
)

const chatHelp = "Commands: /reset clears the conversation, /history prints it, /quit exits."

func chatCMD(cfgPath *string) *cobra.Command {
	var flags researchFlags
	chat := &cobra.Command{
		Use:   "chat",
		Short: "Interactive research conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			term, err := newTerminal(*cfgPath, &flags, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer term.close()
			return term.repl(cmd.Context(), cmd.InOrStdin())
		},
	}
	flags.register(chat)
	return chat
}

// repl reads one query per line. Errors from a run are shown and the
// conversation continues; the failed turn stays in history.
func (t *terminal) repl(ctx context.Context, in io.Reader) error {
	fmt.Fprintln(t.out, chatHelp)
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(t.out, "\n> ")
		if !scanner.Scan() {
			fmt.Fprintln(t.out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/reset":
			t.orch.Reset()
			fmt.Fprintln(t.out, "Conversation cleared.")
			continue
		case "/history":
			t.printHistory()
			continue
		case "/help":
			fmt.Fprintln(t.out, chatHelp)
			continue
		}
		if err := t.ask(ctx, line); err != nil {
			fmt.Fprintln(t.out, "error:", err)
		}
	}
}

func (t *terminal) printHistory() {
	turns := t.orch.Store().Turns()
	if len(turns) == 0 {
		fmt.Fprintln(t.out, "(empty)")
		return
	}
	for _, turn := range turns {
		label := "User"
		if turn.Role == core.RoleModel {
			label = "Model"
		}
		fmt.Fprintf(t.out, "%s: %s\n", label, turn.Content)
	}
}
