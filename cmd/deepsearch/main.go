package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var cfgPath string
	root := &cobra.Command{
		Use:           "deepsearch",
		Short:         "Conversational deep research over grounded Gemini searches",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config/config.json)")

	root.AddCommand(serveCMD(&cfgPath), askCMD(&cfgPath), chatCMD(&cfgPath), tokenCMD(&cfgPath))
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
