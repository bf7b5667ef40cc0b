package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mohammad-safakhou/deepsearch/config"
	"github.com/mohammad-safakhou/deepsearch/internal/agent/core"
	"github.com/mohammad-safakhou/deepsearch/internal/logger"
	"github.com/mohammad-safakhou/deepsearch/internal/render"
	"github.com/mohammad-safakhou/deepsearch/internal/session"
	"github.com/mohammad-safakhou/deepsearch/provider"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// researchFlags are shared by ask and chat.
type researchFlags struct {
	apiKey  string
	model   string
	style   string
	width   int
	noColor bool
}

func (f *researchFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.apiKey, "api-key", "", "Gemini API key (default llm.api_key, then GEMINI_API_KEY)")
	cmd.Flags().StringVarP(&f.model, "model", "m", "", "model id (default llm.default_model)")
	cmd.Flags().StringVar(&f.style, "style", "", "glamour style: dark, light, notty (default auto)")
	cmd.Flags().IntVar(&f.width, "width", 100, "word wrap width")
	cmd.Flags().BoolVar(&f.noColor, "no-color", false, "disable colored status lines")
}

// resolveCredential picks the flag, then the configured key, then GEMINI_API_KEY.
func resolveCredential(flag string, cfg *config.Config) string {
	if k := strings.TrimSpace(flag); k != "" {
		return k
	}
	if k := strings.TrimSpace(cfg.LLM.APIKey); k != "" {
		return k
	}
	return strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
}

// terminal holds one CLI conversation and its presentation.
type terminal struct {
	orch       *core.Orchestrator
	credential string
	model      string
	out        io.Writer
	status     *render.StatusPrinter
	markdown   *render.Markdown
	log        *zap.Logger
}

func newTerminal(cfgPath string, f *researchFlags, out io.Writer) (*terminal, error) {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}
	log := logger.NewFileOnly(cfg.General)
	gw, err := provider.NewGateway(cfg.LLM)
	if err != nil {
		return nil, err
	}
	md, err := render.NewMarkdown(f.style, f.width)
	if err != nil {
		return nil, fmt.Errorf("markdown renderer: %w", err)
	}
	return &terminal{
		orch:       session.NewFactory(cfg, gw, nil, nil, log)("cli"),
		credential: resolveCredential(f.apiKey, cfg),
		model:      f.model,
		out:        out,
		status:     render.NewStatusPrinter(out, f.noColor),
		markdown:   md,
		log:        log,
	}, nil
}

// ask runs one query, streaming status lines until the answer is ready.
func (t *terminal) ask(ctx context.Context, query string) error {
	events, cancel := t.orch.Tracker().Subscribe(128)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		for ev := range events {
			t.status.Print(ev)
		}
	}()

	run, err := t.orch.Start(ctx, core.RunRequest{Query: query, Credential: t.credential, Model: t.model})
	if err != nil {
		cancel()
		<-printed
		return err
	}
	res, err := run.Wait()
	cancel()
	<-printed

	if err != nil {
		t.log.Warn("run failed", zap.String("run_id", run.ID), zap.String("kind", provider.Classify(err)), zap.Error(err))
		return err
	}
	fmt.Fprintln(t.out)
	fmt.Fprint(t.out, t.markdown.Render(res.Answer))
	return nil
}

func (t *terminal) close() {
	_ = t.log.Sync()
}
