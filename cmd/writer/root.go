package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ashureev/contextual-writer/internal/config"
	"github.com/ashureev/contextual-writer/internal/flow"
	"github.com/ashureev/contextual-writer/internal/model"
	"github.com/ashureev/contextual-writer/internal/prompt"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

type options struct {
	provider string
	model    string
	baseURL  string
	apiKey   string
	prompts  string
	timeout  time.Duration
	jsonOut  bool
	verbose  bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "writer",
		Short:         "Contextual writing assistant",
		Long:          "Suggestions, continuations, revisions and plotline outlines from the terminal.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			_ = godotenv.Load()
			level := slog.LevelWarn
			if opts.verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
			return nil
		},
	}

	f := cmd.PersistentFlags()
	f.StringVar(&opts.provider, "provider", "", "model provider: openai or mock (default from MODEL_PROVIDER)")
	f.StringVar(&opts.model, "model", "", "model name (default from MODEL_NAME)")
	f.StringVar(&opts.baseURL, "base-url", "", "OpenAI-compatible base URL (default from MODEL_BASE_URL)")
	f.StringVar(&opts.apiKey, "api-key", "", "API key (default from MODEL_API_KEY)")
	f.StringVar(&opts.prompts, "prompts", "", "prompt override file (default from PROMPTS_FILE)")
	f.DurationVar(&opts.timeout, "timeout", 0, "model call timeout (default from MODEL_TIMEOUT)")
	f.BoolVar(&opts.jsonOut, "json", false, "print the raw JSON result")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging on stderr")

	cmd.AddCommand(newSuggestCmd(opts))
	cmd.AddCommand(newContinueCmd(opts))
	cmd.AddCommand(newReviseCmd(opts))
	cmd.AddCommand(newOutlineCmd(opts))
	cmd.AddCommand(newCopyCmd())
	cmd.AddCommand(newPromptsCmd(opts))
	cmd.AddCommand(newHealthCmd())
	return cmd
}

// modelSettings merges flags over the environment configuration.
func (o *options) modelSettings() (config.ModelConfig, string, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.ModelConfig{}, "", err
	}
	m := cfg.Model
	if o.provider != "" {
		m.Provider = strings.ToLower(o.provider)
	}
	if o.model != "" {
		m.Name = o.model
	}
	if o.baseURL != "" {
		m.BaseURL = o.baseURL
	}
	if o.apiKey != "" {
		m.APIKey = o.apiKey
	}
	if o.timeout > 0 {
		m.Timeout = o.timeout
	}
	overrides := cfg.Prompts.OverrideFile
	if o.prompts != "" {
		overrides = o.prompts
	}
	return m, overrides, nil
}

func (o *options) service() (*flow.Service, error) {
	m, overrides, err := o.modelSettings()
	if err != nil {
		return nil, err
	}
	registry, err := prompt.NewRegistry(overrides, slog.Default())
	if err != nil {
		return nil, err
	}
	backend, err := model.New(model.Settings{
		Provider: m.Provider,
		Model:    m.Name,
		APIKey:   m.APIKey,
		BaseURL:  m.BaseURL,
	})
	if err != nil {
		return nil, err
	}
	return flow.NewService(backend, registry, flow.WithLogger(slog.Default()), flow.WithTimeout(m.Timeout)), nil
}

func (o *options) print(w io.Writer, v any, text string) error {
	if o.jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintln(w, text)
	return err
}

// input returns the flag value, or stdin when the flag is empty or "-".
func input(cmd *cobra.Command, value string) (string, error) {
	if value != "" && value != "-" {
		return value, nil
	}
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok {
		if st, err := f.Stat(); err == nil && st.Mode()&os.ModeCharDevice != 0 {
			return "", nil
		}
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}

// readFile returns the contents of path, or "" when path is empty.
func readFile(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
