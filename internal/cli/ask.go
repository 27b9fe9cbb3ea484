package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"quorum/internal/gateway/repository/conversation"
	llmclient "quorum/internal/llm/client"
	llm "quorum/internal/llm/middleware"
	"quorum/internal/pipeline"
	"quorum/internal/prompts"
)

func newAskCmd(v *viper.Viper, factory pipeline.GeneratorFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask [query...]",
		Short: "Run the pipeline for one query",
		Long: `Run the four-stage pipeline for one query. Stage labels go to stderr and
the final answer to stdout. With no arguments the query is read from stdin.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, v, factory, args)
		},
	}
	cmd.Flags().String("provider", "", "model provider (gemini, openai, openrouter)")
	cmd.Flags().String("model", "", "model name (default depends on the provider)")
	cmd.Flags().String("api-key", "", "credential for the provider (default reads the provider's *_API_KEY)")
	cmd.Flags().String("prompts", "", "YAML file overriding the role prompts")
	cmd.Flags().String("history", "", "JSON file with earlier turns ([{role,text}] or a gateway messages export)")
	cmd.Flags().Float64("rps", 0, "max model requests per second (0 disables)")
	cmd.Flags().Int("burst", 0, "rate limiter burst")
	cmd.Flags().Bool("verbose", false, "log every model request to stderr")
	for _, name := range []string{"provider", "model", "api-key", "prompts", "history", "rps", "burst", "verbose"} {
		_ = v.BindPFlag(strings.ReplaceAll(name, "-", "_"), cmd.Flags().Lookup(name))
	}
	return cmd
}

func runAsk(cmd *cobra.Command, v *viper.Viper, factory pipeline.GeneratorFactory, args []string) error {
	query := strings.Join(args, " ")
	if len(args) == 0 {
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read query from stdin: %w", err)
		}
		query = string(b)
	}

	provider, err := llmclient.ParseProvider(v.GetString("provider"))
	if err != nil {
		return err
	}
	key := strings.TrimSpace(v.GetString("api_key"))
	if key == "" {
		key = strings.TrimSpace(os.Getenv(provider.CredentialEnv()))
	}
	cfg := llmclient.Settings{
		Provider: provider,
		Model:    v.GetString("model"),
		Keys:     map[llmclient.Provider]string{provider: key},
	}.ProviderConfig()

	set, err := prompts.Load(v.GetString("prompts"))
	if err != nil {
		return err
	}
	history, err := loadHistory(v.GetString("history"))
	if err != nil {
		return err
	}

	stderr := cmd.ErrOrStderr()
	logger := log.New(io.Discard, "", 0)
	mws := []llm.Middleware{llm.RateLimit(v.GetFloat64("rps"), v.GetInt("burst"))}
	if v.GetBool("verbose") {
		logger = log.New(stderr, "quorum: ", log.LstdFlags)
		mws = append(mws, llm.WithLogging(logger))
	}
	orch := pipeline.New(factory, set, pipeline.WithMiddleware(mws...), pipeline.WithLogger(logger))

	sink := pipeline.SinkFuncs{
		OnProgress: func(ev pipeline.StageEvent) {
			fmt.Fprintln(stderr, ev.Label)
		},
	}
	answer, err := orch.Run(cmd.Context(), pipeline.Request{History: history, Query: query, Config: cfg}, sink)
	if err != nil {
		if errors.Is(err, pipeline.ErrEmptyQuery) {
			return fmt.Errorf("a query is required")
		}
		return errors.New(llmclient.ErrorMessage(err))
	}
	fmt.Fprintln(cmd.OutOrStdout(), answer)
	return nil
}

// loadHistory reads either a bare turn list or the body of
// GET /api/sessions/{id}/messages, whose failed exchanges are dropped.
func loadHistory(path string) ([]llmclient.Turn, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read history %s: %w", path, err)
	}
	trimmed := strings.TrimSpace(string(b))
	if strings.HasPrefix(trimmed, "[") {
		var turns []llmclient.Turn
		if err := json.Unmarshal(b, &turns); err != nil {
			return nil, fmt.Errorf("parse history %s: %w", path, err)
		}
		for i, t := range turns {
			if t.Role != llmclient.RoleUser && t.Role != llmclient.RoleAssistant {
				return nil, fmt.Errorf("history %s: turn %d has unknown role %q", path, i, t.Role)
			}
		}
		return turns, nil
	}
	var export struct {
		Messages []conversation.Message `json:"messages"`
	}
	if err := json.Unmarshal(b, &export); err != nil {
		return nil, fmt.Errorf("parse history %s: %w", path, err)
	}
	return conversation.History(export.Messages), nil
}
