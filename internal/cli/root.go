// Package cli implements the quorum command line: a one-shot front end for
// the multi-agent pipeline.
package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	llmclient "quorum/internal/llm/client"
	"quorum/internal/pipeline"
)

// NewRootCmd builds the command tree. factory builds the model client for a
// run; nil selects the real providers.
func NewRootCmd(factory pipeline.GeneratorFactory) *cobra.Command {
	v := viper.New()
	if factory == nil {
		factory = llmclient.Factory(llmclient.Options{Title: "quorum"})
	}

	root := &cobra.Command{
		Use:   "quorum",
		Short: "Ask a question to a panel of four model agents",
		Long: `quorum plans a query, drafts four independent answers, lets every
draft be critiqued against its peers and synthesizes the refined drafts
into one final answer.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig(v)
		},
	}
	root.PersistentFlags().StringP("config", "c", "", "config file (default is ./quorum.yaml or $HOME/.config/quorum/config.yaml)")
	_ = v.BindPFlag("config", root.PersistentFlags().Lookup("config"))

	root.AddCommand(newAskCmd(v, factory), newPromptsCmd(v))
	return root
}

// Execute runs the CLI with the real providers.
func Execute(ctx context.Context) error {
	return NewRootCmd(nil).ExecuteContext(ctx)
}

func initConfig(v *viper.Viper) error {
	v.SetDefault("provider", string(llmclient.ProviderGemini))
	v.SetDefault("rps", 0.0)
	v.SetDefault("burst", 0)

	if cfgFile := v.GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("quorum")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/quorum")
	}

	v.SetEnvPrefix("QUORUM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}
