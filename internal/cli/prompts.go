package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"quorum/internal/prompts"
)

func newPromptsCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prompts",
		Short: "Print the effective role prompts as YAML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := v.GetString("prompts")
			if f := cmd.Flags().Lookup("prompts"); f.Changed {
				path = f.Value.String()
			}
			set, err := prompts.Load(path)
			if err != nil {
				return err
			}
			out, err := set.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.Flags().String("prompts", "", "YAML file overriding the role prompts")
	return cmd
}
