package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/PatchLens/go-pynt/embed"
)

func newShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show NAMESPACE",
		Short: "Print the diff of the injection without changing the module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.config.Namespace = args[0]
			engine := embed.NewEngine(opts.config, nil)
			diff, err := engine.Show(cmd.Context())
			if err != nil {
				return err
			} else if diff == "" {
				_, err = fmt.Fprintf(cmd.ErrOrStderr(), "%s already starts a session\n", args[0])
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), diff)
			return err
		},
	}
}
