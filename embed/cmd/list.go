package cmd

import (
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/PatchLens/go-pynt/embed"
)

const listLongDescription = `List the functions and methods of each module that can be targeted with a
dotted path. A module is a name looked up in --dir (pkg reads pkg.py) or a path
to a .py file. Declarations shadowed by an earlier one of the same name and
definitions nested in other statements are not listed.`

func newListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list MODULE...",
		Short: "List targetable functions and methods",
		Long:  listLongDescription,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			decls, err := embed.NewEngine(opts.config, nil).List(cmd.Context(), args)
			if err != nil {
				return err
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"Path", "Kind", "Line", "Session"})
			table.SetBorder(false)
			table.SetCenterSeparator("")
			table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT,
				tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_CENTER})
			for _, d := range decls {
				kind := d.Kind
				if d.Async {
					kind = "async " + kind
				}
				session := ""
				if d.Injected {
					session = "injected"
				}
				table.Append([]string{d.Path, kind, strconv.Itoa(d.Line), session})
			}
			table.Render()
			return nil
		},
	}
}
