package cli

import (
	"github.com/spf13/cobra"

	"github.com/ScrapCrafters/scrap_layer/services/materials"
)

// NewMaterialsCommand creates the materials command.
func NewMaterialsCommand(rootOpts *RootOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "materials",
		Short: "Print the coin multiplier table",
		Long: `Print Scrap Coins per kilogram for every material. With --file, the
YAML overrides are applied over the defaults, as MATERIALS_FILE does for
scrapd.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := newOutput(rootOpts, cmd.OutOrStdout())

			table := materials.DefaultTable()
			if file != "" {
				loaded, err := materials.LoadTable(file)
				if err != nil {
					return out.Fail(ExitCommandError, "load "+file, err)
				}
				table = loaded
			}

			entries := table.Entries()
			if out.JSON() {
				return out.Data(entries)
			}
			for _, e := range entries {
				out.Printf("%-8s %3d coins/kg\n", e.ScrapType, e.CoinsPerKg)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML multiplier overrides")
	return cmd
}
