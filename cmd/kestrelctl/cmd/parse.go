package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/kestrel/internal/export"
	"github.com/opensource-finance/kestrel/internal/fees"
	"github.com/opensource-finance/kestrel/internal/formula"
)

var parseVolume string

var parseCmd = &cobra.Command{
	Use:   "parse <formula>",
	Short: "Preview the parameters of a percentage formula",
	Example: `  kestrelctl parse "0,03% sobre o volume, mínimo de R$ 800"
  kestrelctl parse "0,05% a.a., mínimo de R$ 1.000 e máximo de R$ 50.000" --volume 10.000.000`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p := formula.Parse(args[0])

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintf(tw, "Taxa\t%g\n", p.Rate)
		fmt.Fprintf(tw, "Mínimo\t%s\n", export.FormatBRL(p.Minimum))
		if p.Unbounded() {
			fmt.Fprintf(tw, "Máximo\tsem limite\n")
		} else {
			fmt.Fprintf(tw, "Máximo\t%s\n", export.FormatBRL(p.Maximum))
		}

		if parseVolume != "" {
			volume := formula.ParseAmount(parseVolume)
			if volume < 0 {
				return fmt.Errorf("volume must not be negative")
			}
			fmt.Fprintf(tw, "Volume\t%s\n", export.FormatBRL(volume))
			fmt.Fprintf(tw, "Valor\t%s\n", export.FormatBRL(fees.ComputePercentageCost(volume, args[0])))
		}
		return tw.Flush()
	},
}

func init() {
	parseCmd.Flags().StringVar(&parseVolume, "volume", "", "apply the formula to this volume")
}
