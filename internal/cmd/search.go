package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/greenforestpath/meta-skill-sub001/internal/appctx"
	"github.com/greenforestpath/meta-skill-sub001/internal/search"
	"github.com/greenforestpath/meta-skill-sub001/internal/skill"
)

var (
	searchLimit      int
	searchLayer      string
	searchTags       []string
	searchMinQuality float64
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Hybrid BM25 + semantic search over indexed skills",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().IntVar(&searchLimit, "limit", 10, "maximum results")
	searchCmd.Flags().StringVar(&searchLayer, "layer", "", "restrict to one layer")
	searchCmd.Flags().StringSliceVar(&searchTags, "tags", nil, "any-match tag filter")
	searchCmd.Flags().Float64Var(&searchMinQuality, "min-quality", 0, "minimum quality score")
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	app, err := appctx.Open(cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	filter := search.Filter{
		Layer:      skill.Layer(searchLayer),
		Tags:       searchTags,
		MinQuality: searchMinQuality,
	}
	weights := search.Weights{BM25: cfg.Search.BM25Weight, Semantic: cfg.Search.SemanticWeight}

	results, err := app.Search.Search(cmd.Context(), args[0], searchLimit, weights, filter)
	if err != nil {
		return err
	}

	return render(cmd.OutOrStdout(), cfg, results, nil, func(w io.Writer) error {
		tw := tabwriter.NewWriter(w, 0, 2, 2, ' ', 0)
		fmt.Fprintln(tw, "SCORE\tLAYER\tSKILL")
		for _, r := range results {
			fmt.Fprintf(tw, "%.4f\t%s\t%s\n", r.Score, r.Layer, r.SkillID)
		}
		return tw.Flush()
	})
}
