package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"shelfcheck/internal/domain"
)

var (
	matchStore     string
	matchThreshold float64
	matchJSON      bool
)

var matchCmd = &cobra.Command{
	Use:   "match <name>",
	Short: "Match a product name against the catalog",
	Long: `Match a product name as read off a shelf label and show the top catalog
candidates with their similarity.

Examples:
  shelfcheck match "LECHE LALA 1L" --store 810
  shelfcheck match "coca cola 600ml" --threshold 0.8 --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runMatch,
}

func init() {
	rootCmd.AddCommand(matchCmd)
	matchCmd.Flags().StringVarP(&matchStore, "store", "s", "", "store ID (default: all stores)")
	matchCmd.Flags().Float64VarP(&matchThreshold, "threshold", "t", -1, "similarity threshold (default from config)")
	matchCmd.Flags().BoolVar(&matchJSON, "json", false, "output as JSON")
}

func runMatch(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	threshold := a.matcher.Threshold()
	if matchThreshold >= 0 {
		if matchThreshold > 1 {
			return fmt.Errorf("threshold must be within [0,1], got %v", matchThreshold)
		}
		threshold = matchThreshold
	}

	name := strings.Join(args, " ")
	res := a.matcher.Match(cmd.Context(), domain.ExtractedItem{RawName: name}, matchStore, threshold)

	out := cmd.OutOrStdout()
	if matchJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	fmt.Fprintf(out, "Query: %q (store %s, threshold %.2f)\n", name, displayStore(matchStore), threshold)
	if res.Err != nil {
		fmt.Fprintf(out, "Error: %v\n", res.Err)
	}
	if res.Decision == domain.Matched {
		fmt.Fprintf(out, "MATCHED %s  $%s  (%.4f)\n", res.MatchedEntry.CanonicalName, res.MatchedEntry.Price.StringFixed(2), res.Similarity)
	} else {
		fmt.Fprintln(out, "NO_MATCH")
	}

	if len(res.Candidates) > 0 {
		fmt.Fprintln(out, "\nCandidates:")
		for i, c := range res.Candidates {
			fmt.Fprintf(out, "  %d. [%.4f] %-44s $%-9s store=%s file=%s\n",
				i+1, c.Similarity, c.Entry.CanonicalName, c.Entry.Price.StringFixed(2), displayStore(c.Entry.StoreID), c.Entry.SourceFileID)
		}
	}
	return nil
}

func displayStore(id string) string {
	if id == "" {
		return "*"
	}
	return id
}
