package cli

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var statsJSON bool

var deleteCmd = &cobra.Command{
	Use:   "delete <file_id>",
	Short: "Remove an indexed catalog file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.indexer.DeleteFile(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d entries of %s\n", n, args[0])
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show catalog and index statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.indexer.Stats(cmd.Context())
		if err != nil {
			return err
		}
		files, err := a.indexer.ListFiles(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if statsJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				Stats any      `json:"stats"`
				Files []string `json:"files"`
			}{stats, files})
		}

		fmt.Fprintf(out, "Backend:   %s\n", a.cfg.Index.Backend)
		fmt.Fprintf(out, "Embedder:  %s (%s, dim %d)\n", a.embedder.ModelName(), a.cfg.Embedding.Provider, a.embedder.Dimension())
		fmt.Fprintf(out, "Files:     %d\n", stats.Files)
		fmt.Fprintf(out, "Entries:   %d\n", stats.Entries)
		fmt.Fprintf(out, "Vectors:   %d\n", stats.Vectors)
		fmt.Fprintf(out, "Pending:   %d\n", stats.Pending)
		if a.cache != nil {
			hits, misses := a.cache.Stats()
			fmt.Fprintf(out, "Cache:     %d hits, %d misses\n", hits, misses)
		}

		stores := make([]string, 0, len(stats.ByStore))
		for s := range stats.ByStore {
			stores = append(stores, s)
		}
		sort.Strings(stores)
		if len(stores) > 0 {
			fmt.Fprintln(out, "\nEntries by store:")
			for _, s := range stores {
				fmt.Fprintf(out, "  %-12s %d\n", displayStore(s), stats.ByStore[s])
			}
		}
		return nil
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Retry vector writes for entries left pending",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.indexer.RetryPending(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Reconciled %d entries, %d still pending\n", report.Indexed, report.Failed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd, statsCmd, reconcileCmd)
	statsCmd.Flags().BoolVar(&statsJSON, "json", false, "output as JSON")
}
