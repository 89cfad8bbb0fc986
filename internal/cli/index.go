package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"shelfcheck/internal/domain"
	"shelfcheck/internal/port"
)

var (
	indexForce   bool
	indexFileID  string
	indexVerbose bool
)

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Index catalog row files",
	Long: `Index catalog row files into the catalog store and the vector index.
A directory is walked with the configured include/exclude globs and each file
is indexed under its path relative to the directory. Re-indexing a file
replaces its previous contents.

Row files are JSON: either an array of rows or {"store_id": ..., "rows": [...]},
where a row is {"name", "price", "store_id", "code", "category", "presentation"}.

Examples:
  shelfcheck index ./catalogs             # Index a directory
  shelfcheck index lala.json --id lala    # Index one file under an explicit ID
  shelfcheck index ./catalogs --force     # Drop everything and rebuild`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.Flags().BoolVar(&indexForce, "force", false, "clear the whole index before indexing")
	indexCmd.Flags().StringVar(&indexFileID, "id", "", "file ID to use when indexing a single file")
	indexCmd.Flags().BoolVarP(&indexVerbose, "verbose", "v", false, "list every row error")
}

func runIndex(cmd *cobra.Command, args []string) error {
	path := GetRootDir()
	if len(args) > 0 {
		var err error
		path, err = filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("invalid path: %w", err)
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("path does not exist: %w", err)
	}

	a, err := openApp(cmd, appOptions{rebuild: indexForce})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	start := time.Now()

	if !info.IsDir() {
		rows, err := a.source.ReadRows(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		fileID := indexFileID
		if fileID == "" {
			fileID = filepath.Base(path)
		}
		report, err := a.indexer.IndexCatalog(ctx, rows, fileID)
		if err != nil {
			return fmt.Errorf("indexing failed: %w", err)
		}
		printReports(cmd, []*domain.IndexReport{report}, 0, time.Since(start))
		return nil
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Scanning %s...\n", path)
	files, err := a.source.Walk(path)
	if err != nil {
		return fmt.Errorf("failed to walk directory: %w", err)
	}
	if len(files) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No row files found.")
		return nil
	}

	bar := progressbar.NewOptions(len(files),
		progressbar.OptionSetWriter(cmd.ErrOrStderr()),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetDescription("[cyan]Indexing[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(cmd.ErrOrStderr())
		}),
	)

	unreadable := 0
	reports, err := a.indexer.IndexDir(ctx, path, func(f port.FileInfo, _ *domain.IndexReport, err error) {
		if err != nil {
			unreadable++
		}
		bar.Describe(fmt.Sprintf("[cyan]Indexing[reset] %s", f.RelPath))
		_ = bar.Add(1)
	})
	_ = bar.Finish()
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}

	printReports(cmd, reports, unreadable, time.Since(start))
	return nil
}

func printReports(cmd *cobra.Command, reports []*domain.IndexReport, unreadable int, elapsed time.Duration) {
	out := cmd.OutOrStdout()
	indexed, failed := 0, 0
	for _, r := range reports {
		indexed += r.Indexed
		failed += r.Failed
	}

	fmt.Fprintf(out, "\nIndexing complete:\n")
	fmt.Fprintf(out, "  Files indexed:  %d\n", len(reports))
	if unreadable > 0 {
		fmt.Fprintf(out, "  Files skipped:  %d (unreadable)\n", unreadable)
	}
	fmt.Fprintf(out, "  Rows indexed:   %d\n", indexed)
	fmt.Fprintf(out, "  Rows failed:    %d\n", failed)
	fmt.Fprintf(out, "  Took:           %s\n", formatDuration(elapsed))

	if failed == 0 {
		return
	}
	fmt.Fprintf(out, "\nRow errors:\n")
	for _, r := range reports {
		for i, e := range r.Errors {
			if !indexVerbose && i >= 5 {
				fmt.Fprintf(out, "  %s: %d more (use -v to list all)\n", r.FileID, len(r.Errors)-i)
				break
			}
			fmt.Fprintf(out, "  %s row %d [%s]: %s\n", r.FileID, e.Row, e.Kind, e.Message)
		}
	}
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
