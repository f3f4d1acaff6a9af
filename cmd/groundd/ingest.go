package main

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/groundd/internal/ingestion"
)

var (
	ingestProject string
	ingestExclude []string
	ingestMaxSize int64
	ingestWatch   bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file|dir>",
	Short: "Index local files into a project",
	Long: `Extract, chunk and embed local files into a project's collection.

A directory is walked recursively. Hidden and dependency directories are
skipped, as is anything matched by --exclude or by a .groundignore file at
the root. Only extractable formats are picked up.

With --watch the directory stays indexed: changed files are re-ingested as
new documents and removed files are deleted from the project.

Examples:
  groundd ingest handbook.pdf --project 3f2c
  groundd ingest ./docs --project 3f2c --exclude "drafts/**" --exclude "*.csv"
  groundd ingest ./docs --project 3f2c --watch`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestProject, "project", "p", "", "project id (required)")
	ingestCmd.Flags().StringSliceVarP(&ingestExclude, "exclude", "e", nil, "glob patterns to skip")
	ingestCmd.Flags().Int64Var(&ingestMaxSize, "max-size", 0, "skip files larger than this many bytes (default 10MB)")
	ingestCmd.Flags().BoolVarP(&ingestWatch, "watch", "w", false, "keep watching the directory for changes")
	_ = ingestCmd.MarkFlagRequired("project")
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(cmd.Context()) }()

	project, err := a.store.GetProject(ctx, ingestProject)
	if err != nil {
		return err
	}
	if project.Archived {
		return fmt.Errorf("project %s is archived", project.ID)
	}

	opts := ingestion.WalkOptions{MaxFileSize: ingestMaxSize, Exclude: ingestExclude}
	res, err := a.pipeline.IngestFiles(ctx, project.ID, args[0], opts)
	if res != nil {
		printFilesResult(cmd, res)
	}
	if err != nil {
		return err
	}

	if !ingestWatch {
		if len(res.Failed) > 0 {
			return fmt.Errorf("%d file(s) failed", len(res.Failed))
		}
		return nil
	}

	w, err := a.pipeline.NewWatcher(project.ID, args[0], opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Watching %s (Ctrl+C to stop)\n", args[0])
	return w.Run(ctx)
}

func printFilesResult(cmd *cobra.Command, res *ingestion.FilesResult) {
	out := cmd.OutOrStdout()
	for _, doc := range res.Ingested {
		fmt.Fprintf(out, "  %-36s  %-8s  %s\n", doc.ID, doc.Status, doc.Path)
	}
	failed := make([]string, 0, len(res.Failed))
	for path := range res.Failed {
		failed = append(failed, path)
	}
	sort.Strings(failed)
	for _, path := range failed {
		fmt.Fprintf(out, "  FAILED %s: %v\n", path, res.Failed[path])
	}
	fmt.Fprintf(out, "Ingested %d file(s) from %s in %s", len(res.Ingested), res.Root, res.Duration.Round(time.Millisecond))
	if len(failed) > 0 {
		fmt.Fprintf(out, ", %d failed", len(failed))
	}
	fmt.Fprintln(out)
}
