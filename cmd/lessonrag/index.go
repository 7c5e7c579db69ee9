package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/lessonrag/internal/chunker"
	"github.com/dshills/lessonrag/internal/indexer"
	"github.com/dshills/lessonrag/pkg/types"
)

var (
	indexLesson        string
	indexCourse        string
	indexRecent        int
	indexDryRun        bool
	indexForce         bool
	indexMaxChars      int
	indexMaxEmbeddings int
	indexConcurrency   int
	indexRetryAttempts int
	indexSkipUnchanged bool
	indexCountTokens   bool
	indexPurge         bool
	indexJSON          bool
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Chunk, embed and store lessons",
	Long: `Indexes the lessons picked by exactly one of --lesson, --course or --recent.

Chunks whose content hash is unchanged are skipped, so rerunning after an
edit only embeds what changed. Provider calls, retries included, are capped
by --max-embeddings for the whole run; when the cap is hit the run stops with
"budget exhausted" and the next run resumes from there.

Examples:
  lessonrag index --course go-101
  lessonrag index --recent 20 --skip-unchanged
  lessonrag index --lesson l-7 --dry-run --count-tokens
  lessonrag index --lesson l-7 --purge`,
	Args: cobra.NoArgs,
	RunE: runIndex,
}

func init() {
	f := indexCmd.Flags()
	f.StringVar(&indexLesson, "lesson", "", "index a single lesson")
	f.StringVar(&indexCourse, "course", "", "index every lesson of a course")
	f.IntVar(&indexRecent, "recent", 0, "index the N most recently updated lessons")
	f.BoolVar(&indexDryRun, "dry-run", false, "report what would be embedded without writing")
	f.BoolVar(&indexForce, "force", false, "re-embed unchanged chunks")
	f.IntVar(&indexMaxChars, "max-chars", 0, "maximum characters per chunk (0 = config)")
	f.IntVar(&indexMaxEmbeddings, "max-embeddings", 0, "provider call budget for the run (0 = config)")
	f.IntVar(&indexConcurrency, "concurrency", 0, "concurrent embedding calls, 1-5 (0 = config)")
	f.IntVar(&indexRetryAttempts, "retry-attempts", 0, "provider calls per chunk, 1-10 (0 = config)")
	f.BoolVar(&indexSkipUnchanged, "skip-unchanged", false, "skip lessons whose embeddings are newer than the lesson; a lesson left partly embedded by a failed or budget-stopped run needs a rerun without this flag")
	f.BoolVar(&indexCountTokens, "count-tokens", false, "project dry-run tokens with the model's BPE encoding (ignored without --dry-run)")
	f.BoolVar(&indexPurge, "purge", false, "remove every embedding of --lesson instead of indexing")
	f.BoolVar(&indexJSON, "json", false, "output the run result as JSON")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, _ []string) error {
	if indexPurge && indexLesson == "" {
		return errors.New("--purge requires --lesson")
	}
	sel := indexer.Selector{LessonID: indexLesson, CourseID: indexCourse, Recent: indexRecent}
	if err := sel.Validate(); err != nil {
		return err
	}

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := openApp(cmd.Context(), cfg, logger, nil)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	out := cmd.OutOrStdout()
	if indexPurge {
		n, err := a.indexer.Purge(cmd.Context(), indexLesson)
		if err != nil {
			return fmt.Errorf("purge failed: %w", err)
		}
		_, _ = fmt.Fprintf(out, "Removed %d embeddings for lesson %s\n", n, indexLesson)
		return nil
	}

	opts := cfg.IndexOptions()
	opts.DryRun = indexDryRun
	opts.Force = indexForce
	opts.SkipUnchangedLessons = opts.SkipUnchangedLessons || indexSkipUnchanged
	overrideInt(&opts.MaxChars, indexMaxChars)
	overrideInt(&opts.MaxEmbeddingsPerRun, indexMaxEmbeddings)
	overrideInt(&opts.Concurrency, indexConcurrency)
	overrideInt(&opts.RetryAttempts, indexRetryAttempts)

	counter, err := dryRunTokenCounter(opts.DryRun, indexCountTokens, cfg.Indexing.TokenModel, a.client.Model())
	if err != nil {
		return err
	}
	opts.TokenCounter = counter

	result, err := a.indexer.Run(cmd.Context(), sel, opts)
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}

	if indexJSON {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		_, _ = fmt.Fprintln(out, string(data))
		return nil
	}
	printRunResult(out, result)
	return nil
}

func overrideInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func printRunResult(w io.Writer, r *types.RunResult) {
	mode := ""
	if r.DryRun {
		mode = " (dry run)"
	}
	_, _ = fmt.Fprintf(w, "Run %s%s\n", r.RunID, mode)
	_, _ = fmt.Fprintf(w, "  Lessons:  %d selected, %d processed, %d unchanged\n",
		r.LessonsSelected, r.LessonsProcessed, r.LessonsUnchanged)
	_, _ = fmt.Fprintf(w, "  Chunks:   %d total, %d embedded, %d skipped, %d deleted, %d failed, %d deferred\n",
		r.Total, r.Embedded, r.Skipped, r.Deleted, r.Failed, r.Deferred)
	if r.DryRun {
		_, _ = fmt.Fprintf(w, "  Tokens:   %d projected\n", r.ProjectedTokens)
	}
	if r.StoppedReason != types.StopNone {
		_, _ = fmt.Fprintf(w, "  Stopped:  %s\n", r.StoppedReason)
	}
	_, _ = fmt.Fprintf(w, "  Duration: %s\n", r.Duration.Round(time.Millisecond))
	for _, e := range r.Errors {
		_, _ = fmt.Fprintf(w, "  Error:    %s\n", e.String())
	}
}

// dryRunTokenCounter loads the BPE encoding only for dry runs that asked for
// token counts, either by flag or through indexing.token_model.
func dryRunTokenCounter(dryRun, countTokens bool, tokenModel, clientModel string) (chunker.TokenCounter, error) {
	if !dryRun || (!countTokens && tokenModel == "") {
		return nil, nil
	}
	model := tokenModel
	if model == "" {
		model = clientModel
	}
	counter, err := chunker.NewTiktokenCounter(model)
	if err != nil {
		return nil, err
	}
	return counter, nil
}
