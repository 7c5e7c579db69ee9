package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/lessonrag/internal/storage"
)

var (
	retrieveCourses []string
	retrieveLesson  string
	retrieveTopK    int
	retrieveJSON    bool
)

var retrieveCmd = &cobra.Command{
	Use:   "retrieve [query]",
	Short: "Find the lesson chunks closest to a query",
	Long: `Embeds the query and returns the nearest stored chunks, closest first.

Only chunks of the courses given with --course are searched; without any
course nothing is returned.`,
	Args: cobra.ExactArgs(1),
	RunE: runRetrieve,
}

func init() {
	retrieveCmd.Flags().StringSliceVar(&retrieveCourses, "course", nil, "course IDs to search (repeatable or comma-separated)")
	retrieveCmd.Flags().StringVar(&retrieveLesson, "lesson", "", "restrict results to one lesson")
	retrieveCmd.Flags().IntVarP(&retrieveTopK, "top-k", "k", 0, "maximum number of results (0 = config)")
	retrieveCmd.Flags().BoolVar(&retrieveJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(retrieveCmd)
}

func runRetrieve(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := openApp(cmd.Context(), cfg, logger, nil)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	topK := cfg.Retrieval.TopK
	overrideInt(&topK, retrieveTopK)

	scope := storage.Scope{CourseIDs: retrieveCourses, LessonID: retrieveLesson}
	results, err := a.retriever.Retrieve(cmd.Context(), args[0], scope, topK)
	if err != nil {
		return fmt.Errorf("retrieval failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if retrieveJSON {
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal results: %w", err)
		}
		_, _ = fmt.Fprintln(out, string(data))
		return nil
	}

	if len(results) == 0 {
		_, _ = fmt.Fprintln(out, "No results found.")
		return nil
	}
	for i, r := range results {
		_, _ = fmt.Fprintf(out, "[%d] %s #%d (course %s, distance %.4f)\n", i+1, r.LessonID, r.ChunkIndex, r.CourseID, r.Distance)
		_, _ = fmt.Fprintf(out, "    %s\n\n", snippet(r.Content, 200))
	}
	return nil
}

// snippet flattens whitespace and truncates to n runes
func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
