package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store counts and the configured embedding model",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output status as JSON")
	rootCmd.AddCommand(statusCmd)
}

// statusReport is the status command's output
type statusReport struct {
	Backend        string  `json:"backend"`
	Lessons        int     `json:"lessons"`
	IndexedLessons int     `json:"indexed_lessons"`
	Embeddings     int     `json:"embeddings"`
	SizeMB         float64 `json:"size_mb,omitempty"`
	Provider       string  `json:"provider"`
	Model          string  `json:"model"`
	Dimension      int     `json:"dimension"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := openApp(cmd.Context(), cfg, logger, nil)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	st, err := a.store.Status(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}
	report := statusReport{
		Backend:        st.Backend,
		Lessons:        st.Lessons,
		IndexedLessons: st.IndexedLessons,
		Embeddings:     st.Embeddings,
		SizeMB:         st.SizeMB,
		Provider:       a.client.Provider(),
		Model:          a.client.Model(),
		Dimension:      a.client.Dimension(),
	}

	out := cmd.OutOrStdout()
	if statusJSON {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal status: %w", err)
		}
		_, _ = fmt.Fprintln(out, string(data))
		return nil
	}

	_, _ = fmt.Fprintf(out, "Backend:    %s\n", report.Backend)
	_, _ = fmt.Fprintf(out, "Lessons:    %d (%d indexed)\n", report.Lessons, report.IndexedLessons)
	_, _ = fmt.Fprintf(out, "Embeddings: %d\n", report.Embeddings)
	if report.SizeMB > 0 {
		_, _ = fmt.Fprintf(out, "Size:       %.2f MB\n", report.SizeMB)
	}
	_, _ = fmt.Fprintf(out, "Embedder:   %s/%s (%d dims)\n", report.Provider, report.Model, report.Dimension)
	return nil
}
