package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/lessonrag/pkg/types"
)

var importCmd = &cobra.Command{
	Use:   "import [lessons.json]",
	Short: "Load lessons into the configured store",
	Long: `Reads a JSON array of lessons and upserts them into the lesson table:

  [{"id": "l-1", "course_id": "go-101", "title": "...", "content": "...",
    "updated_at": "2025-01-31T12:00:00Z"}]

Lessons without updated_at are stamped with the import time. The whole file
is applied in one transaction.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	lessons, err := readLessons(args[0])
	if err != nil {
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

	if err := a.store.ImportLessons(cmd.Context(), lessons); err != nil {
		return fmt.Errorf("import failed: %w", err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Imported %d lessons\n", len(lessons))
	return nil
}

func readLessons(path string) ([]*types.Lesson, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lessons []*types.Lesson
	if err := json.Unmarshal(data, &lessons); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	now := time.Now().UTC()
	for i, l := range lessons {
		if l == nil {
			return nil, fmt.Errorf("%s: entry %d is null", path, i)
		}
		if err := l.Validate(); err != nil {
			return nil, fmt.Errorf("%s: entry %d: %w", path, i, err)
		}
		if l.UpdatedAt.IsZero() {
			l.UpdatedAt = now
		}
	}
	return lessons, nil
}
