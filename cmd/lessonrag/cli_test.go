package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/lessonrag/pkg/types"
)

// resetFlags clears package-level flag values between executions
func resetFlags() {
	configPath, verbose = "", false
	indexLesson, indexCourse, indexRecent = "", "", 0
	indexDryRun, indexForce, indexSkipUnchanged = false, false, false
	indexMaxChars, indexMaxEmbeddings, indexConcurrency, indexRetryAttempts = 0, 0, 0, 0
	indexCountTokens, indexPurge, indexJSON = false, false, false
	retrieveCourses, retrieveLesson, retrieveTopK, retrieveJSON = nil, "", 0, false
	statusJSON = false
	serveMetricsAddr = ""
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	}()
	err := rootCmd.Execute()
	return buf.String(), err
}

// setupEnv points the CLI at a fresh SQLite file and the local provider
func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("LESSONRAG_DB_DRIVER", "sqlite")
	t.Setenv("LESSONRAG_DB_PATH", filepath.Join(dir, "lessonrag.db"))
	t.Setenv("LESSONRAG_PROVIDER", "local")
	t.Setenv("LESSONRAG_LOG_LEVEL", "error")
	return dir
}

func writeLessons(t *testing.T, dir string, lessons []types.Lesson) string {
	t.Helper()
	data, err := json.Marshal(lessons)
	require.NoError(t, err)
	path := filepath.Join(dir, "lessons.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestVersionCmd(t *testing.T) {
	originalVersion := version
	version = "test-version-1.0.0"
	defer func() { version = originalVersion }()

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "lessonrag version test-version-1.0.0")
	assert.Contains(t, out, "Build Mode:")
}

func TestIndexCmd_SelectorErrors(t *testing.T) {
	setupEnv(t)

	_, err := execute(t, "index")
	assert.Error(t, err)

	_, err = execute(t, "index", "--lesson", "l1", "--course", "c1")
	assert.Error(t, err)

	_, err = execute(t, "index", "--course", "c1", "--purge")
	assert.EqualError(t, err, "--purge requires --lesson")
}

func TestCLI_ImportIndexRetrieve(t *testing.T) {
	dir := setupEnv(t)
	path := writeLessons(t, dir, []types.Lesson{
		{ID: "l1", CourseID: "c1", Title: "Closures", Content: "Closures capture variables by reference."},
		{ID: "l2", CourseID: "c1", Title: "Channels", Content: "Unbuffered channels block until a receiver is ready."},
		{ID: "l3", CourseID: "c2", Title: "Maps", Content: "Map iteration order is not specified."},
	})

	out, err := execute(t, "import", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 3 lessons")

	out, err = execute(t, "index", "--course", "c1", "--json")
	require.NoError(t, err)
	var run types.RunResult
	require.NoError(t, json.Unmarshal([]byte(out), &run))
	assert.Equal(t, 2, run.LessonsSelected)
	assert.Equal(t, 2, run.Embedded)
	assert.Empty(t, run.Errors)

	out, err = execute(t, "index", "--course", "c1")
	require.NoError(t, err)
	assert.Contains(t, out, "0 embedded, 2 skipped")

	out, err = execute(t, "retrieve", "Closures\n\nClosures capture variables by reference.", "--course", "c1", "--json")
	require.NoError(t, err)
	var hits []types.RetrievedChunk
	require.NoError(t, json.Unmarshal([]byte(out), &hits))
	require.Len(t, hits, 2)
	assert.Equal(t, "l1", hits[0].LessonID)

	out, err = execute(t, "retrieve", "closures")
	require.NoError(t, err)
	assert.Contains(t, out, "No results found.")

	out, err = execute(t, "status", "--json")
	require.NoError(t, err)
	var report statusReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, 3, report.Lessons)
	assert.Equal(t, 2, report.IndexedLessons)
	assert.Equal(t, 2, report.Embeddings)
	assert.Equal(t, "local", report.Provider)
	assert.Positive(t, report.Dimension)

	out, err = execute(t, "index", "--lesson", "l1", "--purge")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 1 embeddings for lesson l1")
}

func TestIndexCmd_BudgetExhausted(t *testing.T) {
	dir := setupEnv(t)
	path := writeLessons(t, dir, []types.Lesson{
		{ID: "l1", CourseID: "c1", Content: "First lesson."},
		{ID: "l2", CourseID: "c1", Content: "Second lesson."},
	})
	_, err := execute(t, "import", path)
	require.NoError(t, err)

	out, err := execute(t, "index", "--course", "c1", "--max-embeddings", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "1 embedded")
	assert.Contains(t, out, "Stopped:  budget exhausted")
}

func TestDryRunTokenCounter_OnlyForDryRuns(t *testing.T) {
	tests := []struct {
		name        string
		dryRun      bool
		countTokens bool
		tokenModel  string
	}{
		{name: "indexing run with flag", countTokens: true},
		{name: "indexing run with configured model", tokenModel: "text-embedding-3-small"},
		{name: "dry run without token counting", dryRun: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counter, err := dryRunTokenCounter(tt.dryRun, tt.countTokens, tt.tokenModel, "local-v1")
			require.NoError(t, err)
			assert.Nil(t, counter)
		})
	}
}

func TestIndexCmd_SkipUnchangedHelp(t *testing.T) {
	flag := indexCmd.Flags().Lookup("skip-unchanged")
	require.NotNil(t, flag)
	assert.Contains(t, flag.Usage, "partly embedded")
	assert.Contains(t, flag.Usage, "rerun without this flag")
}

func TestReadLessons(t *testing.T) {
	dir := t.TempDir()

	t.Run("stamps missing updated_at", func(t *testing.T) {
		path := writeLessons(t, dir, []types.Lesson{{ID: "l1", CourseID: "c1", Content: "x"}})
		lessons, err := readLessons(path)
		require.NoError(t, err)
		require.Len(t, lessons, 1)
		assert.False(t, lessons[0].UpdatedAt.IsZero())
	})

	t.Run("rejects lesson without course", func(t *testing.T) {
		path := writeLessons(t, dir, []types.Lesson{{ID: "l1"}})
		_, err := readLessons(path)
		assert.ErrorIs(t, err, types.ErrMissingCourseID)
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		path := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
		_, err := readLessons(path)
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := readLessons(filepath.Join(dir, "nope.json"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "a b c", snippet("a\n\nb   c", 10))
	assert.Equal(t, "abc...", snippet("abcdef", 3))
}
