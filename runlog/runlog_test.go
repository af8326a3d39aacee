package runlog

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fnbench/fnbench/options"
)

func newTestLogger(t *testing.T, dir string) *Logger {
	t.Helper()
	log, err := NewLogger(dir, "exp", "sort", map[string]interface{}{
		"function": "sort",
		"copies":   2,
	}, false)
	require.NoError(t, err)
	return log
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()
	records, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	return records
}

func TestLoggerCSV(t *testing.T) {
	t.Run("HeaderAndRows", func(t *testing.T) {
		dir := t.TempDir()
		log := newTestLogger(t, dir)

		log.AddColumn("task", "sort", "string", "Task name")
		log.AddColumn("repeat", "1", "int", "Batch number")
		require.NoError(t, log.AddRowField("copy", "1", "int", "Run number"))
		require.NoError(t, log.AddRowField("outer_time", "1.5", "numeric", "Run time"))
		require.NoError(t, log.AddRowField("copy", "2", "int", "Run number"))
		require.NoError(t, log.AddRowField("outer_time", "2.5", "numeric", "Run time"))
		require.NoError(t, log.Save(false))

		records := readCSV(t, log.CSVPath())
		require.Len(t, records, 3)
		assert.Equal(t, []string{"task", "repeat", "copy", "outer_time"}, records[0])
		assert.Equal(t, []string{"sort", "1", "1", "1.5"}, records[1])
		assert.Equal(t, []string{"sort", "1", "2", "2.5"}, records[2])
	})

	t.Run("RepeatedFieldStartsNewRow", func(t *testing.T) {
		dir := t.TempDir()
		log := newTestLogger(t, dir)
		require.NoError(t, log.AddRowField("copy", "1", "int", "Run number"))
		require.NoError(t, log.AddRowField("copy", "2", "int", "Run number"))
		require.NoError(t, log.Save(false))

		assert.Len(t, readCSV(t, log.CSVPath()), 3)
	})

	t.Run("NewFieldAfterFirstRowsFails", func(t *testing.T) {
		dir := t.TempDir()
		log := newTestLogger(t, dir)
		require.NoError(t, log.AddRowField("copy", "1", "int", "Run number"))
		require.NoError(t, log.AddRowField("copy", "2", "int", "Run number"))
		assert.Error(t, log.AddRowField("surprise", "x", "string", "Late column"))
	})

	t.Run("SaveWithoutRowsFails", func(t *testing.T) {
		dir := t.TempDir()
		log := newTestLogger(t, dir)
		assert.Error(t, log.Save(false))
	})

	t.Run("SecondSaveAppendsWithoutHeader", func(t *testing.T) {
		dir := t.TempDir()
		log := newTestLogger(t, dir)
		log.AddColumn("repeat", "1", "int", "Batch number")
		require.NoError(t, log.AddRowField("copy", "1", "int", "Run number"))
		require.NoError(t, log.Save(false))

		log.AddColumn("repeat", "2", "int", "Batch number")
		require.NoError(t, log.AddRowField("copy", "1", "int", "Run number"))
		require.NoError(t, log.Save(false))

		records := readCSV(t, log.CSVPath())
		require.Len(t, records, 3)
		assert.Equal(t, []string{"repeat", "copy"}, records[0])
		assert.Equal(t, "1", records[1][0])
		assert.Equal(t, "2", records[2][0])
	})

	t.Run("FailedSaveKeepsHeaderAndRowsPending", func(t *testing.T) {
		dir := t.TempDir()
		log := newTestLogger(t, dir)
		require.NoError(t, log.AddRowField("copy", "1", "int", "Run number"))

		// A directory squatting on the CSV path makes the write fail.
		require.NoError(t, os.Mkdir(log.CSVPath(), 0o755))
		require.Error(t, log.Save(false))

		require.NoError(t, os.Remove(log.CSVPath()))
		require.NoError(t, log.Save(false))

		records := readCSV(t, log.CSVPath())
		require.Len(t, records, 2)
		assert.Equal(t, []string{"copy"}, records[0])
		assert.Equal(t, []string{"1"}, records[1])
	})

	t.Run("AppendModeKeepsExistingData", func(t *testing.T) {
		dir := t.TempDir()
		first := newTestLogger(t, dir)
		require.NoError(t, first.AddRowField("copy", "1", "int", "Run number"))
		require.NoError(t, first.Save(false))

		second := newTestLogger(t, dir)
		require.NoError(t, second.AddRowField("copy", "1", "int", "Run number"))
		require.NoError(t, second.Save(true))

		// One header from the first logger, one data row from each.
		assert.Len(t, readCSV(t, second.CSVPath()), 3)
	})
}

func TestDescriptor(t *testing.T) {
	dir := t.TempDir()
	log, err := NewLogger(dir, "exp", "sort", map[string]interface{}{
		"function":   "sort",
		"arguments":  "1000 random",
		"copies":     3,
		"experiment": "exp",
	}, false)
	require.NoError(t, err)

	log.AddColumn("task", "sort", "string", "Task name")
	require.NoError(t, log.AddRowField("outer_time", "1.5", "numeric", "Run time"))
	require.NoError(t, log.Save(false))
	require.NoError(t, log.WriteDescriptor(map[string]string{"cpu": "8 cores"}, ""))

	content, err := os.ReadFile(log.DescriptorPath())
	require.NoError(t, err)
	text := string(content)

	t.Run("ContainsSections", func(t *testing.T) {
		assert.Contains(t, text, "## Runtime options")
		assert.Contains(t, text, "## Field description")
		assert.Contains(t, text, "## System configuration")
		assert.Contains(t, text, "### cpu\n8 cores")
		assert.Contains(t, text, "`outer_time` (numeric): Run time.")
	})

	t.Run("RoundTripsThroughRepro", func(t *testing.T) {
		opts, err := options.Resolve(options.Sources{ReproFile: log.DescriptorPath()})
		require.NoError(t, err)
		assert.Equal(t, "sort", opts.Function)
		assert.Equal(t, "1000 random", opts.Arguments)
		assert.Equal(t, 3, opts.Copies)
		assert.Equal(t, "exp", opts.Experiment)
	})

	t.Run("ConvergenceNoteIsRecorded", func(t *testing.T) {
		other, err := NewLogger(dir, "exp", "other", map[string]interface{}{"function": "x"}, false)
		require.NoError(t, err)
		require.NoError(t, other.WriteDescriptor(nil, "stopping rule hit its limit"))

		content, err := os.ReadFile(other.DescriptorPath())
		require.NoError(t, err)
		assert.Contains(t, string(content), "Note: stopping rule hit its limit")
	})

	t.Run("FilesLiveUnderExperimentDirectory", func(t *testing.T) {
		assert.Equal(t, filepath.Join(dir, "exp", "sort.csv"), log.CSVPath())
		assert.True(t, strings.HasSuffix(log.DescriptorPath(), filepath.Join("exp", "sort.md")))
	})
}
