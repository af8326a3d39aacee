// Package runlog persists task measurements. Each task produces two
// files under <directory>/<experiment>/: a CSV log with one row per
// copy per repeat, and a markdown descriptor holding the resolved
// runtime options (as a JSON block, so a later run can reproduce
// them), per-field documentation, provenance, and system
// specifications.
package runlog

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mongodb/grip"
	"github.com/pkg/errors"

	"github.com/fnbench/fnbench"
)

type fieldMeta struct {
	Type        string
	Description string
}

// Logger accumulates rows for one task and writes them out after each
// resolved round. It is not safe for concurrent use; the task loop is
// its single writer.
type Logger struct {
	task     string
	baseName string

	columnOrder []string
	columns     map[string]string

	fieldOrder []string
	fieldSeen  map[string]bool
	rows       []map[string]string

	metaOrder []string
	metadata  map[string]fieldMeta

	preamble    string
	wroteHeader bool
}

// NewLogger prepares the log directory and the descriptor preamble.
// The options document is recorded verbatim so the descriptor
// round-trips through option resolution.
func NewLogger(directory, experiment, task string, opts map[string]interface{}, verbose bool) (*Logger, error) {
	dir := filepath.Join(directory, experiment)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating log directory '%s'", dir)
	}

	base := filepath.Join(dir, filepath.Base(task))
	grip.InfoWhen(verbose, fmt.Sprintf("logging runs to %s", base))

	optsJSON, err := json.MarshalIndent(opts, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "encoding runtime options")
	}

	var preamble strings.Builder
	fmt.Fprintf(&preamble, "This file describes the fields in the file %s.csv. ", task)
	fmt.Fprintf(&preamble, "The measurements were run on %s, starting at %s (UTC).\n",
		hostname(), time.Now().UTC().Format(time.RFC3339))
	if rev := sourceRevision(); rev != "" {
		fmt.Fprintf(&preamble, "The source code version used was from git hash: %s\n", rev)
	}
	fmt.Fprintf(&preamble, "\n%s\n\n%s\n", fnbench.DescriptorOptionsHeading, optsJSON)

	return &Logger{
		task:     task,
		baseName: base,
		columns:   map[string]string{},
		fieldSeen: map[string]bool{},
		metadata:  map[string]fieldMeta{},
		preamble: preamble.String(),
	}, nil
}

// CSVPath returns the path of the CSV log file.
func (l *Logger) CSVPath() string { return l.baseName + ".csv" }

// DescriptorPath returns the path of the markdown descriptor.
func (l *Logger) DescriptorPath() string { return l.baseName + ".md" }

// AddColumn records a value repeated on every row of the current
// round, such as the repeat index or the concurrency level.
func (l *Logger) AddColumn(field, value, typ, desc string) {
	if _, seen := l.columns[field]; !seen {
		l.columnOrder = append(l.columnOrder, field)
	}
	l.columns[field] = value
	l.describe(field, typ, desc)
}

// AddRowField records a per-copy value. A field recurring in the
// latest row starts a new row; a field absent from the previous row
// is rejected so every row carries the same columns.
func (l *Logger) AddRowField(field, value, typ, desc string) error {
	l.describe(field, typ, desc)

	if len(l.rows) > 1 {
		if _, ok := l.rows[len(l.rows)-2][field]; !ok {
			return errors.Errorf("field '%s' is not present in previous rows", field)
		}
	}
	if len(l.rows) == 0 {
		l.rows = append(l.rows, map[string]string{})
	} else if _, taken := l.rows[len(l.rows)-1][field]; taken {
		l.rows = append(l.rows, map[string]string{})
	}

	if !l.fieldSeen[field] {
		l.fieldSeen[field] = true
		l.fieldOrder = append(l.fieldOrder, field)
	}
	l.rows[len(l.rows)-1][field] = value
	return nil
}

// ClearRows drops accumulated row data while keeping columns and
// field metadata, so the next round reuses the same layout.
func (l *Logger) ClearRows() { l.rows = nil }

func (l *Logger) describe(field, typ, desc string) {
	if _, seen := l.metadata[field]; !seen {
		l.metaOrder = append(l.metaOrder, field)
		l.metadata[field] = fieldMeta{Type: typ, Description: desc}
	}
}

// Save flushes pending rows to the CSV file and clears them. With
// appendLog set the first write grows an existing file instead of
// truncating it. A failed save keeps the rows and the header pending
// so a retry writes a complete file.
func (l *Logger) Save(appendLog bool) error {
	if len(l.rows) == 0 {
		return errors.New("no row data to save")
	}
	if err := l.saveCSV(appendLog); err != nil {
		return err
	}
	l.wroteHeader = true
	l.ClearRows()
	return nil
}

func (l *Logger) saveCSV(appendLog bool) error {
	flags := os.O_CREATE | os.O_WRONLY
	if appendLog || l.wroteHeader {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(l.CSVPath(), flags, 0o644)
	if err != nil {
		return errors.Wrapf(err, "opening CSV log '%s'", l.CSVPath())
	}
	defer file.Close()

	// Appending to a pre-existing file keeps its header; a fresh or
	// truncated file gets one.
	writeHeader := !l.wroteHeader
	if appendLog && !l.wroteHeader {
		if info, err := file.Stat(); err == nil && info.Size() > 0 {
			writeHeader = false
		}
	}

	fields := append(append([]string{}, l.columnOrder...), l.fieldOrder...)
	writer := csv.NewWriter(file)
	if writeHeader {
		if err := writer.Write(fields); err != nil {
			return errors.Wrap(err, "writing CSV header")
		}
	}
	for _, row := range l.rows {
		record := make([]string, 0, len(fields))
		for _, field := range l.columnOrder {
			record = append(record, l.columns[field])
		}
		for _, field := range l.fieldOrder {
			record = append(record, row[field])
		}
		if err := writer.Write(record); err != nil {
			return errors.Wrap(err, "writing CSV record")
		}
	}
	writer.Flush()
	return errors.Wrapf(writer.Error(), "flushing CSV log '%s'", l.CSVPath())
}

// WriteDescriptor writes the markdown descriptor once the task has
// finished, when the sys-spec outputs and the convergence outcome are
// known. An empty note means the task converged normally.
func (l *Logger) WriteDescriptor(sysSpecs map[string]string, note string) error {
	var out strings.Builder
	fmt.Fprintf(&out, "Experiment completed at %s\n\n", time.Now().UTC().Format(time.RFC3339))
	out.WriteString(l.preamble)
	if note != "" {
		fmt.Fprintf(&out, "\nNote: %s\n", note)
	}
	out.WriteString("\n## Field description\n\n")
	for _, field := range l.metaOrder {
		meta := l.metadata[field]
		fmt.Fprintf(&out, "  * `%s` (%s): %s.\n", field, meta.Type, meta.Description)
	}

	if len(sysSpecs) > 0 {
		out.WriteString("\n## System configuration\n\n")
		names := make([]string, 0, len(sysSpecs))
		for name := range sysSpecs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&out, "### %s\n%s\n", name, sysSpecs[name])
		}
	}

	return errors.Wrapf(os.WriteFile(l.DescriptorPath(), []byte(out.String()), 0o644),
		"writing descriptor '%s'", l.DescriptorPath())
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return name
}

// sourceRevision prefers the revision stamped at build time and falls
// back to asking git, matching ad-hoc builds from a checkout.
func sourceRevision() string {
	if fnbench.BuildRevision != "" {
		return fnbench.BuildRevision
	}
	out, err := exec.Command("git", "rev-parse", "--short", "HEAD").Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
