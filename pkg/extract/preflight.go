package extract

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/havbruk/aquahist/pkg/permit"
)

// Severity of a preflight issue.
type Severity string

const (
	SeverityError Severity = "ERROR"
	SeverityWarn  Severity = "WARN"
)

// Issue is one structural problem found before any data is written.
type Issue struct {
	Level   Severity
	File    string
	Message string
}

// PreflightResult is the outcome of checking a directory of extracts.
type PreflightResult struct {
	OK           bool
	Issues       []Issue
	FilesChecked int
}

func (r *PreflightResult) add(level Severity, file, format string, args ...any) {
	r.Issues = append(r.Issues, Issue{Level: level, File: file, Message: fmt.Sprintf(format, args...)})
}

// Errors returns the ERROR-level issues.
func (r *PreflightResult) Errors() []Issue { return r.filter(SeverityError) }

// Warnings returns the WARN-level issues.
func (r *PreflightResult) Warnings() []Issue { return r.filter(SeverityWarn) }

func (r *PreflightResult) filter(level Severity) []Issue {
	var out []Issue
	for _, i := range r.Issues {
		if i.Level == level {
			out = append(out, i)
		}
	}
	return out
}

// Preflight runs the structural checks over every extract in dir: filename
// date, title date agreement, parseability, required columns, and duplicate
// permit keys (a warning — duplicates are expected for multi-locality
// permits and resolved deterministically by SelectRepresentative).
func Preflight(dir string, failOnWarn bool) (*PreflightResult, error) {
	res := &PreflightResult{}

	files, err := ListFiles(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		res.add(SeverityError, "-", "no extract files found in %s", dir)
		return res, nil
	}

	for _, path := range files {
		res.FilesChecked++
		name := filepath.Base(path)

		fileDate, err := DateFromFilename(path)
		if err != nil {
			res.add(SeverityError, name, "invalid filename date: %v", err)
			continue
		}

		ex, err := Load(path)
		if err != nil {
			res.add(SeverityError, name, "unreadable extract: %v", err)
			continue
		}

		if ex.Mismatched() {
			res.add(SeverityError, name, "date mismatch: filename=%s title=%s", fileDate, ex.TitleDate)
		}

		if missing := MissingColumns(ex.Header); len(missing) > 0 {
			res.add(SeverityError, name, "missing required columns: %v", missing)
		}

		if dups := duplicateKeyRows(ex.Rows); dups > 0 {
			res.add(SeverityWarn, name,
				"%d rows share a %s with another row; normal for multi-locality permits, one representative row is stored per permit per day",
				dups, permit.KeyCol)
		}
	}

	hasError := len(res.Errors()) > 0
	hasWarn := len(res.Warnings()) > 0
	res.OK = !hasError && !(failOnWarn && hasWarn)
	return res, nil
}

// duplicateKeyRows counts rows whose non-empty permit key occurs more than
// once in the extract.
func duplicateKeyRows(rows []permit.Record) int {
	counts := make(map[string]int)
	for _, r := range rows {
		if key := permit.NormalizeKey(r.Clean(permit.KeyCol)); key != "" {
			counts[key]++
		}
	}
	dups := 0
	for _, n := range counts {
		if n > 1 {
			dups += n
		}
	}
	return dups
}

// WriteReport renders a human-readable preflight report.
func (r *PreflightResult) WriteReport(w io.Writer) {
	_, _ = fmt.Fprintf(w, "Preflight: checked %d files.\n", r.FilesChecked)
	if len(r.Issues) == 0 {
		_, _ = fmt.Fprintln(w, "No errors or warnings found.")
		return
	}
	if errs := r.Errors(); len(errs) > 0 {
		_, _ = fmt.Fprintf(w, "\nERROR (%d):\n", len(errs))
		for _, i := range errs {
			_, _ = fmt.Fprintf(w, " - %s: %s\n", i.File, i.Message)
		}
	}
	if warns := r.Warnings(); len(warns) > 0 {
		_, _ = fmt.Fprintf(w, "\nWARN (%d):\n", len(warns))
		for _, i := range warns {
			_, _ = fmt.Fprintf(w, " - %s: %s\n", i.File, i.Message)
		}
	}
}
