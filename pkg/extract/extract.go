// Package extract reads the registry's daily full-dump CSV files and reduces
// them to one representative record per permit key.
//
// An extract file is named "<YYYY-MM-DD> - ... .csv". Its first line is a
// human-readable title embedding the same date as "PR. DD-MM-YYYY", the
// second line is the semicolon-separated column header, and every following
// line is one raw row. The title date and the filename date must agree; a
// mismatch means the upstream dump is mislabeled and nothing may be written
// from it.
package extract

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/havbruk/aquahist/pkg/permit"
)

// Separator is the field delimiter of registry extracts.
const Separator = ';'

var titleDateRE = regexp.MustCompile(`PR\.?\s*[:.]?\s*(\d{2}-\d{2}-\d{4})`)

// ErrDateMismatch reports a title date that disagrees with the filename date.
var ErrDateMismatch = errors.New("extract title date does not match filename date")

// Extract is one loaded daily dump.
type Extract struct {
	Path      string
	Date      permit.Date // from the filename
	TitleDate permit.Date // from the first line
	Header    []string
	Rows      []permit.Record
}

// Mismatched reports whether the embedded title date disagrees with the
// filename date.
func (e *Extract) Mismatched() bool { return !e.TitleDate.Equal(e.Date) }

// DateFromFilename extracts the ISO date prefix of an extract filename.
func DateFromFilename(path string) (permit.Date, error) {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if len(stem) < 10 {
		return permit.Date{}, fmt.Errorf("filename %q too short to carry a date prefix", filepath.Base(path))
	}
	d, err := permit.ParseDate(stem[:10])
	if err != nil {
		return permit.Date{}, fmt.Errorf("filename %q: %w", filepath.Base(path), err)
	}
	return d, nil
}

// ParseTitleDate finds the "PR. DD-MM-YYYY" date in the title line.
func ParseTitleDate(line string) (permit.Date, error) {
	m := titleDateRE.FindStringSubmatch(line)
	if m == nil {
		return permit.Date{}, fmt.Errorf("no date found in title line %q", strings.TrimSpace(line))
	}
	d, err := permit.ParseDMY(m[1])
	if err != nil {
		return permit.Date{}, err
	}
	return d, nil
}

// Load reads an extract file. It strips a UTF-8 BOM if present, validates the
// filename date, and parses header and rows. A title/filename date mismatch
// is NOT an error here — preflight and the engine decide how strictly to
// treat it — but an unreadable title line is.
func Load(path string) (*Extract, error) {
	fileDate, err := DateFromFilename(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open extract: %w", err)
	}
	defer func() { _ = f.Close() }()

	return load(path, fileDate, f)
}

func load(path string, fileDate permit.Date, r io.Reader) (*Extract, error) {
	// The registry serves the dump with a UTF-8 byte order mark.
	decoded := transform.NewReader(r, unicode.UTF8BOM.NewDecoder())
	br := bufio.NewReader(decoded)

	title, err := br.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read title line: %w", err)
	}
	titleDate, err := ParseTitleDate(title)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}

	cr := csv.NewReader(br)
	cr.Comma = Separator
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var rows []permit.Record
	for {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		rec := make(permit.Record, len(header))
		for i, col := range header {
			if i < len(fields) {
				rec[col] = fields[i]
			}
		}
		rows = append(rows, rec)
	}

	return &Extract{
		Path:      path,
		Date:      fileDate,
		TitleDate: titleDate,
		Header:    header,
		Rows:      rows,
	}, nil
}

// MissingColumns returns the required columns absent from header, sorted.
func MissingColumns(header []string) []string {
	present := make(map[string]struct{}, len(header))
	for _, h := range header {
		present[h] = struct{}{}
	}
	var missing []string
	for _, col := range []string{permit.KeyCol, permit.OwnerOrgCol, permit.OwnerNameCol} {
		if _, ok := present[col]; !ok {
			missing = append(missing, col)
		}
	}
	return missing
}

// ListFiles returns the extract files of dir in filename (and therefore
// date) order.
func ListFiles(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, fmt.Errorf("list extracts: %w", err)
	}
	return matches, nil
}
