// Package ingest turns uploaded spreadsheets into normalized tables of cell
// text, applying the per-kind row selection rules.
package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/pitabwire/hibah/model"
)

// DefaultMaxBytes bounds an upload when no limit is configured.
const DefaultMaxBytes int64 = 10 << 20

// StartMarker is the first-column value that opens a marker-scan table.
const StartMarker = "1"

// HeaderRows is the number of rows a fixed-offset table skips unconditionally.
const HeaderRows = 2

// Policy selects which worksheet rows make it into a table.
type Policy int

const (
	// MarkerScan includes every row from the first one whose first column
	// equals StartMarker.
	MarkerScan Policy = iota
	// FixedOffset skips HeaderRows rows and includes every later row with a
	// non-empty key column.
	FixedOffset
)

func (p Policy) String() string {
	if p == FixedOffset {
		return "fixed-offset"
	}
	return "marker-scan"
}

type rule struct {
	policy Policy
	key    int // key column, fixed-offset only
	width  int // pad rows to this many columns, 0 for none
	flag   int // column defaulted to FlagNotAccepted when padded
}

var rules = map[model.TableKind]rule{
	model.TableTools:     {policy: MarkerScan, width: model.ToolColumns, flag: model.ToolColAccepted},
	model.TableIncentive: {policy: MarkerScan, width: model.IncentiveColumns, flag: model.IncentiveColAccepted},
	model.TableActivity:  {policy: MarkerScan},
	model.TableIKU:       {policy: FixedOffset, key: model.IKUColTarget},
	model.TableFunding:   {policy: FixedOffset, key: model.FundingColItem},
}

// PolicyFor returns the extraction policy of kind.
func PolicyFor(kind model.TableKind) (Policy, bool) {
	r, ok := rules[kind]
	return r.policy, ok
}

type source interface {
	Next() bool
	Columns() ([]string, error)
	Err() error
	Close() error
}

type sheetSource struct {
	f    *excelize.File
	rows *excelize.Rows
}

func (s *sheetSource) Next() bool                 { return s.rows.Next() }
func (s *sheetSource) Columns() ([]string, error) { return s.rows.Columns() }
func (s *sheetSource) Err() error                 { return s.rows.Error() }
func (s *sheetSource) Close() error               { return errors.Join(s.rows.Close(), s.f.Close()) }

type csvSource struct {
	r   *csv.Reader
	cur []string
	err error
}

func (s *csvSource) Next() bool {
	rec, err := s.r.Read()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			s.err = err
		}
		return false
	}
	s.cur = trimTrailing(rec)
	return true
}

func (s *csvSource) Columns() ([]string, error) { return s.cur, nil }
func (s *csvSource) Err() error                 { return s.err }
func (s *csvSource) Close() error               { return nil }

// trimTrailing drops empty trailing cells so a CSV row is projected to its
// populated columns the same way a worksheet row is.
func trimTrailing(rec []string) []string {
	n := len(rec)
	for n > 0 && rec[n-1] == "" {
		n--
	}
	return rec[:n]
}

// Ingester opens uploads as tables.
type Ingester struct {
	// MaxBytes is the largest accepted upload. Zero means DefaultMaxBytes.
	MaxBytes int64
}

// Open reads an upload and returns a lazy table over its first worksheet.
// The file kind is chosen from name: .csv is read as comma-separated text,
// everything else as an OOXML workbook. A malformed or oversized upload is an
// INGESTION_FAILED error.
func (in Ingester) Open(r io.Reader, name string, kind model.TableKind) (*Table, error) {
	ru, ok := rules[kind]
	if !ok {
		return nil, model.NewBadRequestError(fmt.Sprintf("unknown table kind %q", kind))
	}

	limit := in.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, model.NewIngestionFailedError(fmt.Sprintf("reading upload: %v", err))
	}
	if int64(len(data)) > limit {
		return nil, model.NewIngestionFailedError(fmt.Sprintf("upload exceeds %d bytes", limit))
	}

	src, err := openSource(data, name)
	if err != nil {
		return nil, err
	}
	return &Table{kind: kind, rule: ru, src: src}, nil
}

func openSource(data []byte, name string) (source, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		cr := csv.NewReader(bytes.NewReader(data))
		cr.FieldsPerRecord = -1
		cr.LazyQuotes = true
		return &csvSource{r: cr}, nil
	case ".xlsx", ".xlsm", ".xltx", ".xltm", "":
		f, err := excelize.OpenReader(bytes.NewReader(data))
		if err != nil {
			return nil, model.NewIngestionFailedError(fmt.Sprintf("opening workbook: %v", err))
		}
		sheet := f.GetSheetName(0)
		if sheet == "" {
			_ = f.Close()
			return nil, model.NewIngestionFailedError("workbook has no worksheets")
		}
		rows, err := f.Rows(sheet)
		if err != nil {
			_ = f.Close()
			return nil, model.NewIngestionFailedError(fmt.Sprintf("reading worksheet %s: %v", sheet, err))
		}
		return &sheetSource{f: f, rows: rows}, nil
	default:
		return nil, model.NewIngestionFailedError(fmt.Sprintf("unsupported file type %q", filepath.Ext(name)))
	}
}

// Table is a finite, non-restartable sequence of normalized rows. Rows are
// produced on demand as Next is called.
type Table struct {
	kind    model.TableKind
	rule    rule
	src     source
	line    int // 1-based worksheet row last read
	started bool
	row     []string
	err     error
	done    bool
}

// Kind returns the table kind the rows were selected for.
func (t *Table) Kind() model.TableKind { return t.kind }

// Next advances to the next selected row.
func (t *Table) Next() bool {
	if t.done {
		return false
	}
	for t.src.Next() {
		t.line++
		cells, err := t.src.Columns()
		if err != nil {
			t.fail(err)
			return false
		}
		if row, ok := t.accept(cells); ok {
			t.row = row
			return true
		}
	}
	if err := t.src.Err(); err != nil {
		t.fail(err)
		return false
	}
	t.done = true
	t.row = nil
	return false
}

// Row returns the current row.
func (t *Table) Row() []string { return t.row }

// Err returns the error that stopped iteration, if any.
func (t *Table) Err() error { return t.err }

// MarkerFound reports whether a marker-scan table has seen its start marker.
// Fixed-offset tables always report true.
func (t *Table) MarkerFound() bool {
	return t.rule.policy == FixedOffset || t.started
}

// Close releases the underlying workbook.
func (t *Table) Close() error {
	t.done = true
	return t.src.Close()
}

// Collect drains the table and closes it. On error no rows are returned so a
// failed upload never partially replaces a table.
func (t *Table) Collect() ([][]string, error) {
	defer t.Close()
	rows := [][]string{}
	for t.Next() {
		rows = append(rows, t.Row())
	}
	if err := t.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

func (t *Table) fail(err error) {
	t.err = model.NewIngestionFailedError(fmt.Sprintf("row %d: %v", t.line, err))
	t.done = true
	t.row = nil
}

func (t *Table) accept(cells []string) ([]string, bool) {
	switch t.rule.policy {
	case FixedOffset:
		if t.line <= HeaderRows {
			return nil, false
		}
		if t.rule.key >= len(cells) || strings.TrimSpace(cells[t.rule.key]) == "" {
			return nil, false
		}
		return cells, true
	default:
		if !t.started {
			if len(cells) == 0 || strings.TrimSpace(cells[0]) != StartMarker {
				return nil, false
			}
			t.started = true
		}
		return t.pad(cells), true
	}
}

func (t *Table) pad(cells []string) []string {
	if t.rule.width == 0 || len(cells) >= t.rule.width {
		return cells
	}
	out := make([]string, t.rule.width)
	copy(out, cells)
	if len(cells) <= t.rule.flag {
		out[t.rule.flag] = model.FlagNotAccepted
	}
	return out
}
