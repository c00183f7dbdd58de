// Package contacts reads recipient lists from .csv, .json and .xlsx files.
package contacts

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"

	"broadcaster/internal/model"
)

// ErrUnsupportedFormat is returned for files whose extension is not known.
var ErrUnsupportedFormat = errors.New("unsupported contacts format")

// Extensions lists the accepted file extensions.
var Extensions = []string{".csv", ".json", ".xlsx"}

// Loader is the file-backed contact source. Relative paths resolve against
// BaseDir.
type Loader struct {
	BaseDir string
}

// NewLoader returns a loader rooted at dir.
func NewLoader(dir string) *Loader {
	return &Loader{BaseDir: dir}
}

// Supported reports whether name has an accepted extension.
func Supported(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

// Resolve returns the path Load would read.
func (l *Loader) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || l.BaseDir == "" {
		return path
	}
	return filepath.Join(l.BaseDir, path)
}

// Load reads every recipient from path in file order. Rows without any
// non-empty cell are dropped.
func (l *Loader) Load(path string) ([]model.Recipient, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("contacts path is empty")
	}
	full := l.Resolve(path)
	var (
		recs []model.Recipient
		err  error
	)
	switch strings.ToLower(filepath.Ext(full)) {
	case ".csv":
		recs, err = readCSVFile(full)
	case ".json":
		recs, err = readJSONFile(full)
	case ".xlsx":
		recs, err = readXLSX(full)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(full))
	}
	if err != nil {
		return nil, err
	}
	return recs, nil
}

// Summary describes a contacts file for the upload preview.
type Summary struct {
	Path    string            `json:"path"`
	Total   int               `json:"total"`
	Valid   int               `json:"valid"`
	Columns []string          `json:"columns"`
	Sample  []model.Recipient `json:"sample"`
}

// Preview loads path and summarizes it, keeping the first n recipients.
func (l *Loader) Preview(path string, n int) (Summary, error) {
	recs, err := l.Load(path)
	if err != nil {
		return Summary{}, err
	}
	sum := Summary{Path: path, Total: len(recs)}
	seen := map[string]bool{}
	for i, r := range recs {
		if _, ok := r.Target(); ok {
			sum.Valid++
		}
		for k := range r {
			if !seen[k] {
				seen[k] = true
				sum.Columns = append(sum.Columns, k)
			}
		}
		if i < n {
			sum.Sample = append(sum.Sample, r)
		}
	}
	sort.Strings(sum.Columns)
	return sum, nil
}

func readCSVFile(path string) ([]model.Recipient, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()
	return ReadCSV(f)
}

// ReadCSV parses a header row followed by data rows. The delimiter is a comma
// unless the header line contains more semicolons than commas.
func ReadCSV(r io.Reader) ([]model.Recipient, error) {
	br := bufio.NewReader(r)
	if bom, _ := br.Peek(3); bytes.Equal(bom, []byte("\xef\xbb\xbf")) {
		_, _ = br.Discard(3)
	}
	head, err := br.Peek(4096)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("read csv: %w", err)
	}

	reader := csv.NewReader(br)
	reader.Comma = sniffDelimiter(head)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	return fromRows(header, rows), nil
}

func sniffDelimiter(head []byte) rune {
	line := head
	if i := bytes.IndexByte(head, '\n'); i >= 0 {
		line = head[:i]
	}
	if bytes.Count(line, []byte(";")) > bytes.Count(line, []byte(",")) {
		return ';'
	}
	return ','
}

func readJSONFile(path string) ([]model.Recipient, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open json: %w", err)
	}
	defer f.Close()
	return ReadJSON(f)
}

// ReadJSON parses an array of flat objects. Numbers keep their literal form.
func ReadJSON(r io.Reader) ([]model.Recipient, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var raw []map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode json contacts: %w", err)
	}
	out := make([]model.Recipient, 0, len(raw))
	for _, obj := range raw {
		rec := model.Recipient{}
		for k, v := range obj {
			switch t := v.(type) {
			case nil:
				rec[k] = ""
			case string:
				rec[k] = t
			case json.Number:
				rec[k] = t.String()
			case bool:
				rec[k] = fmt.Sprint(t)
			default:
				b, _ := json.Marshal(t)
				rec[k] = string(b)
			}
		}
		if !blank(rec) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func readXLSX(path string) ([]model.Recipient, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, errors.New("xlsx has no sheets")
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return fromRows(rows[0], rows[1:]), nil
}

func fromRows(header []string, rows [][]string) []model.Recipient {
	cols := make([]string, len(header))
	for i, h := range header {
		cols[i] = strings.TrimSpace(h)
	}
	out := make([]model.Recipient, 0, len(rows))
	for _, row := range rows {
		rec := model.Recipient{}
		for i, col := range cols {
			if col == "" {
				continue
			}
			v := ""
			if i < len(row) {
				v = strings.TrimSpace(row[i])
			}
			rec[col] = v
		}
		if !blank(rec) {
			out = append(out, rec)
		}
	}
	return out
}

func blank(r model.Recipient) bool {
	for _, v := range r {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
