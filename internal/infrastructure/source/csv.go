package source

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/catalogsync/importer/internal/domain"
)

var delimiterCandidates = []rune{',', ';', '\t', '|'}

// CSVReader streams rows from a delimited text export
type CSVReader struct {
	path   string
	file   *os.File
	reader *csv.Reader
	header []string
}

// NewCSVReader opens path and reads its header row
func NewCSVReader(path string, opts Options) (*CSVReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSourceUnreadable, err)
	}

	br := bufio.NewReaderSize(f, 64*1024)
	comma, err := resolveDelimiter(br, opts.Delimiter)
	if err != nil {
		f.Close()
		return nil, err
	}

	r := csv.NewReader(br)
	r.Comma = comma
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	raw, err := r.Read()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: reading header: %v", domain.ErrSourceUnreadable, err)
	}
	header, err := mapHeader(raw, opts.Columns)
	if err != nil {
		f.Close()
		return nil, err
	}

	zap.L().Debug("opened csv source",
		zap.String("path", path),
		zap.String("delimiter", string(comma)),
		zap.Strings("columns", header))

	return &CSVReader{path: path, file: f, reader: r, header: header}, nil
}

// Header returns the mapped logical header
func (c *CSVReader) Header() []string {
	return c.header
}

// Next returns the next non-blank row.
// Rows whose field count differs from the header are skipped with ErrMalformedRow.
func (c *CSVReader) Next() (domain.RawRow, error) {
	for {
		record, err := c.reader.Read()
		if err == io.EOF {
			return domain.RawRow{}, io.EOF
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				return domain.RawRow{Line: pe.Line}, fmt.Errorf("%w: line %d: %v", domain.ErrMalformedRow, pe.Line, pe.Err)
			}
			return domain.RawRow{}, fmt.Errorf("%w: %v", domain.ErrSourceUnreadable, err)
		}

		line, _ := c.reader.FieldPos(0)
		if blank(record) {
			continue
		}
		if len(record) != len(c.header) {
			return domain.RawRow{Line: line}, fmt.Errorf("%w: line %d: got %d fields, want %d",
				domain.ErrMalformedRow, line, len(record), len(c.header))
		}
		return domain.RawRow{Line: line, Header: c.header, Values: record}, nil
	}
}

func (c *CSVReader) Close() error {
	return c.file.Close()
}

// resolveDelimiter returns the configured delimiter or detects it from the header line
func resolveDelimiter(br *bufio.Reader, configured string) (rune, error) {
	if configured != "" && configured != "auto" {
		if configured == `\t` {
			return '\t', nil
		}
		r, size := utf8.DecodeRuneInString(configured)
		if size != len(configured) || r == '"' || r == '\n' || r == '\r' {
			return 0, fmt.Errorf("%w: invalid delimiter %q", domain.ErrSourceUnreadable, configured)
		}
		return r, nil
	}

	// Peek returns whatever is buffered when the file is shorter than the window
	buf, _ := br.Peek(64 * 1024)
	return detectDelimiter(string(buf)), nil
}

func detectDelimiter(data string) rune {
	best, bestCount := ',', 0
	for _, cand := range delimiterCandidates {
		n, inQuotes := 0, false
	scan:
		for _, r := range data {
			switch {
			case r == '"':
				inQuotes = !inQuotes
			case r == '\n' && !inQuotes:
				break scan
			case r == cand && !inQuotes:
				n++
			}
		}
		if n > bestCount {
			best, bestCount = cand, n
		}
	}
	return best
}
