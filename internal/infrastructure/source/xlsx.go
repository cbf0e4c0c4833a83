package source

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/catalogsync/importer/internal/domain"
)

// XLSXReader streams rows from one worksheet of a spreadsheet export
type XLSXReader struct {
	file   *excelize.File
	rows   *excelize.Rows
	header []string
	line   int
}

// NewXLSXReader opens the workbook and reads the header of the selected sheet
func NewXLSXReader(path string, opts Options) (*XLSXReader, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSourceUnreadable, err)
	}

	sheet, err := pickSheet(f, opts.Sheet)
	if err != nil {
		f.Close()
		return nil, err
	}

	rows, err := f.Rows(sheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: sheet %q: %v", domain.ErrSourceUnreadable, sheet, err)
	}

	x := &XLSXReader{file: f, rows: rows}
	if !rows.Next() {
		x.Close()
		return nil, fmt.Errorf("%w: sheet %q has no header row", domain.ErrSourceUnreadable, sheet)
	}
	x.line = 1
	raw, err := rows.Columns()
	if err != nil {
		x.Close()
		return nil, fmt.Errorf("%w: reading header: %v", domain.ErrSourceUnreadable, err)
	}
	if x.header, err = mapHeader(raw, opts.Columns); err != nil {
		x.Close()
		return nil, err
	}

	zap.L().Debug("opened xlsx source",
		zap.String("path", path),
		zap.String("sheet", sheet),
		zap.Strings("columns", x.header))
	return x, nil
}

func pickSheet(f *excelize.File, want string) (string, error) {
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return "", fmt.Errorf("%w: workbook has no sheets", domain.ErrSourceUnreadable)
	}
	if want == "" {
		return sheets[0], nil
	}
	for _, name := range sheets {
		if strings.EqualFold(name, want) {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: sheet %q not found", domain.ErrSourceUnreadable, want)
}

// Header returns the mapped logical header
func (x *XLSXReader) Header() []string {
	return x.header
}

// Next returns the next non-blank row. Trailing empty cells are padded.
func (x *XLSXReader) Next() (domain.RawRow, error) {
	for x.rows.Next() {
		x.line++
		cols, err := x.rows.Columns()
		if err != nil {
			return domain.RawRow{Line: x.line}, fmt.Errorf("%w: line %d: %v", domain.ErrMalformedRow, x.line, err)
		}
		if blank(cols) {
			continue
		}
		if len(cols) > len(x.header) {
			return domain.RawRow{Line: x.line}, fmt.Errorf("%w: line %d: got %d cells, want %d",
				domain.ErrMalformedRow, x.line, len(cols), len(x.header))
		}
		values := make([]string, len(x.header))
		copy(values, cols)
		return domain.RawRow{Line: x.line, Header: x.header, Values: values}, nil
	}
	if err := x.rows.Error(); err != nil {
		return domain.RawRow{}, fmt.Errorf("%w: %v", domain.ErrSourceUnreadable, err)
	}
	return domain.RawRow{}, io.EOF
}

func (x *XLSXReader) Close() error {
	if x.rows != nil {
		x.rows.Close()
	}
	return x.file.Close()
}
