package source

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// CSVReader reads a delimited export whose first record is the header.
// Spreadsheet exports often carry a UTF-8 BOM, which is stripped.
type CSVReader struct {
	closer io.Closer
	r      *csv.Reader
	header []string
}

// OpenCSV opens path. An empty delimiter means comma.
func OpenCSV(path, delimiter string) (*CSVReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source file: %w", err)
	}
	r, err := NewCSVReader(f, delimiter)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	r.closer = f
	return r, nil
}

// NewCSVReader reads the header from in immediately.
func NewCSVReader(in io.Reader, delimiter string) (*CSVReader, error) {
	decoded := transform.NewReader(in, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	cr := csv.NewReader(decoded)
	cr.FieldsPerRecord = -1
	if delimiter != "" {
		cr.Comma = []rune(delimiter)[0]
	}

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("source file has no header row")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i := range header {
		header[i] = normalizeHeader(header[i])
	}

	return &CSVReader{r: cr, header: header}, nil
}

func (c *CSVReader) Next(ctx context.Context) (Row, error) {
	if err := ctx.Err(); err != nil {
		return Row{}, err
	}
	rec, err := c.r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Row{}, io.EOF
		}
		return Row{}, fmt.Errorf("read record: %w", err)
	}
	line, _ := c.r.FieldPos(0)

	values := make([]interface{}, len(c.header))
	for i := range c.header {
		if i >= len(rec) || rec[i] == "" {
			continue
		}
		values[i] = rec[i]
	}
	return NewRow(line, c.header, values), nil
}

func (c *CSVReader) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}
