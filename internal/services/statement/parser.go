package statement

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"encoding/csv"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/kevin07696/cashier-settlement/internal/domain"
	"github.com/shopspring/decimal"
)

// Format locates the comparison fields in a channel's statement layout
type Format struct {
	Name         string
	HeaderRows   int
	FooterRows   int
	KeyColumn    int
	StatusColumn int
	AmountColumn int
	TimeColumn   int
}

// DefaultFormat is the single-footer layout: one header row, data rows, one
// totals row
func DefaultFormat() Format {
	return Format{
		Name:         "default",
		HeaderRows:   1,
		FooterRows:   1,
		KeyColumn:    6,
		StatusColumn: 9,
		AmountColumn: 12,
		TimeColumn:   0,
	}
}

// WxPayBillFormat is the channel's ALL bill: the totals block at the end is a
// caption row plus a values row
func WxPayBillFormat() Format {
	f := DefaultFormat()
	f.Name = "wxpay_bill"
	f.FooterRows = 2
	return f
}

func (f Format) width() int {
	return max(f.KeyColumn, f.StatusColumn, f.AmountColumn, f.TimeColumn) + 1
}

// Statement is one parsed channel statement
type Statement struct {
	Lines   map[string]domain.ChannelStatementLine
	Rows    int // data rows between header and footer
	Skipped int // rows too short or without a key
}

// Parse reads statement text into a lookup keyed by the key column. A later
// row with the same key replaces an earlier one.
func Parse(text string, f Format) (*Statement, error) {
	text = strings.ReplaceAll(text, "`", "")

	var rows []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		rows = append(rows, line)
	}

	st := &Statement{Lines: make(map[string]domain.ChannelStatementLine)}
	if len(rows) <= f.HeaderRows+f.FooterRows {
		return st, nil
	}
	rows = rows[f.HeaderRows : len(rows)-f.FooterRows]
	st.Rows = len(rows)

	reader := csv.NewReader(strings.NewReader(strings.Join(rows, "\n")))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	width := f.width()
	for rowNum := f.HeaderRows + 1; ; rowNum++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", rowNum, err)
		}
		if len(record) < width {
			st.Skipped++
			continue
		}

		key := strings.TrimSpace(record[f.KeyColumn])
		if key == "" {
			st.Skipped++
			continue
		}
		amount, err := decimal.NewFromString(strings.TrimSpace(record[f.AmountColumn]))
		if err != nil {
			return nil, fmt.Errorf("row %d amount: %w", rowNum, err)
		}

		st.Lines[key] = domain.ChannelStatementLine{
			TxnNo:     key,
			Status:    strings.TrimSpace(record[f.StatusColumn]),
			Amount:    amount,
			TradeTime: strings.TrimSpace(record[f.TimeColumn]),
		}
	}
	return st, nil
}

var (
	zipMagic  = []byte("PK\x03\x04")
	gzipMagic = []byte{0x1f, 0x8b}
)

// archiveKind names the container a raw download arrived in
func archiveKind(raw []byte) string {
	switch {
	case bytes.HasPrefix(raw, zipMagic):
		return "zip"
	case bytes.HasPrefix(raw, gzipMagic):
		return "gzip"
	default:
		return "text"
	}
}

// Unpack returns the statement text inside raw. Zip archives yield their
// first CSV member, or their first file when none ends in .csv.
func Unpack(raw []byte) (string, error) {
	switch archiveKind(raw) {
	case "zip":
		return unzip(raw)
	case "gzip":
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return "", fmt.Errorf("open gzip statement: %w", err)
		}
		defer zr.Close()
		body, err := io.ReadAll(zr)
		if err != nil {
			return "", fmt.Errorf("read gzip statement: %w", err)
		}
		return string(body), nil
	default:
		return string(raw), nil
	}
}

func unzip(raw []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("open zip statement: %w", err)
	}

	var pick *zip.File
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if pick == nil {
			pick = f
		}
		if strings.EqualFold(path.Ext(f.Name), ".csv") {
			pick = f
			break
		}
	}
	if pick == nil {
		return "", fmt.Errorf("zip statement has no files")
	}

	rc, err := pick.Open()
	if err != nil {
		return "", fmt.Errorf("open %s: %w", pick.Name, err)
	}
	defer rc.Close()
	body, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", pick.Name, err)
	}
	return string(body), nil
}
