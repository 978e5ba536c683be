package dataset

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"voc-insights-go/internal/logger"
	"voc-insights-go/internal/types"
)

// Column headers of the monthly VOC export.
const (
	ColDJScoreR       = "djScoreR"
	ColDJScoreF       = "djScoreF"
	ColDJScoreM       = "djScoreM2"
	ColListenerScoreR = "listenerScoreR"
	ColListenerScoreF = "listenerScoreF"
	ColListenerScoreM = "listenerScoreM2"
	ColCategory       = "대분류"
	ColTitle          = "문의 제목"
	ColBody           = "문의 내용"
)

// Columns is the expected schema, in export order.
var Columns = []string{
	ColDJScoreR, ColDJScoreF, ColDJScoreM,
	ColListenerScoreR, ColListenerScoreF, ColListenerScoreM,
	ColCategory, ColTitle, ColBody,
}

// Table is the decrypted first sheet: a header row and raw string cells.
type Table struct {
	Header []string
	Rows   [][]string
}

// Decryptor opens a password-protected workbook.
type Decryptor interface {
	Decrypt(path, password string) (*Table, error)
}

// ExcelDecryptor reads ECMA-376 encrypted xlsx files with excelize.
type ExcelDecryptor struct{}

func (ExcelDecryptor) Decrypt(path, password string) (*Table, error) {
	f, err := excelize.OpenFile(path, excelize.Options{Password: password})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrDecryption, path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: no sheets", ErrSchema)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: read rows: %v", ErrDecryption, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no header row", ErrSchema)
	}
	return &Table{Header: rows[0], Rows: rows[1:]}, nil
}

// Load decrypts the export at path and maps every data row onto a Record.
// Either all rows are returned or an error; there are no partial results.
func Load(dec Decryptor, path, password string) ([]types.Record, error) {
	log := logger.Component("dataset.loader").WithField("path", path)
	if password == "" {
		return nil, fmt.Errorf("%w: password required", ErrDecryption)
	}

	table, err := dec.Decrypt(path, password)
	if err != nil {
		log.WithError(err).Error("decrypt failed")
		return nil, err
	}

	records, err := Parse(table)
	if err != nil {
		log.WithError(err).Error("schema check failed")
		return nil, err
	}
	log.WithField("rows", len(records)).Info("dataset loaded")
	return records, nil
}

// Parse maps a decrypted table onto records, checking the header first.
func Parse(table *Table) ([]types.Record, error) {
	idx := map[string]int{}
	for i, h := range table.Header {
		h = strings.TrimSpace(h)
		if _, dup := idx[h]; !dup {
			idx[h] = i
		}
	}
	var missing []string
	for _, c := range Columns {
		if _, ok := idx[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, &SchemaError{Missing: missing}
	}

	out := make([]types.Record, 0, len(table.Rows))
	for _, row := range table.Rows {
		if blank(row) {
			continue
		}
		cell := func(col string) string {
			i := idx[col]
			if i < len(row) {
				return row[i]
			}
			return ""
		}
		out = append(out, types.Record{
			DJ: types.Scores{
				R: score(cell(ColDJScoreR)),
				F: score(cell(ColDJScoreF)),
				M: score(cell(ColDJScoreM)),
			},
			Listener: types.Scores{
				R: score(cell(ColListenerScoreR)),
				F: score(cell(ColListenerScoreF)),
				M: score(cell(ColListenerScoreM)),
			},
			Category: cell(ColCategory),
			Title:    cell(ColTitle),
			Body:     cell(ColBody),
		})
	}
	return out, nil
}

// score parses a numeric cell; empty or non-numeric cells are NaN.
func score(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
