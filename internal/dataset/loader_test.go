package dataset

import (
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type fakeDecryptor struct {
	table *Table
	err   error
	calls int
}

func (f *fakeDecryptor) Decrypt(path, password string) (*Table, error) {
	f.calls++
	return f.table, f.err
}

func header() []string {
	return append([]string{"id"}, Columns...)
}

func writeWorkbook(t *testing.T, password string, rows [][]any) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	path := filepath.Join(t.TempDir(), "voc.xlsx")
	require.NoError(t, f.SaveAs(path, excelize.Options{Password: password}))
	return path
}

func TestLoadEncryptedWorkbook(t *testing.T) {
	hdr := make([]any, 0, len(header()))
	for _, h := range header() {
		hdr = append(hdr, h)
	}
	path := writeWorkbook(t, "s3cret", [][]any{
		hdr,
		{1, 5, 9, 6, 1, 2, 3, "구독", "해지 문의", "구독 해지가 안 됩니다"},
		{2, "", 10, 4, 3, 8, 8, " 베리 ", "베리", "베리 사용처"},
	})

	records, err := Load(ExcelDecryptor{}, path, "s3cret")
	require.NoError(t, err)
	require.Len(t, records, 2)

	first := records[0]
	assert.Equal(t, 5.0, first.DJ.R)
	assert.Equal(t, 9.0, first.DJ.F)
	assert.Equal(t, 6.0, first.DJ.M)
	assert.Equal(t, "구독", first.Category)
	assert.Equal(t, "해지 문의", first.Title)
	assert.Equal(t, "구독 해지가 안 됩니다", first.Body)

	// missing cells read as NaN, labels are left for the normalizer
	assert.True(t, math.IsNaN(records[1].DJ.R))
	assert.Equal(t, " 베리 ", records[1].Category)
}

func TestLoadWrongPassword(t *testing.T) {
	path := writeWorkbook(t, "right", [][]any{{"djScoreR"}})

	_, err := Load(ExcelDecryptor{}, path, "wrong")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDecryption))
}

func TestLoadMissingPasswordSkipsDecrypt(t *testing.T) {
	dec := &fakeDecryptor{}
	_, err := Load(dec, "voc.xlsx", "")
	require.ErrorIs(t, err, ErrDecryption)
	assert.Zero(t, dec.calls)
}

func TestLoadSchemaError(t *testing.T) {
	dec := &fakeDecryptor{table: &Table{
		Header: []string{"djScoreR", "djScoreF", "대분류"},
		Rows:   [][]string{{"1", "2", "구독"}},
	}}

	_, err := Load(dec, "voc.xlsx", "pw")
	require.ErrorIs(t, err, ErrSchema)

	var se *SchemaError
	require.True(t, errors.As(err, &se))
	assert.Contains(t, se.Missing, ColDJScoreM)
	assert.Contains(t, se.Missing, ColBody)
	assert.NotContains(t, se.Missing, ColCategory)
}

func TestParseShortRowsAndBlankLines(t *testing.T) {
	table := &Table{
		Header: []string{" djScoreR ", "djScoreF", "djScoreM2", "listenerScoreR", "listenerScoreF",
			"listenerScoreM2", "대분류", "문의 제목", "문의 내용"},
		Rows: [][]string{
			{"4", "8", "x", "", "", "", "랭킹"},
			{},
			{"", "  "},
		},
	}

	records, err := Parse(table)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 4.0, records[0].DJ.R)
	assert.True(t, math.IsNaN(records[0].DJ.M))
	assert.Equal(t, "랭킹", records[0].Category)
	assert.Equal(t, "", records[0].Body)
}

func TestDecryptErrorPropagates(t *testing.T) {
	dec := &fakeDecryptor{err: errors.Join(ErrDecryption, errors.New("bad key"))}
	_, err := Load(dec, "voc.xlsx", "pw")
	assert.ErrorIs(t, err, ErrDecryption)
}
