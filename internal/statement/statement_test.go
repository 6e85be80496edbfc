package statement

import (
	"bytes"
	"testing"
	"time"

	"finance-tracker/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func sampleStatement() Statement {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return Statement{
		Account: models.Account{
			ID:             "acc-1",
			Name:           "Main Checking",
			Type:           "DEBIT",
			Currency:       "MXN",
			CurrentBalance: decimal.RequireFromString("60"),
			Status:         models.AccountStatusActive,
		},
		Transactions: []models.AccountTransaction{
			{ID: "t1", Type: models.TransactionCredit, Amount: decimal.NewFromInt(100), CurrentBalance: decimal.NewFromInt(100),
				Note: "ACCOUNT OPENING", Status: models.TransactionActive, CreatedAt: created},
			{ID: "t2", Type: models.TransactionDebit, Amount: decimal.NewFromInt(40), CurrentBalance: decimal.NewFromInt(60),
				Note: "Café - TRANSFER - DEBIT", Status: models.TransactionActive, CreatedAt: created.Add(time.Hour)},
		},
		GeneratedAt: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
	}
}

func TestTotals(t *testing.T) {
	credits, debits := sampleStatement().Totals()
	assert.True(t, credits.Equal(decimal.NewFromInt(100)))
	assert.True(t, debits.Equal(decimal.NewFromInt(40)))
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "statement-main-checking-20260302.pdf", sampleStatement().Filename("pdf"))
}

func TestWritePDF(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePDF(&buf, sampleStatement()))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF")), "output should be a PDF document")
}

func TestWritePDFPaginatesLongStatements(t *testing.T) {
	s := sampleStatement()
	for i := 0; i < 120; i++ {
		s.Transactions = append(s.Transactions, s.Transactions[1])
	}
	var short, long bytes.Buffer
	require.NoError(t, WritePDF(&short, sampleStatement()))
	require.NoError(t, WritePDF(&long, s))
	assert.Greater(t, long.Len(), short.Len())
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, sampleStatement()))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	name, err := f.GetCellValue(sheetName, "B1")
	require.NoError(t, err)
	assert.Equal(t, "Main Checking", name)

	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)
	require.Len(t, rows, 8, "4 meta rows, a blank row, the header and 2 transactions")
	assert.Equal(t, columns, rows[5])
	assert.Equal(t, "CREDIT", rows[6][1])
	assert.Equal(t, "-40", rows[7][3])
	assert.Equal(t, "Café - TRANSFER - DEBIT", rows[7][2])
}
