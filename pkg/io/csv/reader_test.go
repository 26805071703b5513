package csv

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShinTechz/fraud-detection-system/pkg/transaction"
)

const sample = "\ufeffTransaction_ID,user_id,timestamp,value,transaction_type,category,city,state,device,latitude,longitude\n" +
	"tx-1,USER_1001,2024-03-04 10:15:00,150.25,PIX,Alimentação,São Paulo,SP,Mobile,,\n" +
	"tx-2,USER_1001,2024-03-04T11:00:00Z,89.90,Cartão Débito,Transporte,Rio de Janeiro,RJ,Desktop,-22.9068,-43.1729\n" +
	"tx-3,USER_1002,not-a-date,10,PIX,Lazer,Curitiba,PR,Mobile,,\n" +
	"tx-4,USER_1002,2024-03-04 12:00:00,-5,PIX,Lazer,Curitiba,PR,Mobile,,\n" +
	"tx-5,USER_1002,2024-03-04 12:30:00.250,12.5,cheque,Lazer,Curitiba,PR,Mobile,,\n" +
	"tx-6,USER_1003,2024-03-04 13:00:00,1000,TED,Transferência,Recife,PE,Mobile,,\n"

func TestRead(t *testing.T) {
	r, err := NewFromReader(strings.NewReader(sample))
	require.NoError(t, err)
	defer r.Close()

	txs, rejected, err := r.Read()
	require.NoError(t, err)

	require.Len(t, txs, 3)
	assert.Equal(t, "tx-1", txs[0].ID)
	assert.Equal(t, time.Date(2024, 3, 4, 10, 15, 0, 0, time.UTC), txs[0].Timestamp)
	assert.True(t, decimal.RequireFromString("150.25").Equal(txs[0].Value))
	assert.Equal(t, transaction.TypePIX, txs[0].Type)
	assert.Equal(t, "Alimentação", txs[0].Category)
	assert.Nil(t, txs[0].Location)

	assert.Equal(t, transaction.TypeDebitCard, txs[1].Type)
	require.NotNil(t, txs[1].Location)
	assert.Equal(t, -22.9068, txs[1].Location.Lat)

	assert.Equal(t, "tx-6", txs[2].ID)

	require.Len(t, rejected, 3)
	assert.Equal(t, 4, rejected[0].Line)
	assert.Contains(t, rejected[0].Error(), "timestamp")
	assert.Equal(t, 5, rejected[1].Line)
	assert.Contains(t, rejected[1].Error(), "value must be positive")
	assert.Equal(t, 6, rejected[2].Line)
	for _, re := range rejected {
		assert.ErrorIs(t, re, transaction.ErrInvalid)
	}
}

func TestMissingColumn(t *testing.T) {
	_, err := NewFromReader(strings.NewReader("transaction_id,user_id,timestamp,value,type\n"))
	assert.ErrorIs(t, err, ErrMissingColumn)
	assert.Contains(t, err.Error(), "category")
}

func TestEmptyInput(t *testing.T) {
	_, err := NewFromReader(strings.NewReader(""))
	assert.Error(t, err)
}

func TestWithLocationAndComma(t *testing.T) {
	brt := time.FixedZone("BRT", -3*3600)
	input := "transaction_id;user_id;timestamp;value;type;category\n" +
		"tx-1;U1;2024-03-04 10:00:00;10,50;PIX;Lazer\n" +
		"tx-2;U1;2024-03-04 11:00:00;10.50;PIX;Lazer\n"

	r, err := NewFromReader(strings.NewReader(input), WithLocation(brt), WithComma(';'))
	require.NoError(t, err)

	txs, rejected, err := r.Read()
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, time.Date(2024, 3, 4, 14, 0, 0, 0, time.UTC), txs[0].Timestamp.UTC())
	// Decimal commas are not accepted.
	require.Len(t, rejected, 1)
	assert.Equal(t, 2, rejected[0].Line)
}

func TestNewReaderFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.csv")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	r, err := NewReader(path)
	require.NoError(t, err)
	assert.Len(t, r.Headers(), 11)

	txs, _, err := r.Read()
	require.NoError(t, err)
	assert.Len(t, txs, 3)
	assert.NoError(t, r.Close())

	_, err = NewReader(filepath.Join(t.TempDir(), "absent.csv"))
	assert.Error(t, err)
}
