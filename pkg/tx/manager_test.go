package tx

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubTx заглушка pgx.Tx; методы не вызываются, нужен только сам факт
// присутствия транзакции в контексте
type stubTx struct {
	pgx.Tx
}

func TestDoReusesTransactionFromContext(t *testing.T) {
	// pool не задан: если бы Do попытался открыть новую транзакцию
	// вместо переиспользования существующей, тест бы упал
	m := &pgxTxManager{}
	ctx := context.WithValue(context.Background(), txKey, stubTx{})

	var called bool
	err := m.Do(ctx, func(inner context.Context) error {
		called = true
		got, ok := GetTxFromContext(inner)
		require.True(t, ok)
		assert.Equal(t, stubTx{}, got)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestGetTxFromContextEmpty(t *testing.T) {
	_, ok := GetTxFromContext(context.Background())
	assert.False(t, ok)
}
