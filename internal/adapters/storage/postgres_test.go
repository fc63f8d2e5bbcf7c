package storage

import (
	"errors"
	"testing"

	"github.com/athebyme/gomarket-sync/internal/utils"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubRow подменяет pgx.Row фиксированной ошибкой сканирования
type stubRow struct {
	err error
}

func (r stubRow) Scan(dest ...any) error {
	return r.err
}

// Контракт хранилища: отсутствующая запись — это sentinel-ошибка, а не
// nil-значение. Сервисы и обработчики различают "не найдено" только через
// errors.Is и разыменовывают результат без проверки на nil
func TestScanHelpersReturnNotFoundSentinels(t *testing.T) {
	s := &SyncStorage{}
	noRows := stubRow{err: pgx.ErrNoRows}

	p, err := s.scanProduct(noRows)
	assert.Nil(t, p)
	assert.ErrorIs(t, err, utils.ErrProductNotFound)

	m, err := s.scanMirror(noRows)
	assert.Nil(t, m)
	assert.ErrorIs(t, err, utils.ErrMirrorNotFound)

	j, err := s.scanSyncJob(noRows)
	assert.Nil(t, j)
	assert.ErrorIs(t, err, utils.ErrJobNotFound)

	e, err := s.scanWebhookEvent(noRows)
	assert.Nil(t, e)
	assert.ErrorIs(t, err, utils.ErrEventNotFound)
}

func TestScanHelpersWrapOtherErrors(t *testing.T) {
	s := &SyncStorage{}
	scanErr := errors.New("broken connection")
	row := stubRow{err: scanErr}

	_, err := s.scanProduct(row)
	require.Error(t, err)
	assert.ErrorIs(t, err, scanErr)
	assert.NotErrorIs(t, err, utils.ErrProductNotFound)

	_, err = s.scanMirror(row)
	require.Error(t, err)
	assert.ErrorIs(t, err, scanErr)

	_, err = s.scanSyncJob(row)
	require.Error(t, err)
	assert.ErrorIs(t, err, scanErr)

	_, err = s.scanWebhookEvent(row)
	require.Error(t, err)
	assert.ErrorIs(t, err, scanErr)
}
