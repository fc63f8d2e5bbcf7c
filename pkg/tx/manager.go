package tx

import (
	"context"
	"fmt"

	"github.com/athebyme/gomarket-sync/pkg/interfaces"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// txKey - ключ для хранения транзакции в контексте. Используем приватный тип, чтобы избежать коллизий.
type txKeyType struct{}

var txKey = txKeyType{}

// TxManager управляет жизненным циклом транзакций БД.
type TxManager interface {
	// Do выполняет переданную функцию `fn` внутри транзакции.
	// Если `fn` возвращает ошибку, транзакция откатывается (Rollback).
	// Если `fn` завершается успешно (возвращает nil), транзакция фиксируется (Commit).
	// Контекст, передаваемый в `fn`, будет содержать саму транзакцию.
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// pgxTxManager - реализация TxManager для pgx.
type pgxTxManager struct {
	pool   *pgxpool.Pool
	logger interfaces.LoggerPort
}

// NewTxManager создает новый менеджер транзакций.
func NewTxManager(pool *pgxpool.Pool, logger interfaces.LoggerPort) TxManager {
	return &pgxTxManager{pool: pool, logger: logger}
}

// Do реализует метод интерфейса TxManager.
func (m *pgxTxManager) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	// Вложенный Do выполняется в уже открытой транзакции: фиксацию и откат
	// контролирует внешний вызов
	if _, ok := GetTxFromContext(ctx); ok {
		return fn(ctx)
	}

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("tx.Begin failed: %w", err)
	}

	// Создаем новый контекст с транзакцией внутри
	txCtx := context.WithValue(ctx, txKey, tx)

	// Откат в defer нужен для случаев паники внутри fn или ошибки при Commit.
	// Rollback вернет ошибку, только если транзакция уже завершена
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	err = fn(txCtx)
	if err != nil {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil {
			// Логируем ошибку отката, но возвращаем оригинальную ошибку от fn
			m.logger.ErrorWithContext(ctx, "Ошибка отката транзакции",
				interfaces.LogField{Key: "rollback_error", Value: rollbackErr.Error()},
				interfaces.LogField{Key: "error", Value: err.Error()},
			)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx.Commit failed: %w", err)
	}

	return nil
}

// GetTxFromContext извлекает транзакцию из контекста.
// Используется репозиторием, чтобы выполнять запросы внутри транзакции,
// открытой через TxManager.Do.
func GetTxFromContext(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(txKey).(pgx.Tx)
	return tx, ok
}
