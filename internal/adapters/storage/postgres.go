package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/athebyme/gomarket-sync/internal/domain/models"
	"github.com/athebyme/gomarket-sync/internal/utils"
	"github.com/athebyme/gomarket-sync/pkg/tx"
	pkgutils "github.com/athebyme/gomarket-sync/pkg/utils"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository определяет интерфейс взаимодействия с хранилищем PostgreSQL.
// Методы Get* возвращают sentinel-ошибки из internal/utils
// (ErrProductNotFound, ErrMirrorNotFound, ErrJobNotFound, ErrEventNotFound)
// для отсутствующих записей
type Repository interface {
	// Product методы
	SaveProduct(ctx context.Context, product *models.Product) error
	GetProduct(ctx context.Context, productID string) (*models.Product, error)
	GetProductBySKU(ctx context.Context, sku string) (*models.Product, error)
	// ListDirtyProducts возвращает товары, измененные после последней синхронизации,
	// в стабильном порядке по ID
	ListDirtyProducts(ctx context.Context, limit int) ([]*models.Product, error)
	// ClearDirty снимает флаг после успешного пуша
	ClearDirty(ctx context.Context, productID string) error
	// AdjustProductStock атомарно изменяет остаток на delta и возвращает новое значение
	AdjustProductStock(ctx context.Context, productID string, delta int) (int, error)

	// OfferMirror методы
	SaveMirror(ctx context.Context, mirror *models.OfferMirror) error
	GetMirror(ctx context.Context, productID string) (*models.OfferMirror, error)
	GetMirrorByRemoteID(ctx context.Context, remoteOfferID string) (*models.OfferMirror, error)
	// ListMirrors возвращает зеркала в стабильном порядке по product_id
	ListMirrors(ctx context.Context, limit int) ([]*models.OfferMirror, error)
	// UpdateMirrorCAS обновляет зеркало при совпадении версии (compare-and-set).
	// Возвращает utils.ErrVersionConflict, если версия уже ушла вперед
	UpdateMirrorCAS(ctx context.Context, mirror *models.OfferMirror, expectedVersion int64) error
	// AdjustMirrorStock атомарно изменяет остаток зеркала на delta
	AdjustMirrorStock(ctx context.Context, remoteOfferID string, delta int) (int, error)
	// TouchMirrorSynced выставляет last_synced_at после успешной синхронизации элемента
	TouchMirrorSynced(ctx context.Context, productID string, syncedAt time.Time) error

	// SyncJob методы
	CreateSyncJob(ctx context.Context, job *models.SyncJob) error
	UpdateSyncJob(ctx context.Context, job *models.SyncJob) error
	GetSyncJob(ctx context.Context, jobID string) (*models.SyncJob, error)
	ListSyncJobs(ctx context.Context, filter models.SyncJobFilter, pagination *pkgutils.Pagination) ([]*models.SyncJob, int64, error)

	// WebhookEvent методы
	// CreateWebhookEvent вставляет событие; при конфликте по external_event_id
	// вставка не выполняется и возвращается inserted=false
	CreateWebhookEvent(ctx context.Context, event *models.WebhookEvent) (inserted bool, err error)
	GetWebhookEvent(ctx context.Context, eventID string) (*models.WebhookEvent, error)
	GetWebhookEventByExternalID(ctx context.Context, externalEventID string) (*models.WebhookEvent, error)
	UpdateWebhookEvent(ctx context.Context, event *models.WebhookEvent) error
}

// Port расширяет Repository управлением транзакциями и жизненным циклом соединения
type Port interface {
	Repository

	BeginTx(ctx context.Context) (context.Context, error)
	CommitTx(ctx context.Context) error
	RollbackTx(ctx context.Context) error

	Close() error
}

// contextKey тип для ключей контекста
type contextKey string

// Ключи контекста
const (
	txKey contextKey = "transaction"
)

// SyncStorage реализация интерфейса Repository для PostgreSQL
type SyncStorage struct {
	pool *pgxpool.Pool
}

var _ Port = (*SyncStorage)(nil)

// NewPostgresStorage создает новый экземпляр SyncStorage
func NewPostgresStorage(ctx context.Context, connectionString string) (*SyncStorage, error) {
	pool, err := pgxpool.New(ctx, connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	return &SyncStorage{pool: pool}, nil
}

// NewPostgresStorageWithPool создает хранилище поверх готового пула
func NewPostgresStorageWithPool(ctx context.Context, pool *pgxpool.Pool) (*SyncStorage, error) {
	if pool == nil {
		return nil, errors.New("pool is nil")
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return &SyncStorage{pool: pool}, nil
}

// Close закрывает соединение с БД
func (r *SyncStorage) Close() error {
	r.pool.Close()
	return nil
}

// Ping проверяет доступность БД
func (r *SyncStorage) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

type executor interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// getExecutor возвращает исполнителя запросов (транзакцию или пул)
func (r *SyncStorage) getExecutor(ctx context.Context) executor {
	if t := r.getTx(ctx); t != nil {
		return t
	}
	return r.pool
}

// getTx получает транзакцию из контекста: сначала из собственного ключа,
// затем из ключа TxManager (оба механизма используются сервисами)
func (r *SyncStorage) getTx(ctx context.Context) pgx.Tx {
	if t, ok := ctx.Value(txKey).(pgx.Tx); ok {
		return t
	}
	if t, ok := tx.GetTxFromContext(ctx); ok {
		return t
	}
	return nil
}

// BeginTx начинает новую транзакцию
func (r *SyncStorage) BeginTx(ctx context.Context) (context.Context, error) {
	t, err := r.pool.Begin(ctx)
	if err != nil {
		return ctx, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return context.WithValue(ctx, txKey, t), nil
}

// CommitTx фиксирует транзакцию
func (r *SyncStorage) CommitTx(ctx context.Context) error {
	t, ok := ctx.Value(txKey).(pgx.Tx)
	if !ok {
		return errors.New("no transaction in context")
	}
	return t.Commit(ctx)
}

// RollbackTx откатывает транзакцию
func (r *SyncStorage) RollbackTx(ctx context.Context) error {
	t, ok := ctx.Value(txKey).(pgx.Tx)
	if !ok {
		return errors.New("no transaction in context")
	}
	return t.Rollback(ctx)
}

// ---------------------------- products ----------------------------

// SaveProduct сохраняет товар в базу данных (upsert по ID)
func (r *SyncStorage) SaveProduct(ctx context.Context, product *models.Product) error {
	exec := r.getExecutor(ctx)

	query := `
		INSERT INTO sync.products (id, sku, name, price, currency, stock, published, dirty, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id)
		DO UPDATE SET
			sku = $2,
			name = $3,
			price = $4,
			currency = $5,
			stock = $6,
			published = $7,
			dirty = $8,
			updated_at = $10
	`

	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = now
	}

	_, err := exec.Exec(ctx, query, product.ID, product.SKU, product.Name, product.Price,
		product.Currency, product.Stock, product.Published, product.Dirty,
		product.CreatedAt, product.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save product: %w", err)
	}
	return nil
}

func (r *SyncStorage) scanProduct(row pgx.Row) (*models.Product, error) {
	var product models.Product
	err := row.Scan(&product.ID, &product.SKU, &product.Name, &product.Price, &product.Currency,
		&product.Stock, &product.Published, &product.Dirty, &product.CreatedAt, &product.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, utils.ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return &product, nil
}

// GetProduct получает товар по ID.
// Возвращает utils.ErrProductNotFound, если товара нет
func (r *SyncStorage) GetProduct(ctx context.Context, productID string) (*models.Product, error) {
	query := `
		SELECT id, sku, name, price, currency, stock, published, dirty, created_at, updated_at
		FROM sync.products
		WHERE id = $1
	`
	return r.scanProduct(r.getExecutor(ctx).QueryRow(ctx, query, productID))
}

// GetProductBySKU получает товар по артикулу
func (r *SyncStorage) GetProductBySKU(ctx context.Context, sku string) (*models.Product, error) {
	query := `
		SELECT id, sku, name, price, currency, stock, published, dirty, created_at, updated_at
		FROM sync.products
		WHERE sku = $1
	`
	return r.scanProduct(r.getExecutor(ctx).QueryRow(ctx, query, sku))
}

// ListDirtyProducts возвращает товары, помеченные для пуша, в порядке возрастания ID
func (r *SyncStorage) ListDirtyProducts(ctx context.Context, limit int) ([]*models.Product, error) {
	query := `
		SELECT id, sku, name, price, currency, stock, published, dirty, created_at, updated_at
		FROM sync.products
		WHERE dirty = TRUE
		ORDER BY id
		LIMIT $1
	`

	rows, err := r.getExecutor(ctx).Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list dirty products: %w", err)
	}
	defer rows.Close()

	var products []*models.Product
	for rows.Next() {
		var product models.Product
		err := rows.Scan(&product.ID, &product.SKU, &product.Name, &product.Price, &product.Currency,
			&product.Stock, &product.Published, &product.Dirty, &product.CreatedAt, &product.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product row: %w", err)
		}
		products = append(products, &product)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("error while iterating product rows: %w", rows.Err())
	}

	return products, nil
}

// ClearDirty снимает флаг dirty после успешного пуша товара
func (r *SyncStorage) ClearDirty(ctx context.Context, productID string) error {
	query := `UPDATE sync.products SET dirty = FALSE WHERE id = $1`

	ct, err := r.getExecutor(ctx).Exec(ctx, query, productID)
	if err != nil {
		return fmt.Errorf("failed to clear dirty flag: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return utils.ErrProductNotFound
	}
	return nil
}

// AdjustProductStock атомарно изменяет остаток товара на delta.
// Относительное изменение вместо слепой записи защищает от потерянных
// обновлений между pull-синхронизацией и конкурентным вебхуком
func (r *SyncStorage) AdjustProductStock(ctx context.Context, productID string, delta int) (int, error) {
	query := `
		UPDATE sync.products
		SET stock = stock + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING stock
	`

	var stock int
	err := r.getExecutor(ctx).QueryRow(ctx, query, productID, delta).Scan(&stock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, utils.ErrProductNotFound
		}
		return 0, fmt.Errorf("failed to adjust product stock: %w", err)
	}
	return stock, nil
}

// ---------------------------- offer mirrors ----------------------------

// SaveMirror сохраняет зеркало оффера (upsert по product_id) и инкрементирует версию
func (r *SyncStorage) SaveMirror(ctx context.Context, mirror *models.OfferMirror) error {
	exec := r.getExecutor(ctx)

	query := `
		INSERT INTO sync.offer_mirrors
			(product_id, remote_offer_id, quantity, price, currency, published,
			 remote_revision, remote_updated_at, last_synced_at, version, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, $10)
		ON CONFLICT (product_id)
		DO UPDATE SET
			remote_offer_id = $2,
			quantity = $3,
			price = $4,
			currency = $5,
			published = $6,
			remote_revision = $7,
			remote_updated_at = $8,
			last_synced_at = $9,
			version = sync.offer_mirrors.version + 1,
			updated_at = $10
		RETURNING version
	`

	mirror.UpdatedAt = time.Now().UTC()

	err := exec.QueryRow(ctx, query, mirror.ProductID, mirror.RemoteOfferID, mirror.Quantity,
		mirror.Price, mirror.Currency, mirror.Published, mirror.RemoteRevision,
		mirror.RemoteUpdatedAt, mirror.LastSyncedAt, mirror.UpdatedAt).Scan(&mirror.Version)
	if err != nil {
		return fmt.Errorf("failed to save offer mirror: %w", err)
	}
	return nil
}

func (r *SyncStorage) scanMirror(row pgx.Row) (*models.OfferMirror, error) {
	var mirror models.OfferMirror
	err := row.Scan(&mirror.ProductID, &mirror.RemoteOfferID, &mirror.Quantity, &mirror.Price,
		&mirror.Currency, &mirror.Published, &mirror.RemoteRevision, &mirror.RemoteUpdatedAt,
		&mirror.LastSyncedAt, &mirror.Version, &mirror.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, utils.ErrMirrorNotFound
		}
		return nil, fmt.Errorf("failed to get offer mirror: %w", err)
	}
	return &mirror, nil
}

// GetMirror получает зеркало по ID товара
func (r *SyncStorage) GetMirror(ctx context.Context, productID string) (*models.OfferMirror, error) {
	query := `
		SELECT product_id, remote_offer_id, quantity, price, currency, published,
		       remote_revision, remote_updated_at, last_synced_at, version, updated_at
		FROM sync.offer_mirrors
		WHERE product_id = $1
	`
	return r.scanMirror(r.getExecutor(ctx).QueryRow(ctx, query, productID))
}

// GetMirrorByRemoteID получает зеркало по внешнему ID оффера
func (r *SyncStorage) GetMirrorByRemoteID(ctx context.Context, remoteOfferID string) (*models.OfferMirror, error) {
	query := `
		SELECT product_id, remote_offer_id, quantity, price, currency, published,
		       remote_revision, remote_updated_at, last_synced_at, version, updated_at
		FROM sync.offer_mirrors
		WHERE remote_offer_id = $1
	`
	return r.scanMirror(r.getExecutor(ctx).QueryRow(ctx, query, remoteOfferID))
}

// ListMirrors возвращает зеркала в порядке возрастания product_id
func (r *SyncStorage) ListMirrors(ctx context.Context, limit int) ([]*models.OfferMirror, error) {
	query := `
		SELECT product_id, remote_offer_id, quantity, price, currency, published,
		       remote_revision, remote_updated_at, last_synced_at, version, updated_at
		FROM sync.offer_mirrors
		ORDER BY product_id
		LIMIT $1
	`

	rows, err := r.getExecutor(ctx).Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list offer mirrors: %w", err)
	}
	defer rows.Close()

	var mirrors []*models.OfferMirror
	for rows.Next() {
		var mirror models.OfferMirror
		err := rows.Scan(&mirror.ProductID, &mirror.RemoteOfferID, &mirror.Quantity, &mirror.Price,
			&mirror.Currency, &mirror.Published, &mirror.RemoteRevision, &mirror.RemoteUpdatedAt,
			&mirror.LastSyncedAt, &mirror.Version, &mirror.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan offer mirror row: %w", err)
		}
		mirrors = append(mirrors, &mirror)
	}

	if rows.Err() != nil {
		return nil, fmt.Errorf("error while iterating offer mirror rows: %w", rows.Err())
	}

	return mirrors, nil
}

// UpdateMirrorCAS обновляет зеркало при совпадении версии
func (r *SyncStorage) UpdateMirrorCAS(ctx context.Context, mirror *models.OfferMirror, expectedVersion int64) error {
	query := `
		UPDATE sync.offer_mirrors
		SET quantity = $2,
			price = $3,
			currency = $4,
			published = $5,
			remote_revision = $6,
			remote_updated_at = $7,
			last_synced_at = $8,
			version = version + 1,
			updated_at = NOW()
		WHERE product_id = $1 AND version = $9
		RETURNING version
	`

	err := r.getExecutor(ctx).QueryRow(ctx, query, mirror.ProductID, mirror.Quantity, mirror.Price,
		mirror.Currency, mirror.Published, mirror.RemoteRevision, mirror.RemoteUpdatedAt,
		mirror.LastSyncedAt, expectedVersion).Scan(&mirror.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return utils.ErrVersionConflict
		}
		return fmt.Errorf("failed to update offer mirror: %w", err)
	}
	return nil
}

// AdjustMirrorStock атомарно изменяет остаток зеркала на delta
func (r *SyncStorage) AdjustMirrorStock(ctx context.Context, remoteOfferID string, delta int) (int, error) {
	query := `
		UPDATE sync.offer_mirrors
		SET quantity = quantity + $2, version = version + 1, updated_at = NOW()
		WHERE remote_offer_id = $1
		RETURNING quantity
	`

	var quantity int
	err := r.getExecutor(ctx).QueryRow(ctx, query, remoteOfferID, delta).Scan(&quantity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, utils.ErrMirrorNotFound
		}
		return 0, fmt.Errorf("failed to adjust mirror stock: %w", err)
	}
	return quantity, nil
}

// TouchMirrorSynced выставляет время последней успешной синхронизации
func (r *SyncStorage) TouchMirrorSynced(ctx context.Context, productID string, syncedAt time.Time) error {
	query := `UPDATE sync.offer_mirrors SET last_synced_at = $2, updated_at = NOW() WHERE product_id = $1`

	ct, err := r.getExecutor(ctx).Exec(ctx, query, productID, syncedAt)
	if err != nil {
		return fmt.Errorf("failed to touch offer mirror: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return utils.ErrMirrorNotFound
	}
	return nil
}

// ---------------------------- sync jobs ----------------------------

// CreateSyncJob создает запись задания синхронизации (append-only)
func (r *SyncStorage) CreateSyncJob(ctx context.Context, job *models.SyncJob) error {
	query := `
		INSERT INTO sync.sync_jobs
			(id, type, status, started_at, completed_at, total_items, processed_items,
			 successful_items, failed_items, needs_review_items, errors, error_message, product_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	errorsJSON, err := json.Marshal(job.Errors)
	if err != nil {
		return fmt.Errorf("failed to marshal job errors: %w", err)
	}

	_, err = r.getExecutor(ctx).Exec(ctx, query, job.ID, job.Type, job.Status, job.StartedAt,
		job.CompletedAt, job.TotalItems, job.ProcessedItems, job.SuccessfulItems,
		job.FailedItems, job.NeedsReviewItems, errorsJSON, job.ErrorMessage, nullableString(job.ProductID))
	if err != nil {
		return fmt.Errorf("failed to create sync job: %w", err)
	}
	return nil
}

// UpdateSyncJob обновляет изменяемые поля задания (статус, счетчики, ошибки)
func (r *SyncStorage) UpdateSyncJob(ctx context.Context, job *models.SyncJob) error {
	query := `
		UPDATE sync.sync_jobs
		SET status = $2,
			completed_at = $3,
			total_items = $4,
			processed_items = $5,
			successful_items = $6,
			failed_items = $7,
			needs_review_items = $8,
			errors = $9,
			error_message = $10
		WHERE id = $1
	`

	errorsJSON, err := json.Marshal(job.Errors)
	if err != nil {
		return fmt.Errorf("failed to marshal job errors: %w", err)
	}

	ct, err := r.getExecutor(ctx).Exec(ctx, query, job.ID, job.Status, job.CompletedAt,
		job.TotalItems, job.ProcessedItems, job.SuccessfulItems, job.FailedItems,
		job.NeedsReviewItems, errorsJSON, job.ErrorMessage)
	if err != nil {
		return fmt.Errorf("failed to update sync job: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return utils.ErrJobNotFound
	}
	return nil
}

func (r *SyncStorage) scanSyncJob(row pgx.Row) (*models.SyncJob, error) {
	var job models.SyncJob
	var errorsJSON []byte
	var productID *string

	err := row.Scan(&job.ID, &job.Type, &job.Status, &job.StartedAt, &job.CompletedAt,
		&job.TotalItems, &job.ProcessedItems, &job.SuccessfulItems, &job.FailedItems,
		&job.NeedsReviewItems, &errorsJSON, &job.ErrorMessage, &productID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, utils.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get sync job: %w", err)
	}

	if len(errorsJSON) > 0 {
		if err := json.Unmarshal(errorsJSON, &job.Errors); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job errors: %w", err)
		}
	}
	if productID != nil {
		job.ProductID = *productID
	}

	return &job, nil
}

// GetSyncJob получает задание по ID
func (r *SyncStorage) GetSyncJob(ctx context.Context, jobID string) (*models.SyncJob, error) {
	query := `
		SELECT id, type, status, started_at, completed_at, total_items, processed_items,
		       successful_items, failed_items, needs_review_items, errors, error_message, product_id
		FROM sync.sync_jobs
		WHERE id = $1
	`
	return r.scanSyncJob(r.getExecutor(ctx).QueryRow(ctx, query, jobID))
}

// ListSyncJobs возвращает задания с фильтрацией и пагинацией
func (r *SyncStorage) ListSyncJobs(ctx context.Context, filter models.SyncJobFilter, pagination *pkgutils.Pagination) ([]*models.SyncJob, int64, error) {
	baseQuery := ` FROM sync.sync_jobs WHERE 1=1`
	args := []interface{}{}
	argPos := 1

	if filter.Type != nil {
		baseQuery += ` AND type = $` + strconv.Itoa(argPos)
		args = append(args, *filter.Type)
		argPos++
	}
	if filter.Status != nil {
		baseQuery += ` AND status = $` + strconv.Itoa(argPos)
		args = append(args, *filter.Status)
		argPos++
	}

	exec := r.getExecutor(ctx)

	var total int64
	if err := exec.QueryRow(ctx, "SELECT COUNT(*)"+baseQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count sync jobs: %w", err)
	}

	if total == 0 {
		return []*models.SyncJob{}, 0, nil
	}

	dataQuery := `
		SELECT id, type, status, started_at, completed_at, total_items, processed_items,
		       successful_items, failed_items, needs_review_items, errors, error_message, product_id
	` + baseQuery + `
		ORDER BY started_at DESC
		LIMIT $` + strconv.Itoa(argPos) + ` OFFSET $` + strconv.Itoa(argPos+1)

	args = append(args, pagination.GetLimit(), pagination.GetOffset())

	rows, err := exec.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list sync jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.SyncJob
	for rows.Next() {
		var job models.SyncJob
		var errorsJSON []byte
		var productID *string

		err := rows.Scan(&job.ID, &job.Type, &job.Status, &job.StartedAt, &job.CompletedAt,
			&job.TotalItems, &job.ProcessedItems, &job.SuccessfulItems, &job.FailedItems,
			&job.NeedsReviewItems, &errorsJSON, &job.ErrorMessage, &productID)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan sync job row: %w", err)
		}

		if len(errorsJSON) > 0 {
			if err := json.Unmarshal(errorsJSON, &job.Errors); err != nil {
				return nil, 0, fmt.Errorf("failed to unmarshal job errors: %w", err)
			}
		}
		if productID != nil {
			job.ProductID = *productID
		}

		jobs = append(jobs, &job)
	}

	if rows.Err() != nil {
		return nil, 0, fmt.Errorf("error while iterating sync job rows: %w", rows.Err())
	}

	return jobs, total, nil
}

// ---------------------------- webhook events ----------------------------

// CreateWebhookEvent вставляет событие вебхука. Уникальный индекс по
// external_event_id обеспечивает дедупликацию при at-least-once доставке
func (r *SyncStorage) CreateWebhookEvent(ctx context.Context, event *models.WebhookEvent) (bool, error) {
	query := `
		INSERT INTO sync.webhook_events
			(id, external_event_id, event_type, source, raw_payload, processed,
			 processed_at, processing_error, retry_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (external_event_id) DO NOTHING
	`

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	ct, err := r.getExecutor(ctx).Exec(ctx, query, event.ID, event.ExternalEventID, event.EventType,
		event.Source, event.RawPayload, event.Processed, event.ProcessedAt,
		event.ProcessingError, event.RetryCount, event.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("failed to create webhook event: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

func (r *SyncStorage) scanWebhookEvent(row pgx.Row) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	err := row.Scan(&event.ID, &event.ExternalEventID, &event.EventType, &event.Source,
		&event.RawPayload, &event.Processed, &event.ProcessedAt, &event.ProcessingError,
		&event.RetryCount, &event.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, utils.ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to get webhook event: %w", err)
	}
	return &event, nil
}

// GetWebhookEvent получает событие по внутреннему ID
func (r *SyncStorage) GetWebhookEvent(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
	query := `
		SELECT id, external_event_id, event_type, source, raw_payload, processed,
		       processed_at, processing_error, retry_count, created_at
		FROM sync.webhook_events
		WHERE id = $1
	`
	return r.scanWebhookEvent(r.getExecutor(ctx).QueryRow(ctx, query, eventID))
}

// GetWebhookEventByExternalID получает событие по ключу идемпотентности
func (r *SyncStorage) GetWebhookEventByExternalID(ctx context.Context, externalEventID string) (*models.WebhookEvent, error) {
	query := `
		SELECT id, external_event_id, event_type, source, raw_payload, processed,
		       processed_at, processing_error, retry_count, created_at
		FROM sync.webhook_events
		WHERE external_event_id = $1
	`
	return r.scanWebhookEvent(r.getExecutor(ctx).QueryRow(ctx, query, externalEventID))
}

// UpdateWebhookEvent обновляет статус обработки события. Обновлению
// подлежат только необработанные записи: PROCESSED — конечное состояние,
// и конкурентная доставка не должна перезаписать его
func (r *SyncStorage) UpdateWebhookEvent(ctx context.Context, event *models.WebhookEvent) error {
	query := `
		UPDATE sync.webhook_events
		SET processed = $2,
			processed_at = $3,
			processing_error = $4,
			retry_count = $5
		WHERE id = $1 AND processed = FALSE
	`

	ct, err := r.getExecutor(ctx).Exec(ctx, query, event.ID, event.Processed, event.ProcessedAt,
		event.ProcessingError, event.RetryCount)
	if err != nil {
		return fmt.Errorf("failed to update webhook event: %w", err)
	}
	if ct.RowsAffected() == 0 {
		// вызывающие всегда держат существующую запись, поэтому ноль строк
		// означает, что событие уже довела до конца конкурентная доставка
		return utils.ErrEventAlreadyProcessed
	}
	return nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
