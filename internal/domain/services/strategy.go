package services

import (
	"context"
	"sync"
	"time"

	"github.com/athebyme/gomarket-sync/internal/domain/models"
)

// mirrorCacheTTL срок жизни кэшированного зеркала оффера
const mirrorCacheTTL = 10 * time.Minute

// SyncStrategy определяет одно направление синхронизации.
// Стратегия обрабатывает не более batchSize элементов и возвращает
// агрегированный отчет; ошибка возвращается только при сбое всего
// выполнения (ошибки отдельных элементов попадают в отчет)
type SyncStrategy interface {
	Execute(ctx context.Context, batchSize int) (*models.SyncReport, error)
}

// itemOutcome исход обработки одного элемента батча.
// Нулевое значение означает, что элемент не был взят в работу (отмена
// контекста до диспетчеризации): такие слоты не попадают в счетчики
type itemOutcome int

const (
	outcomeUnset itemOutcome = iota
	outcomeSuccess
	outcomeFailed
	outcomeNeedsReview
)

// itemResult результат обработки одного элемента. fatal выставляется
// для ошибок, при которых продолжать выполнение бессмысленно
type itemResult struct {
	outcome  itemOutcome
	err      *models.SyncItemError
	conflict *models.ConflictRecord
	fatal    error
}

// fanOut выполняет fn для каждого индекса 0..n-1 в пуле из workers горутин.
// Результаты пишутся по индексу в заранее выделенный слайс вызывающей
// стороны, поэтому итоговая агрегация не зависит от порядка завершения
func fanOut(ctx context.Context, workers, n int, fn func(ctx context.Context, i int)) {
	if n == 0 {
		return
	}
	if workers < 1 {
		workers = 1
	}
	if workers > n {
		workers = n
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range jobs {
				fn(ctx, i)
			}
		}()
	}

dispatch:
	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			// прекращаем раздачу; уже взятые элементы довыполняются
			break dispatch
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()
}

// foldResults детерминированно сворачивает индексированные результаты в отчет.
// Первая фатальная ошибка отменяет отчет целиком
func foldResults(results []itemResult) (*models.SyncReport, error) {
	report := &models.SyncReport{}
	var fatal error

	for _, r := range results {
		if r.fatal != nil && fatal == nil {
			fatal = r.fatal
		}
		switch r.outcome {
		case outcomeUnset:
			// элемент не дошел до воркера, в отчете не участвует
		case outcomeSuccess:
			report.Processed++
			report.Successful++
		case outcomeFailed:
			report.Processed++
			report.Failed++
			if r.err != nil {
				report.Errors = append(report.Errors, *r.err)
			}
		case outcomeNeedsReview:
			report.NeedsReview++
		}
		if r.conflict != nil {
			report.Conflicts = append(report.Conflicts, *r.conflict)
		}
	}

	if fatal != nil {
		return nil, fatal
	}
	return report, nil
}

// mirrorCacheKey ключ кэша зеркала оффера для данного товара
func mirrorCacheKey(productID string) string {
	return "mirror:" + productID
}
