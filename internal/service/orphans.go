// orphans.go — учёт объектов IPFS, оставшихся без записи в Record Service.
//
// Загрузка не транзакционна: если CreateRecord упал после успешного Put,
// шифртекст остаётся в IPFS. Откат в запросе не выполняется. OrphanReporter
// пишет WARN с CID и увеличивает gw_orphaned_blobs_total; при GW_ORPHAN_UNPIN=true
// дополнительно снимает pin в фоне, вне жизненного цикла запроса.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// defaultUnpinTimeout — таймаут фонового снятия pin.
const defaultUnpinTimeout = 30 * time.Second

// Prometheus-метрики осиротевших объектов.
var (
	orphanedBlobsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gw_orphaned_blobs_total",
		Help: "Количество объектов IPFS, для которых не удалось создать запись в Record Service.",
	})
	orphanUnpinsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gw_orphan_unpins_total",
		Help: "Количество попыток снятия pin с осиротевших объектов (по результату).",
	}, []string{"result"})
)

// OrphanReporter — учёт и (опционально) очистка осиротевших объектов.
type OrphanReporter struct {
	blobs   BlobStore
	unpin   bool
	timeout time.Duration
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewOrphanReporter создаёт OrphanReporter.
// unpin — снимать pin в фоне (GW_ORPHAN_UNPIN), timeout — лимит на одну операцию
// (0 — значение по умолчанию).
func NewOrphanReporter(blobs BlobStore, unpin bool, timeout time.Duration, logger *slog.Logger) *OrphanReporter {
	if timeout <= 0 {
		timeout = defaultUnpinTimeout
	}
	return &OrphanReporter{
		blobs:   blobs,
		unpin:   unpin,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "orphan_reporter")),
	}
}

// Report фиксирует осиротевший объект. Не блокирует запрос.
func (o *OrphanReporter) Report(ctx context.Context, cid, patientID string, cause error) {
	orphanedBlobsTotal.Inc()
	o.logger.Warn("Объект IPFS остался без записи в Record Service",
		slog.String("cid", cid),
		slog.String("patient_id", patientID),
		slog.Bool("unpin", o.unpin),
		slog.String("error", cause.Error()),
	)

	if !o.unpin {
		return
	}

	// Контекст отвязан от отмены запроса: клиент уже получил 500.
	bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.timeout)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()

		if err := o.blobs.Unpin(bgCtx, cid); err != nil {
			orphanUnpinsTotal.WithLabelValues("error").Inc()
			o.logger.Error("Не удалось снять pin с осиротевшего объекта",
				slog.String("cid", cid),
				slog.String("error", err.Error()),
			)
			return
		}
		orphanUnpinsTotal.WithLabelValues("success").Inc()
		o.logger.Info("Pin с осиротевшего объекта снят", slog.String("cid", cid))
	}()
}

// Wait ожидает завершения фоновых операций unpin (graceful shutdown, тесты).
func (o *OrphanReporter) Wait() {
	o.wg.Wait()
}
