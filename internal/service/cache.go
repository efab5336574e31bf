// CacheService — LRU-кэш метаданных записей с TTL.
// Записи в реестре неизменяемы, поэтому кэш не требует инвалидации по событиям.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mediblock/ehr-gateway/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gw_record_cache_hits_total",
		Help: "Общее количество попаданий в кэш метаданных записей.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gw_record_cache_misses_total",
		Help: "Общее количество промахов кэша метаданных записей.",
	})
)

// CacheService — in-memory кэш UploadRecord по recordId.
// nil *CacheService — выключенный кэш: Get всегда miss, Set ничего не делает.
type CacheService struct {
	cache *expirable.LRU[string, *model.UploadRecord]
}

// NewCacheService создаёт LRU-кэш с указанным максимальным размером и TTL.
// При maxSize <= 0 возвращает nil (у expirable.LRU размер 0 означает «без лимита»).
func NewCacheService(maxSize int, ttl time.Duration) *CacheService {
	if maxSize <= 0 {
		return nil
	}
	cache := expirable.NewLRU[string, *model.UploadRecord](maxSize, nil, ttl)
	return &CacheService{cache: cache}
}

// Get возвращает копию записи из кэша.
// Возвращает (запись, true) при hit или (nil, false) при miss.
func (c *CacheService) Get(recordID string) (*model.UploadRecord, bool) {
	if c == nil {
		return nil, false
	}
	val, ok := c.cache.Get(recordID)
	if ok {
		cacheHitsTotal.Inc()
		rec := *val
		return &rec, true
	}
	cacheMissesTotal.Inc()
	return nil, false
}

// Set добавляет запись в кэш.
func (c *CacheService) Set(recordID string, record *model.UploadRecord) {
	if c == nil || record == nil {
		return
	}
	rec := *record
	c.cache.Add(recordID, &rec)
}

// Delete удаляет запись из кэша (объект записи пропал из IPFS).
func (c *CacheService) Delete(recordID string) {
	if c == nil {
		return
	}
	c.cache.Remove(recordID)
}
