package service

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/formdesk-api/internal/models"
	"github.com/noah-isme/formdesk-api/internal/policy"
	appErrors "github.com/noah-isme/formdesk-api/pkg/errors"
	"github.com/noah-isme/formdesk-api/pkg/export"
)

const statisticsKeyPrefix = "stats:department:"

type statisticsRepository interface {
	CountByStatus(ctx context.Context, departmentID int64) (*models.DepartmentStatistics, error)
}

// StatisticsService serves per-department form counts, cached when a cache is configured.
type StatisticsService struct {
	repo        statisticsRepository
	departments departmentLookup
	cache       *CacheService
	metrics     *MetricsService
	renderer    *export.Renderer
	ttl         time.Duration
	logger      *zap.Logger
	now         func() time.Time

	// generation advances on every invalidation; a count read across an invalidation is not cached.
	generation atomic.Uint64
}

func NewStatisticsService(repo statisticsRepository, departments departmentLookup, cache *CacheService, metrics *MetricsService, ttl time.Duration, logger *zap.Logger) *StatisticsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatisticsService{
		repo:        repo,
		departments: departments,
		cache:       cache,
		metrics:     metrics,
		renderer:    export.NewRenderer(),
		ttl:         ttl,
		logger:      logger,
		now:         utcNow,
	}
}

func statisticsKey(departmentID int64) string {
	return statisticsKeyPrefix + strconv.FormatInt(departmentID, 10)
}

// Department returns the status counts for a department. The boolean reports a cache hit.
func (s *StatisticsService) Department(ctx context.Context, actor policy.Principal, departmentID int64) (*models.DepartmentStatistics, bool, error) {
	if err := authorize(actor, policy.ViewStatistics, policy.Target{DepartmentID: departmentID}); err != nil {
		return nil, false, err
	}
	if _, err := s.departments.FindByID(ctx, departmentID); err != nil {
		return nil, false, lookupError(err, "department")
	}

	key := statisticsKey(departmentID)
	var cached models.DepartmentStatistics
	if s.cache.Get(ctx, key, &cached) {
		return &cached, true, nil
	}

	generation := s.generation.Load()
	start := time.Now()
	stats, err := s.repo.CountByStatus(ctx, departmentID)
	s.metrics.ObserveDBQuery("statistics_count", time.Since(start))
	if err != nil {
		return nil, false, appErrors.Internal(err, "failed to count forms")
	}
	stats.DepartmentID = departmentID
	stats.Recount()
	stats.GeneratedAt = s.now()

	if s.generation.Load() == generation {
		s.cache.Set(ctx, key, stats, s.ttl)
	}
	return stats, false, nil
}

// Export renders a department's statistics as CSV or PDF.
func (s *StatisticsService) Export(ctx context.Context, actor policy.Principal, departmentID int64, format export.Format) (*export.Document, error) {
	stats, _, err := s.Department(ctx, actor, departmentID)
	if err != nil {
		return nil, err
	}

	rows := make([]map[string]string, 0, len(models.FormStatuses))
	for _, status := range models.FormStatuses {
		rows = append(rows, map[string]string{"status": string(status), "count": strconv.Itoa(stats.Count(status))})
	}

	data := export.Dataset{
		Title:   fmt.Sprintf("Department %d statistics (%s)", departmentID, stats.GeneratedAt.Format(time.RFC3339)),
		Headers: []string{"status", "count"},
		Rows:    rows,
		Footer:  []map[string]string{{"status": "TOTAL", "count": strconv.Itoa(stats.Total)}},
	}
	doc, err := s.renderer.Render(format, fmt.Sprintf("department-%d-statistics", departmentID), data)
	if err != nil {
		return nil, appErrors.Internal(err, "failed to render statistics export")
	}
	return doc, nil
}

// Invalidate drops cached statistics for the given departments.
func (s *StatisticsService) Invalidate(ctx context.Context, departmentIDs ...int64) {
	s.generation.Add(1)
	keys := make([]string, 0, len(departmentIDs))
	for _, id := range departmentIDs {
		if id > 0 {
			keys = append(keys, statisticsKey(id))
		}
	}
	s.cache.Delete(ctx, keys...)
}

// InvalidateAll drops every cached department statistic.
func (s *StatisticsService) InvalidateAll(ctx context.Context) {
	s.generation.Add(1)
	s.cache.Invalidate(ctx, statisticsKeyPrefix+"*")
}
