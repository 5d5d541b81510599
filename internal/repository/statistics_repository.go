package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/formdesk-api/internal/models"
)

// StatisticsRepository aggregates form counts. It never writes.
type StatisticsRepository struct {
	db *sqlx.DB
}

func NewStatisticsRepository(db *sqlx.DB) *StatisticsRepository {
	return &StatisticsRepository{db: db}
}

// CountByStatus partitions a department's forms by status in a single snapshot read.
func (r *StatisticsRepository) CountByStatus(ctx context.Context, departmentID int64) (*models.DepartmentStatistics, error) {
	const query = `SELECT
	COUNT(*) FILTER (WHERE f.status = 'PENDING') AS pending,
	COUNT(*) FILTER (WHERE f.status = 'PROCESSING') AS processing,
	COUNT(*) FILTER (WHERE f.status = 'ACCEPTED') AS accepted,
	COUNT(*) FILTER (WHERE f.status = 'REJECTED') AS rejected
	FROM forms f JOIN categories c ON c.id = f.category_id
	WHERE c.department_id = $1`
	stats := models.DepartmentStatistics{DepartmentID: departmentID}
	if err := r.db.GetContext(ctx, &stats, query, departmentID); err != nil {
		return nil, fmt.Errorf("count forms by status: %w", err)
	}
	stats.Recount()
	return &stats, nil
}
