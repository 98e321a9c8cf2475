package storage

import (
	"context"
	"errors"
	"fmt"

	"odin-backtester/internal/model"

	"gorm.io/gorm"
)

// JobRepository stores job snapshots in backtest_jobs and the trades of
// completed jobs in trade_logs.
type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Save upserts the snapshot. Trade logs are rewritten whenever the snapshot
// carries trades.
func (r *JobRepository) Save(ctx context.Context, job model.BacktestJob) error {
	m, err := toJobModel(job)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(m).Error; err != nil {
			return fmt.Errorf("save job %s: %w", job.ID, err)
		}
		if len(job.Trades) == 0 {
			return nil
		}
		if err := tx.Where("job_id = ?", job.ID).Delete(&TradeLogModel{}).Error; err != nil {
			return fmt.Errorf("clear trade logs of %s: %w", job.ID, err)
		}
		logs := make([]TradeLogModel, 0, len(job.Trades))
		for _, t := range job.Trades {
			logs = append(logs, toTradeLog(job, t))
		}
		if err := tx.CreateInBatches(logs, 500).Error; err != nil {
			return fmt.Errorf("save trade logs of %s: %w", job.ID, err)
		}
		return nil
	})
}

func (r *JobRepository) Get(ctx context.Context, id string) (model.BacktestJob, error) {
	var m BacktestJobModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.BacktestJob{}, model.ErrJobNotFound
	}
	if err != nil {
		return model.BacktestJob{}, fmt.Errorf("get job %s: %w", id, err)
	}
	var trades []TradeLogModel
	if err := r.db.WithContext(ctx).Where("job_id = ?", id).Order("id ASC").Find(&trades).Error; err != nil {
		return model.BacktestJob{}, fmt.Errorf("get trade logs of %s: %w", id, err)
	}
	return toJob(&m, trades)
}

// List returns the newest jobs first, without trade logs.
func (r *JobRepository) List(ctx context.Context, limit int) ([]model.BacktestJob, error) {
	var rows []BacktestJobModel
	if err := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	out := make([]model.BacktestJob, 0, len(rows))
	for i := range rows {
		j, err := toJob(&rows[i], nil)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}

func (r *JobRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("job_id = ?", id).Delete(&TradeLogModel{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&BacktestJobModel{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return model.ErrJobNotFound
		}
		return nil
	})
}
