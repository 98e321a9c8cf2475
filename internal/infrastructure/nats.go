package infrastructure

import (
	"encoding/json"
	"fmt"

	"odin-backtester/internal/model"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	JobStream        = "BACKTEST"
	JobSubjectPrefix = "backtest.job."
	JobSubjectAll    = "backtest.job.*"
)

// JobSubject is the subject that carries lifecycle events of one job.
func JobSubject(jobID string) string {
	return JobSubjectPrefix + jobID
}

func InitNATS(url string, logger *zap.Logger) (*nats.Conn, nats.JetStreamContext, error) {
	return connectJetStream(url, nil, logger)
}

func connectJetStream(url string, connOpts []nats.Option, logger *zap.Logger, jsOpts ...nats.JSOpt) (*nats.Conn, nats.JetStreamContext, error) {
	nc, err := nats.Connect(url, connOpts...)
	if err != nil {
		return nil, nil, err
	}

	js, err := nc.JetStream(jsOpts...)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream context: %w", err)
	}

	cfg := &nats.StreamConfig{
		Name:     JobStream,
		Subjects: []string{JobSubjectAll},
	}
	// Create stream if it doesn't exist
	if _, err = js.AddStream(cfg); err != nil {
		if _, err = js.UpdateStream(cfg); err != nil {
			logger.Warn("failed to create or update stream", zap.Error(err))
		}
	}

	return nc, js, nil
}

// JobEvent is the wire form of a lifecycle transition. Results are omitted;
// clients fetch them over HTTP.
type JobEvent struct {
	JobID      string          `json:"job_id"`
	StrategyID string          `json:"strategy_id"`
	Status     model.JobStatus `json:"status"`
	Error      string          `json:"error,omitempty"`
}

// NATSPublisher publishes job transitions to JetStream.
type NATSPublisher struct {
	js     nats.JetStreamContext
	logger *zap.Logger
}

func NewNATSPublisher(js nats.JetStreamContext, logger *zap.Logger) *NATSPublisher {
	return &NATSPublisher{js: js, logger: logger}
}

func (p *NATSPublisher) PublishJob(job model.BacktestJob) {
	data, err := json.Marshal(JobEvent{
		JobID:      job.ID,
		StrategyID: job.StrategyID,
		Status:     job.Status,
		Error:      job.Error,
	})
	if err != nil {
		p.logger.Error("failed to marshal job event", zap.Error(err))
		return
	}
	if _, err := p.js.Publish(JobSubject(job.ID), data); err != nil {
		p.logger.Error("failed to publish job event",
			zap.String("job_id", job.ID), zap.Error(fmt.Errorf("publish: %w", err)))
	}
}
