package db

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"mlops/inference"
)

// PredictionLog persists prediction events from a background goroutine so
// request handlers never wait on SQLite. Events beyond the buffer are dropped.
type PredictionLog struct {
	store   *Store
	logger  *zap.Logger
	records chan inference.Event

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewPredictionLog returns an observer that writes predictions to store
// from a background goroutine. Events beyond buffer are dropped.
func NewPredictionLog(store *Store, logger *zap.Logger, buffer int) *PredictionLog {
	if buffer <= 0 {
		buffer = 1024
	}
	p := &PredictionLog{
		store:   store,
		logger:  logger,
		records: make(chan inference.Event, buffer),
	}
	p.wg.Add(1)
	go p.run()
	return p
}

func (p *PredictionLog) ObservePrediction(ev inference.Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.records <- ev:
	default:
		p.logger.Warn("prediction log buffer full, dropping record", zap.String("request_id", ev.RequestID))
	}
}

// Close stops accepting events and waits until buffered ones are written.
func (p *PredictionLog) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.records)
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *PredictionLog) run() {
	defer p.wg.Done()
	for ev := range p.records {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := p.store.SavePrediction(ctx, PredictionRecord{
			RequestID:   ev.RequestID,
			Features:    [4]float64{ev.Request.Feature1, ev.Request.Feature2, ev.Request.Feature3, ev.Request.Feature4},
			Label:       ev.Prediction,
			Probability: ev.Probability,
			Timestamp:   ev.Timestamp,
		})
		cancel()
		if err != nil {
			p.logger.Error("failed to save prediction", zap.String("request_id", ev.RequestID), zap.Error(err))
		}
	}
}
