package audit

import (
	"context"
	"sync"
	"time"

	"github.com/kasuganosora/aiquest/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	queueSize     = 1024
	batchSize     = 100
	flushInterval = 2 * time.Second
)

// Attempt describes one answer submission to be recorded.
type Attempt struct {
	TraceID    string
	SessionID  string
	QuestID    string
	StepIndex  int
	Outcome    string
	Strategy   string
	Fallback   bool
	Answer     string
	DurationMs int
}

// Service records answer attempts asynchronously in batches. With a nil db
// the batches are written to the logger instead.
type Service struct {
	db     *gorm.DB
	ch     chan *model.AnswerAttempt
	stopCh chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
	logger *zap.Logger
}

// New creates a new audit Service and starts its background worker.
func New(db *gorm.DB, logger *zap.Logger) *Service {
	svc := &Service{
		db:     db,
		ch:     make(chan *model.AnswerAttempt, queueSize),
		stopCh: make(chan struct{}),
		logger: logger,
	}
	svc.wg.Add(1)
	go svc.worker()
	return svc
}

// Record enqueues an attempt. It never blocks; a full queue drops the entry.
func (svc *Service) Record(a Attempt) {
	rec := &model.AnswerAttempt{
		TraceID:    a.TraceID,
		SessionID:  a.SessionID,
		QuestID:    a.QuestID,
		StepIndex:  a.StepIndex,
		Outcome:    a.Outcome,
		Strategy:   a.Strategy,
		Fallback:   a.Fallback,
		Answer:     a.Answer,
		DurationMs: a.DurationMs,
		CreatedAt:  time.Now().UTC(),
	}
	select {
	case svc.ch <- rec:
	default:
		svc.logger.Warn("audit queue full, dropping attempt",
			zap.String("quest_id", a.QuestID), zap.String("outcome", a.Outcome))
	}
}

// Stop flushes remaining entries and shuts down the worker.
// It blocks until the worker goroutine has finished.
func (svc *Service) Stop(_ context.Context) {
	svc.once.Do(func() { close(svc.stopCh) })
	svc.wg.Wait()
}

func (svc *Service) worker() {
	defer svc.wg.Done()
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*model.AnswerAttempt, 0, batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		svc.write(batch)
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-svc.ch:
			batch = append(batch, entry)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-svc.stopCh:
			for {
				select {
				case entry := <-svc.ch:
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (svc *Service) write(batch []*model.AnswerAttempt) {
	if svc.db == nil {
		for _, a := range batch {
			svc.logger.Info("answer attempt",
				zap.String("trace_id", a.TraceID),
				zap.String("session_id", a.SessionID),
				zap.String("quest_id", a.QuestID),
				zap.Int("step_index", a.StepIndex),
				zap.String("outcome", a.Outcome),
				zap.String("strategy", a.Strategy),
				zap.Bool("fallback", a.Fallback),
				zap.Int("duration_ms", a.DurationMs))
		}
		return
	}
	if err := svc.db.Create(&batch).Error; err != nil {
		svc.logger.Error("audit batch write failed", zap.Int("size", len(batch)), zap.Error(err))
	}
}
