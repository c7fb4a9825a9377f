package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Entry is one audited dashboard call. Mutating endpoints are recorded here
// so operations on hard-deleted orders stay visible after the rows are gone.
type Entry struct {
	Timestamp  time.Time
	OrderID    string
	Method     string
	Endpoint   string
	StatusCode int
	Message    string
}

type PoolConfig struct {
	BatchSize   int
	Timeout     time.Duration
	ChannelSize int
}

type Processor interface {
	Process(batch []Entry) error
}

// DBProcessor flushes batches into the audit_logs table with one multi-row
// insert.
type DBProcessor struct {
	DB *sql.DB
}

func (p *DBProcessor) Process(batch []Entry) error {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO audit_logs (timestamp, order_id, method, endpoint, status_code, message) VALUES `)

	params := make([]any, 0, len(batch)*6)
	idx := 1
	for i, rec := range batch {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d)", idx, idx+1, idx+2, idx+3, idx+4, idx+5))
		idx += 6
		params = append(params, rec.Timestamp, rec.OrderID, rec.Method, rec.Endpoint, rec.StatusCode, rec.Message)
	}
	if _, err := p.DB.Exec(sb.String(), params...); err != nil {
		return fmt.Errorf("audit db insert: %w", err)
	}
	return nil
}

// LogProcessor mirrors batches to the structured log, optionally filtered by
// a substring of the message.
type LogProcessor struct {
	Log    *slog.Logger
	Filter string
}

func (p *LogProcessor) Process(batch []Entry) error {
	for _, rec := range batch {
		if p.Filter != "" && !strings.Contains(strings.ToLower(rec.Message), strings.ToLower(p.Filter)) {
			continue
		}
		p.Log.Info("audit",
			"order_id", rec.OrderID,
			"method", rec.Method,
			"endpoint", rec.Endpoint,
			"status_code", rec.StatusCode,
			"message", rec.Message,
		)
	}
	return nil
}

// WorkerPool batches audit entries and hands them to its processors. Entries
// are dropped rather than blocking the request path when the channel fills.
type WorkerPool struct {
	inputCh    chan Entry
	processors []Processor
	batchSize  int
	timeout    time.Duration
	log        *slog.Logger

	wg sync.WaitGroup
}

func NewWorkerPool(cfg PoolConfig, log *slog.Logger, processors ...Processor) *WorkerPool {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 16
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.ChannelSize <= 0 {
		cfg.ChannelSize = 256
	}
	return &WorkerPool{
		inputCh:    make(chan Entry, cfg.ChannelSize),
		processors: processors,
		batchSize:  cfg.BatchSize,
		timeout:    cfg.Timeout,
		log:        log,
	}
}

func (p *WorkerPool) Start(ctx context.Context, numWorkers int) {
	if numWorkers <= 0 {
		numWorkers = 1
	}
	for i := 0; i < numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

func (p *WorkerPool) worker(ctx context.Context) {
	defer p.wg.Done()
	var batch []Entry
	timer := time.NewTimer(p.timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				p.processBatch(batch)
			}
			return
		case rec := <-p.inputCh:
			batch = append(batch, rec)
			if len(batch) >= p.batchSize {
				if !timer.Stop() {
					<-timer.C
				}
				p.processBatch(batch)
				batch = nil
				timer.Reset(p.timeout)
			}
		case <-timer.C:
			if len(batch) > 0 {
				p.processBatch(batch)
				batch = nil
			}
			timer.Reset(p.timeout)
		}
	}
}

func (p *WorkerPool) processBatch(batch []Entry) {
	for _, proc := range p.processors {
		if err := proc.Process(batch); err != nil {
			p.log.Error("audit batch processing failed", "error", err)
		}
	}
}

func (p *WorkerPool) Record(rec Entry) {
	select {
	case p.inputCh <- rec:
	default:
		p.log.Warn("audit channel full, dropping entry")
	}
}

// Shutdown drains the workers after the context driving Start is cancelled.
func (p *WorkerPool) Shutdown() {
	p.wg.Wait()
}
