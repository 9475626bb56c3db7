package router

import (
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"campaignflow/internal/domain"
)

// workerLog is one worker's append-only history. The mutex serializes
// appends so that stored order always matches invocation start order.
type workerLog struct {
	mu      sync.Mutex
	records []domain.InteractionRecord
}

// InteractionLog holds per-worker interaction histories. It is the only
// mutable state shared between concurrent dispatches.
type InteractionLog struct {
	mu      sync.RWMutex
	workers map[string]*workerLog
}

// NewInteractionLog creates an empty log.
func NewInteractionLog() *InteractionLog {
	return &InteractionLog{workers: make(map[string]*workerLog)}
}

func (l *InteractionLog) forWorker(workerID string) *workerLog {
	l.mu.RLock()
	wl, ok := l.workers[workerID]
	l.mu.RUnlock()
	if ok {
		return wl
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if wl, ok = l.workers[workerID]; ok {
		return wl
	}
	wl = &workerLog{}
	l.workers[workerID] = wl
	return wl
}

// Begin reserves the log slot for an invocation that is starting now and
// returns a completion function to fill in the result. Reserving the slot at
// start time guarantees that entries for a worker are never stored out of
// the order their invocations actually started, even under concurrent
// dispatches.
func (l *InteractionLog) Begin(workerID, task string) func(result string, isError bool) {
	wl := l.forWorker(workerID)

	wl.mu.Lock()
	idx := len(wl.records)
	wl.records = append(wl.records, domain.InteractionRecord{
		ID:        ulid.Make().String(),
		WorkerID:  workerID,
		Task:      task,
		Timestamp: time.Now(),
	})
	wl.mu.Unlock()

	return func(result string, isError bool) {
		wl.mu.Lock()
		wl.records[idx].Result = result
		wl.records[idx].IsError = isError
		wl.mu.Unlock()
	}
}

// Records returns a copy of the worker's interaction history in append order.
func (l *InteractionLog) Records(workerID string) []domain.InteractionRecord {
	l.mu.RLock()
	wl, ok := l.workers[workerID]
	l.mu.RUnlock()
	if !ok {
		return nil
	}

	wl.mu.Lock()
	defer wl.mu.Unlock()
	records := make([]domain.InteractionRecord, len(wl.records))
	copy(records, wl.records)
	return records
}

// Summary returns per-worker invocation counts and most recent timestamps,
// sorted by worker ID.
func (l *InteractionLog) Summary() []domain.InteractionSummary {
	l.mu.RLock()
	workerIDs := make([]string, 0, len(l.workers))
	for id := range l.workers {
		workerIDs = append(workerIDs, id)
	}
	l.mu.RUnlock()
	sort.Strings(workerIDs)

	summaries := make([]domain.InteractionSummary, 0, len(workerIDs))
	for _, id := range workerIDs {
		records := l.Records(id)
		if len(records) == 0 {
			continue
		}
		summaries = append(summaries, domain.InteractionSummary{
			WorkerID: id,
			Count:    len(records),
			LastAt:   records[len(records)-1].Timestamp,
		})
	}
	return summaries
}
