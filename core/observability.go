package core

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultTaskHistoryCapacity = 100

// TaskExecutionRecord captures a completed task execution event.
type TaskExecutionRecord struct {
	TaskID     uuid.UUID     `json:"task_id"`
	QueueName  string        `json:"queue"`
	Priority   QueuePriority `json:"priority"`
	EnqueuedAt time.Time     `json:"enqueued_at"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
	Panicked   bool          `json:"panicked"`
}

// QueueStat is a point-in-time snapshot of one queue's scheduling state.
type QueueStat struct {
	Name     string        `json:"name"`
	Priority QueuePriority `json:"priority"`
	Enabled  bool          `json:"enabled"`
	Pending  int           `json:"pending"`
}

// QueueStats snapshots every registered queue.
func (m *QueueManager) QueueStats() []QueueStat {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := make([]QueueStat, 0, len(m.queues))
	for _, q := range m.queues {
		stats = append(stats, QueueStat{
			Name:     q.name,
			Priority: q.priority,
			Enabled:  q.dequeuableLocked(),
			Pending:  len(q.tasks),
		})
	}
	return stats
}

// RecentTasks returns up to limit execution records, most recent first.
// limit <= 0 returns everything retained.
func (m *QueueManager) RecentTasks(limit int) []TaskExecutionRecord {
	return m.history.Recent(limit)
}

type executionHistory struct {
	mu    sync.Mutex
	items []TaskExecutionRecord
	head  int
	count int
}

func newExecutionHistory(capacity int) *executionHistory {
	if capacity < 1 {
		capacity = defaultTaskHistoryCapacity
	}
	return &executionHistory{items: make([]TaskExecutionRecord, capacity)}
}

func (h *executionHistory) Add(record TaskExecutionRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.items[h.head] = record
	h.head = (h.head + 1) % len(h.items)
	if h.count < len(h.items) {
		h.count++
	}
}

func (h *executionHistory) Recent(limit int) []TaskExecutionRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return nil
	}

	if limit <= 0 || limit > h.count {
		limit = h.count
	}

	out := make([]TaskExecutionRecord, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (h.head - 1 - i + len(h.items)) % len(h.items)
		out = append(out, h.items[idx])
	}
	return out
}
