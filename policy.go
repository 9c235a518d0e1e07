package renderscheduler

import "github.com/renderloop/go-render-scheduler/core"

// Policy is the complete set of queue priorities the scheduler wants in
// effect. Policies compare by value; an unchanged recompute is a no-op.
type Policy struct {
	CompositorQueuePriority core.QueuePriority
	LoadingQueuePriority    core.QueuePriority
	TimerQueuePriority      core.QueuePriority
	DefaultQueuePriority    core.QueuePriority
}

func defaultPolicy() Policy {
	return Policy{
		CompositorQueuePriority: core.NormalPriority,
		LoadingQueuePriority:    core.NormalPriority,
		TimerQueuePriority:      core.NormalPriority,
		DefaultQueuePriority:    core.NormalPriority,
	}
}

// apply pushes the policy's priorities onto the concrete queues, including
// every extra loading/timer queue the embedder created. Applying the same
// policy twice is idempotent.
func (p Policy) apply(compositor, def *core.TaskQueue, loading, timer []*core.TaskQueue) {
	compositor.SetPriority(p.CompositorQueuePriority)
	def.SetPriority(p.DefaultQueuePriority)
	for _, q := range loading {
		q.SetPriority(p.LoadingQueuePriority)
	}
	for _, q := range timer {
		q.SetPriority(p.TimerQueuePriority)
	}
}
