package core

import "context"

// PostTaskAndReply runs task on this queue and, once it completes, posts
// reply onto replyQueue. If task panics the reply is never posted; the panic
// is surfaced through the manager's PanicHandler as usual.
func (q *TaskQueue) PostTaskAndReply(task Task, reply Task, replyQueue *TaskQueue) {
	q.PostTask(func(ctx context.Context) {
		task(ctx)
		replyQueue.PostTask(reply)
	})
}
