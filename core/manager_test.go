package core

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestQueueManager_DelayedTaskReleasesAtVirtualTime(t *testing.T) {
	m, vtd := newTestManager(t)
	q := m.NewTaskQueue("q")

	ran := false
	q.PostDelayedTask(func(ctx context.Context) { ran = true }, 100*time.Millisecond)

	m.RunUntilIdle()
	if ran {
		t.Fatal("delayed task ran before its time")
	}

	vtd.Advance(99 * time.Millisecond)
	m.RunUntilIdle()
	if ran {
		t.Fatal("delayed task ran 1ms early")
	}

	vtd.Advance(time.Millisecond)
	m.RunUntilIdle()
	if !ran {
		t.Fatal("delayed task did not run at its due time")
	}
}

func TestQueueManager_CanceledDelayedTaskNeverRuns(t *testing.T) {
	m, vtd := newTestManager(t)
	q := m.NewTaskQueue("q")

	ran := false
	handle := q.PostDelayedTask(func(ctx context.Context) { ran = true }, 50*time.Millisecond)
	handle.Cancel()

	vtd.Advance(time.Second)
	m.RunUntilIdle()
	if ran {
		t.Fatal("canceled delayed task must not run")
	}
	// Cancel after the fact stays a no-op.
	handle.Cancel()
}

func TestQueueManager_NextDelayedRunTime(t *testing.T) {
	m, vtd := newTestManager(t)
	q := m.NewTaskQueue("q")

	if _, ok := m.NextDelayedRunTime(); ok {
		t.Fatal("no delayed tasks expected")
	}

	q.PostDelayedTask(func(ctx context.Context) {}, 30*time.Millisecond)
	q.PostDelayedTask(func(ctx context.Context) {}, 10*time.Millisecond)

	next, ok := m.NextDelayedRunTime()
	if !ok {
		t.Fatal("expected a pending delayed task")
	}
	if want := vtd.Now().Add(10 * time.Millisecond); !next.Equal(want) {
		t.Fatalf("next run time %v, want %v", next, want)
	}
}

func TestQueueManager_NextDelayedRunTimeSkipsCanceledEntries(t *testing.T) {
	m, vtd := newTestManager(t)
	q := m.NewTaskQueue("q")

	handle := q.PostDelayedTask(func(ctx context.Context) {}, 10*time.Millisecond)
	q.PostDelayedTask(func(ctx context.Context) {}, 30*time.Millisecond)
	handle.Cancel()

	next, ok := m.NextDelayedRunTime()
	if !ok {
		t.Fatal("expected a pending delayed task")
	}
	if want := vtd.Now().Add(30 * time.Millisecond); !next.Equal(want) {
		t.Fatalf("next run time %v, want %v", next, want)
	}
	if _, ok := m.NextDelayedRunTime(); !ok {
		t.Fatal("the live delayed task must still be reported")
	}
}

func TestQueueManager_RunPendingTasksDoesNotRunNewlyPosted(t *testing.T) {
	m, _ := newTestManager(t)
	q := m.NewTaskQueue("q")

	secondRan := false
	q.PostTask(func(ctx context.Context) {
		q.PostTask(func(ctx context.Context) { secondRan = true })
	})

	if ran := m.RunPendingTasks(); ran != 1 {
		t.Fatalf("RunPendingTasks ran %d, want 1", ran)
	}
	if secondRan {
		t.Fatal("task posted during the batch must wait for the next one")
	}
	m.RunPendingTasks()
	if !secondRan {
		t.Fatal("second batch must run the follow-up task")
	}
}

func TestQueueManager_RunUntilIdleDrainsFollowUps(t *testing.T) {
	m, _ := newTestManager(t)
	q := m.NewTaskQueue("q")

	count := 0
	q.PostTask(func(ctx context.Context) {
		count++
		q.PostTask(func(ctx context.Context) { count++ })
	})

	m.RunUntilIdle()
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
}

func TestQueueManager_PanicInTaskIsContained(t *testing.T) {
	m, _ := newTestManager(t)
	q := m.NewTaskQueue("q")

	q.PostTask(func(ctx context.Context) { panic("boom") })
	ran := false
	q.PostTask(func(ctx context.Context) { ran = true })

	m.RunUntilIdle()
	if !ran {
		t.Fatal("a panicking task must not stop the pump")
	}

	records := m.RecentTasks(0)
	if len(records) != 2 || !records[1].Panicked {
		t.Fatalf("expected the first record marked panicked, got %+v", records)
	}
}

func TestQueueManager_ShutdownDropsWork(t *testing.T) {
	m, _ := newTestManager(t)
	q := m.NewTaskQueue("q")

	ran := false
	q.PostTask(func(ctx context.Context) { ran = true })

	m.Shutdown()
	m.Shutdown() // idempotent

	if !m.IsShutdown() {
		t.Fatal("IsShutdown must report true")
	}
	q.PostTask(func(ctx context.Context) { ran = true })
	m.RunUntilIdle()
	if ran {
		t.Fatal("no task may run after shutdown")
	}
}

func TestQueueManager_NewTaskQueueAfterShutdownPanics(t *testing.T) {
	m, _ := newTestManager(t)
	m.Shutdown()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic creating a queue after shutdown")
		}
	}()
	m.NewTaskQueue("late")
}

func TestQueueManager_UnregisterTaskQueueNotifiesObserver(t *testing.T) {
	m, _ := newTestManager(t)
	q := m.NewTaskQueue("q")

	var notified *TaskQueue
	m.SetObserver(observerFunc(func(queue *TaskQueue) { notified = queue }))

	q.PostTask(func(ctx context.Context) { t.Fatal("task on unregistered queue ran") })
	m.UnregisterTaskQueue(q)

	if notified != q {
		t.Fatal("observer must see the unregistered queue")
	}
	m.RunUntilIdle()
}

func TestQueueManager_StartModeRunsPostedTasks(t *testing.T) {
	m := NewQueueManager(ManagerConfig{
		TimeDomain: NewRealTimeDomain(),
		Logger:     NewNoOpLogger(),
	})
	q := m.NewTaskQueue("q")
	m.Start()
	defer m.Shutdown()

	var count atomic.Int32
	done := make(chan struct{})
	q.PostTask(func(ctx context.Context) { count.Add(1) })
	q.PostDelayedTask(func(ctx context.Context) {
		count.Add(1)
		close(done)
	}, 10*time.Millisecond)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for tasks on the scheduling goroutine")
	}
	if count.Load() != 2 {
		t.Fatalf("count = %d, want 2", count.Load())
	}
}

func TestVirtualTimeDomain_RejectsBackwardsAdvancement(t *testing.T) {
	vtd := NewVirtualTimeDomain(time.Unix(1000, 0))
	vtd.Advance(time.Second)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on backwards advancement")
		}
	}()
	vtd.AdvanceTo(time.Unix(1000, 0))
}

type observerFunc func(queue *TaskQueue)

func (f observerFunc) OnUnregisterTaskQueue(queue *TaskQueue) { f(queue) }
