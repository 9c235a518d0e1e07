package core

import (
	"context"
	"testing"
)

func TestCancelableClosure_RunsAtMostOnce(t *testing.T) {
	count := 0
	c := NewCancelableClosure(func() { count++ })
	task := c.Task()

	task(context.Background())
	task(context.Background())

	if count != 1 {
		t.Fatalf("closure ran %d times, want 1", count)
	}
}

func TestCancelableClosure_CancelPreventsRun(t *testing.T) {
	ran := false
	c := NewCancelableClosure(func() { ran = true })
	c.Cancel()
	c.Task()(context.Background())

	if ran {
		t.Fatal("canceled closure must not run")
	}
	if !c.IsCanceled() {
		t.Fatal("IsCanceled must report true")
	}
}

func TestCancelableClosure_CancelAfterRunIsNoOp(t *testing.T) {
	c := NewCancelableClosure(func() {})
	c.Task()(context.Background())
	c.Cancel()
	c.Cancel()
}

func TestTaskQueue_PostTaskAndReply(t *testing.T) {
	m, _ := newTestManager(t)
	work := m.NewTaskQueue("work")
	replies := m.NewTaskQueue("replies")

	var order []string
	work.PostTaskAndReply(
		func(ctx context.Context) { order = append(order, "task") },
		func(ctx context.Context) { order = append(order, "reply") },
		replies)

	m.RunUntilIdle()

	if len(order) != 2 || order[0] != "task" || order[1] != "reply" {
		t.Fatalf("order = %v, want [task reply]", order)
	}
}

func TestTaskQueue_PostTaskAndReplySkipsReplyOnPanic(t *testing.T) {
	m, _ := newTestManager(t)
	work := m.NewTaskQueue("work")
	replies := m.NewTaskQueue("replies")

	replied := false
	work.PostTaskAndReply(
		func(ctx context.Context) { panic("boom") },
		func(ctx context.Context) { replied = true },
		replies)

	m.RunUntilIdle()
	if replied {
		t.Fatal("reply must not run when the task panics")
	}
}

func TestThreadChecker_PanicsOnWrongGoroutine(t *testing.T) {
	var checker ThreadChecker
	checker.Check() // binds this goroutine

	panicked := make(chan bool, 1)
	go func() {
		defer func() { panicked <- recover() != nil }()
		checker.Check()
	}()

	if !<-panicked {
		t.Fatal("Check from another goroutine must panic")
	}
	if !checker.CalledOnValidThread() {
		t.Fatal("bound goroutine must remain valid")
	}
}

func TestThreadChecker_DetachRebinds(t *testing.T) {
	var checker ThreadChecker
	checker.Check()
	checker.Detach()

	rebound := make(chan bool, 1)
	go func() {
		defer func() { rebound <- recover() == nil }()
		checker.Check()
	}()

	if !<-rebound {
		t.Fatal("Check after Detach must rebind without panicking")
	}
}
