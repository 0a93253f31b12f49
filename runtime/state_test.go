package runtime

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/petal-labs/signalflow/core"
)

func TestExecutionState_FIFO(t *testing.T) {
	s := NewExecutionState(Scope{Token: "t"})
	s.Enqueue(core.Control("a", "in"))
	s.Enqueue(core.Control("b", "in"))
	s.Enqueue(core.Data("c", "value", 1))

	for _, want := range []string{"a", "b", "c"} {
		sig, ok := s.Dequeue()
		if !ok {
			t.Fatalf("Dequeue() empty, want %s", want)
		}
		if sig.NodeID != want {
			t.Errorf("Dequeue() = %s, want %s", sig.NodeID, want)
		}
	}
	if _, ok := s.Dequeue(); ok {
		t.Error("Dequeue() on empty queue should report false")
	}
	if s.HasActiveTasks() {
		t.Error("HasActiveTasks() = true on drained state")
	}
}

func TestExecutionState_TaskKeepsStateActive(t *testing.T) {
	s := NewExecutionState(Scope{Token: "t"})
	h := s.AddTask([]string{"a", "b"})
	if !s.HasActiveTasks() {
		t.Fatal("reserved task should keep the state active")
	}

	s.Done(h, "a", core.Control("n", "onADone"))
	if s.ActiveTasks() != 1 {
		t.Fatalf("ActiveTasks() = %d after first port done, want 1", s.ActiveTasks())
	}
	s.Done(h, "b", core.Control("n", "onBDone"))
	if s.ActiveTasks() != 0 {
		t.Fatalf("ActiveTasks() = %d after every port done, want 0", s.ActiveTasks())
	}
	if s.Len() != 2 {
		t.Errorf("Len() = %d, want the two done signals queued", s.Len())
	}
	if !s.HasActiveTasks() {
		t.Error("queued done signals must keep the state active")
	}
}

func TestExecutionState_PushAfterReleaseIsDropped(t *testing.T) {
	s := NewExecutionState(Scope{Token: "t"})
	h := s.AddTask([]string{"stream"})
	if !s.Push(h, core.Data("n", "stream", 0)) {
		t.Fatal("Push() on active task = false")
	}
	s.ReleaseTask(h)
	if s.Push(h, core.Data("n", "stream", 1)) {
		t.Error("Push() on released task = true")
	}
	if s.Done(h, "stream", core.Control("n", "onStreamDone")) {
		t.Error("Done() on released task = true")
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestExecutionState_AttachAfterRelease(t *testing.T) {
	s := NewExecutionState(Scope{Token: "t"})
	h := s.AddTask([]string{"stream"})
	s.Done(h, "stream", core.Control("n", "onStreamDone"))
	if s.AttachTask(h, core.UnsubscribeFunc(nil)) {
		t.Error("AttachTask() after completion = true, caller must unsubscribe")
	}
}

func TestExecutionState_FailReturnsSubscription(t *testing.T) {
	s := NewExecutionState(Scope{Token: "t"})
	var unsubscribed atomic.Bool
	h := s.AddTask([]string{"stream"})
	s.AttachTask(h, core.UnsubscribeFunc(func() { unsubscribed.Store(true) }))

	sub, ok := s.Fail(h, core.Control("n", "onStreamError"))
	if !ok || sub == nil {
		t.Fatalf("Fail() = %v, %v; want attached subscription", sub, ok)
	}
	sub.Unsubscribe()
	if !unsubscribed.Load() {
		t.Error("subscription not unsubscribed")
	}
	if s.ActiveTasks() != 0 {
		t.Error("Fail() must release the task")
	}
}

func TestExecutionState_CancelTasks(t *testing.T) {
	s := NewExecutionState(Scope{Token: "t"})
	var count atomic.Int32
	for i := 0; i < 3; i++ {
		h := s.AddTask([]string{"stream"})
		s.AttachTask(h, core.UnsubscribeFunc(func() { count.Add(1) }))
	}
	s.AddTask([]string{"stream"}) // reserved, never attached

	s.CancelTasks()
	if count.Load() != 3 {
		t.Errorf("unsubscribed %d subscriptions, want 3", count.Load())
	}
	if s.ActiveTasks() != 0 {
		t.Errorf("ActiveTasks() = %d after cancel, want 0", s.ActiveTasks())
	}
}

func TestExecutionState_WaitWakesOnPush(t *testing.T) {
	s := NewExecutionState(Scope{Token: "t"})
	h := s.AddTask([]string{"stream"})

	go func() {
		time.Sleep(10 * time.Millisecond)
		s.Push(h, core.Data("n", "stream", 1))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d after wake, want 1", s.Len())
	}
}

func TestExecutionState_WaitHonorsContext(t *testing.T) {
	s := NewExecutionState(Scope{Token: "t"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Wait(ctx); err == nil {
		t.Error("Wait() on canceled context should fail")
	}
}

func TestExecutionState_JoinsAreScoped(t *testing.T) {
	a := NewExecutionState(Scope{Token: "a"})
	b := NewExecutionState(Scope{Token: "b"})
	a.SetJoin("join", &JoinCounter{Expected: 2, Received: 1})

	if _, ok := b.Join("join"); ok {
		t.Error("join counters must not leak across scopes")
	}
	c, ok := a.Join("join")
	if !ok || c.Received != 1 {
		t.Fatalf("Join() = %+v, %v", c, ok)
	}
	a.ClearJoin("join")
	if _, ok := a.Join("join"); ok {
		t.Error("ClearJoin() did not delete the counter")
	}
}

func TestTruthy(t *testing.T) {
	tests := []struct {
		in   any
		want bool
	}{
		{nil, false},
		{true, true},
		{false, false},
		{0, false},
		{1, true},
		{0.0, false},
		{2.5, true},
		{"", false},
		{"false", false},
		{"yes", true},
		{[]any{}, false},
		{[]int{1}, true},
		{map[string]any{}, false},
		{struct{}{}, true},
	}
	for _, tt := range tests {
		if got := Truthy(tt.in); got != tt.want {
			t.Errorf("Truthy(%#v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
