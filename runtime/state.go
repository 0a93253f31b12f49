package runtime

import (
	"context"
	"sync"

	"github.com/petal-labs/signalflow/core"
)

// LoopFrame is the per-iteration context a loop injects into its body run.
type LoopFrame struct {
	Item    any
	Index   int
	HasItem bool // false for while loops
}

// Scope is the context injected into one execution state.
type Scope struct {
	RunID string

	// Token is unique per execution state. Join counters are keyed by it so
	// two activations of the same subgraph never share counters.
	Token string

	// Loop is set inside loop bodies.
	Loop *LoopFrame

	// Inputs are the enclosing node's bindings read by graph/input proxies.
	Inputs core.NodeOutput
}

// TaskHandle identifies a background producer registered with the state.
type TaskHandle uint64

type task struct {
	sub     core.Subscription
	pending map[string]bool // stream ports not yet done
}

type joinKey struct {
	scope string
	node  string
}

// JoinCounter tracks control arrivals at a join node.
type JoinCounter struct {
	Expected int
	Received int
}

// ExecutionState holds all mutable state of one run. The queue and the task
// set may be touched by background producers; everything else belongs to the
// drain loop.
type ExecutionState struct {
	scope Scope

	mu    sync.Mutex
	queue []core.Signal
	tasks map[TaskHandle]*task
	next  TaskHandle
	wake  chan struct{}

	cache     map[string]core.NodeOutput
	joins     map[joinKey]*JoinCounter
	streams   map[TaskHandle]*streamBuffer
	resolving map[string]bool
}

// NewExecutionState creates the state for one run.
func NewExecutionState(scope Scope) *ExecutionState {
	return &ExecutionState{
		scope:     scope,
		tasks:     make(map[TaskHandle]*task),
		wake:      make(chan struct{}, 1),
		cache:     make(map[string]core.NodeOutput),
		joins:     make(map[joinKey]*JoinCounter),
		streams:   make(map[TaskHandle]*streamBuffer),
		resolving: make(map[string]bool),
	}
}

// Scope returns the injected scope.
func (s *ExecutionState) Scope() Scope {
	return s.scope
}

// Enqueue appends a signal. Safe for concurrent use.
func (s *ExecutionState) Enqueue(sig core.Signal) {
	s.mu.Lock()
	s.queue = append(s.queue, sig)
	s.mu.Unlock()
	s.notify()
}

// Dequeue pops the oldest signal.
func (s *ExecutionState) Dequeue() (core.Signal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return core.Signal{}, false
	}
	sig := s.queue[0]
	s.queue[0] = core.Signal{}
	s.queue = s.queue[1:]
	return sig, true
}

// Len returns the number of queued signals.
func (s *ExecutionState) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// HasActiveTasks reports whether signals are queued or background producers
// are still outstanding.
func (s *ExecutionState) HasActiveTasks() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue) > 0 || len(s.tasks) > 0
}

// Wait blocks until a producer enqueues or releases a task, or ctx is done.
func (s *ExecutionState) Wait(ctx context.Context) error {
	select {
	case <-s.wake:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ExecutionState) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Output returns the cached output of a node.
func (s *ExecutionState) Output(nodeID string) (core.NodeOutput, bool) {
	out, ok := s.cache[nodeID]
	return out, ok
}

// SetOutput caches a node's output.
func (s *ExecutionState) SetOutput(nodeID string, out core.NodeOutput) {
	if out == nil {
		out = core.NodeOutput{}
	}
	s.cache[nodeID] = out
}

// HasOutput reports whether the node's output is cached.
func (s *ExecutionState) HasOutput(nodeID string) bool {
	_, ok := s.cache[nodeID]
	return ok
}

// Join returns the counter of a join node in this scope.
func (s *ExecutionState) Join(nodeID string) (*JoinCounter, bool) {
	c, ok := s.joins[joinKey{s.scope.Token, nodeID}]
	return c, ok
}

// SetJoin stores the counter of a join node in this scope.
func (s *ExecutionState) SetJoin(nodeID string, c *JoinCounter) {
	s.joins[joinKey{s.scope.Token, nodeID}] = c
}

// ClearJoin deletes the counter of a join node in this scope.
func (s *ExecutionState) ClearJoin(nodeID string) {
	delete(s.joins, joinKey{s.scope.Token, nodeID})
}

// AddTask reserves a background task slot. ports lists the stream ports that
// must each report done before the slot is released.
func (s *ExecutionState) AddTask(ports []string) TaskHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	t := &task{pending: make(map[string]bool, len(ports))}
	for _, p := range ports {
		t.pending[p] = true
	}
	s.tasks[s.next] = t
	return s.next
}

// AttachTask records the subscription of a reserved slot. It returns false if
// the slot was already released, in which case the caller owns sub.
func (s *ExecutionState) AttachTask(h TaskHandle, sub core.Subscription) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[h]
	if !ok {
		return false
	}
	t.sub = sub
	return true
}

// Push enqueues a signal on behalf of an active task. Pushes from released
// tasks are dropped.
func (s *ExecutionState) Push(h TaskHandle, sig core.Signal) bool {
	s.mu.Lock()
	if _, ok := s.tasks[h]; !ok {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, sig)
	s.mu.Unlock()
	s.notify()
	return true
}

// Done enqueues sig and marks port complete. The slot is released once every
// pending port is done. Enqueue and release happen under one lock so the
// drain loop never sees an idle state in between.
func (s *ExecutionState) Done(h TaskHandle, port string, sig core.Signal) bool {
	s.mu.Lock()
	t, ok := s.tasks[h]
	if !ok {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, sig)
	delete(t.pending, port)
	if len(t.pending) == 0 {
		delete(s.tasks, h)
	}
	s.mu.Unlock()
	s.notify()
	return true
}

// Fail enqueues sig and releases the slot. It returns the subscription so the
// caller can unsubscribe outside the lock; nil if none was attached yet.
func (s *ExecutionState) Fail(h TaskHandle, sig core.Signal) (core.Subscription, bool) {
	s.mu.Lock()
	t, ok := s.tasks[h]
	if !ok {
		s.mu.Unlock()
		return nil, false
	}
	s.queue = append(s.queue, sig)
	delete(s.tasks, h)
	s.mu.Unlock()
	s.notify()
	return t.sub, true
}

// ReleaseTask frees a slot without enqueueing anything.
func (s *ExecutionState) ReleaseTask(h TaskHandle) {
	s.mu.Lock()
	delete(s.tasks, h)
	s.mu.Unlock()
	s.notify()
}

// ActiveTasks returns the number of outstanding background producers.
func (s *ExecutionState) ActiveTasks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// CancelTasks releases every slot and unsubscribes attached subscriptions.
func (s *ExecutionState) CancelTasks() {
	s.mu.Lock()
	subs := make([]core.Subscription, 0, len(s.tasks))
	for h, t := range s.tasks {
		if t.sub != nil {
			subs = append(subs, t.sub)
		}
		delete(s.tasks, h)
	}
	s.mu.Unlock()
	for _, sub := range subs {
		sub.Unsubscribe()
	}
}
