package agentos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// DefaultMaxConcurrentTasks is the admission cap when WithMaxConcurrentTasks
// is not set.
const DefaultMaxConcurrentTasks = 5

// TaskMetrics receives task lifecycle events for a metrics backend. The
// observer package's Instruments satisfies it with OTEL counters and
// histograms. Implementations must not block: calls happen on the
// scheduler's hot path, some while it holds its lock.
type TaskMetrics interface {
	TaskAdmitted(taskType TaskType)
	TaskCompleted(taskType TaskType, waitSeconds, execSeconds float64)
	TaskFailed(taskType TaskType, waitSeconds, execSeconds float64)
	TaskPreempted(taskType TaskType)
}

// schedulerConfig holds options accumulated by SchedulerOption calls.
type schedulerConfig struct {
	maxConcurrent   int
	plannerProvider Provider
	logger          *slog.Logger
	tracer          Tracer
	metrics         TaskMetrics
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*schedulerConfig)

// WithMaxConcurrentTasks sets the admission semaphore capacity. Tasks
// suspended on tool I/O or waiting for subtasks do not count against it.
func WithMaxConcurrentTasks(n int) SchedulerOption {
	return func(c *schedulerConfig) { c.maxConcurrent = n }
}

// WithPlannerProvider routes planning calls through a separate provider,
// typically a cheaper or faster model than the one driving leaf tasks.
func WithPlannerProvider(p Provider) SchedulerOption {
	return func(c *schedulerConfig) { c.plannerProvider = p }
}

// WithTaskMetrics registers a metrics backend for task lifecycle events:
// first admission into a concurrency slot (resumptions are not re-counted),
// terminal transitions with wait and execution times, and shutdown
// preemptions.
func WithTaskMetrics(m TaskMetrics) SchedulerOption {
	return func(c *schedulerConfig) { c.metrics = m }
}

// WithSchedulerLogger sets the structured logger for scheduler events.
func WithSchedulerLogger(l *slog.Logger) SchedulerOption {
	return func(c *schedulerConfig) { c.logger = l }
}

// WithSchedulerTracer sets the tracer for scheduler, driver, planner, and
// dispatch spans.
func WithSchedulerTracer(t Tracer) SchedulerOption {
	return func(c *schedulerConfig) { c.tracer = t }
}

// Stats is a point-in-time snapshot of scheduler state for observers.
type Stats struct {
	IsRunning           bool    `json:"is_running"`
	RunningTasks        int     `json:"running_tasks"`
	PendingTasks        int     `json:"pending_tasks"`
	ResumptionQueueSize int     `json:"resumption_queue_size"`
	TotalKnownTasks     int     `json:"total_known_tasks"`
	CompletedTasks      int     `json:"completed_tasks"`
	FailedTasks         int     `json:"failed_tasks"`
	MaxConcurrentTasks  int     `json:"max_concurrent_tasks"`
	AvgWaitTime         float64 `json:"avg_wait_time"`
	AvgExecutionTime    float64 `json:"avg_execution_time"`
}

// resumption is a task whose tool batch has completed and which awaits
// re-entry into the driver, carrying the ordered tool-result messages.
type resumption struct {
	task    *Task
	results []ChatMessage
}

// Scheduler owns the task graph and drives every task through its
// lifecycle: admission under the concurrency semaphore, planning
// decomposition, driver stepping, tool-batch dispatch, dependency and
// parent resolution, and failure propagation.
//
// Control plane: one loop goroutine pops the resumption and ready queues in
// FIFO order and launches work once a semaphore slot is free. Work plane:
// each admitted task runs its model turn in its own goroutine; tool batches
// dispatch outside the semaphore. The graph, the queues, and the counters
// are guarded by one mutex, never held across model or tool I/O.
type Scheduler struct {
	provider   Provider
	registry   *ToolRegistry
	planner    *Planner
	dispatcher *Dispatcher

	mu      sync.Mutex
	graph   *taskGraph
	readyQ  []*Task
	resumeQ []*resumption
	drivers map[string]*driver
	running map[string]*Task

	completed int
	failed    int
	waitSum   float64 // seconds, over terminal tasks
	execSum   float64

	maxConcurrent int
	sem           chan struct{}
	wake          chan struct{}

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	stopped bool

	logger  *slog.Logger
	tracer  Tracer
	metrics TaskMetrics
}

// NewScheduler creates a Scheduler over the given model transport and tool
// catalogue. Call Start to begin admitting tasks.
func NewScheduler(provider Provider, registry *ToolRegistry, opts ...SchedulerOption) *Scheduler {
	cfg := schedulerConfig{maxConcurrent: DefaultMaxConcurrentTasks}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxConcurrent <= 0 {
		cfg.maxConcurrent = DefaultMaxConcurrentTasks
	}
	if cfg.logger == nil {
		cfg.logger = nopLogger
	}

	s := &Scheduler{
		provider:      provider,
		registry:      registry,
		graph:         newTaskGraph(),
		drivers:       make(map[string]*driver),
		running:       make(map[string]*Task),
		maxConcurrent: cfg.maxConcurrent,
		sem:           make(chan struct{}, cfg.maxConcurrent),
		wake:          make(chan struct{}, 1),
		logger:        cfg.logger,
		tracer:        cfg.tracer,
		metrics:       cfg.metrics,
	}
	plannerProvider := cfg.plannerProvider
	if plannerProvider == nil {
		plannerProvider = provider
	}
	s.planner = NewPlanner(plannerProvider, registry, PlannerLogger(cfg.logger), PlannerTracer(cfg.tracer))
	s.dispatcher = NewDispatcher(registry, DispatcherLogger(cfg.logger), DispatcherTracer(cfg.tracer))
	return s
}

// Start launches the control-plane loop. Idempotent until Shutdown.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return errors.New("scheduler already shut down")
	}
	if s.started {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.started = true
	s.wg.Add(1)
	go s.loop()
	s.logger.Info("scheduler started", "max_concurrent_tasks", s.maxConcurrent)
	return nil
}

// Shutdown cancels the control loop and every in-flight driver, waits for
// work goroutines to unwind (bounded by ctx), then marks every non-terminal
// task PREEMPTED. No semaphore slot remains held afterwards.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.stopped = true
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	var waitErr error
	select {
	case <-done:
	case <-ctx.Done():
		waitErr = ctx.Err()
	}

	s.mu.Lock()
	for _, t := range s.graph.tasks {
		if !t.Status.IsTerminal() {
			t.preempt()
			if s.metrics != nil {
				s.metrics.TaskPreempted(t.Type)
			}
		}
	}
	s.readyQ = nil
	s.resumeQ = nil
	s.drivers = make(map[string]*driver)
	s.running = make(map[string]*Task)
	s.mu.Unlock()

	s.logger.Info("scheduler stopped")
	return waitErr
}

// AddTask registers a task. Roots with an empty dependency set are enqueued
// as ready immediately.
func (s *Scheduler) AddTask(t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return errors.New("scheduler is shut down")
	}
	if err := s.graph.add(t); err != nil {
		return err
	}
	if t.ready() {
		s.enqueueReady(t)
	}
	s.logger.Info("task added", "task", t.ID, "name", t.Name, "type", t.Type)
	s.notify()
	return nil
}

// GetTask returns a snapshot of the task with the given ID.
func (s *Scheduler) GetTask(id string) (TaskSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.graph.get(id)
	if !ok {
		return TaskSnapshot{}, false
	}
	return t.snapshot(), true
}

// GetStats returns current scheduler statistics.
func (s *Scheduler) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Queue entries whose task moved out of the expected state (failed by
	// dependency propagation, preempted) linger until nextWork discards
	// them; they are not pending work.
	pending := 0
	for _, qt := range s.readyQ {
		if qt.Status == StatusQueued {
			pending++
		}
	}
	resumable := 0
	for _, r := range s.resumeQ {
		if r.task.Status == StatusWaitingForTool {
			resumable++
		}
	}
	st := Stats{
		IsRunning:           s.started && !s.stopped,
		RunningTasks:        len(s.running),
		PendingTasks:        pending,
		ResumptionQueueSize: resumable,
		TotalKnownTasks:     s.graph.len(),
		CompletedTasks:      s.completed,
		FailedTasks:         s.failed,
		MaxConcurrentTasks:  s.maxConcurrent,
	}
	if n := s.completed + s.failed; n > 0 {
		st.AvgWaitTime = s.waitSum / float64(n)
		st.AvgExecutionTime = s.execSum / float64(n)
	}
	return st
}

// ToolCatalogue returns the definitions of every registered tool.
func (s *Scheduler) ToolCatalogue() []ToolDefinition {
	return s.registry.AllDefinitions()
}

// notify nudges the control loop without blocking.
func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// enqueueReady appends tasks to the ready queue. When several siblings
// become ready at once, lower Priority values go first (stable, advisory
// tiebreak only). Caller holds the lock.
func (s *Scheduler) enqueueReady(tasks ...*Task) {
	if len(tasks) > 1 {
		sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].Priority < tasks[j].Priority })
	}
	s.readyQ = append(s.readyQ, tasks...)
}

// workItem is one unit popped from the queues: a fresh admission or a
// tool-batch resumption.
type workItem struct {
	task    *Task
	results []ChatMessage // set for resumptions
	resume  bool
}

// nextWork pops the next launchable item, resumptions first. Items whose
// task moved out of the expected state (e.g. failed by dependency
// propagation while queued) are discarded.
func (s *Scheduler) nextWork() *workItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.resumeQ) > 0 {
		r := s.resumeQ[0]
		s.resumeQ = s.resumeQ[1:]
		if r.task.Status == StatusWaitingForTool {
			return &workItem{task: r.task, results: r.results, resume: true}
		}
	}
	for len(s.readyQ) > 0 {
		t := s.readyQ[0]
		s.readyQ = s.readyQ[1:]
		if t.Status == StatusQueued {
			return &workItem{task: t}
		}
	}
	return nil
}

// loop is the single control-plane driver: wait for queue input, acquire a
// semaphore slot, launch the work concurrently.
func (s *Scheduler) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
		}
		for {
			item := s.nextWork()
			if item == nil {
				break
			}
			select {
			case s.sem <- struct{}{}:
			case <-s.ctx.Done():
				return
			}
			s.launch(item)
		}
	}
}

// releaseSlot returns an admission slot to the semaphore.
func (s *Scheduler) releaseSlot() {
	<-s.sem
}

// launch transitions the item's task into RUNNING and starts its work
// goroutine. The caller has already acquired a semaphore slot; every path
// below is responsible for releasing it exactly once.
func (s *Scheduler) launch(item *workItem) {
	t := item.task
	s.mu.Lock()

	// The task may have been failed by dependency propagation (or preempted)
	// between the queue pop and the slot acquisition.
	wantStatus := StatusQueued
	if item.resume {
		wantStatus = StatusWaitingForTool
	}
	if t.Status != wantStatus {
		s.mu.Unlock()
		s.releaseSlot()
		return
	}

	if item.resume {
		d := s.drivers[t.ID]
		if d == nil {
			s.mu.Unlock()
			s.releaseSlot()
			return
		}
		if err := d.OnToolResults(item.results); err != nil {
			// Batch reassembly broke the ordering contract; not recoverable.
			t.fail(err.Error())
			s.finishLocked(t)
			s.mu.Unlock()
			s.releaseSlot()
			s.notify()
			return
		}
		t.Status = StatusRunning
		s.running[t.ID] = t
		s.mu.Unlock()
		s.wg.Add(1)
		go s.runStep(t, d)
		return
	}

	// Fresh admission.
	if t.Type == TypeFinalSummary {
		s.assembleSummaryPromptLocked(t)
	}

	if t.Type == TypePlanning {
		goal := goalText(t.Payload)
		if goal == "" {
			t.fail("invalid payload: planning task has no goal prompt")
			s.finishLocked(t)
			s.mu.Unlock()
			s.releaseSlot()
			s.notify()
			return
		}
		t.start()
		s.running[t.ID] = t
		if s.metrics != nil {
			s.metrics.TaskAdmitted(t.Type)
		}
		s.mu.Unlock()
		s.wg.Add(1)
		go s.runPlanning(t, goal)
		return
	}

	d, err := newDriver(t, s.provider, s.toolsFor(t), s.logger, s.tracer)
	if err != nil {
		t.fail("invalid payload: " + err.Error())
		s.finishLocked(t)
		s.mu.Unlock()
		s.releaseSlot()
		s.notify()
		return
	}
	s.drivers[t.ID] = d
	t.start()
	s.running[t.ID] = t
	if s.metrics != nil {
		s.metrics.TaskAdmitted(t.Type)
	}
	s.mu.Unlock()

	s.logger.Info("task admitted", "task", t.ID, "name", t.Name, "type", t.Type)
	s.wg.Add(1)
	go s.runStep(t, d)
}

// toolsFor selects the tool definitions advertised to a leaf's driver.
// Summary leaves run plain completion; everything else sees the full
// catalogue (tool_call leaves additionally force their named tool via the
// driver's tool choice).
func (s *Scheduler) toolsFor(t *Task) []ToolDefinition {
	if t.Type == TypeFinalSummary {
		return nil
	}
	return s.registry.AllDefinitions()
}

// runStep executes one driver turn on the work plane.
func (s *Scheduler) runStep(t *Task, d *driver) {
	defer s.wg.Done()
	batch, final, err := d.Step(s.ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, t.ID)

	switch {
	case err != nil:
		if s.ctx.Err() != nil {
			// Shutdown raced the model call; leave the task resumable.
			t.preempt()
			s.releaseSlot()
			return
		}
		s.logger.Warn("task failed", "task", t.ID, "error", err)
		t.fail(err.Error())
		s.finishLocked(t)
		s.releaseSlot()
		s.notify()

	case len(batch) > 0:
		// Suspend: the slot is released while tool I/O is in flight.
		t.Status = StatusWaitingForTool
		s.releaseSlot()
		s.wg.Add(1)
		go s.dispatchBatch(t, batch)

	default:
		t.complete(final)
		s.logger.Info("task completed", "task", t.ID, "name", t.Name)
		s.finishLocked(t)
		s.releaseSlot()
		s.notify()
	}
}

// dispatchBatch runs a tool batch outside the semaphore and queues the task
// for resumption. On shutdown the task is left in WAITING_FOR_TOOL for the
// final preemption sweep; a tool that ignores cancellation may leak its
// goroutine but never delays shutdown.
func (s *Scheduler) dispatchBatch(t *Task, batch []ToolCall) {
	defer s.wg.Done()

	done := make(chan []ChatMessage, 1)
	go func() {
		done <- s.dispatcher.InvokeBatch(s.ctx, batch)
	}()

	var results []ChatMessage
	select {
	case results = <-done:
	case <-s.ctx.Done():
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || t.Status != StatusWaitingForTool {
		return
	}
	s.resumeQ = append(s.resumeQ, &resumption{task: t, results: results})
	s.notify()
}

// runPlanning decomposes a planning task and links the resulting subtasks.
func (s *Scheduler) runPlanning(t *Task, goal string) {
	defer s.wg.Done()
	plan, err := s.planner.Plan(s.ctx, goal)

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, t.ID)

	if err != nil {
		if s.ctx.Err() != nil {
			t.preempt()
			s.releaseSlot()
			return
		}
		s.logger.Warn("planning failed", "task", t.ID, "error", err)
		t.fail(err.Error())
		s.finishLocked(t)
		s.releaseSlot()
		s.notify()
		return
	}

	subs := plan.tasks()
	if err := s.graph.link(t, subs); err != nil {
		// Nothing was attached: the plan dies without creating subtasks.
		s.logger.Warn("plan rejected", "task", t.ID, "error", err)
		t.fail((&PlanError{Reason: err.Error()}).Error())
		s.finishLocked(t)
		s.releaseSlot()
		s.notify()
		return
	}

	t.Status = StatusWaitingForSubtasks
	s.releaseSlot()

	var ready []*Task
	for _, st := range subs {
		if st.ready() {
			ready = append(ready, st)
		}
	}
	s.enqueueReady(ready...)
	s.logger.Info("plan linked", "task", t.ID, "subtasks", len(subs), "ready", len(ready))
	s.notify()
}

// finishLocked handles a terminal transition under the lock: statistics,
// sibling dependency resolution (or failure propagation), and parent
// closure. Recursion through parents and propagated failures is bounded by
// the graph depth, which the DAG check keeps finite.
func (s *Scheduler) finishLocked(t *Task) {
	delete(s.drivers, t.ID)
	delete(s.running, t.ID)

	switch t.Status {
	case StatusCompleted:
		s.completed++
		if s.metrics != nil {
			s.metrics.TaskCompleted(t.Type, t.WaitTime.Seconds(), t.ExecutionTime.Seconds())
		}
	case StatusFailed:
		s.failed++
		if s.metrics != nil {
			s.metrics.TaskFailed(t.Type, t.WaitTime.Seconds(), t.ExecutionTime.Seconds())
		}
	}
	s.waitSum += t.WaitTime.Seconds()
	s.execSum += t.ExecutionTime.Seconds()

	if t.Status == StatusCompleted {
		if ready := s.graph.resolveDependency(t); len(ready) > 0 {
			var admit []*Task
			for _, r := range ready {
				if r.Status == StatusQueued {
					admit = append(admit, r)
				}
			}
			s.enqueueReady(admit...)
		}
	} else {
		// A failed dependency fails every waiting sibling without
		// admission; siblings not waiting on it are unaffected.
		for _, w := range s.graph.waiters(t) {
			if w.Status != StatusQueued {
				continue
			}
			w.fail(fmt.Sprintf("dependency %q failed: %s", t.Name, t.Result))
			s.logger.Warn("dependency failure propagated", "task", w.ID, "failed_dependency", t.Name)
			s.finishLocked(w)
		}
	}

	if parent := s.graph.markParentProgress(t); parent != nil && parent.Status == StatusWaitingForSubtasks {
		s.closeParentLocked(parent)
	}
}

// closeParentLocked closes a planning task once all its subtasks are
// terminal: failed if any subtask failed, otherwise completed with the
// summary subtask's result.
func (s *Scheduler) closeParentLocked(p *Task) {
	var summary *Task
	for _, st := range p.Subtasks {
		if st.Status == StatusFailed {
			p.fail(fmt.Sprintf("subtask %q failed: %s", st.Name, st.Result))
			s.logger.Warn("planning task failed", "task", p.ID, "subtask", st.Name)
			s.finishLocked(p)
			return
		}
		if st.Type == TypeFinalSummary {
			summary = st
		}
	}
	if summary != nil {
		p.complete(summary.Result)
	} else {
		p.complete(aggregateResults(p.Subtasks))
	}
	s.logger.Info("planning task completed", "task", p.ID, "name", p.Name)
	s.finishLocked(p)
}

// assembleSummaryPromptLocked overwrites a final-summary leaf's payload with
// the deterministic synthesis prompt: the root goal followed by one line per
// completed dependency. After this the leaf is a plain reasoning turn.
func (s *Scheduler) assembleSummaryPromptLocked(t *Task) {
	var b strings.Builder
	if t.Parent != nil {
		fmt.Fprintf(&b, "Original goal: %s\n\n", goalText(t.Parent.Payload))
	}
	b.WriteString("Synthesize a final answer for the user from these results:\n")
	for _, dep := range t.Dependencies {
		enc, err := json.Marshal(dep.Result)
		if err != nil {
			enc = []byte(`""`)
		}
		fmt.Fprintf(&b, "- Result from %s: %s\n", dep.Name, enc)
	}
	t.Payload = Payload{Prompt: b.String()}
}

// aggregateResults joins subtask results for plans that (exceptionally)
// closed without a summary subtask.
func aggregateResults(subtasks []*Task) string {
	parts := make(map[string]string, len(subtasks))
	for _, st := range subtasks {
		parts[st.Name] = st.Result
	}
	b, err := json.Marshal(parts)
	if err != nil {
		return ""
	}
	return string(b)
}

// goalText extracts the human goal from a payload: the prompt, or the last
// message's content when only messages are present.
func goalText(p Payload) string {
	if p.Prompt != "" {
		return p.Prompt
	}
	if n := len(p.Messages); n > 0 {
		return p.Messages[n-1].Content
	}
	return ""
}
