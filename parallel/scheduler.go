package parallel

import (
	"sync"

	"github.com/ethereum/go-ethereum/log"
	mapset "github.com/deckarep/golang-set/v2"
)

// TaskKind distinguishes an execution dispatch from a validation dispatch.
type TaskKind int

const (
	TaskExecute TaskKind = iota
	TaskValidate
)

// Task is one unit of work handed to a worker by NextTask.
type Task struct {
	TxIdx       TxIndex
	Incarnation Incarnation
	Kind        TaskKind
}

// Outcome reports what FinishValidation decided for a transaction.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeRetry
	OutcomeFailed
)

// Scheduler is the thread-safe execution/validation queue pair described by
// spec.md §4.E: validation work is always drained ahead of fresh execution
// work, each transaction has its own status and retry counter (all guarded
// by the scheduler's single mutex), and
// conflict detection is asymmetric — only a lower-indexed transaction's
// re-execution can force a later transaction to retry; the reverse is logged
// but never acted on.
type Scheduler struct {
	mu   sync.Mutex
	cond *sync.Cond

	deps       []Dependency
	numTx      int
	maxRetries uint32

	status      []Status
	retryCount  []uint32
	incarnation []Incarnation
	results     []*ExecutionResult
	snapshot    [][]Incarnation

	completed mapset.Set[TxIndex]
	failed    mapset.Set[TxIndex]

	executionQueue  []TxIndex
	validationQueue []TxIndex

	outstanding int // tasks dispatched but not yet finished
}

// NewScheduler builds a scheduler over deps, seeding the execution queue with
// every transaction that has no outstanding dependency.
func NewScheduler(deps []Dependency, maxRetries uint32) *Scheduler {
	n := len(deps)
	s := &Scheduler{
		deps:        deps,
		numTx:       n,
		maxRetries:  maxRetries,
		status:      make([]Status, n),
		retryCount:  make([]uint32, n),
		incarnation: make([]Incarnation, n),
		results:     make([]*ExecutionResult, n),
		snapshot:    make([][]Incarnation, n),
		completed:   mapset.NewThreadUnsafeSet[TxIndex](),
		failed:      mapset.NewThreadUnsafeSet[TxIndex](),
	}
	s.cond = sync.NewCond(&s.mu)

	for i := 0; i < n; i++ {
		idx := TxIndex(i)
		if deps[i].DependsOn.Cardinality() == 0 {
			s.status[i] = StatusReady
			s.executionQueue = append(s.executionQueue, idx)
		} else {
			s.status[i] = StatusBlocked
		}
	}
	return s
}

// NextTask blocks until a task is available, returning ok=false only once the
// scheduler has quiesced: no task in flight and nothing left to schedule.
func (s *Scheduler) NextTask() (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if len(s.validationQueue) > 0 {
			idx := s.validationQueue[0]
			s.validationQueue = s.validationQueue[1:]
			s.outstanding++
			return Task{TxIdx: idx, Incarnation: s.incarnation[idx], Kind: TaskValidate}, true
		}
		if len(s.executionQueue) > 0 {
			idx := s.executionQueue[0]
			s.executionQueue = s.executionQueue[1:]
			s.status[idx] = StatusExecuting
			s.snapshot[idx] = append([]Incarnation(nil), s.incarnation[:idx]...)
			s.outstanding++
			return Task{TxIdx: idx, Incarnation: s.incarnation[idx], Kind: TaskExecute}, true
		}
		if s.outstanding == 0 && s.quiescentLocked() {
			return Task{}, false
		}
		s.cond.Wait()
	}
}

func (s *Scheduler) quiescentLocked() bool {
	return s.completed.Cardinality()+s.failed.Cardinality() == s.numTx
}

// FinishExecution records a worker's execution result and queues the
// transaction for validation. Validation, not execution, is what moves a
// transaction toward Completed.
func (s *Scheduler) FinishExecution(res ExecutionResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := res.TxIdx
	if res.Incarnation != s.incarnation[idx] {
		// A result for a stale incarnation lost the race against a retry
		// that already advanced this slot; discard it.
		s.outstanding--
		s.cond.Broadcast()
		return
	}

	if !res.Success {
		s.failTransaction(idx)
		s.outstanding--
		s.cond.Broadcast()
		return
	}

	s.results[idx] = &res
	s.validationQueue = append(s.validationQueue, idx)
	s.outstanding--
	s.cond.Broadcast()
}

// FinishValidation applies the asymmetric conflict rule and returns what
// happened to idx: it completed, it must retry at a higher incarnation, or
// it has exhausted its retry budget and failed.
func (s *Scheduler) FinishValidation(idx TxIndex) Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.results[idx]
	if res == nil {
		// Nothing to validate yet (should not happen if callers only
		// validate tasks NextTask handed out); treat as a no-op retry.
		s.outstanding--
		s.cond.Broadcast()
		return OutcomeRetry
	}

	if s.hasBindingConflictLocked(idx, res) {
		outcome := s.retryOrFailLocked(idx)
		s.outstanding--
		s.cond.Broadcast()
		return outcome
	}

	s.logAdvisoryForwardConflictsLocked(idx, res)

	s.status[idx] = StatusCompleted
	s.completed.Add(idx)
	s.queueReadyDependentsLocked(idx)
	s.outstanding--
	s.cond.Broadcast()
	return OutcomeCompleted
}

// hasBindingConflictLocked implements the one direction of conflict that
// must force a retry: some earlier transaction j < idx wrote an account idx
// read, and j's incarnation advanced (it was re-executed) after idx took its
// dependency snapshot. A later transaction re-executing is never, by itself,
// a reason for idx to retry (spec.md §9's asymmetric rule).
func (s *Scheduler) hasBindingConflictLocked(idx TxIndex, res *ExecutionResult) bool {
	snap := s.snapshot[idx]
	for j := 0; j < int(idx) && j < len(snap); j++ {
		jRes := s.results[j]
		if jRes == nil {
			continue
		}
		if jRes.WriteSet == nil || res.ReadSet == nil {
			continue
		}
		if jRes.WriteSet.Intersect(res.ReadSet).Cardinality() == 0 {
			continue
		}
		if s.incarnation[j] > snap[j] {
			return true
		}
	}
	return false
}

// logAdvisoryForwardConflictsLocked surfaces the non-binding direction —
// later transactions whose read set overlaps idx's write set — purely for
// observability. It never triggers a retry.
func (s *Scheduler) logAdvisoryForwardConflictsLocked(idx TxIndex, res *ExecutionResult) {
	for j := int(idx) + 1; j < s.numTx; j++ {
		jRes := s.results[j]
		if jRes == nil || jRes.ReadSet == nil || res.WriteSet == nil {
			continue
		}
		if jRes.ReadSet.Intersect(res.WriteSet).Cardinality() > 0 {
			log.Debug("advisory forward overlap, not retrying",
				"tx", idx, "laterTx", j)
		}
	}
}

func (s *Scheduler) retryOrFailLocked(idx TxIndex) Outcome {
	s.retryCount[idx]++
	if s.retryCount[idx] > s.maxRetries {
		s.failTransaction(idx)
		return OutcomeFailed
	}
	s.incarnation[idx]++
	s.results[idx] = nil
	s.status[idx] = StatusReady
	s.executionQueue = append(s.executionQueue, idx)
	return OutcomeRetry
}

func (s *Scheduler) failTransaction(idx TxIndex) {
	s.status[idx] = StatusFailed
	s.failed.Add(idx)
	// Failure still unblocks dependents' scheduling eligibility the same way
	// completion does; the sequential fallback is what ultimately decides a
	// block containing a failed transaction is invalid, not the scheduler.
	s.queueReadyDependentsLocked(idx)
}

func (s *Scheduler) queueReadyDependentsLocked(idx TxIndex) {
	done := mapset.NewThreadUnsafeSet[TxIndex]()
	done.Append(s.completed.ToSlice()...)
	done.Append(s.failed.ToSlice()...)

	for _, dependent := range s.deps[idx].Dependents.ToSlice() {
		if s.status[dependent] != StatusBlocked {
			continue
		}
		if ready(s.deps[dependent], done) {
			s.status[dependent] = StatusReady
			s.executionQueue = append(s.executionQueue, dependent)
		}
	}
}

// Results returns the final stored result for every completed transaction,
// indexed by position, with nil for any transaction that never completed.
func (s *Scheduler) Results() []*ExecutionResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*ExecutionResult, s.numTx)
	for i, r := range s.results {
		if s.status[i] == StatusCompleted {
			out[i] = r
		}
	}
	return out
}

// FailedIndices returns the transactions that failed: their execution
// returned an unsuccessful result, or they exhausted their retry budget.
func (s *Scheduler) FailedIndices() []TxIndex {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed.ToSlice()
}
