package notebook

import "time"

// Record is the execution state of one step. Values handed out by the
// Controller are copies; mutating them has no effect on the controller.
type Record struct {
	StepID    string
	Executed  bool
	Executing bool
	Outputs   []OutputItem
	// ExecutionTime is the wall-clock duration of the last resolved run.
	// Zero means no timing is recorded.
	ExecutionTime time.Duration
	// Generation is the number of the latest run or reset issued for the step.
	Generation uint64
}

func (r Record) clone() Record {
	if r.Outputs != nil {
		r.Outputs = append(make([]OutputItem, 0, len(r.Outputs)), r.Outputs...)
	}
	return r
}

// stateStore holds one Record per step plus the per-step generation counter.
// It is not safe for concurrent use; the Controller guards it.
type stateStore struct {
	records map[string]*Record
}

func newStateStore() *stateStore {
	return &stateStore{records: make(map[string]*Record)}
}

func (s *stateStore) record(stepID string) *Record {
	r, ok := s.records[stepID]
	if !ok {
		r = &Record{StepID: stepID}
		s.records[stepID] = r
	}
	return r
}

// get returns a copy of the record for stepID.
func (s *stateStore) get(stepID string) Record {
	if r, ok := s.records[stepID]; ok {
		return r.clone()
	}
	return Record{StepID: stepID}
}

// begin starts a new run: the generation advances, outputs are cleared and
// the step is marked executing. Executed is left as is until resolution.
func (s *stateStore) begin(stepID string) uint64 {
	r := s.record(stepID)
	r.Generation++
	r.Executing = true
	r.Outputs = []OutputItem{}
	return r.Generation
}

// apply stores the outcome of run gen. A response from a superseded
// generation is discarded entirely and apply returns false.
func (s *stateStore) apply(stepID string, gen uint64, success bool, outputs []OutputItem, elapsed time.Duration) bool {
	r := s.record(stepID)
	if r.Generation != gen {
		return false
	}
	r.Executing = false
	r.Executed = success
	r.Outputs = outputs
	r.ExecutionTime = elapsed
	return true
}

// reset returns the step to the initial unexecuted state. The generation
// advances so that any in-flight response for the old code is discarded.
func (s *stateStore) reset(stepID string) {
	r := s.record(stepID)
	r.Generation++
	r.Executed = false
	r.Executing = false
	r.Outputs = nil
	r.ExecutionTime = 0
}
