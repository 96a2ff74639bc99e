package transfer

import "sync"

// tally accumulates outcomes from concurrent items and serializes progress
// callbacks.
type tally struct {
	mu       sync.Mutex
	res      Result
	reported []bool
	progress ProgressFunc
	observer Observer
}

func newTally(total int, progress ProgressFunc, observer Observer) *tally {
	return &tally{
		res:      Result{Total: total},
		reported: make([]bool, total),
		progress: progress,
		observer: observer,
	}
}

func (t *tally) success(index int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mark(index) {
		t.res.Success++
		t.notify(index, "success")
	}
}

func (t *tally) skip(index int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mark(index) {
		t.res.Skipped++
		t.notify(index, "skipped")
	}
}

func (t *tally) fail(index, batch int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mark(index) {
		t.res.Failed++
		t.addError(ItemError{Index: index, Batch: batch, Err: err})
		t.notify(index, "failed")
	}
}

// failBatch fails every unreported item in [offset, offset+n) with one
// aggregate error and returns how many items it covered.
func (t *tally) failBatch(batch, offset, n int, err error) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	covered := 0
	for i := offset; i < offset+n; i++ {
		if t.mark(i) {
			covered++
			t.res.Failed++
			t.notify(i, "failed")
		}
	}
	if covered > 0 {
		t.addError(ItemError{Index: -1, Batch: batch, Err: err})
	}
	return covered
}

// mark records index as reported; false means it already was.
func (t *tally) mark(index int) bool {
	if t.reported[index] {
		return false
	}
	t.reported[index] = true
	return true
}

func (t *tally) addError(e ItemError) {
	if len(t.res.Errors) < MaxReportedErrors {
		t.res.Errors = append(t.res.Errors, e)
	}
}

func (t *tally) notify(index int, outcome string) {
	if t.observer != nil {
		t.observer.ImportItem(outcome)
	}
	if t.progress != nil {
		t.progress(index+1, t.res.Total)
	}
}

func (t *tally) result() Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	res := t.res
	res.Errors = append([]ItemError(nil), t.res.Errors...)
	return res
}
