package cardinality

import (
	"strconv"
	"sync"
	"testing"
)

func TestHLLTrackerEstimatesUniques(t *testing.T) {
	tr := NewHLLTracker()
	for i := 0; i < 10000; i++ {
		tr.Add([]byte("series-" + strconv.Itoa(i)))
	}
	for i := 0; i < 10000; i++ {
		tr.Add([]byte("series-" + strconv.Itoa(i)))
	}
	got := tr.Count()
	if got < 9500 || got > 10500 {
		t.Errorf("estimate = %d, want within 5%% of 10000", got)
	}
}

func TestHLLTrackerConcurrentAdds(t *testing.T) {
	tr := NewHLLTracker()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				tr.Add([]byte("w" + strconv.Itoa(w) + "-" + strconv.Itoa(i)))
			}
		}(w)
	}
	wg.Wait()
	got := tr.Count()
	if got < 7600 || got > 8400 {
		t.Errorf("estimate = %d, want within 5%% of 8000", got)
	}
}

func TestBloomTrackerDetectsDuplicates(t *testing.T) {
	tr := NewBloomTracker(10000, 0.001)
	if !tr.Add([]byte("a|cpu|1")) {
		t.Error("first add reported as seen")
	}
	if tr.Add([]byte("a|cpu|1")) {
		t.Error("duplicate reported as new")
	}
	if tr.Count() != 1 {
		t.Errorf("count = %d, want 1", tr.Count())
	}
}

func TestBloomTrackerCountsDistinct(t *testing.T) {
	tr := NewBloomTracker(100000, 0.001)
	added := int64(0)
	for i := 0; i < 50000; i++ {
		if tr.Add([]byte("key-" + strconv.Itoa(i))) {
			added++
		}
	}
	if tr.Count() != added {
		t.Errorf("count %d != added %d", tr.Count(), added)
	}
	// At 0.1% false positives, nearly all distinct keys register.
	if added < 49800 {
		t.Errorf("only %d of 50000 distinct keys registered", added)
	}
}

func TestBloomTrackerDefaults(t *testing.T) {
	tr := NewBloomTracker(0, -1)
	if !tr.Add([]byte("x")) {
		t.Error("tracker with defaulted sizing rejected first key")
	}
}
