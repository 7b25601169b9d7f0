package lifecycle

import (
	"math"
	"sync"
	"time"
)

// Stage names for Progress, stable across the wire.
const (
	StageScanning    = "scanning"
	StageDownloading = "downloading"
	StageIndexing    = "indexing"
)

// ewmaAlpha weights the newest rate sample. 0.3 smooths editor-save bursts
// without lagging a genuine speed change by more than a few samples.
const ewmaAlpha = 0.3

// Progress is a point-in-time view of the current stage. Units are files
// for scanning and indexing, bytes for downloads.
type Progress struct {
	Stage   string  `json:"stage"`
	Done    int64   `json:"done"`
	Total   int64   `json:"total"`
	Percent float64 `json:"percent"`

	// Rate is smoothed units per second; zero until two samples exist.
	Rate float64 `json:"rate,omitempty"`

	// ETASeconds is the smoothed time to completion, -1 when unknown.
	ETASeconds int64 `json:"eta_seconds"`
}

// tracker accumulates stage progress and keeps an exponentially weighted
// moving average of the completion rate so the ETA does not jump around
// with per-file variance. Safe for concurrent use.
type tracker struct {
	mu       sync.Mutex
	stage    string
	done     int64
	total    int64
	rate     float64
	haveRate bool
	lastAt   time.Time
}

func newTracker() *tracker {
	return &tracker{}
}

// begin resets the tracker for a new stage.
func (t *tracker) begin(stage string, total int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stage = stage
	t.done = 0
	t.total = total
	t.rate = 0
	t.haveRate = false
	t.lastAt = time.Now()
}

// advance records n more completed units and folds the instantaneous rate
// into the average.
func (t *tracker) advance(n int64) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(t.lastAt).Seconds()
	t.done += n
	if elapsed > 0 {
		instant := float64(n) / elapsed
		if t.haveRate {
			t.rate = ewmaAlpha*instant + (1-ewmaAlpha)*t.rate
		} else {
			t.rate = instant
			t.haveRate = true
		}
	}
	t.lastAt = now
}

// set replaces the absolute position, for stages that report totals rather
// than increments (model downloads report cumulative bytes).
func (t *tracker) set(done, total int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if done > t.done {
		elapsed := now.Sub(t.lastAt).Seconds()
		if elapsed > 0 {
			instant := float64(done-t.done) / elapsed
			if t.haveRate {
				t.rate = ewmaAlpha*instant + (1-ewmaAlpha)*t.rate
			} else {
				t.rate = instant
				t.haveRate = true
			}
		}
		t.lastAt = now
	}
	t.done = done
	if total > 0 {
		t.total = total
	}
}

// clear drops the stage, making snapshot return nil.
func (t *tracker) clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stage = ""
	t.done = 0
	t.total = 0
	t.rate = 0
	t.haveRate = false
}

// snapshot returns the current progress, nil when no stage is running.
func (t *tracker) snapshot() *Progress {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stage == "" {
		return nil
	}
	p := &Progress{
		Stage:      t.stage,
		Done:       t.done,
		Total:      t.total,
		ETASeconds: -1,
	}
	if t.total > 0 {
		p.Percent = math.Min(100, float64(t.done)/float64(t.total)*100)
	}
	if t.haveRate && t.rate > 0 {
		p.Rate = t.rate
		if remaining := t.total - t.done; remaining > 0 {
			p.ETASeconds = int64(math.Ceil(float64(remaining) / t.rate))
		} else if t.total > 0 {
			p.ETASeconds = 0
		}
	}
	return p
}
