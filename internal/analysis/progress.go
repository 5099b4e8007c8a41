package analysis

import "sync/atomic"

// Progress counts processed frames. It is written by the processing loop and
// may be read from any goroutine.
type Progress struct {
	done     atomic.Int64
	total    atomic.Int64
	onChange func(done, total int)
}

// NewProgress creates a Progress that calls onChange, if non-nil, from the
// processing goroutine after every frame.
func NewProgress(onChange func(done, total int)) *Progress {
	return &Progress{onChange: onChange}
}

// SetTotal records the number of frames the clip is expected to have.
func (p *Progress) SetTotal(total int) {
	if p == nil {
		return
	}
	p.total.Store(int64(total))
	p.notify()
}

// Advance marks one more frame as processed.
func (p *Progress) Advance() {
	if p == nil {
		return
	}
	p.done.Add(1)
	p.notify()
}

// Snapshot returns the processed and expected frame counts.
func (p *Progress) Snapshot() (done, total int) {
	if p == nil {
		return 0, 0
	}
	return int(p.done.Load()), int(p.total.Load())
}

// Fraction returns done/total clamped to [0,1]. Containers sometimes
// under-report their duration, so done may exceed total.
func (p *Progress) Fraction() float64 {
	done, total := p.Snapshot()
	if total <= 0 {
		return 0
	}
	if done >= total {
		return 1
	}
	return float64(done) / float64(total)
}

func (p *Progress) notify() {
	if p.onChange != nil {
		done, total := p.Snapshot()
		p.onChange(done, total)
	}
}
