package observer

import "time"

// pendingWrite is the debounce state for one item's value. Every keystroke
// restarts the timer; only the value held when it fires is written. At most
// one write per item is in flight; a flush requested meanwhile sets dirty and
// the running write sends the latest value when it returns.
type pendingWrite struct {
	itemID string
	value  string
	seq    uint64
	timer  *time.Timer
	flight *flight
	dirty  bool
}

// flight is one run of writes for an item. done closes when the run ends.
type flight struct {
	done chan struct{}
	err  error
}

// start records value and (re)arms the timer.
func (p *pendingWrite) start(value string, d time.Duration, fire func()) {
	p.value = value
	p.seq++
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(d, fire)
}

// cancel disarms the timer. It reports whether a fire was prevented.
func (p *pendingWrite) cancel() bool {
	if p.timer == nil {
		return false
	}
	stopped := p.timer.Stop()
	p.timer = nil
	return stopped
}

// take disarms the timer and returns the value to write along with the
// sequence number it was recorded under.
func (p *pendingWrite) take() (string, uint64) {
	p.cancel()
	p.dirty = false
	return p.value, p.seq
}
