package watch

import (
	"strings"
	"time"
)

// Ticker alternates frames on every UI tick; a frozen frame means the
// program stopped ticking.
type Ticker struct {
	frames []string
	index  int
}

func NewTicker() Ticker {
	return Ticker{frames: []string{"◐", "◓", "◑", "◒"}}
}

func (t *Ticker) Tick() {
	t.index = (t.index + 1) % len(t.frames)
}

func (t Ticker) Current() string {
	return t.frames[t.index]
}

const (
	activityBuckets = 12
	activityBucket  = 5 * time.Second
)

var sparkBars = []rune("▁▂▃▄▅▆▇█")

// Activity counts streamed events in fixed buckets covering the last
// minute and renders them as a sparkline, newest on the right.
type Activity struct {
	counts    [activityBuckets]int
	head      time.Time
	lastEvent time.Time
}

func NewActivity() Activity {
	return Activity{}
}

// Record counts one event at t.
func (a *Activity) Record(t time.Time) {
	a.advance(t)
	a.counts[activityBuckets-1]++
	a.lastEvent = t
}

// advance shifts the window so that its newest bucket contains t.
func (a *Activity) advance(t time.Time) {
	start := t.Truncate(activityBucket)
	if a.head.IsZero() {
		a.head = start
		return
	}
	shift := int(start.Sub(a.head) / activityBucket)
	if shift <= 0 {
		return
	}
	if shift >= activityBuckets {
		a.counts = [activityBuckets]int{}
	} else {
		copy(a.counts[:], a.counts[shift:])
		for i := activityBuckets - shift; i < activityBuckets; i++ {
			a.counts[i] = 0
		}
	}
	a.head = start
}

// Total returns the number of events in the window.
func (a Activity) Total() int {
	n := 0
	for _, c := range a.counts {
		n += c
	}
	return n
}

func (a Activity) LastEvent() time.Time {
	return a.lastEvent
}

func (a *Activity) Render(now time.Time, theme Theme) string {
	a.advance(now)
	peak := 0
	for _, c := range a.counts {
		peak = max(peak, c)
	}
	var b strings.Builder
	for _, c := range a.counts {
		if c == 0 {
			b.WriteString(theme.BarCold.Render(string(sparkBars[0])))
			continue
		}
		idx := c * (len(sparkBars) - 1) / peak
		b.WriteString(theme.BarHot.Render(string(sparkBars[idx])))
	}
	return b.String()
}
