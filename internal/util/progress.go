package util

import (
	"fmt"
	"time"
)

// Progress tracks completion of a fixed number of steps and estimates the
// remaining time from the average step duration so far.
type Progress struct {
	Total   int
	Done    int
	started time.Time
}

func NewProgress(total int) *Progress {
	return &Progress{Total: total, started: time.Now()}
}

func (p *Progress) Step() {
	p.Done++
}

func (p *Progress) Percentage() int {
	if p.Total <= 0 {
		return 0
	}
	return min(p.Done*100/p.Total, 100)
}

func (p *Progress) Elapsed() time.Duration {
	return time.Since(p.started)
}

func (p *Progress) Remaining() time.Duration {
	if p.Done == 0 || p.Done >= p.Total {
		return 0
	}
	perStep := p.Elapsed() / time.Duration(p.Done)
	return perStep * time.Duration(p.Total-p.Done)
}

// String renders "done/total (pct%)".
func (p *Progress) String() string {
	return fmt.Sprintf("%d/%d (%d%%)", p.Done, p.Total, p.Percentage())
}

// FormatDuration renders d as HH:MM:SS.
func FormatDuration(d time.Duration) string {
	secs := int(d.Seconds())
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs/60)%60, secs%60)
}
