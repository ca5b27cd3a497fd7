// Package presenter turns a completed session into the rows of the leak table.
package presenter

import (
	"fmt"
	"math"

	"github.com/gaslight/leakview/internal/playback"
	"github.com/gaslight/leakview/internal/session"
)

// Row is one detected leak. Activate seeks the player to Start and plays.
type Row struct {
	Index    int     `json:"index"`
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Duration float64 `json:"duration"`
	Label    string  `json:"label"`

	activate func()
}

// Activate jumps the player to the start of the row's interval.
func (r Row) Activate() {
	if r.activate != nil {
		r.activate()
	}
}

// Project builds rows in interval order. Anything but a Completed snapshot yields nil.
func Project(snap session.Snapshot, ctl playback.Controller) []Row {
	if snap.State != session.Completed {
		return nil
	}
	if ctl == nil {
		ctl = playback.Nop{}
	}
	rows := make([]Row, 0, len(snap.Intervals))
	for i, iv := range snap.Intervals {
		start := iv.Start
		rows = append(rows, Row{
			Index:    i,
			Start:    iv.Start,
			End:      iv.End,
			Duration: iv.Duration,
			Label:    Label(iv.Start, iv.End),
			activate: func() {
				ctl.SeekTo(start)
				ctl.Play()
			},
		})
	}
	return rows
}

// Label renders a span as "mm:ss.s - mm:ss.s".
func Label(start, end float64) string {
	return clock(start) + " - " + clock(end)
}

func clock(sec float64) string {
	tenths := int64(math.Round(sec * 10))
	m := tenths / 600
	s := float64(tenths%600) / 10
	return fmt.Sprintf("%02d:%04.1f", m, s)
}
