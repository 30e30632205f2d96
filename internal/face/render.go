package face

import (
	"fmt"
	"time"

	"calface/internal/model"
)

// Style holds the resolved rendering resources. Colors are 0xAARRGGBB tags.
type Style struct {
	Background        int32
	AmbientBackground int32
	Text              int32
	// AmbientEvent replaces every event color in ambient mode.
	AmbientEvent int32

	XOffset      float64
	XOffsetRound float64
	YOffset      float64

	// CalWidth is the width of the timeline column at the right edge.
	CalWidth float64
	// NowMarkerInset extends the now marker left of the column.
	NowMarkerInset float64
}

// DrawKind tags a DrawCommand.
type DrawKind int

const (
	DrawRect DrawKind = iota
	DrawLine
	DrawText
)

func (k DrawKind) String() string {
	switch k {
	case DrawRect:
		return "rect"
	case DrawLine:
		return "line"
	case DrawText:
		return "text"
	default:
		return fmt.Sprintf("DrawKind(%d)", int(k))
	}
}

// DrawCommand is one primitive for the host surface. Rect fills
// [X0,X1)x[Y0,Y1); Line strokes from (X0,Y0) to (X1,Y1); Text draws Text
// with its baseline origin at (X0,Y0).
type DrawCommand struct {
	Kind      DrawKind
	X0, Y0    float64
	X1, Y1    float64
	Color     int32
	Text      string
	AntiAlias bool
}

// Frame is everything the renderer reads.
type Frame struct {
	Now      time.Time
	Width    float64
	Height   float64
	Snapshot *Snapshot
	Ambient  bool
	Round    bool
	// AntiAlias is false for low-bit ambient displays in ambient mode.
	AntiAlias bool
	Style     Style
}

// FormatClock renders the time text. Seconds are only shown interactively.
func FormatClock(t time.Time, ambient bool) string {
	if ambient {
		return fmt.Sprintf("%d:%02d", t.Hour(), t.Minute())
	}
	return fmt.Sprintf("%d:%02d:%02d", t.Hour(), t.Minute(), t.Second())
}

// Render turns a frame into draw commands. It has no side effects.
func Render(f Frame) []DrawCommand {
	st := f.Style
	cmds := make([]DrawCommand, 0, 3)

	bg := st.Background
	if f.Ambient {
		bg = st.AmbientBackground
	}
	cmds = append(cmds, DrawCommand{Kind: DrawRect, X1: f.Width, Y1: f.Height, Color: bg})

	x := st.XOffset
	if f.Round {
		x = st.XOffsetRound
	}
	cmds = append(cmds, DrawCommand{
		Kind:      DrawText,
		X0:        x,
		Y0:        st.YOffset,
		Color:     st.Text,
		Text:      FormatClock(f.Now, f.Ambient),
		AntiAlias: f.AntiAlias,
	})

	// Nothing has been fetched yet: no timeline at all.
	if f.Snapshot == nil {
		return cmds
	}

	scale := NewDayScale(f.Now, f.Height)
	calX := f.Width - st.CalWidth

	nowY := scale.Y(f.Now)
	cmds = append(cmds, DrawCommand{
		Kind:      DrawLine,
		X0:        calX - st.NowMarkerInset,
		Y0:        nowY,
		X1:        f.Width,
		Y1:        nowY,
		Color:     st.Text,
		AntiAlias: f.AntiAlias,
	})

	for _, ev := range f.Snapshot.Events {
		if !scale.Contains(ev.Start, ev.End) {
			continue
		}
		cmds = append(cmds, DrawCommand{
			Kind:  DrawRect,
			X0:    calX,
			Y0:    scale.Y(ev.Start),
			X1:    f.Width,
			Y1:    scale.Y(ev.End),
			Color: eventColor(ev, f.Ambient, st),
		})
	}
	return cmds
}

func eventColor(ev model.TimelineEvent, ambient bool, st Style) int32 {
	if ambient {
		return st.AmbientEvent
	}
	return ev.ColorTag
}
