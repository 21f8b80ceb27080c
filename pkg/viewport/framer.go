// Package viewport decides how the canvas frames a tree: the initial fit
// and incremental re-centering when new nodes appear.
package viewport

import (
	"github.com/grovechat/grove/pkg/layout"
)

// Size is the viewport extent in screen units.
type Size struct {
	Width  float64
	Height float64
}

// Transform is a pan/zoom state: the world coordinate at the viewport
// center plus the zoom factor.
type Transform struct {
	X    float64
	Y    float64
	Zoom float64
}

// Options bound the framer's behavior.
type Options struct {
	MinZoom float64
	MaxZoom float64
	// Margin keeps focused content away from the viewport edges, in world
	// units.
	Margin float64
	// FollowAncestors is how many ancestors join a new node's focus region.
	FollowAncestors int
}

// DefaultOptions returns the standard bounds.
func DefaultOptions() Options {
	return Options{
		MinZoom:         0.25,
		MaxZoom:         1.5,
		Margin:          64,
		FollowAncestors: 2,
	}
}

// Framer tracks the previously seen node-id set and produces viewport
// transforms. The previous/current diff is explicit state here, not an
// ambient ref.
type Framer struct {
	opts Options
	prev map[string]struct{}
}

// NewFramer creates a framer with the given bounds.
func NewFramer(opts Options) *Framer {
	if opts.MaxZoom <= 0 {
		opts = DefaultOptions()
	}
	return &Framer{opts: opts}
}

// Reset forgets the previously seen id set, forcing the next Observe to
// perform an initial fit.
func (f *Framer) Reset() {
	f.prev = nil
}

// FitAll computes the transform that fits every node in the viewport,
// zoomed within bounds and centered on the bounding box.
func (f *Framer) FitAll(positions map[string]layout.Point, viewport Size) Transform {
	if len(positions) == 0 {
		return Transform{Zoom: clamp(1, f.opts.MinZoom, f.opts.MaxZoom)}
	}

	box := layout.BoundingBox(positions).Expand(f.opts.Margin)
	zoom := fitZoom(box, viewport, f.opts)

	return Transform{X: box.CenterX(), Y: box.CenterY(), Zoom: zoom}
}

// Observe diffs the current node set against the previous one and returns
// the transform to apply plus whether the viewport should move. The first
// population performs the initial fit; afterwards a newly inserted node
// that is not fully visible pulls the viewport toward a focus region of the
// node and up to FollowAncestors ancestors, never increasing zoom.
func (f *Framer) Observe(positions map[string]layout.Point, parents map[string]string, viewport Size, current Transform) (Transform, bool) {
	defer func() {
		snapshot := make(map[string]struct{}, len(positions))
		for id := range positions {
			snapshot[id] = struct{}{}
		}
		f.prev = snapshot
	}()

	if f.prev == nil {
		if len(positions) == 0 {
			return current, false
		}
		return f.FitAll(positions, viewport), true
	}

	var added []string
	for id := range positions {
		if _, seen := f.prev[id]; !seen {
			added = append(added, id)
		}
	}
	if len(added) == 0 {
		return current, false
	}

	focus := f.focusRegion(added, positions, parents)

	if f.regionVisible(focus, viewport, current) {
		return current, false
	}

	zoom := current.Zoom
	if needed := fitZoom(focus, viewport, f.opts); needed < zoom {
		zoom = needed
	}
	zoom = clamp(zoom, f.opts.MinZoom, f.opts.MaxZoom)

	next := Transform{
		X:    clampPan(focus.MinX, focus.MaxX, viewport.Width, zoom, current.X),
		Y:    clampPan(focus.MinY, focus.MaxY, viewport.Height, zoom, current.Y),
		Zoom: zoom,
	}
	return next, next != current
}

// focusRegion covers the new nodes and up to FollowAncestors ancestors of
// each, expanded by the margin.
func (f *Framer) focusRegion(added []string, positions map[string]layout.Point, parents map[string]string) layout.Box {
	focus := make(map[string]layout.Point, len(added)*(f.opts.FollowAncestors+1))
	for _, id := range added {
		focus[id] = positions[id]
		ancestor := id
		for i := 0; i < f.opts.FollowAncestors; i++ {
			parent, ok := parents[ancestor]
			if !ok {
				break
			}
			if p, ok := positions[parent]; ok {
				focus[parent] = p
			}
			ancestor = parent
		}
	}
	return layout.BoundingBox(focus).Expand(f.opts.Margin)
}

// regionVisible reports whether a world box fits entirely inside the
// current view.
func (f *Framer) regionVisible(box layout.Box, viewport Size, t Transform) bool {
	if t.Zoom <= 0 {
		return false
	}
	halfW := viewport.Width / 2 / t.Zoom
	halfH := viewport.Height / 2 / t.Zoom
	return box.MinX >= t.X-halfW &&
		box.MaxX <= t.X+halfW &&
		box.MinY >= t.Y-halfH &&
		box.MaxY <= t.Y+halfH
}

// fitZoom is the largest zoom that fits a box inside the viewport, within
// bounds.
func fitZoom(box layout.Box, viewport Size, opts Options) float64 {
	zoom := opts.MaxZoom
	if w := box.Width(); w > 0 {
		if z := viewport.Width / w; z < zoom {
			zoom = z
		}
	}
	if h := box.Height(); h > 0 {
		if z := viewport.Height / h; z < zoom {
			zoom = z
		}
	}
	return clamp(zoom, opts.MinZoom, opts.MaxZoom)
}

// clampPan keeps a focus extent inside the pannable range along one axis:
// the smallest move from current that brings [lo,hi] into view. A focus
// wider than the view produces an empty range, which collapses to its
// midpoint rather than an invalid clamp.
func clampPan(lo, hi, viewportExtent, zoom, current float64) float64 {
	half := viewportExtent / 2 / zoom
	minPan := hi - half
	maxPan := lo + half
	return clamp(current, minPan, maxPan)
}

// clamp bounds v to [lo,hi]; a degenerate range where lo > hi collapses to
// the midpoint.
func clamp(v, lo, hi float64) float64 {
	if lo > hi {
		return (lo + hi) / 2
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
