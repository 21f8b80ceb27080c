// Package layout computes deterministic 2-D positions for a tree's nodes.
package layout

import (
	"github.com/grovechat/grove/pkg/tree"
)

// Point is a node position in world coordinates.
type Point struct {
	X float64
	Y float64
}

// Options control spacing. Zero values fall back to defaults.
type Options struct {
	HorizontalGap float64
	VerticalGap   float64
	GridColumns   int
}

// DefaultOptions returns the standard spacing.
func DefaultOptions() Options {
	return Options{
		HorizontalGap: 220,
		VerticalGap:   120,
		GridColumns:   4,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.HorizontalGap <= 0 {
		o.HorizontalGap = d.HorizontalGap
	}
	if o.VerticalGap <= 0 {
		o.VerticalGap = d.VerticalGap
	}
	if o.GridColumns <= 0 {
		o.GridColumns = d.GridColumns
	}
	return o
}

// Compute lays out one tree's graph: a stable breadth-first walk from the
// roots following edge insertion order, fixed spacing within and between
// layers, then the whole bounding box recentered about the origin. The same
// graph always yields the same positions.
func Compute(g tree.Graph, opts Options) map[string]Point {
	opts = opts.withDefaults()

	if len(g.Nodes) == 0 {
		return map[string]Point{}
	}

	if len(g.Edges) == 0 {
		return recenter(gridLayout(g.Nodes, opts))
	}

	children := make(map[string][]string, len(g.Nodes))
	hasParent := make(map[string]struct{}, len(g.Edges))
	for _, e := range g.Edges {
		children[e.Source] = append(children[e.Source], e.Target)
		hasParent[e.Target] = struct{}{}
	}

	// Roots in node insertion order.
	var queue []string
	layerOf := map[string]int{}
	for _, n := range g.Nodes {
		if _, ok := hasParent[n.ID]; !ok {
			queue = append(queue, n.ID)
			layerOf[n.ID] = 0
		}
	}

	var layers [][]string
	visited := make(map[string]struct{}, len(g.Nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, seen := visited[id]; seen {
			continue
		}
		visited[id] = struct{}{}

		layer := layerOf[id]
		for len(layers) <= layer {
			layers = append(layers, nil)
		}
		layers[layer] = append(layers[layer], id)

		for _, child := range children[id] {
			if _, seen := visited[child]; !seen {
				if _, queued := layerOf[child]; !queued {
					layerOf[child] = layer + 1
					queue = append(queue, child)
				}
			}
		}
	}

	positions := make(map[string]Point, len(g.Nodes))
	for layer, ids := range layers {
		for i, id := range ids {
			positions[id] = Point{
				X: float64(i) * opts.HorizontalGap,
				Y: float64(layer) * opts.VerticalGap,
			}
		}
	}

	// Nodes unreachable from any root fall back to a trailing grid.
	var stranded []tree.Node
	for _, n := range g.Nodes {
		if _, seen := visited[n.ID]; !seen {
			stranded = append(stranded, n)
		}
	}
	if len(stranded) > 0 {
		baseY := float64(len(layers)) * opts.VerticalGap
		for i, n := range stranded {
			col := i % opts.GridColumns
			row := i / opts.GridColumns
			positions[n.ID] = Point{
				X: float64(col) * opts.HorizontalGap,
				Y: baseY + float64(row)*opts.VerticalGap,
			}
		}
	}

	return recenter(positions)
}

// gridLayout is the fallback for graphs with no edges: a fixed-column grid
// in node insertion order.
func gridLayout(nodes []tree.Node, opts Options) map[string]Point {
	positions := make(map[string]Point, len(nodes))
	for i, n := range nodes {
		col := i % opts.GridColumns
		row := i / opts.GridColumns
		positions[n.ID] = Point{
			X: float64(col) * opts.HorizontalGap,
			Y: float64(row) * opts.VerticalGap,
		}
	}
	return positions
}

// recenter shifts all positions so the bounding box is centered on the
// origin, giving the viewport framer a stable anchor.
func recenter(positions map[string]Point) map[string]Point {
	if len(positions) == 0 {
		return positions
	}

	box := BoundingBox(positions)
	cx := (box.MinX + box.MaxX) / 2
	cy := (box.MinY + box.MaxY) / 2

	for id, p := range positions {
		positions[id] = Point{X: p.X - cx, Y: p.Y - cy}
	}
	return positions
}

// Box is an axis-aligned bounding box.
type Box struct {
	MinX, MinY, MaxX, MaxY float64
}

// Width returns the box's horizontal extent.
func (b Box) Width() float64 { return b.MaxX - b.MinX }

// Height returns the box's vertical extent.
func (b Box) Height() float64 { return b.MaxY - b.MinY }

// CenterX returns the box's horizontal midpoint.
func (b Box) CenterX() float64 { return (b.MinX + b.MaxX) / 2 }

// CenterY returns the box's vertical midpoint.
func (b Box) CenterY() float64 { return (b.MinY + b.MaxY) / 2 }

// Expand grows the box by a margin on every side.
func (b Box) Expand(margin float64) Box {
	return Box{
		MinX: b.MinX - margin,
		MinY: b.MinY - margin,
		MaxX: b.MaxX + margin,
		MaxY: b.MaxY + margin,
	}
}

// BoundingBox returns the box covering all positions.
func BoundingBox(positions map[string]Point) Box {
	first := true
	var box Box
	for _, p := range positions {
		if first {
			box = Box{MinX: p.X, MinY: p.Y, MaxX: p.X, MaxY: p.Y}
			first = false
			continue
		}
		if p.X < box.MinX {
			box.MinX = p.X
		}
		if p.Y < box.MinY {
			box.MinY = p.Y
		}
		if p.X > box.MaxX {
			box.MaxX = p.X
		}
		if p.Y > box.MaxY {
			box.MaxY = p.Y
		}
	}
	return box
}
