// Package pins groups comment pins on a zoomable canvas and computes the
// stage transforms used to zoom and to expand a group.
//
// Canvas coordinates are stable; screen coordinates are derived from the
// stage: screen = stage.XY + canvas*stage.Scale.
package pins

import (
	"math"
	"sort"
)

const (
	// DefaultRadius is the screen-space distance under which pins merge.
	DefaultRadius = 40.0
	// WheelFactor is the zoom multiplier applied per pinch/wheel step.
	WheelFactor = 1.03
	MinScale    = 0.2
	MaxScale    = 5.0
)

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Point) add(o Point) Point { return Point{X: p.X + o.X, Y: p.Y + o.Y} }
func (p Point) sub(o Point) Point { return Point{X: p.X - o.X, Y: p.Y - o.Y} }
func (p Point) mul(f float64) Point { return Point{X: p.X * f, Y: p.Y * f} }
func (p Point) dist(o Point) float64 { return math.Hypot(p.X-o.X, p.Y-o.Y) }
func (p Point) div(f float64) Point { return Point{X: p.X / f, Y: p.Y / f} }

type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Stage is the canvas transform: its position on screen and zoom.
type Stage struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Scale float64 `json:"scale"`
}

// normalized returns the stage with an unset or non-positive scale replaced
// by 1.
func (s Stage) normalized() Stage {
	if s.Scale <= 0 {
		s.Scale = 1
	}
	return s
}

func (s Stage) pos() Point { return Point{X: s.X, Y: s.Y} }

func (s Stage) withPos(p Point, scale float64) Stage {
	return Stage{X: p.X, Y: p.Y, Scale: scale}
}

// Pin anchors a thread to a canvas element at an offset relative to it.
type Pin struct {
	ThreadID   string `json:"threadID"`
	ElementID  string `json:"elementID,omitempty"`
	ElementPos Point  `json:"elementPosition"`
	Rel        Point  `json:"relative"`
}

func (p Pin) canvas() Point {
	return p.ElementPos.add(p.Rel)
}

// PinPosition returns the on-screen position of a pin.
func PinPosition(stage Stage, elementPos, rel Point) Point {
	return stage.pos().add(elementPos.add(rel).mul(stage.Scale))
}

type Group struct {
	ThreadIDs []string `json:"threadIDs"`
	// Center is the screen-space centroid of the members.
	Center Point `json:"center"`
	Min    Point `json:"min"`
	Max    Point `json:"max"`
}

type cluster struct {
	members []int
	sum     Point
	first   int
}

func (c cluster) centroid() Point {
	return c.sum.div(float64(len(c.members)))
}

// Cluster merges pins whose screen positions lie within radius of each other.
// Each step merges the closest pair of cluster centroids, until no pair is
// within radius. Groups are ordered by their earliest input pin. A stage
// without a positive scale is treated as scale 1.
func Cluster(stage Stage, pins []Pin, radius float64) []Group {
	if radius <= 0 {
		radius = DefaultRadius
	}
	stage = stage.normalized()
	screen := make([]Point, len(pins))
	clusters := make([]cluster, len(pins))
	for i, pin := range pins {
		screen[i] = PinPosition(stage, pin.ElementPos, pin.Rel)
		clusters[i] = cluster{members: []int{i}, sum: screen[i], first: i}
	}

	for len(clusters) > 1 {
		bestI, bestJ, best := -1, -1, math.Inf(1)
		for i := 0; i < len(clusters); i++ {
			ci := clusters[i].centroid()
			for j := i + 1; j < len(clusters); j++ {
				if d := ci.dist(clusters[j].centroid()); d < best {
					bestI, bestJ, best = i, j, d
				}
			}
		}
		if best > radius {
			break
		}
		merged := clusters[bestI]
		merged.members = append(append([]int{}, merged.members...), clusters[bestJ].members...)
		merged.sum = merged.sum.add(clusters[bestJ].sum)
		if clusters[bestJ].first < merged.first {
			merged.first = clusters[bestJ].first
		}
		clusters[bestI] = merged
		clusters = append(clusters[:bestJ], clusters[bestJ+1:]...)
	}

	sort.SliceStable(clusters, func(a, b int) bool { return clusters[a].first < clusters[b].first })

	groups := make([]Group, 0, len(clusters))
	for _, c := range clusters {
		sort.Ints(c.members)
		group := Group{Center: c.centroid()}
		for k, idx := range c.members {
			group.ThreadIDs = append(group.ThreadIDs, pins[idx].ThreadID)
			p := pins[idx].canvas()
			if k == 0 {
				group.Min, group.Max = p, p
				continue
			}
			group.Min = Point{X: math.Min(group.Min.X, p.X), Y: math.Min(group.Min.Y, p.Y)}
			group.Max = Point{X: math.Max(group.Max.X, p.X), Y: math.Max(group.Max.Y, p.Y)}
		}
		groups = append(groups, group)
	}
	return groups
}

func clampScale(scale float64) float64 {
	return math.Max(MinScale, math.Min(MaxScale, scale))
}

// ZoomAt changes the scale while keeping the screen point center fixed.
// newScale is clamped to [MinScale, MaxScale].
func ZoomAt(stage Stage, center Point, newScale float64) Stage {
	stage = stage.normalized()
	newScale = clampScale(newScale)
	relatedTo := center.sub(stage.pos()).div(stage.Scale)
	return stage.withPos(center.sub(relatedTo.mul(newScale)), newScale)
}

// ZoomCentered zooms around the middle of the viewport.
func ZoomCentered(stage Stage, viewport Size, newScale float64) Stage {
	return ZoomAt(stage, Point{X: viewport.Width / 2, Y: viewport.Height / 2}, newScale)
}

// WheelZoom applies one pinch step at the pointer. Negative deltaY zooms in.
func WheelZoom(stage Stage, pointer Point, deltaY float64) Stage {
	if deltaY == 0 {
		return stage
	}
	stage = stage.normalized()
	newScale := stage.Scale / WheelFactor
	if deltaY < 0 {
		newScale = stage.Scale * WheelFactor
	}
	return ZoomAt(stage, pointer, clampScale(newScale))
}

// Pan moves the stage opposite to a scroll delta.
func Pan(stage Stage, deltaX, deltaY float64) Stage {
	stage.X -= deltaX
	stage.Y -= deltaY
	return stage
}

// FitGroup recentres and rescales the stage so every pin of the group fits
// inside the viewport with padding on each side. A single-point group keeps
// the current scale and is only centred.
func FitGroup(stage Stage, group Group, viewport Size, padding float64) Stage {
	width := group.Max.X - group.Min.X
	height := group.Max.Y - group.Min.Y
	availW := math.Max(viewport.Width-2*padding, 1)
	availH := math.Max(viewport.Height-2*padding, 1)

	scale := stage.Scale
	switch {
	case width > 0 && height > 0:
		scale = math.Min(availW/width, availH/height)
	case width > 0:
		scale = availW / width
	case height > 0:
		scale = availH / height
	}
	scale = clampScale(scale)

	boxCenter := group.Min.add(group.Max).div(2)
	viewCenter := Point{X: viewport.Width / 2, Y: viewport.Height / 2}
	return stage.withPos(viewCenter.sub(boxCenter.mul(scale)), scale)
}
