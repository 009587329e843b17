package pins

import (
	"math"
	"reflect"
	"testing"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestPinPosition(t *testing.T) {
	got := PinPosition(Stage{X: 10, Y: 20, Scale: 2}, Point{X: 100, Y: 50}, Point{X: 5, Y: -5})
	if got != (Point{X: 220, Y: 110}) {
		t.Fatalf("PinPosition() = %+v", got)
	}
}

func TestClusterMergesNearbyPins(t *testing.T) {
	pins := []Pin{
		{ThreadID: "a", ElementPos: Point{X: 0, Y: 0}},
		{ThreadID: "far", ElementPos: Point{X: 500, Y: 500}},
		{ThreadID: "b", ElementPos: Point{X: 30, Y: 0}},
		{ThreadID: "c", ElementPos: Point{X: 0, Y: 30}},
	}
	groups := Cluster(Stage{Scale: 1}, pins, 40)
	if len(groups) != 2 {
		t.Fatalf("expected two groups, got %+v", groups)
	}
	if !reflect.DeepEqual(groups[0].ThreadIDs, []string{"a", "b", "c"}) {
		t.Fatalf("unexpected first group: %+v", groups[0])
	}
	if !reflect.DeepEqual(groups[1].ThreadIDs, []string{"far"}) {
		t.Fatalf("unexpected second group: %+v", groups[1])
	}
	if !approx(groups[0].Center.X, 10) || !approx(groups[0].Center.Y, 10) {
		t.Fatalf("unexpected centroid %+v", groups[0].Center)
	}
}

func TestClusterDependsOnZoom(t *testing.T) {
	pins := []Pin{
		{ThreadID: "a", ElementPos: Point{X: 0, Y: 0}},
		{ThreadID: "b", ElementPos: Point{X: 30, Y: 0}},
	}
	if got := Cluster(Stage{Scale: 1}, pins, 40); len(got) != 1 {
		t.Fatalf("expected merged at scale 1, got %d groups", len(got))
	}
	if got := Cluster(Stage{Scale: 2}, pins, 40); len(got) != 2 {
		t.Fatalf("expected split at scale 2, got %d groups", len(got))
	}
}

func TestClusterEmpty(t *testing.T) {
	if got := Cluster(Stage{Scale: 1}, nil, 0); len(got) != 0 {
		t.Fatalf("expected no groups, got %+v", got)
	}
}

func TestZoomAtKeepsCenterFixed(t *testing.T) {
	stage := Stage{X: 40, Y: -20, Scale: 1.5}
	center := Point{X: 300, Y: 200}
	canvasUnderCenter := center.sub(stage.pos()).div(stage.Scale)

	zoomed := ZoomAt(stage, center, 3)
	after := zoomed.pos().add(canvasUnderCenter.mul(zoomed.Scale))
	if !approx(after.X, center.X) || !approx(after.Y, center.Y) {
		t.Fatalf("center drifted to %+v", after)
	}
}

func TestWheelZoomDirectionAndClamp(t *testing.T) {
	stage := Stage{Scale: 1}
	in := WheelZoom(stage, Point{}, -10)
	if !approx(in.Scale, 1.03) {
		t.Fatalf("expected zoom in to 1.03, got %v", in.Scale)
	}
	out := WheelZoom(stage, Point{}, 10)
	if !approx(out.Scale, 1/1.03) {
		t.Fatalf("expected zoom out, got %v", out.Scale)
	}
	maxed := WheelZoom(Stage{Scale: MaxScale}, Point{}, -1)
	if maxed.Scale != MaxScale {
		t.Fatalf("expected clamp at max, got %v", maxed.Scale)
	}
	if same := WheelZoom(stage, Point{}, 0); same != stage {
		t.Fatalf("expected no-op for zero delta, got %+v", same)
	}
}

func TestPan(t *testing.T) {
	if got := Pan(Stage{X: 10, Y: 10, Scale: 1}, 5, -5); got != (Stage{X: 5, Y: 15, Scale: 1}) {
		t.Fatalf("Pan() = %+v", got)
	}
}

func TestFitGroupCentresMembers(t *testing.T) {
	group := Group{Min: Point{X: 100, Y: 100}, Max: Point{X: 300, Y: 200}}
	viewport := Size{Width: 800, Height: 600}
	stage := FitGroup(Stage{Scale: 1}, group, viewport, 50)

	if !approx(stage.Scale, 3.5) {
		t.Fatalf("expected scale 3.5, got %v", stage.Scale)
	}
	for _, p := range []Point{group.Min, group.Max} {
		screen := PinPosition(stage, p, Point{})
		if screen.X < 50-1e-9 || screen.X > 750+1e-9 || screen.Y < 50-1e-9 || screen.Y > 550+1e-9 {
			t.Fatalf("pin %+v outside padded viewport at %+v", p, screen)
		}
	}
	mid := PinPosition(stage, Point{X: 200, Y: 150}, Point{})
	if !approx(mid.X, 400) || !approx(mid.Y, 300) {
		t.Fatalf("expected group centre in viewport centre, got %+v", mid)
	}
}

func TestFitGroupSinglePointKeepsScale(t *testing.T) {
	group := Group{Min: Point{X: 10, Y: 10}, Max: Point{X: 10, Y: 10}}
	stage := FitGroup(Stage{Scale: 2}, group, Size{Width: 200, Height: 100}, 10)
	if stage.Scale != 2 || stage.X != 80 || stage.Y != 30 {
		t.Fatalf("unexpected stage %+v", stage)
	}
}

func TestClusterTreatsUnsetScaleAsOne(t *testing.T) {
	pins := []Pin{
		{ThreadID: "a", ElementPos: Point{X: 0, Y: 0}},
		{ThreadID: "b", ElementPos: Point{X: 7000, Y: 0}},
	}
	if got := Cluster(Stage{}, pins, 0); len(got) != 2 {
		t.Fatalf("expected distant pins to stay apart, got %+v", got)
	}
}

func TestZoomAtClampsScale(t *testing.T) {
	tests := []struct {
		name  string
		scale float64
		want  float64
	}{
		{name: "zero", scale: 0, want: MinScale},
		{name: "negative", scale: -3, want: MinScale},
		{name: "too large", scale: 50, want: MaxScale},
		{name: "in range", scale: 2, want: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ZoomAt(Stage{Scale: 1}, Point{X: 100, Y: 100}, tt.scale)
			if got.Scale != tt.want {
				t.Fatalf("ZoomAt(%v).Scale = %v, want %v", tt.scale, got.Scale, tt.want)
			}
		})
	}
	if got := ZoomCentered(Stage{}, Size{Width: 200, Height: 100}, 50); got.Scale != MaxScale {
		t.Fatalf("ZoomCentered() scale = %v, want %v", got.Scale, MaxScale)
	}
}
