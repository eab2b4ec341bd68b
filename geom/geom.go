// Package geom holds the 2D map primitives shared by the door monitor and
// the elevator navigator.
package geom

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Polygon is an ordered list of vertices; the closing edge is implicit.
type Polygon []Point

// Pose is a robot position on the map with heading in radians.
type Pose struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Orientation float64 `json:"orientation"`
}

func (p Pose) Point() Point { return Point{X: p.X, Y: p.Y} }

// Valid reports whether the polygon has enough vertices to enclose an area.
func (poly Polygon) Valid() bool { return len(poly) >= 3 }

// Contains reports whether pt lies inside poly using ray casting: a ray is
// cast towards +X and boundary crossings are counted. Edges parallel to the
// ray never straddle it and are skipped, so no division by zero happens.
// Points exactly on an edge are implementation-defined.
func (poly Polygon) Contains(pt Point) bool {
	if !poly.Valid() {
		return false
	}
	inside := false
	j := len(poly) - 1
	for i := 0; i < len(poly); i++ {
		a, b := poly[i], poly[j]
		if (a.Y > pt.Y) != (b.Y > pt.Y) {
			xCross := (b.X-a.X)*(pt.Y-a.Y)/(b.Y-a.Y) + a.X
			if pt.X < xCross {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}
