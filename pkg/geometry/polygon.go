// Package geometry provides immutable polygon and line shapes with O(1)
// spatial predicates used by zone analytics.
package geometry

import "fmt"

// Point is an integer screen-space coordinate.
type Point struct {
	X, Y int
}

// Resolution is a video frame's (width, height) in pixels.
type Resolution struct {
	Width, Height int
}

// PolygonZone is an immutable polygon with a rasterized interior mask so
// Contains is O(1). Construct with NewPolygonZone; the mask is never
// mutated afterwards.
type PolygonZone struct {
	vertices   []Point
	resolution Resolution
	mask       []bool // row-major, len == Width*Height
}

// NewPolygonZone rasterizes vertices into a boolean mask using an even-odd
// scanline fill. Vertices on the mask boundary are considered inside.
func NewPolygonZone(vertices []Point, resolution Resolution) (*PolygonZone, error) {
	if len(vertices) < 3 {
		return nil, fmt.Errorf("geometry: polygon needs at least 3 vertices, got %d", len(vertices))
	}
	if resolution.Width <= 0 || resolution.Height <= 0 {
		return nil, fmt.Errorf("geometry: frame resolution must be positive, got %dx%d", resolution.Width, resolution.Height)
	}

	verts := make([]Point, len(vertices))
	copy(verts, vertices)

	z := &PolygonZone{
		vertices:   verts,
		resolution: resolution,
		mask:       make([]bool, resolution.Width*resolution.Height),
	}
	z.rasterize()
	return z, nil
}

// rasterize fills z.mask using an even-odd scanline algorithm.
func (z *PolygonZone) rasterize() {
	h := z.resolution.Height
	w := z.resolution.Width
	n := len(z.vertices)

	for y := 0; y < h; y++ {
		var xs []int
		yf := float64(y) + 0.5

		for i := 0; i < n; i++ {
			p1 := z.vertices[i]
			p2 := z.vertices[(i+1)%n]

			y1, y2 := float64(p1.Y), float64(p2.Y)
			if y1 == y2 {
				continue
			}
			if (yf < y1) == (yf < y2) {
				continue
			}

			t := (yf - y1) / (y2 - y1)
			x := float64(p1.X) + t*(float64(p2.X)-float64(p1.X))
			xs = append(xs, int(x+0.5))
		}

		if len(xs) < 2 {
			continue
		}
		insertionSort(xs)

		for i := 0; i+1 < len(xs); i += 2 {
			x0, x1 := xs[i], xs[i+1]
			if x0 < 0 {
				x0 = 0
			}
			if x1 > w-1 {
				x1 = w - 1
			}
			for x := x0; x <= x1; x++ {
				z.mask[y*w+x] = true
			}
		}
	}

	// Boundary vertices are always inside, regardless of scanline rounding.
	for _, v := range z.vertices {
		if v.X >= 0 && v.X < w && v.Y >= 0 && v.Y < h {
			z.mask[v.Y*w+v.X] = true
		}
	}
}

func insertionSort(xs []int) {
	for i := 1; i < len(xs); i++ {
		v := xs[i]
		j := i - 1
		for j >= 0 && xs[j] > v {
			xs[j+1] = xs[j]
			j--
		}
		xs[j+1] = v
	}
}

// Contains reports whether (x, y) falls inside the rasterized mask.
// Points outside the frame bounds always return false.
func (z *PolygonZone) Contains(x, y int) bool {
	if x < 0 || x >= z.resolution.Width || y < 0 || y >= z.resolution.Height {
		return false
	}
	return z.mask[y*z.resolution.Width+x]
}

// Vertices returns a copy of the zone's defining vertices.
func (z *PolygonZone) Vertices() []Point {
	out := make([]Point, len(z.vertices))
	copy(out, z.vertices)
	return out
}

// Resolution returns the frame resolution this zone was rasterized against.
func (z *PolygonZone) Resolution() Resolution {
	return z.resolution
}

// Popcount returns the number of set bits in mask.
func Popcount(mask []bool) int {
	n := 0
	for _, b := range mask {
		if b {
			n++
		}
	}
	return n
}
