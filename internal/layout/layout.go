// Package layout places capability nodes on the canvas without overlap.
//
// Candidate slots form a grid anchored at the owning feature's centroid with
// a step of node size plus padding. The search walks square rings of growing
// radius around the anchor and returns the first slot whose padded box does
// not intersect any existing node. When every ring up to MaxRings is taken
// the node goes straight below all existing nodes, which is always free.
package layout

// Point is a canvas coordinate. Node positions are top-left corners.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Rect is an axis-aligned node box with its top-left corner at (X, Y).
type Rect struct {
	X, Y, W, H float64
}

// Config holds the node geometry used for placement.
type Config struct {
	NodeWidth  float64
	NodeHeight float64
	Padding    float64
	MaxRings   int
}

// DefaultConfig matches the canvas node card size.
func DefaultConfig() Config {
	return Config{
		NodeWidth:  288,
		NodeHeight: 160,
		Padding:    24,
		MaxRings:   8,
	}
}

// Engine computes non-overlapping positions. It holds no mutable state and is
// safe for concurrent use.
type Engine struct {
	cfg Config
}

// New returns an Engine for cfg. Zero fields fall back to [DefaultConfig].
func New(cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.NodeWidth <= 0 {
		cfg.NodeWidth = def.NodeWidth
	}
	if cfg.NodeHeight <= 0 {
		cfg.NodeHeight = def.NodeHeight
	}
	if cfg.Padding < 0 {
		cfg.Padding = 0
	}
	if cfg.MaxRings < 0 {
		cfg.MaxRings = 0
	}
	return &Engine{cfg: cfg}
}

// Config returns the engine's effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Size returns the node width and height.
func (e *Engine) Size() (float64, float64) { return e.cfg.NodeWidth, e.cfg.NodeHeight }

// Place returns a position near centroid whose padded box overlaps none of
// existing.
func (e *Engine) Place(existing []Rect, centroid Point) Point {
	w, h, pad := e.cfg.NodeWidth, e.cfg.NodeHeight, e.cfg.Padding
	stepX, stepY := w+pad, h+pad

	for r := 0; r <= e.cfg.MaxRings; r++ {
		for j := -r; j <= r; j++ {
			for i := -r; i <= r; i++ {
				if max(abs(i), abs(j)) != r {
					continue
				}
				cand := Rect{
					X: centroid.X + float64(i)*stepX,
					Y: centroid.Y + float64(j)*stepY,
					W: w,
					H: h,
				}
				if !collides(cand, existing, pad) {
					return Point{X: cand.X, Y: cand.Y}
				}
			}
		}
	}
	return e.fallback(existing, centroid)
}

// PlaceBatch places n nodes around the same centroid. Each placed node is an
// obstacle for the ones after it.
func (e *Engine) PlaceBatch(existing []Rect, centroid Point, n int) []Point {
	if n <= 0 {
		return nil
	}
	obstacles := make([]Rect, len(existing), len(existing)+n)
	copy(obstacles, existing)

	out := make([]Point, 0, n)
	for range n {
		p := e.Place(obstacles, centroid)
		out = append(out, p)
		obstacles = append(obstacles, Rect{X: p.X, Y: p.Y, W: e.cfg.NodeWidth, H: e.cfg.NodeHeight})
	}
	return out
}

func (e *Engine) fallback(existing []Rect, centroid Point) Point {
	stepY := e.cfg.NodeHeight + e.cfg.Padding
	y := centroid.Y + float64(e.cfg.MaxRings+1)*stepY
	for _, r := range existing {
		if bottom := r.Y + r.H + e.cfg.Padding; bottom > y {
			y = bottom
		}
	}
	return Point{X: centroid.X, Y: y}
}

// collides reports whether cand, grown by pad, intersects any rect. Boxes
// exactly pad apart do not collide.
func collides(cand Rect, existing []Rect, pad float64) bool {
	for _, r := range existing {
		if cand.X < r.X+r.W+pad && r.X < cand.X+cand.W+pad &&
			cand.Y < r.Y+r.H+pad && r.Y < cand.Y+cand.H+pad {
			return true
		}
	}
	return false
}

// Overlaps reports whether a and b intersect once separated by less than pad.
func Overlaps(a, b Rect, pad float64) bool {
	return collides(a, []Rect{b}, pad)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
