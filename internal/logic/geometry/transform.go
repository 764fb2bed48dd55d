package geometry

import (
	"fmt"
	"math"
)

// Rect is an axis-aligned rectangle in view coordinates (y grows down).
type Rect struct {
	Left, Top, Right, Bottom float64
}

// NewRect returns the rectangle (0, 0, w, h).
func NewRect(w, h float64) Rect {
	return Rect{Right: w, Bottom: h}
}

func (r Rect) Width() float64   { return r.Right - r.Left }
func (r Rect) Height() float64  { return r.Bottom - r.Top }
func (r Rect) CenterX() float64 { return (r.Left + r.Right) / 2 }
func (r Rect) CenterY() float64 { return (r.Top + r.Bottom) / 2 }

// Offset returns r moved by (dx, dy).
func (r Rect) Offset(dx, dy float64) Rect {
	return Rect{Left: r.Left + dx, Top: r.Top + dy, Right: r.Right + dx, Bottom: r.Bottom + dy}
}

// Matrix is a 2D affine transform:
//
//	x' = A*x + B*y + Tx
//	y' = C*x + D*y + Ty
type Matrix struct {
	A, B, C, D, Tx, Ty float64
}

// Identity returns the identity transform.
func Identity() Matrix {
	return Matrix{A: 1, D: 1}
}

// IsIdentity reports whether m is the identity transform.
func (m Matrix) IsIdentity() bool {
	return m == Identity()
}

// Map applies m to the point (x, y).
func (m Matrix) Map(x, y float64) (float64, float64) {
	return m.A*x + m.B*y + m.Tx, m.C*x + m.D*y + m.Ty
}

// post returns n applied after m.
func (m Matrix) post(n Matrix) Matrix {
	return Matrix{
		A:  n.A*m.A + n.B*m.C,
		B:  n.A*m.B + n.B*m.D,
		C:  n.C*m.A + n.D*m.C,
		D:  n.C*m.B + n.D*m.D,
		Tx: n.A*m.Tx + n.B*m.Ty + n.Tx,
		Ty: n.C*m.Tx + n.D*m.Ty + n.Ty,
	}
}

// RectToRect returns the transform that stretches src onto dst (fill).
func RectToRect(src, dst Rect) Matrix {
	sx := dst.Width() / src.Width()
	sy := dst.Height() / src.Height()
	return Matrix{
		A:  sx,
		D:  sy,
		Tx: dst.Left - src.Left*sx,
		Ty: dst.Top - src.Top*sy,
	}
}

// PostScale scales by (sx, sy) around (px, py) after m.
func (m Matrix) PostScale(sx, sy, px, py float64) Matrix {
	return m.post(Matrix{A: sx, D: sy, Tx: px - sx*px, Ty: py - sy*py})
}

// PostRotate rotates by deg degrees (clockwise on screen) around (px, py) after m.
func (m Matrix) PostRotate(deg, px, py float64) Matrix {
	sin, cos := sinCos(deg)
	r := Matrix{
		A: cos, B: -sin,
		C: sin, D: cos,
	}
	r.Tx = px - (r.A*px + r.B*py)
	r.Ty = py - (r.C*px + r.D*py)
	return m.post(r)
}

// sinCos is exact for quarter turns.
func sinCos(deg float64) (float64, float64) {
	d := math.Mod(deg, 360)
	if d < 0 {
		d += 360
	}
	switch d {
	case 0:
		return 0, 1
	case 90:
		return 1, 0
	case 180:
		return 0, -1
	case 270:
		return -1, 0
	}
	rad := d * math.Pi / 180
	return math.Sin(rad), math.Cos(rad)
}

// CSS renders m as a CSS matrix() transform.
func (m Matrix) CSS() string {
	return fmt.Sprintf("matrix(%g, %g, %g, %g, %g, %g)", m.A, m.C, m.B, m.D, m.Tx, m.Ty)
}

// PreviewTransform maps a view of the given size onto the preview buffer
// for the current display rotation. Quarter-turn rotations fill and scale
// the rotated buffer into the view. Rotation180 flips it. Otherwise the
// identity is returned.
func PreviewTransform(viewWidth, viewHeight int, preview Size, r Rotation) Matrix {
	m := Identity()
	if viewWidth <= 0 || viewHeight <= 0 || preview.Width <= 0 || preview.Height <= 0 {
		return m
	}
	viewRect := NewRect(float64(viewWidth), float64(viewHeight))
	bufferRect := NewRect(float64(preview.Height), float64(preview.Width))
	centerX := viewRect.CenterX()
	centerY := viewRect.CenterY()

	switch r {
	case Rotation90, Rotation270:
		bufferRect = bufferRect.Offset(centerX-bufferRect.CenterX(), centerY-bufferRect.CenterY())
		m = RectToRect(viewRect, bufferRect)
		scale := math.Max(
			float64(viewHeight)/float64(preview.Height),
			float64(viewWidth)/float64(preview.Width),
		)
		m = m.PostScale(scale, scale, centerX, centerY)
		m = m.PostRotate(float64(90*(int(r)-2)), centerX, centerY)
	case Rotation180:
		m = m.PostRotate(180, centerX, centerY)
	}
	return m
}
