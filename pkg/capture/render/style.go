package render

import (
	"errors"
	"image/color"

	"github.com/kazuki-osada/internal-excali-banana/pkg/domain"
	"github.com/kazuki-osada/internal-excali-banana/pkg/imgutil"
)

const defaultStrokeColor = "#1e1e1e"

var errFileNotFound = errors.New("file not found")

// opacity は 0-100 の不透明度を 0-1 に変換します。未設定(0以下)は不透明として扱います。
func opacity(el domain.Element) float64 {
	if el.Opacity <= 0 || el.Opacity >= 100 {
		return 1
	}
	return el.Opacity / 100
}

// paint は色文字列を不透明度付きの色に変換します。透明なら ok=false です。
func paint(s string, alpha float64) (color.NRGBA, bool) {
	c, err := imgutil.ParseColor(s)
	if err != nil || c.A == 0 {
		return color.NRGBA{}, false
	}
	c.A = uint8(float64(c.A)*alpha + 0.5)
	return c, c.A > 0
}

func strokePaint(el domain.Element) (color.NRGBA, bool) {
	s := el.StrokeColor
	if s == "" {
		s = defaultStrokeColor
	}
	return paint(s, opacity(el))
}

func fillPaint(el domain.Element) (color.NRGBA, bool) {
	if el.BackgroundColor == "" {
		return color.NRGBA{}, false
	}
	return paint(el.BackgroundColor, opacity(el))
}

func strokeWidth(el domain.Element) float64 {
	if el.StrokeWidth <= 0 {
		return 1
	}
	return el.StrokeWidth
}

// dashPattern は線種に対応する破線パターンを返します。実線は nil です。
func dashPattern(el domain.Element) []float64 {
	sw := strokeWidth(el)
	switch el.StrokeStyle {
	case "dashed":
		return []float64{8, 8 + sw}
	case "dotted":
		return []float64{1.5, 6 + sw}
	}
	return nil
}
