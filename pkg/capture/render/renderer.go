// Package render は fogleman/gg を使ってシーンを PNG にエクスポートします。
//
// capture.Exporter を実装し、Rasterizer の第一の方式として使われます。
// 手描き風の揺らぎは再現せず、要素の形状・色・線種・不透明度・回転を描画します。
package render

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/fogleman/gg"

	"github.com/kazuki-osada/internal-excali-banana/pkg/domain"
	"github.com/kazuki-osada/internal-excali-banana/pkg/imgutil"
)

const (
	// DefaultPadding はエクスポート時に図形の周囲に付ける余白(px)です。
	DefaultPadding = 10.0
	// DefaultMaxDimension は出力画像の一辺の上限(px)です。
	DefaultMaxDimension = 8192
)

// SceneRenderer はシーン要素を PNG に描画する Exporter です。
type SceneRenderer struct {
	padding      float64
	maxDimension int
}

// Option は SceneRenderer の設定を変更します。
type Option func(*SceneRenderer)

// WithPadding は余白を設定します。負の値は無視されます。
func WithPadding(padding float64) Option {
	return func(r *SceneRenderer) {
		if padding >= 0 {
			r.padding = padding
		}
	}
}

// WithMaxDimension は出力画像の一辺の上限を設定します。
func WithMaxDimension(px int) Option {
	return func(r *SceneRenderer) {
		if px > 0 {
			r.maxDimension = px
		}
	}
}

// NewSceneRenderer は SceneRenderer を生成します。
func NewSceneRenderer(opts ...Option) *SceneRenderer {
	r := &SceneRenderer{
		padding:      DefaultPadding,
		maxDimension: DefaultMaxDimension,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ExportToImage は要素のバウンディングボックスに余白を加えた範囲を描画します。
// appState.ExportWithDarkMode が true の場合、要素の色を反転してから背景に合成します。
func (r *SceneRenderer) ExportToImage(ctx context.Context, elements []domain.Element, appState domain.AppState, files map[string]domain.BinaryFile) (*domain.RasterImage, error) {
	live := domain.LiveElements(elements)
	if len(live) == 0 {
		return nil, fmt.Errorf("エクスポートする要素がありません: %w", domain.ErrEmptyCanvas)
	}

	scale := appState.ExportScale
	if scale <= 0 {
		scale = 1
	}

	box := sceneBounds(live)
	width := int(math.Ceil((box.width() + 2*r.padding) * scale))
	height := int(math.Ceil((box.height() + 2*r.padding) * scale))
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	if width > r.maxDimension || height > r.maxDimension {
		return nil, fmt.Errorf("出力サイズ %dx%d が上限 %d を超えています", width, height, r.maxDimension)
	}

	dc := gg.NewContext(width, height)
	dc.Scale(scale, scale)
	dc.Translate(r.padding-box.minX, r.padding-box.minY)

	for _, el := range live {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		drawElement(ctx, dc, el, files)
	}

	layer := dc.Image()
	if appState.ExportWithDarkMode {
		layer = imgutil.Invert(layer)
	}
	bg := imgutil.ColorOr(appState.ViewBackgroundColor, imgutil.White)
	data, err := imgutil.EncodePNG(imgutil.Flatten(layer, bg))
	if err != nil {
		return nil, fmt.Errorf("PNGエンコードに失敗しました: %w", err)
	}

	slog.DebugContext(ctx, "シーンをエクスポートしました",
		"elements", len(live),
		"width", width,
		"height", height,
		"dark", appState.ExportWithDarkMode,
	)

	return &domain.RasterImage{
		Data:     data,
		MIMEType: "image/png",
		Width:    width,
		Height:   height,
	}, nil
}

type bounds struct {
	minX, minY, maxX, maxY float64
}

func (b bounds) width() float64  { return b.maxX - b.minX }
func (b bounds) height() float64 { return b.maxY - b.minY }

func (b *bounds) add(x, y float64) {
	b.minX = math.Min(b.minX, x)
	b.minY = math.Min(b.minY, y)
	b.maxX = math.Max(b.maxX, x)
	b.maxY = math.Max(b.maxY, y)
}

func sceneBounds(elements []domain.Element) bounds {
	b := bounds{
		minX: math.Inf(1), minY: math.Inf(1),
		maxX: math.Inf(-1), maxY: math.Inf(-1),
	}
	for _, el := range elements {
		for _, p := range outline(el) {
			b.add(p[0], p[1])
		}
	}
	return b
}

// outline は回転を適用した要素の外形点を絶対座標で返します。
func outline(el domain.Element) [][2]float64 {
	var pts [][2]float64
	if len(el.Points) > 0 {
		for _, p := range el.Points {
			pts = append(pts, [2]float64{el.X + p[0], el.Y + p[1]})
		}
	} else {
		x0, y0, w, h := normalizedRect(el)
		pts = [][2]float64{{x0, y0}, {x0 + w, y0}, {x0 + w, y0 + h}, {x0, y0 + h}}
	}
	if el.Angle == 0 {
		return pts
	}
	cx, cy := center(el)
	sin, cos := math.Sincos(el.Angle)
	for i, p := range pts {
		dx, dy := p[0]-cx, p[1]-cy
		pts[i] = [2]float64{cx + dx*cos - dy*sin, cy + dx*sin + dy*cos}
	}
	return pts
}

// normalizedRect は負の幅・高さを正規化した矩形を返します。
func normalizedRect(el domain.Element) (x, y, w, h float64) {
	x, y, w, h = el.X, el.Y, el.Width, el.Height
	if el.Type == "text" && (w == 0 || h == 0) {
		w, h = measureText(el)
	}
	if w < 0 {
		x, w = x+w, -w
	}
	if h < 0 {
		y, h = y+h, -h
	}
	return x, y, w, h
}

func center(el domain.Element) (float64, float64) {
	x, y, w, h := normalizedRect(el)
	return x + w/2, y + h/2
}
