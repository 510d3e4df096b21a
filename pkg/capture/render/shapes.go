package render

import (
	"bytes"
	"context"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"math"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"

	"github.com/kazuki-osada/internal-excali-banana/pkg/datauri"
	"github.com/kazuki-osada/internal-excali-banana/pkg/domain"
)

const (
	baseFontSize   = 13.0
	arrowheadSize  = 20.0
	arrowheadAngle = math.Pi / 7
	hachureGap     = 8.0
)

var placeholderFill = color.NRGBA{R: 0xe9, G: 0xec, B: 0xef, A: 0xff}

func drawElement(ctx context.Context, dc *gg.Context, el domain.Element, files map[string]domain.BinaryFile) {
	dc.Push()
	defer dc.Pop()

	if el.Angle != 0 {
		cx, cy := center(el)
		dc.RotateAbout(el.Angle, cx, cy)
	}
	dc.SetLineWidth(strokeWidth(el))
	dc.SetLineCapRound()
	dc.SetLineJoinRound()
	if dash := dashPattern(el); dash != nil {
		dc.SetDash(dash...)
	}

	switch el.Type {
	case "rectangle":
		x, y, w, h := normalizedRect(el)
		fillAndStroke(dc, el, func() { dc.DrawRectangle(x, y, w, h) })
	case "ellipse":
		x, y, w, h := normalizedRect(el)
		fillAndStroke(dc, el, func() { dc.DrawEllipse(x+w/2, y+h/2, w/2, h/2) })
	case "diamond":
		x, y, w, h := normalizedRect(el)
		fillAndStroke(dc, el, func() {
			dc.MoveTo(x+w/2, y)
			dc.LineTo(x+w, y+h/2)
			dc.LineTo(x+w/2, y+h)
			dc.LineTo(x, y+h/2)
			dc.ClosePath()
		})
	case "line", "arrow":
		drawLinear(dc, el)
	case "freedraw":
		drawFreedraw(dc, el)
	case "text":
		drawText(dc, el)
	case "image":
		drawImage(ctx, dc, el, files)
	default:
		slog.DebugContext(ctx, "未対応の要素タイプをスキップします", "type", el.Type, "id", el.ID)
	}
}

// fillAndStroke は shape が作るパスを塗りと線で描画します。
func fillAndStroke(dc *gg.Context, el domain.Element, shape func()) {
	if c, ok := fillPaint(el); ok {
		shape()
		switch el.FillStyle {
		case "hachure", "cross-hatch", "zigzag":
			dc.Clip()
			hatch(dc, el, c)
			dc.ResetClip()
		default:
			dc.SetColor(c)
			dc.Fill()
		}
	}
	if c, ok := strokePaint(el); ok {
		shape()
		dc.SetColor(c)
		dc.Stroke()
	}
}

// hatch はクリップ済みの領域に斜線を引きます。
func hatch(dc *gg.Context, el domain.Element, c color.NRGBA) {
	x, y, w, h := normalizedRect(el)
	dc.Push()
	defer dc.Pop()
	dc.SetDash()
	dc.SetColor(c)
	dc.SetLineWidth(math.Max(1, strokeWidth(el)/2))

	span := w + h
	for d := -h; d <= span; d += hachureGap {
		dc.DrawLine(x+d, y, x+d+h, y+h)
		if el.FillStyle == "cross-hatch" {
			dc.DrawLine(x+d+h, y, x+d, y+h)
		}
	}
	dc.Stroke()
}

func drawLinear(dc *gg.Context, el domain.Element) {
	if len(el.Points) < 2 {
		return
	}
	for i, p := range el.Points {
		if i == 0 {
			dc.MoveTo(el.X+p[0], el.Y+p[1])
			continue
		}
		dc.LineTo(el.X+p[0], el.Y+p[1])
	}
	first, last := el.Points[0], el.Points[len(el.Points)-1]
	closed := len(el.Points) > 2 && first == last
	if closed {
		dc.ClosePath()
		if c, ok := fillPaint(el); ok {
			dc.SetColor(c)
			dc.FillPreserve()
		}
	}

	c, ok := strokePaint(el)
	if !ok {
		dc.ClearPath()
		return
	}
	dc.SetColor(c)
	dc.Stroke()

	if el.Type == "arrow" {
		prev := el.Points[len(el.Points)-2]
		drawArrowhead(dc, el.X+prev[0], el.Y+prev[1], el.X+last[0], el.Y+last[1])
	}
}

// drawArrowhead は (x1,y1) から (x2,y2) へ向かう線分の終端に矢じりを描きます。
func drawArrowhead(dc *gg.Context, x1, y1, x2, y2 float64) {
	length := math.Hypot(x2-x1, y2-y1)
	if length == 0 {
		return
	}
	size := math.Min(arrowheadSize, length/2)
	theta := math.Atan2(y2-y1, x2-x1)

	dc.SetDash()
	for _, side := range []float64{-1, 1} {
		a := theta + math.Pi - side*arrowheadAngle
		dc.MoveTo(x2, y2)
		dc.LineTo(x2+size*math.Cos(a), y2+size*math.Sin(a))
	}
	dc.Stroke()
}

func drawFreedraw(dc *gg.Context, el domain.Element) {
	c, ok := strokePaint(el)
	if !ok || len(el.Points) == 0 {
		return
	}
	dc.SetColor(c)
	dc.SetDash()
	if len(el.Points) == 1 {
		p := el.Points[0]
		dc.DrawCircle(el.X+p[0], el.Y+p[1], strokeWidth(el)/2)
		dc.Fill()
		return
	}
	for i, p := range el.Points {
		if i == 0 {
			dc.MoveTo(el.X+p[0], el.Y+p[1])
			continue
		}
		dc.LineTo(el.X+p[0], el.Y+p[1])
	}
	dc.Stroke()
}

func fontSize(el domain.Element) float64 {
	if el.FontSize <= 0 {
		return 20
	}
	return el.FontSize
}

// measureText は幅・高さを持たないテキスト要素の大きさを見積もります。
func measureText(el domain.Element) (float64, float64) {
	lines := strings.Split(el.Text, "\n")
	longest := 0
	for _, l := range lines {
		if n := len([]rune(l)); n > longest {
			longest = n
		}
	}
	size := fontSize(el)
	return float64(longest) * size * 0.6, float64(len(lines)) * size * 1.25
}

// drawText は組み込みのビットマップフォントをフォントサイズに合わせて拡大して描画します。
func drawText(dc *gg.Context, el domain.Element) {
	c, ok := strokePaint(el)
	if !ok || el.Text == "" {
		return
	}
	k := fontSize(el) / baseFontSize
	dc.SetColor(c)
	dc.Translate(el.X, el.Y)
	dc.Scale(k, k)
	for i, line := range strings.Split(el.Text, "\n") {
		dc.DrawString(line, 0, float64(i+1)*baseFontSize*1.25-3)
	}
}

// drawImage は埋め込みファイルを要素の大きさに合わせて描画します。
// ファイルが見つからない、または読めない場合はプレースホルダーを描きます。
func drawImage(ctx context.Context, dc *gg.Context, el domain.Element, files map[string]domain.BinaryFile) {
	x, y, w, h := normalizedRect(el)
	img, err := loadFile(files, el.FileID)
	if err != nil || w < 1 || h < 1 {
		slog.WarnContext(ctx, "画像要素を描画できないためプレースホルダーを使います", "id", el.ID, "fileId", el.FileID, "error", err)
		dc.SetDash()
		dc.DrawRectangle(x, y, w, h)
		dc.SetColor(placeholderFill)
		dc.FillPreserve()
		dc.SetColor(color.NRGBA{R: 0x86, G: 0x8e, B: 0x96, A: 0xff})
		dc.Stroke()
		return
	}
	resized := imaging.Resize(img, int(math.Round(w)), int(math.Round(h)), imaging.Lanczos)
	dc.DrawImage(resized, int(math.Round(x)), int(math.Round(y)))
}

func loadFile(files map[string]domain.BinaryFile, id string) (image.Image, error) {
	f, ok := files[id]
	if !ok {
		return nil, errFileNotFound
	}
	_, data, err := datauri.Decode(f.DataURL)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	return img, err
}
