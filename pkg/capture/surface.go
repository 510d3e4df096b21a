package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/kazuki-osada/internal-excali-banana/pkg/domain"
	"github.com/kazuki-osada/internal-excali-banana/pkg/imgutil"
)

// StaticCanvasClass は描画面の静的キャンバスに付与されるクラス名です。
const StaticCanvasClass = "excalidraw__canvas"

// SurfaceStrategy はマウント済みの描画面から現在のピクセルを読み取る代替方式です。
// テーマの上書きはできず、表示されているままの色で出力されます。
type SurfaceStrategy struct{}

func NewSurfaceStrategy() *SurfaceStrategy {
	return &SurfaceStrategy{}
}

func (s *SurfaceStrategy) Name() string {
	return "surface"
}

func (s *SurfaceStrategy) Capture(ctx context.Context, snap domain.Snapshot, _ Options) (*domain.RasterImage, error) {
	if snap.Surface == nil {
		return nil, ErrStrategyUnavailable
	}
	canvases, err := snap.Surface.Canvases(ctx)
	if err != nil {
		return nil, fmt.Errorf("描画面の読み取りに失敗しました: %w", err)
	}
	canvas, ok := LocateCanvas(canvases)
	if !ok {
		return nil, ErrStrategyUnavailable
	}

	bg := imgutil.ColorOr(snap.AppState.ViewBackgroundColor, imgutil.White)
	flat := imgutil.Flatten(canvas.Image, bg)
	data, err := imgutil.EncodePNG(flat)
	if err != nil {
		return nil, fmt.Errorf("キャンバスのPNGエンコードに失敗しました: %w", err)
	}
	b := flat.Bounds()
	return &domain.RasterImage{
		Data:     data,
		MIMEType: "image/png",
		Width:    b.Dx(),
		Height:   b.Dy(),
		Strategy: s.Name(),
	}, nil
}

// LocateCanvas は静的キャンバスを優先し、無ければ最初のキャンバスを返します。
func LocateCanvas(canvases []domain.Canvas) (domain.Canvas, bool) {
	var first *domain.Canvas
	for i := range canvases {
		c := &canvases[i]
		if c.Image == nil || c.Image.Bounds().Empty() {
			continue
		}
		if c.Class == StaticCanvasClass {
			return *c, true
		}
		if first == nil {
			first = c
		}
	}
	if first == nil {
		return domain.Canvas{}, false
	}
	return *first, true
}

// StaticSurface は保持しているキャンバスをそのまま返す描画面です。
type StaticSurface struct {
	canvases []domain.Canvas
}

func NewStaticSurface(canvases ...domain.Canvas) *StaticSurface {
	return &StaticSurface{canvases: canvases}
}

func (s *StaticSurface) Canvases(_ context.Context) ([]domain.Canvas, error) {
	return append([]domain.Canvas(nil), s.canvases...), nil
}

// Fetcher は URL からバイト列を取得します。go-http-kit のクライアントが満たします。
type Fetcher interface {
	FetchBytes(ctx context.Context, url string) ([]byte, error)
}

// HTTPSurface はキャンバスのスナップショットを HTTP 経由で取得する描画面です。
type HTTPSurface struct {
	fetcher Fetcher
	url     string
	class   string
}

// NewHTTPSurface は url から PNG/JPEG を取得する描画面を作ります。
func NewHTTPSurface(fetcher Fetcher, url string) (*HTTPSurface, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if url == "" {
		return nil, fmt.Errorf("surface url is required")
	}
	return &HTTPSurface{fetcher: fetcher, url: url, class: StaticCanvasClass}, nil
}

func (s *HTTPSurface) Canvases(ctx context.Context) ([]domain.Canvas, error) {
	data, err := s.fetcher.FetchBytes(ctx, s.url)
	if err != nil {
		return nil, fmt.Errorf("キャンバスの取得に失敗しました (%s): %w", s.url, err)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("キャンバス画像のデコードに失敗しました: %w", err)
	}
	return []domain.Canvas{{Class: s.class, Image: img}}, nil
}
