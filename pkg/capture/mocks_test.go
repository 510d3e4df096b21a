package capture

import (
	"context"
	"image"
	"image/color"

	"github.com/kazuki-osada/internal-excali-banana/pkg/domain"
)

// --- Mocks ---

type mockExporter struct {
	called    int
	lastState domain.AppState
	img       *domain.RasterImage
	err       error
	panicWith any
}

func (m *mockExporter) ExportToImage(ctx context.Context, elements []domain.Element, appState domain.AppState, files map[string]domain.BinaryFile) (*domain.RasterImage, error) {
	m.called++
	m.lastState = appState
	if m.panicWith != nil {
		panic(m.panicWith)
	}
	if m.err != nil {
		return nil, m.err
	}
	if m.img != nil {
		return m.img, nil
	}
	return &domain.RasterImage{Data: []byte("png"), MIMEType: "image/png", Width: 1, Height: 1}, nil
}

type mockStrategy struct {
	name   string
	called int
	img    *domain.RasterImage
	err    error
}

func (m *mockStrategy) Name() string { return m.name }

func (m *mockStrategy) Capture(ctx context.Context, snap domain.Snapshot, opts Options) (*domain.RasterImage, error) {
	m.called++
	return m.img, m.err
}

type mockFetcher struct {
	data    []byte
	err     error
	lastURL string
}

func (m *mockFetcher) FetchBytes(ctx context.Context, url string) ([]byte, error) {
	m.lastURL = url
	return m.data, m.err
}

type failingSurface struct{ err error }

func (f failingSurface) Canvases(context.Context) ([]domain.Canvas, error) { return nil, f.err }

// --- Helpers ---

func solidImage(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func sampleSnapshot() domain.Snapshot {
	return domain.Snapshot{
		Elements: []domain.Element{{ID: "r1", Type: "rectangle", Width: 10, Height: 10, StrokeColor: "#1e1e1e"}},
		AppState: domain.InitialAppState(domain.ThemeDark),
		Files:    map[string]domain.BinaryFile{},
	}
}
