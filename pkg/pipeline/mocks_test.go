package pipeline

import (
	"context"
	"sync"

	"github.com/kazuki-osada/internal-excali-banana/pkg/capture"
	"github.com/kazuki-osada/internal-excali-banana/pkg/domain"
)

// --- Mocks ---

type mockRasterizer struct {
	called   int
	lastOpts capture.Options
	lastSnap domain.Snapshot
	img      *domain.RasterImage
	err      error
}

func (m *mockRasterizer) Rasterize(ctx context.Context, snap domain.Snapshot, opts capture.Options) (*domain.RasterImage, error) {
	m.called++
	m.lastSnap = snap
	m.lastOpts = opts
	if m.err != nil {
		return nil, m.err
	}
	if m.img != nil {
		return m.img, nil
	}
	return &domain.RasterImage{Data: []byte("\x89PNG"), MIMEType: "image/png", Strategy: "mock"}, nil
}

type mockClient struct {
	called  int
	lastReq domain.GenerationRequest
	outcome domain.Outcome
}

func (m *mockClient) Generate(ctx context.Context, req domain.GenerationRequest) domain.Outcome {
	m.called++
	m.lastReq = req
	return m.outcome
}

type mockExporter struct {
	err error
}

func (m *mockExporter) ExportToImage(ctx context.Context, elements []domain.Element, appState domain.AppState, files map[string]domain.BinaryFile) (*domain.RasterImage, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &domain.RasterImage{Data: []byte("\x89PNG\r\n\x1a\nexported"), MIMEType: "image/png", Width: 10, Height: 10}, nil
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (r *recordingNotifier) Notify(ctx context.Context, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
}

type fakeBoard struct {
	elements []domain.Element
	appState domain.AppState
	resets   int
}

func (b *fakeBoard) Elements() []domain.Element {
	return b.elements
}

func (b *fakeBoard) AppState() domain.AppState {
	return b.appState
}

func (b *fakeBoard) Files() map[string]domain.BinaryFile {
	return nil
}

func (b *fakeBoard) Reset() {
	b.resets++
	b.elements = nil
}

func threeElements() []domain.Element {
	return []domain.Element{
		{ID: "1", Type: "rectangle", Width: 10, Height: 10},
		{ID: "2", Type: "ellipse", X: 20, Width: 10, Height: 10},
		{ID: "3", Type: "arrow", Points: [][2]float64{{0, 0}, {30, 30}}},
	}
}
