package server

import (
	"context"
	"image"
	"image/color"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kazuki-osada/internal-excali-banana/internal/events"
	"github.com/kazuki-osada/internal-excali-banana/pkg/datauri"
	"github.com/kazuki-osada/internal-excali-banana/pkg/domain"
	"github.com/kazuki-osada/internal-excali-banana/pkg/imgutil"
)

type mockClient struct {
	mu       sync.Mutex
	requests []domain.GenerationRequest
	outcome  domain.Outcome
}

func (m *mockClient) Generate(_ context.Context, req domain.GenerationRequest) domain.Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	return m.outcome
}

func (m *mockClient) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.GenerationEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.GenerationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) all() []events.GenerationEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.GenerationEvent(nil), p.events...)
}

func solidImage(w, h int, c color.Color) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// generatedImage は生成サービスが返す想定の data URI です。
func generatedImage(t *testing.T) string {
	t.Helper()
	data, err := imgutil.EncodePNG(solidImage(4, 4, color.NRGBA{R: 255, G: 200, A: 255}))
	require.NoError(t, err)
	uri, err := datauri.Encode(context.Background(), &domain.RasterImage{Data: data, MIMEType: "image/png"})
	require.NoError(t, err)
	return uri.String()
}

const rectangleScene = `{
  "type": "excalidraw",
  "version": 2,
  "elements": [
    {"id": "r1", "type": "rectangle", "x": 0, "y": 0, "width": 100, "height": 50,
     "strokeColor": "#1e1e1e", "backgroundColor": "transparent", "strokeWidth": 2, "opacity": 100, "isDeleted": false}
  ],
  "appState": {"viewBackgroundColor": "#ffffff"}
}`
