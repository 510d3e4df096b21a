package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kazuki-osada/internal-excali-banana/pkg/domain"
)

// CaptureFailedReason は全ての Strategy が失敗した場合の理由です。
const CaptureFailedReason = "Failed to capture drawing"

// Rasterizer は Strategy を順に試してスナップショットをラスター化します。
type Rasterizer struct {
	strategies []Strategy
}

// NewRasterizer は nil を除いた Strategy の列から Rasterizer を作ります。
func NewRasterizer(strategies ...Strategy) (*Rasterizer, error) {
	r := &Rasterizer{}
	for _, s := range strategies {
		if s != nil {
			r.strategies = append(r.strategies, s)
		}
	}
	if len(r.strategies) == 0 {
		return nil, fmt.Errorf("at least one capture strategy is required")
	}
	return r, nil
}

// Strategies は試行順の Strategy 名を返します。
func (r *Rasterizer) Strategies() []string {
	names := make([]string, 0, len(r.strategies))
	for _, s := range r.strategies {
		names = append(names, s.Name())
	}
	return names
}

// Rasterize は要素が無ければ Strategy を試す前に ErrEmptyCanvas を返します。
func (r *Rasterizer) Rasterize(ctx context.Context, snap domain.Snapshot, opts Options) (*domain.RasterImage, error) {
	if len(snap.Elements) == 0 {
		return nil, domain.NewFailure(domain.KindEmptyCanvas, "nothing to capture", domain.ErrEmptyCanvas)
	}

	var attempts []error
	for _, s := range r.strategies {
		img, err := s.Capture(ctx, snap, opts)
		if err == nil && img != nil && len(img.Data) > 0 {
			if img.Strategy == "" {
				img.Strategy = s.Name()
			}
			slog.InfoContext(ctx, "描画をキャプチャしました", "strategy", s.Name(), "bytes", len(img.Data))
			return img, nil
		}
		if err == nil {
			err = errors.New("empty image")
		}
		if errors.Is(err, ErrStrategyUnavailable) {
			slog.DebugContext(ctx, "キャプチャ方式が利用できません。次を試します", "strategy", s.Name())
		} else {
			slog.WarnContext(ctx, "キャプチャに失敗しました。次の方式を試します", "strategy", s.Name(), "error", err)
		}
		attempts = append(attempts, fmt.Errorf("%s: %w", s.Name(), err))
	}

	return nil, domain.NewFailure(domain.KindCapture, CaptureFailedReason, errors.Join(attempts...))
}
