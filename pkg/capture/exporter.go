package capture

import (
	"context"
	"fmt"

	"github.com/kazuki-osada/internal-excali-banana/pkg/domain"
)

// LightBackground は生成用エクスポートで強制する背景色です。
const LightBackground = "#ffffff"

// Exporter は描画ライブラリが提供するエクスポート機能です。
// 起動時に一度だけ解決され、存在しない場合は nil のまま渡されます。
type Exporter interface {
	ExportToImage(ctx context.Context, elements []domain.Element, appState domain.AppState, files map[string]domain.BinaryFile) (*domain.RasterImage, error)
}

// ExporterStrategy は Exporter を使う第一の方式です。
type ExporterStrategy struct {
	exporter Exporter
}

// NewExporterStrategy は exporter が nil でも構いません。その場合は常に利用不可になります。
func NewExporterStrategy(exporter Exporter) *ExporterStrategy {
	return &ExporterStrategy{exporter: exporter}
}

func (s *ExporterStrategy) Name() string {
	return "exporter"
}

// Available は Exporter が解決済みかどうかを返します。
func (s *ExporterStrategy) Available() bool {
	return s.exporter != nil
}

func (s *ExporterStrategy) Capture(ctx context.Context, snap domain.Snapshot, opts Options) (img *domain.RasterImage, err error) {
	if s.exporter == nil {
		return nil, ErrStrategyUnavailable
	}
	defer func() {
		if r := recover(); r != nil {
			img, err = nil, fmt.Errorf("exporter panicked: %v", r)
		}
	}()

	state := snap.AppState
	if !opts.KeepTheme {
		state = lightOverride(state)
	} else {
		state.ExportWithDarkMode = state.Theme == domain.ThemeDark
	}
	return s.exporter.ExportToImage(ctx, snap.Elements, state, snap.Files)
}

// lightOverride は UI のテーマに関係なく白背景で出力させます。
func lightOverride(state domain.AppState) domain.AppState {
	state.ExportWithDarkMode = false
	state.ViewBackgroundColor = LightBackground
	return state
}
