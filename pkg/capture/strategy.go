// Package capture はベクター描画をラスター画像に変換します。
//
// 変換は順序付きの Strategy の列として表現され、先頭から順に試されます。
// 各 Strategy は結果を返すか、利用不可 (ErrStrategyUnavailable) もしくは
// 失敗を返し、その場合は次の Strategy にフォールバックします。
package capture

import (
	"context"
	"errors"

	"github.com/kazuki-osada/internal-excali-banana/pkg/domain"
)

// ErrStrategyUnavailable は Strategy が今回のキャプチャに使えないことを示します。
var ErrStrategyUnavailable = errors.New("capture strategy unavailable")

// Options はキャプチャ1回分の指定です。
type Options struct {
	// KeepTheme が true の場合、現在のテーマのままエクスポートします。
	// false の場合は白背景・ライトモードに強制します。
	KeepTheme bool
}

// Strategy はスナップショットからピクセル画像を得る1つの方法です。
type Strategy interface {
	Name() string
	Capture(ctx context.Context, snap domain.Snapshot, opts Options) (*domain.RasterImage, error)
}
