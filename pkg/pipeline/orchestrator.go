// Package pipeline は描画のキャプチャから画像生成までの1回の試行を進めます。
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/kazuki-osada/internal-excali-banana/pkg/capture"
	"github.com/kazuki-osada/internal-excali-banana/pkg/datauri"
	"github.com/kazuki-osada/internal-excali-banana/pkg/domain"
	"github.com/kazuki-osada/internal-excali-banana/pkg/generator"
)

// Rasterizer はスナップショットを画像に変換します。
type Rasterizer interface {
	Rasterize(ctx context.Context, snap domain.Snapshot, opts capture.Options) (*domain.RasterImage, error)
}

// Encoder はラスター画像を data URI に変換します。
type Encoder interface {
	Encode(ctx context.Context, img *domain.RasterImage) (domain.EncodedImage, error)
}

// EncoderFunc は関数を Encoder として使うためのアダプターです。
type EncoderFunc func(ctx context.Context, img *domain.RasterImage) (domain.EncodedImage, error)

func (f EncoderFunc) Encode(ctx context.Context, img *domain.RasterImage) (domain.EncodedImage, error) {
	return f(ctx, img)
}

// Notifier は失敗ではない案内をユーザーに伝えます。
type Notifier interface {
	Notify(ctx context.Context, message string)
}

// NotifierFunc は関数を Notifier として使うためのアダプターです。
type NotifierFunc func(ctx context.Context, message string)

func (f NotifierFunc) Notify(ctx context.Context, message string) {
	f(ctx, message)
}

// StateHook は状態が遷移するたびに呼ばれます。
type StateHook func(State)

// Orchestrator はキャプチャ、エンコード、生成を順に実行します。
// 同時実行の排他は呼び出し側の責務です。
type Orchestrator struct {
	rasterizer Rasterizer
	encoder    Encoder
	client     generator.Client
	notifier   Notifier
	onState    StateHook
	state      atomic.Int32
}

// Option は Orchestrator の設定を変更します。
type Option func(*Orchestrator)

// WithEncoder はエンコーダーを差し替えます。既定は datauri.Encode です。
func WithEncoder(e Encoder) Option {
	return func(o *Orchestrator) {
		if e != nil {
			o.encoder = e
		}
	}
}

// WithNotifier は案内の通知先を設定します。既定はログ出力のみです。
func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) {
		if n != nil {
			o.notifier = n
		}
	}
}

// WithStateHook は状態遷移の通知先を設定します。
func WithStateHook(h StateHook) Option {
	return func(o *Orchestrator) { o.onState = h }
}

// New は Orchestrator を生成します。
func New(rasterizer Rasterizer, client generator.Client, opts ...Option) (*Orchestrator, error) {
	if rasterizer == nil {
		return nil, fmt.Errorf("rasterizer is required")
	}
	if client == nil {
		return nil, fmt.Errorf("client is required")
	}
	o := &Orchestrator{
		rasterizer: rasterizer,
		client:     client,
		encoder:    EncoderFunc(datauri.Encode),
		notifier: NotifierFunc(func(ctx context.Context, message string) {
			slog.InfoContext(ctx, message)
		}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// State は現在の状態を返します。
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

func (o *Orchestrator) transition(s State) {
	o.state.Store(int32(s))
	if o.onState != nil {
		o.onState(s)
	}
}

// Run は board の描画から画像を生成します。
// 描画が空の場合は案内を通知して ("", nil) を返し、エンコーダーとクライアントは呼びません。
// 失敗は *Error として返り、メッセージはそのまま表示できます。
func (o *Orchestrator) Run(ctx context.Context, board domain.Board, customPrompt string) (image string, err error) {
	if len(domain.LiveElements(board.Elements())) == 0 {
		o.notifier.Notify(ctx, EmptyCanvasNotice)
		return "", nil
	}

	defer func() {
		if err != nil {
			o.transition(StateFailed)
			slog.WarnContext(ctx, "画像生成に失敗しました", "kind", KindOf(err).String(), "error", err)
		} else {
			o.transition(StateSucceeded)
		}
		o.transition(StateIdle)
	}()

	o.transition(StateCapturing)
	snap := domain.TakeSnapshot(board)
	raster, err := o.rasterizer.Rasterize(ctx, snap, capture.Options{})
	if err != nil {
		if domain.KindOf(err) == domain.KindEmptyCanvas {
			o.notifier.Notify(ctx, EmptyCanvasNotice)
			return "", nil
		}
		return "", newError(OpGenerate, domain.KindCapture, CaptureFailedMessage, err)
	}

	o.transition(StateEncoding)
	encoded, err := o.encoder.Encode(ctx, raster)
	if err != nil {
		return "", newError(OpGenerate, domain.KindEncode, err.Error(), err)
	}

	o.transition(StateRequesting)
	slog.InfoContext(ctx, "描画をキャプチャしました。生成サービスに送信します",
		"strategy", raster.Strategy,
		"preview", preview(encoded.String()),
	)
	outcome := o.client.Generate(ctx, domain.NewGenerationRequest(encoded, customPrompt))
	if !outcome.OK() {
		return "", fromFailure(outcome.Failure)
	}
	return outcome.ImageBase64, nil
}

// Export は現在のテーマのまま描画を画像化します。生成は行いません。
func (o *Orchestrator) Export(ctx context.Context, board domain.Board) (*domain.RasterImage, error) {
	snap := domain.TakeSnapshot(board)
	if len(snap.Elements) == 0 {
		return nil, newError(OpExport, domain.KindEmptyCanvas, EmptyCanvasNotice, domain.ErrEmptyCanvas)
	}
	img, err := o.rasterizer.Rasterize(ctx, snap, capture.Options{KeepTheme: true})
	if err != nil {
		slog.ErrorContext(ctx, "エクスポートに失敗しました", "error", err)
		return nil, newError(OpExport, domain.KindCapture, ExportFailedMessage, err)
	}
	return img, nil
}

// Clear は board の描画を消去します。
func (o *Orchestrator) Clear(board domain.Board) {
	board.Reset()
}

func preview(s string) string {
	const n = 30
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
