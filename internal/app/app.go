// Package app は設定から各コンポーネントを組み立てます。
package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shouni/go-http-kit/pkg/httpkit"
	"github.com/shouni/go-remote-io/pkg/gcsfactory"
	"github.com/shouni/go-remote-io/pkg/remoteio"
	"github.com/sirupsen/logrus"

	"github.com/kazuki-osada/internal-excali-banana/internal/config"
	"github.com/kazuki-osada/internal-excali-banana/internal/events"
	"github.com/kazuki-osada/internal-excali-banana/internal/server"
	"github.com/kazuki-osada/internal-excali-banana/internal/storage"
	"github.com/kazuki-osada/internal-excali-banana/pkg/board"
	"github.com/kazuki-osada/internal-excali-banana/pkg/capture"
	"github.com/kazuki-osada/internal-excali-banana/pkg/capture/render"
	"github.com/kazuki-osada/internal-excali-banana/pkg/domain"
	"github.com/kazuki-osada/internal-excali-banana/pkg/generator"
	"github.com/kazuki-osada/internal-excali-banana/pkg/pipeline"
)

const shutdownTimeout = 10 * time.Second

// App は設定から組み立てたコンポーネント一式です。
type App struct {
	cfg        *config.Config
	rasterizer *capture.Rasterizer
	client     generator.Client
	contract   generator.Client
	exporter   *capture.ExporterStrategy
	store      storage.FileStorage
	publisher  events.Publisher
	fetcher    capture.Fetcher
	reader     remoteio.InputReader
	writer     remoteio.OutputWriter
	ioFactory  io.Closer
}

// SetupLogging は logrus と slog の出力形式とレベルを揃えます。
func SetupLogging(cfg config.LogConfig) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("unknown log level %q: %w", cfg.Level, err)
	}
	logrus.SetOutput(os.Stdout)
	logrus.SetLevel(level)

	opts := &slog.HandlerOptions{Level: slogLevel(level)}
	if strings.EqualFold(cfg.Format, "text") {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, opts)))
		return nil
	}
	logrus.SetFormatter(&logrus.JSONFormatter{})
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, opts)))
	return nil
}

func slogLevel(l logrus.Level) slog.Level {
	switch {
	case l >= logrus.DebugLevel:
		return slog.LevelDebug
	case l == logrus.InfoLevel:
		return slog.LevelInfo
	case l == logrus.WarnLevel:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// New は設定からキャプチャ、生成クライアント、保存先、イベント発行を組み立てます。
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{cfg: cfg}

	var exporter capture.Exporter
	if !cfg.Capture.DisableExporter {
		exporter = render.NewSceneRenderer(render.WithPadding(cfg.Capture.Padding))
	}
	a.exporter = capture.NewExporterStrategy(exporter)
	if !a.exporter.Available() {
		logrus.Warn("Exporter is not available, will use canvas fallback")
	}
	rasterizer, err := capture.NewRasterizer(a.exporter, capture.NewSurfaceStrategy())
	if err != nil {
		return nil, err
	}
	a.rasterizer = rasterizer

	if cfg.Capture.SurfaceURL != "" {
		// localhost の描画面も取得できるよう SSRF 検証を外す
		a.fetcher = httpkit.New(cfg.Generator.Timeout, httpkit.WithSkipNetworkValidation(true))
	}

	if err := a.initClients(ctx); err != nil {
		return nil, err
	}
	if err := a.initIO(ctx); err != nil {
		return nil, err
	}

	if cfg.Storage.Dir != "" {
		if !remoteio.IsRemoteURI(cfg.Storage.Dir) {
			if err := os.MkdirAll(cfg.Storage.Dir, 0o755); err != nil {
				err = fmt.Errorf("保存先ディレクトリを作成できません: %w", err)
				if a.ioFactory != nil {
					err = errors.Join(err, a.ioFactory.Close())
				}
				return nil, err
			}
		}
		a.store = storage.NewFileStorage(cfg.Storage.Dir, a.writer)
	}

	if cfg.Events.Enabled {
		a.publisher = events.NewKafkaPublisher(ctx, cfg.Events.Brokers, cfg.Events.Topic)
	} else {
		a.publisher = events.NopPublisher{}
	}

	logrus.WithFields(logrus.Fields{
		"backend":    cfg.Generator.Backend,
		"strategies": rasterizer.Strategies(),
		"exporter":   a.exporter.Available(),
		"storage":    cfg.Storage.Dir,
		"events":     cfg.Events.Enabled,
	}).Info("Application initialized")
	return a, nil
}

// initClients は生成クライアントと、契約エンドポイント用のクライアントを作ります。
func (a *App) initClients(ctx context.Context) error {
	gc := a.cfg.Generator

	var gemini *generator.GeminiClient
	if gc.APIKey != "" {
		model, err := generator.NewGenAIModel(ctx, gc.APIKey)
		if err != nil {
			return err
		}
		opts := []generator.GeminiOption{
			generator.WithModel(gc.Model),
			generator.WithAspectRatio(gc.AspectRatio),
			generator.WithCompression(gc.Compress, gc.CompressQuality),
			generator.WithMaxInputEdge(gc.MaxInputEdge),
		}
		if gc.Seed != 0 {
			opts = append(opts, generator.WithSeed(gc.Seed))
		}
		gemini, err = generator.NewGeminiClient(model, opts...)
		if err != nil {
			return err
		}
		a.contract = gemini
	}

	switch gc.Backend {
	case config.BackendHTTP:
		opts := []generator.HTTPOption{
			generator.WithDoer(httpkit.New(gc.Timeout, httpkit.WithSkipNetworkValidation(true))),
		}
		for k, v := range gc.Headers {
			opts = append(opts, generator.WithHeader(k, v))
		}
		client, err := generator.NewHTTPClient(gc.Endpoint, opts...)
		if err != nil {
			return err
		}
		a.client = client
	case config.BackendGemini:
		if gemini == nil {
			logrus.Warn("Gemini API key is not configured, generation requests will be rejected")
			a.client = missingKeyClient{}
			return nil
		}
		a.client = gemini
	default:
		return fmt.Errorf("unknown generator backend %q", gc.Backend)
	}
	return nil
}

// initIO はシーンの読み込みと出力に使うリーダーとライターを用意します。
// GCS を使う設定なら GCS クライアントを作り、Close で閉じます。
func (a *App) initIO(ctx context.Context) error {
	if !a.cfg.Storage.UsesGCS() {
		a.reader = remoteio.NewUniversalInputReader(nil, nil)
		a.writer = remoteio.NewUniversalIOWriter(nil, nil)
		return nil
	}
	factory, err := gcsfactory.New(ctx)
	if err != nil {
		return err
	}
	reader, err := factory.InputReader()
	if err != nil {
		return errors.Join(err, factory.Close())
	}
	writer, err := factory.OutputWriter()
	if err != nil {
		return errors.Join(err, factory.Close())
	}
	a.reader, a.writer, a.ioFactory = reader, writer, factory
	return nil
}

// MissingKeyReason は API キーが無い状態で生成を要求されたときの理由です。
const MissingKeyReason = "Gemini API key is not configured"

// missingKeyClient は API キーが無いときの代わりのクライアントです。エクスポートは引き続き使えます。
type missingKeyClient struct{}

func (missingKeyClient) Generate(context.Context, domain.GenerationRequest) domain.Outcome {
	return domain.Failed(domain.KindMisuse, MissingKeyReason, nil)
}

// NewBoard は設定のテーマと倍率で空のボードを作り、描画面があればマウントします。
func (a *App) NewBoard() *board.Board {
	b := board.New(domain.Theme(a.cfg.Board.Theme))
	b.SetExportScale(a.cfg.Capture.ExportScale)
	if s := a.surface(); s != nil {
		b.Mount(s)
	}
	return b
}

// LoadBoard は .excalidraw ファイルをボードに読み込みます。GCS が有効なら gs:// も指定できます。
func (a *App) LoadBoard(ctx context.Context, path string) (*board.Board, error) {
	b, err := board.LoadFile(ctx, a.reader, path, domain.Theme(a.cfg.Board.Theme))
	if err != nil {
		return nil, err
	}
	b.SetExportScale(a.cfg.Capture.ExportScale)
	if s := a.surface(); s != nil {
		b.Mount(s)
	}
	return b, nil
}

func (a *App) surface() domain.Surface {
	if a.fetcher == nil {
		return nil
	}
	s, err := capture.NewHTTPSurface(a.fetcher, a.cfg.Capture.SurfaceURL)
	if err != nil {
		logrus.WithError(err).Warn("Canvas surface is not available")
		return nil
	}
	return s
}

// Orchestrator は CLI 用の Orchestrator を作ります。
func (a *App) Orchestrator(opts ...pipeline.Option) (*pipeline.Orchestrator, error) {
	return pipeline.New(a.rasterizer, a.client, opts...)
}

// WriteOutput は data を uri に書き出します。GCS が有効なら gs:// も指定できます。
func (a *App) WriteOutput(ctx context.Context, uri string, data []byte) error {
	return a.writer.Write(ctx, uri, bytes.NewReader(data), http.DetectContentType(data))
}

// Handler は HTTP ハンドラーを組み立てます。
func (a *App) Handler() (*server.Handler, error) {
	deps := server.Deps{
		Rasterizer:  a.rasterizer,
		Client:      a.client,
		Contract:    a.contract,
		Storage:     a.store,
		Publisher:   a.publisher,
		Theme:       domain.Theme(a.cfg.Board.Theme),
		ExportScale: a.cfg.Capture.ExportScale,
	}
	if a.fetcher != nil {
		deps.SurfaceFactory = a.surface
	}
	return server.NewHandler(deps)
}

// Serve はサーバーを起動し、ctx が終了したら停止します。
func (a *App) Serve(ctx context.Context) error {
	if a.cfg.Server.Mode == gin.ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	}
	h, err := a.Handler()
	if err != nil {
		return err
	}

	srv := server.NewServer(a.cfg.Server, h.InitRoutes(a.cfg.Server.Timeout))
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run()
	}()
	logrus.WithField("addr", a.cfg.Server.Addr()).Info("App Started")

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("error occurred while running http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logrus.Info("App Shutting Down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("error occurred on server shutting down: %w", err)
	}
	return <-errCh
}

// Close はイベント発行と GCS クライアントを終了します。
func (a *App) Close() error {
	err := a.publisher.Close()
	if a.ioFactory != nil {
		err = errors.Join(err, a.ioFactory.Close())
	}
	return err
}
