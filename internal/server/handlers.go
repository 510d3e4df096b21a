package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"path"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kazuki-osada/internal-excali-banana/internal/events"
	"github.com/kazuki-osada/internal-excali-banana/internal/storage"
	"github.com/kazuki-osada/internal-excali-banana/pkg/board"
	"github.com/kazuki-osada/internal-excali-banana/pkg/capture"
	"github.com/kazuki-osada/internal-excali-banana/pkg/datauri"
	"github.com/kazuki-osada/internal-excali-banana/pkg/domain"
	"github.com/kazuki-osada/internal-excali-banana/pkg/generator"
	"github.com/kazuki-osada/internal-excali-banana/pkg/pipeline"
)

const (
	ServiceName = "excali-banana"

	maxSceneBytes   = 32 << 20
	maxSurfaceBytes = 16 << 20
)

// Deps は Handler が使う依存関係です。Storage, Publisher, Contract, SurfaceFactory は nil でも構いません。
type Deps struct {
	Rasterizer pipeline.Rasterizer
	Client     generator.Client
	// Contract は POST /api/generate を処理する生成クライアントです。
	Contract       generator.Client
	Storage        storage.FileStorage
	Publisher      events.Publisher
	Theme          domain.Theme
	ExportScale    float64
	SurfaceFactory func() domain.Surface
	Now            func() time.Time
}

type Handler struct {
	deps     Deps
	sessions *sessionStore
}

func NewHandler(deps Deps) (*Handler, error) {
	if deps.Rasterizer == nil {
		return nil, fmt.Errorf("rasterizer is required")
	}
	if deps.Client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if deps.Publisher == nil {
		deps.Publisher = events.NopPublisher{}
	}
	if deps.Theme == "" {
		deps.Theme = domain.ThemeLight
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Handler{deps: deps, sessions: newSessionStore()}, nil
}

type errorResponse struct {
	Error string `json:"error"`
}

type createBoardRequest struct {
	Theme domain.Theme `json:"theme"`
}

type themeRequest struct {
	Theme domain.Theme `json:"theme" binding:"required"`
}

type generateRequest struct {
	CustomPrompt string `json:"customPrompt"`
}

type generateResponse struct {
	Image  *string `json:"image"`
	Notice string  `json:"notice,omitempty"`
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": ServiceName})
}

// bindOptionalJSON は本文があれば JSON として読み取ります。本文が無いのはエラーではありません。
// Transfer-Encoding: chunked では ContentLength が -1 になるため、本文の有無は読み取り結果で判断します。
func bindOptionalJSON(c *gin.Context, obj any) bool {
	if c.Request.Body == nil || c.Request.Body == http.NoBody {
		return true
	}
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
		return false
	}
	return true
}

func validTheme(theme domain.Theme) bool {
	return theme == domain.ThemeDark || theme == domain.ThemeLight
}

func (h *Handler) CreateBoard(c *gin.Context) {
	var req createBoardRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	theme := h.deps.Theme
	if req.Theme != "" {
		if !validTheme(req.Theme) {
			c.JSON(http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("Unknown theme %q", req.Theme)})
			return
		}
		theme = req.Theme
	}

	b := board.New(theme)
	b.SetExportScale(h.deps.ExportScale)
	if h.deps.SurfaceFactory != nil {
		if s := h.deps.SurfaceFactory(); s != nil {
			b.Mount(s)
		}
	}
	orch, err := pipeline.New(h.deps.Rasterizer, h.deps.Client,
		pipeline.WithNotifier(pipeline.NotifierFunc(func(ctx context.Context, message string) {
			logrus.WithField("notice", message).Info("User notice")
		})),
	)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	s := h.sessions.add(b, orch)

	c.JSON(http.StatusCreated, gin.H{"id": s.id, "appState": b.AppState()})
}

// DeleteBoard はセッションを破棄します。
func (h *Handler) DeleteBoard(c *gin.Context) {
	s, ok := h.sessions.remove(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, errorResponse{Error: "Board not found"})
		return
	}
	s.board.Mount(nil)
	c.Status(http.StatusNoContent)
}

func (h *Handler) session(c *gin.Context) (*session, bool) {
	s, ok := h.sessions.get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, errorResponse{Error: "Board not found"})
		return nil, false
	}
	return s, true
}

func (h *Handler) PutScene(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	scene, err := board.ReadScene(io.LimitReader(c.Request.Body, maxSceneBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	s.board.Load(scene)
	c.JSON(http.StatusOK, gin.H{"id": s.id, "elements": len(domain.LiveElements(scene.Elements))})
}

func (h *Handler) GetScene(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	data, err := board.MarshalScene(s.board.Scene())
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}

// PutTheme はボードのテーマを切り替えます。背景色と線の色もテーマの初期値に戻ります。
func (h *Handler) PutTheme(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req themeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
		return
	}
	if !validTheme(req.Theme) {
		c.JSON(http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("Unknown theme %q", req.Theme)})
		return
	}
	s.board.SetTheme(req.Theme)
	c.JSON(http.StatusOK, gin.H{"id": s.id, "appState": s.board.AppState()})
}

func (h *Handler) ClearScene(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	s.orch.Clear(s.board)
	c.JSON(http.StatusOK, gin.H{"id": s.id, "status": "cleared"})
}

// PutSurface は画面に表示中のキャンバスの画像を受け取り、描画面としてマウントします。
func (h *Handler) PutSurface(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	file, err := c.FormFile("canvas")
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "No canvas image provided"})
		return
	}
	if file.Size > maxSurfaceBytes {
		c.JSON(http.StatusRequestEntityTooLarge, errorResponse{Error: "Canvas image is too large"})
		return
	}
	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "Canvas image could not be decoded"})
		return
	}

	class := c.DefaultPostForm("class", capture.StaticCanvasClass)
	s.board.Mount(capture.NewStaticSurface(domain.Canvas{Class: class, Image: img}))
	b := img.Bounds()
	c.JSON(http.StatusOK, gin.H{"id": s.id, "class": class, "width": b.Dx(), "height": b.Dy()})
}

func (h *Handler) Generate(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	var req generateRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	if !s.busy.CompareAndSwap(false, true) {
		c.JSON(http.StatusConflict, errorResponse{Error: "Generation already in progress"})
		return
	}
	defer s.busy.Store(false)

	ctx := c.Request.Context()
	start := h.deps.Now()
	img, err := s.orch.Run(ctx, s.board, req.CustomPrompt)
	end := h.deps.Now()

	ev := events.GenerationEvent{
		ID:           uuid.NewString(),
		BoardID:      s.id,
		Op:           string(pipeline.OpGenerate),
		Success:      err == nil && img != "",
		CustomPrompt: req.CustomPrompt != "",
		DurationMS:   end.Sub(start).Milliseconds(),
		At:           end,
	}

	switch {
	case err != nil:
		s.recordFailure(err.Error(), end)
		ev.Kind = pipeline.KindOf(err).String()
		ev.Error = err.Error()
		h.publish(c, ev)
		c.JSON(statusFor(pipeline.KindOf(err)), errorResponse{Error: err.Error()})
	case img == "":
		ev.Kind = domain.KindEmptyCanvas.String()
		h.publish(c, ev)
		c.JSON(http.StatusOK, generateResponse{Image: nil, Notice: pipeline.EmptyCanvasNotice})
	default:
		s.recordSuccess(img, req.CustomPrompt, end)
		h.publish(c, ev)
		c.JSON(http.StatusOK, generateResponse{Image: &img})
	}
}

func (h *Handler) Status(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.status())
}

// Export は現在のテーマのまま描画を PNG として返し、ストレージがあれば保存します。
func (h *Handler) Export(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	img, err := s.orch.Export(ctx, s.board)
	now := h.deps.Now()
	ev := events.GenerationEvent{ID: uuid.NewString(), BoardID: s.id, Op: string(pipeline.OpExport), Success: err == nil, At: now}
	if err != nil {
		ev.Kind = pipeline.KindOf(err).String()
		ev.Error = err.Error()
		h.publish(c, ev)
		c.JSON(statusFor(pipeline.KindOf(err)), errorResponse{Error: err.Error()})
		return
	}
	ev.Strategy = img.Strategy
	h.publish(c, ev)

	name := storage.ExportFileName(now)
	if h.deps.Storage != nil {
		dest, err := h.deps.Storage.Save(ctx, path.Join("boards", s.id, name), bytes.NewReader(img.Data), img.MIMEType)
		if err != nil {
			logrus.WithError(err).WithField("board_id", s.id).Error("Failed to save exported image")
		} else {
			logrus.WithFields(logrus.Fields{"board_id": s.id, "dest": dest}).Info("Exported image saved")
		}
	}
	attachment(c, name, img.MIMEType, img.Data)
}

// Result は最後に生成した画像をダウンロードさせます。
func (h *Handler) Result(c *gin.Context) {
	s, ok := h.session(c)
	if !ok {
		return
	}
	last, _ := s.result()
	if last == "" {
		c.JSON(http.StatusNotFound, errorResponse{Error: "No generated image yet"})
		return
	}
	mime, data, err := datauri.Decode(last)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "Stored image is corrupted"})
		return
	}
	attachment(c, storage.ResultFileName(h.deps.Now()), mime, data)
}

// GenerateContract はリモート生成サービスの契約そのものを提供します。
func (h *Handler) GenerateContract(c *gin.Context) {
	if h.deps.Contract == nil {
		c.JSON(http.StatusServiceUnavailable, domain.GenerateImageResult{Success: false, Error: "Image generation backend is not configured"})
		return
	}
	var opts domain.GenerateImageOptions
	if err := c.ShouldBindJSON(&opts); err != nil {
		c.JSON(http.StatusBadRequest, domain.GenerateImageResult{Success: false, Error: "Invalid request body"})
		return
	}
	req := domain.NewGenerationRequest(domain.EncodedImage(opts.ImageData), opts.CustomPrompt)
	outcome := h.deps.Contract.Generate(c.Request.Context(), req)
	status := http.StatusOK
	if !outcome.OK() {
		status = statusFor(outcome.Failure.Kind)
	}
	c.JSON(status, outcome.Result())
}

func (h *Handler) publish(c *gin.Context, ev events.GenerationEvent) {
	if err := h.deps.Publisher.Publish(c.Request.Context(), ev); err != nil {
		logrus.WithError(err).WithField("event_id", ev.ID).Warn("Failed to publish generation event")
	}
}

func attachment(c *gin.Context, filename, mime string, data []byte) {
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, mime, data)
}

// statusFor は失敗の分類を HTTP ステータスに対応付けます。
func statusFor(kind domain.Kind) int {
	switch kind {
	case domain.KindEmptyCanvas, domain.KindMisuse:
		return http.StatusBadRequest
	case domain.KindCapture, domain.KindEncode:
		return http.StatusUnprocessableEntity
	case domain.KindRemote, domain.KindTransport:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
