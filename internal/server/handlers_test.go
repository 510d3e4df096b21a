package server

import (
	"bytes"
	"encoding/json"
	"image/color"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazuki-osada/internal-excali-banana/internal/storage"
	"github.com/kazuki-osada/internal-excali-banana/pkg/capture"
	"github.com/kazuki-osada/internal-excali-banana/pkg/capture/render"
	"github.com/kazuki-osada/internal-excali-banana/pkg/domain"
	"github.com/kazuki-osada/internal-excali-banana/pkg/imgutil"
	"github.com/kazuki-osada/internal-excali-banana/pkg/pipeline"
)

var fixedNow = time.UnixMilli(1700000000000)

type testEnv struct {
	handler   *Handler
	router    *gin.Engine
	client    *mockClient
	publisher *recordingPublisher
	storeDir  string
}

func newTestEnv(t *testing.T, strategies ...capture.Strategy) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	if len(strategies) == 0 {
		strategies = []capture.Strategy{
			capture.NewExporterStrategy(render.NewSceneRenderer()),
			capture.NewSurfaceStrategy(),
		}
	}
	rasterizer, err := capture.NewRasterizer(strategies...)
	require.NoError(t, err)

	env := &testEnv{
		client:    &mockClient{outcome: domain.Succeeded(generatedImage(t))},
		publisher: &recordingPublisher{},
		storeDir:  t.TempDir(),
	}
	env.handler, err = NewHandler(Deps{
		Rasterizer: rasterizer,
		Client:     env.client,
		Contract:   env.client,
		Storage:    storage.NewFileStorage(env.storeDir, nil),
		Publisher:  env.publisher,
		Now:        func() time.Time { return fixedNow },
	})
	require.NoError(t, err)
	env.router = env.handler.InitRoutes(5 * time.Second)
	return env
}

func (e *testEnv) do(t *testing.T, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) createBoard(t *testing.T) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/boards", "")
	require.Equal(t, http.StatusCreated, w.Code)
	var resp struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.ID)
	return resp.ID
}

// doChunked は ContentLength が分からない (chunked) 本文でリクエストします。
func (e *testEnv) doChunked(t *testing.T, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, struct{ io.Reader }{strings.NewReader(body)})
	req.ContentLength = -1
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestNewHandler(t *testing.T) {
	rasterizer, err := capture.NewRasterizer(capture.NewSurfaceStrategy())
	require.NoError(t, err)

	_, err = NewHandler(Deps{Client: &mockClient{}})
	assert.Error(t, err)
	_, err = NewHandler(Deps{Rasterizer: rasterizer})
	assert.Error(t, err)

	h, err := NewHandler(Deps{Rasterizer: rasterizer, Client: &mockClient{}})
	require.NoError(t, err)
	assert.NotNil(t, h.deps.Publisher)
	assert.Equal(t, domain.ThemeLight, h.deps.Theme)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]any{"status": "ok", "service": ServiceName}, decodeJSON(t, w))
}

func TestCreateBoard(t *testing.T) {
	env := newTestEnv(t)

	t.Run("テーマ指定なしはライト", func(t *testing.T) {
		id := env.createBoard(t)
		s, ok := env.handler.sessions.get(id)
		require.True(t, ok)
		assert.Equal(t, domain.ThemeLight, s.board.AppState().Theme)
	})

	t.Run("ダークテーマ", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/boards", `{"theme":"dark"}`)
		require.Equal(t, http.StatusCreated, w.Code)
		id, _ := decodeJSON(t, w)["id"].(string)
		s, ok := env.handler.sessions.get(id)
		require.True(t, ok)
		assert.Equal(t, "#1f2937", s.board.AppState().ViewBackgroundColor)
	})

	t.Run("不明なテーマは400", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/boards", `{"theme":"sepia"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("chunked の本文も読み取る", func(t *testing.T) {
		w := env.doChunked(t, http.MethodPost, "/api/boards", `{"theme":"dark"}`)
		require.Equal(t, http.StatusCreated, w.Code)
		id, _ := decodeJSON(t, w)["id"].(string)
		s, ok := env.handler.sessions.get(id)
		require.True(t, ok)
		assert.Equal(t, domain.ThemeDark, s.board.AppState().Theme)
	})

	assert.Equal(t, 3, env.handler.sessions.len())
}

func TestDeleteBoard(t *testing.T) {
	env := newTestEnv(t)
	id := env.createBoard(t)

	w := env.do(t, http.MethodDelete, "/api/boards/"+id, "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 0, env.handler.sessions.len())
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/boards/"+id+"/status", "").Code)

	t.Run("二度目は404", func(t *testing.T) {
		w := env.do(t, http.MethodDelete, "/api/boards/"+id, "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestPutTheme(t *testing.T) {
	env := newTestEnv(t)
	id := env.createBoard(t)

	t.Run("ダークに切り替える", func(t *testing.T) {
		w := env.do(t, http.MethodPut, "/api/boards/"+id+"/theme", `{"theme":"dark"}`)
		require.Equal(t, http.StatusOK, w.Code)
		s, _ := env.handler.sessions.get(id)
		assert.Equal(t, domain.InitialAppState(domain.ThemeDark).ViewBackgroundColor, s.board.AppState().ViewBackgroundColor)
		assert.Equal(t, domain.ThemeDark, s.board.AppState().Theme)
	})

	tests := []struct {
		name string
		body string
	}{
		{name: "不明なテーマ", body: `{"theme":"sepia"}`},
		{name: "テーマなし", body: `{}`},
		{name: "本文なし", body: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name+"は400", func(t *testing.T) {
			w := env.do(t, http.MethodPut, "/api/boards/"+id+"/theme", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPut, "/api/boards/nope/theme", `{"theme":"dark"}`).Code)
}

func TestUnknownBoard(t *testing.T) {
	env := newTestEnv(t)
	for _, target := range []string{"/api/boards/nope/scene", "/api/boards/nope/status", "/api/boards/nope/result"} {
		w := env.do(t, http.MethodGet, target, "")
		assert.Equal(t, http.StatusNotFound, w.Code, target)
	}
}

func TestScene(t *testing.T) {
	env := newTestEnv(t)
	id := env.createBoard(t)

	t.Run("不正なシーンは400", func(t *testing.T) {
		w := env.do(t, http.MethodPut, "/api/boards/"+id+"/scene", `{"type":"other"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("置き換えと取得", func(t *testing.T) {
		w := env.do(t, http.MethodPut, "/api/boards/"+id+"/scene", rectangleScene)
		require.Equal(t, http.StatusOK, w.Code)
		assert.EqualValues(t, 1, decodeJSON(t, w)["elements"])

		w = env.do(t, http.MethodGet, "/api/boards/"+id+"/scene", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
		assert.Contains(t, w.Body.String(), "\n  \"type\": \"excalidraw\"", "整形済みの .excalidraw 形式")
		var scene domain.Scene
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &scene))
		require.Len(t, scene.Elements, 1)
		assert.Equal(t, "r1", scene.Elements[0].ID)
	})

	t.Run("消去", func(t *testing.T) {
		w := env.do(t, http.MethodDelete, "/api/boards/"+id+"/scene", "")
		require.Equal(t, http.StatusOK, w.Code)
		s, _ := env.handler.sessions.get(id)
		assert.Empty(t, s.board.Elements())
	})
}

func TestGenerate(t *testing.T) {
	t.Run("空のボードは案内を返す", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.createBoard(t)

		w := env.do(t, http.MethodPost, "/api/boards/"+id+"/generate", `{"customPrompt":"a cat"}`)
		require.Equal(t, http.StatusOK, w.Code)
		body := decodeJSON(t, w)
		assert.Nil(t, body["image"])
		assert.Equal(t, pipeline.EmptyCanvasNotice, body["notice"])
		assert.Equal(t, 0, env.client.calls())
	})

	t.Run("成功すると画像と結果を保持する", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.createBoard(t)
		require.Equal(t, http.StatusOK, env.do(t, http.MethodPut, "/api/boards/"+id+"/scene", rectangleScene).Code)

		w := env.do(t, http.MethodPost, "/api/boards/"+id+"/generate", `{"customPrompt":"  watercolor  "}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, generatedImage(t), decodeJSON(t, w)["image"])

		require.Equal(t, 1, env.client.calls())
		req := env.client.requests[0]
		assert.Equal(t, "watercolor", req.CustomPrompt())
		assert.Equal(t, "image/png", req.ImageData().MIMEType())

		w = env.do(t, http.MethodGet, "/api/boards/"+id+"/status", "")
		require.Equal(t, http.StatusOK, w.Code)
		status := decodeJSON(t, w)
		assert.Equal(t, pipeline.StateIdle.String(), status["state"])
		assert.Equal(t, true, status["hasResult"])
		assert.Equal(t, false, status["busy"])

		evs := env.publisher.all()
		require.Len(t, evs, 1)
		assert.True(t, evs[0].Success)
		assert.True(t, evs[0].CustomPrompt)
		assert.Equal(t, id, evs[0].BoardID)
	})

	t.Run("生成サービスの失敗は502", func(t *testing.T) {
		env := newTestEnv(t)
		env.client.outcome = domain.Failed(domain.KindRemote, "Model overloaded", nil)
		id := env.createBoard(t)
		env.do(t, http.MethodPut, "/api/boards/"+id+"/scene", rectangleScene)

		w := env.do(t, http.MethodPost, "/api/boards/"+id+"/generate", "")
		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.Equal(t, "Model overloaded", decodeJSON(t, w)["error"])

		w = env.do(t, http.MethodGet, "/api/boards/"+id+"/status", "")
		assert.Equal(t, "Model overloaded", decodeJSON(t, w)["lastError"])
		assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/boards/"+id+"/result", "").Code)

		evs := env.publisher.all()
		require.Len(t, evs, 1)
		assert.False(t, evs[0].Success)
		assert.Equal(t, domain.KindRemote.String(), evs[0].Kind)
	})

	t.Run("キャプチャできなければ422", func(t *testing.T) {
		env := newTestEnv(t, capture.NewSurfaceStrategy())
		id := env.createBoard(t)
		env.do(t, http.MethodPut, "/api/boards/"+id+"/scene", rectangleScene)

		w := env.do(t, http.MethodPost, "/api/boards/"+id+"/generate", "")
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, pipeline.CaptureFailedMessage, decodeJSON(t, w)["error"])
		assert.Equal(t, 0, env.client.calls())
	})

	t.Run("実行中の生成があれば409", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.createBoard(t)
		env.do(t, http.MethodPut, "/api/boards/"+id+"/scene", rectangleScene)
		s, _ := env.handler.sessions.get(id)
		s.busy.Store(true)

		w := env.do(t, http.MethodPost, "/api/boards/"+id+"/generate", "")
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, 0, env.client.calls())
	})

	t.Run("不正なJSONは400", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.createBoard(t)
		w := env.do(t, http.MethodPost, "/api/boards/"+id+"/generate", `{`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("chunked の本文からもプロンプトを読む", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.createBoard(t)
		env.do(t, http.MethodPut, "/api/boards/"+id+"/scene", rectangleScene)

		w := env.doChunked(t, http.MethodPost, "/api/boards/"+id+"/generate", `{"customPrompt":"neon"}`)
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, 1, env.client.calls())
		assert.Equal(t, "neon", env.client.requests[0].CustomPrompt())
	})

	t.Run("空の chunked 本文はプロンプトなし", func(t *testing.T) {
		env := newTestEnv(t)
		id := env.createBoard(t)
		env.do(t, http.MethodPut, "/api/boards/"+id+"/scene", rectangleScene)

		w := env.doChunked(t, http.MethodPost, "/api/boards/"+id+"/generate", "")
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, 1, env.client.calls())
		assert.Empty(t, env.client.requests[0].CustomPrompt())
	})
}

func TestSurfaceFallback(t *testing.T) {
	env := newTestEnv(t, capture.NewSurfaceStrategy())
	id := env.createBoard(t)
	env.do(t, http.MethodPut, "/api/boards/"+id+"/scene", rectangleScene)

	png, err := imgutil.EncodePNG(solidImage(30, 20, color.NRGBA{R: 10, G: 20, B: 30, A: 255}))
	require.NoError(t, err)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("canvas", "canvas.png")
	require.NoError(t, err)
	_, err = part.Write(png)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPut, "/api/boards/"+id+"/surface", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeJSON(t, w)
	assert.Equal(t, capture.StaticCanvasClass, resp["class"])
	assert.EqualValues(t, 30, resp["width"])

	w = env.do(t, http.MethodPost, "/api/boards/"+id+"/generate", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, env.client.calls())
	assert.True(t, strings.HasPrefix(env.client.requests[0].ImageData().String(), "data:image/png;base64,"))

	t.Run("画像がなければ400", func(t *testing.T) {
		w := env.do(t, http.MethodPut, "/api/boards/"+id+"/surface", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestExport(t *testing.T) {
	env := newTestEnv(t)
	id := env.createBoard(t)

	t.Run("空のボードは400", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/api/boards/"+id+"/export", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, pipeline.EmptyCanvasNotice, decodeJSON(t, w)["error"])
	})

	t.Run("PNGを返して保存する", func(t *testing.T) {
		env.do(t, http.MethodPut, "/api/boards/"+id+"/scene", rectangleScene)
		w := env.do(t, http.MethodPost, "/api/boards/"+id+"/export", "")
		require.Equal(t, http.StatusOK, w.Code)

		name := storage.ExportFileName(fixedNow)
		assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
		assert.Equal(t, `attachment; filename="`+name+`"`, w.Header().Get("Content-Disposition"))
		assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")))
		saved, err := os.ReadFile(filepath.Join(env.storeDir, "boards", id, name))
		require.NoError(t, err)
		assert.Equal(t, w.Body.Bytes(), saved)
		assert.Equal(t, 0, env.client.calls())
	})

	evs := env.publisher.all()
	require.Len(t, evs, 2)
	assert.False(t, evs[0].Success)
	assert.True(t, evs[1].Success)
	assert.Equal(t, "exporter", evs[1].Strategy)
}

func TestResult(t *testing.T) {
	env := newTestEnv(t)
	id := env.createBoard(t)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/boards/"+id+"/result", "").Code)

	env.do(t, http.MethodPut, "/api/boards/"+id+"/scene", rectangleScene)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/boards/"+id+"/generate", "").Code)

	w := env.do(t, http.MethodGet, "/api/boards/"+id+"/result", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), storage.ResultFileName(fixedNow))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")))
}

func TestGenerateContract(t *testing.T) {
	t.Run("成功", func(t *testing.T) {
		env := newTestEnv(t)
		w := env.do(t, http.MethodPost, "/api/generate", `{"imageData":"data:image/png;base64,AAAA","customPrompt":"neon"}`)
		require.Equal(t, http.StatusOK, w.Code)

		var res domain.GenerateImageResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		assert.True(t, res.Success)
		assert.Equal(t, generatedImage(t), res.ImageBase64)
		assert.Equal(t, "neon", env.client.requests[0].CustomPrompt())
	})

	t.Run("失敗は success:false", func(t *testing.T) {
		env := newTestEnv(t)
		env.client.outcome = domain.Failed(domain.KindMisuse, "No drawing provided", nil)
		w := env.do(t, http.MethodPost, "/api/generate", `{"imageData":""}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)

		var res domain.GenerateImageResult
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
		assert.False(t, res.Success)
		assert.Equal(t, "No drawing provided", res.Error)
	})

	t.Run("バックエンドがなければ503", func(t *testing.T) {
		env := newTestEnv(t)
		env.handler.deps.Contract = nil
		w := env.do(t, http.MethodPost, "/api/generate", `{"imageData":"x"}`)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		kind domain.Kind
		want int
	}{
		{domain.KindEmptyCanvas, http.StatusBadRequest},
		{domain.KindMisuse, http.StatusBadRequest},
		{domain.KindCapture, http.StatusUnprocessableEntity},
		{domain.KindEncode, http.StatusUnprocessableEntity},
		{domain.KindRemote, http.StatusBadGateway},
		{domain.KindTransport, http.StatusBadGateway},
		{domain.KindUnknown, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.kind), tt.kind.String())
	}
}
