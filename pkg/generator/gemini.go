package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shouni/go-gemini-client/pkg/gemini"
	"google.golang.org/genai"

	"github.com/kazuki-osada/internal-excali-banana/pkg/datauri"
	"github.com/kazuki-osada/internal-excali-banana/pkg/domain"
)

// GeminiClient は生成サービスの契約を Gemini の画像生成モデルで直接満たす Client です。
type GeminiClient struct {
	aiClient    PartsGenerator
	model       string
	aspectRatio string
	seed        *int64
	compress    bool
	quality     int
	maxEdge     int
}

// GeminiOption は GeminiClient の設定を変更します。
type GeminiOption func(*GeminiClient)

// WithModel はモデル名を指定します。
func WithModel(model string) GeminiOption {
	return func(c *GeminiClient) {
		if model != "" {
			c.model = model
		}
	}
}

// WithAspectRatio は出力のアスペクト比 ("1:1", "16:9" など) を指定します。
func WithAspectRatio(ratio string) GeminiOption {
	return func(c *GeminiClient) { c.aspectRatio = ratio }
}

// WithSeed は生成のシードを固定します。
func WithSeed(seed int64) GeminiOption {
	return func(c *GeminiClient) { c.seed = &seed }
}

// WithCompression は送信前の JPEG 圧縮を切り替えます。
func WithCompression(enabled bool, quality int) GeminiOption {
	return func(c *GeminiClient) {
		c.compress = enabled
		if quality > 0 && quality <= 100 {
			c.quality = quality
		}
	}
}

// WithMaxInputEdge は送信するスケッチの長辺の上限を指定します。
func WithMaxInputEdge(px int) GeminiOption {
	return func(c *GeminiClient) {
		if px > 0 {
			c.maxEdge = px
		}
	}
}

// NewGeminiClient は GeminiClient を初期化します。
func NewGeminiClient(aiClient PartsGenerator, opts ...GeminiOption) (*GeminiClient, error) {
	if aiClient == nil {
		return nil, fmt.Errorf("aiClient is required")
	}
	c := &GeminiClient{
		aiClient: aiClient,
		model:    DefaultModel,
		compress: UseImageCompression,
		quality:  ImageCompressionQuality,
		maxEdge:  MaxInputEdge,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Model は使用するモデル名を返します。
func (c *GeminiClient) Model() string {
	return c.model
}

// Generate はスケッチと指示をモデルに送り、生成画像を data URI で返します。
func (c *GeminiClient) Generate(ctx context.Context, req domain.GenerationRequest) (out domain.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "Gemini生成中に panic が発生しました", "panic", r)
			out = domain.Failed(domain.KindRemote, domain.UnknownGenerationError, fmt.Errorf("panic: %v", r))
		}
	}()

	if req.ImageData() == "" {
		return domain.Failed(domain.KindMisuse, ReasonNoDrawing, domain.ErrMisuse)
	}
	_, data, err := datauri.Decode(req.ImageData().String())
	if err != nil {
		return domain.Failed(domain.KindMisuse, "Invalid image data", err)
	}
	imgPart, err := c.prepareImagePart(data)
	if err != nil {
		return domain.Failed(domain.KindMisuse, "Invalid image data", err)
	}

	parts := []*genai.Part{
		{Text: BuildPrompt(req.CustomPrompt())},
		imgPart,
	}

	slog.InfoContext(ctx, "Gemini画像生成リクエスト送信",
		"model", c.model,
		"custom_prompt", req.CustomPrompt() != "",
		"mime", imgPart.InlineData.MIMEType,
		"bytes", len(imgPart.InlineData.Data),
	)

	res, err := c.executeRequest(ctx, parts)
	if err != nil {
		return classify(ctx, err)
	}

	uri, err := datauri.Encode(ctx, &domain.RasterImage{Data: res.Data, MIMEType: res.MimeType})
	if err != nil {
		return domain.Failed(domain.KindRemote, ReasonNoImage, err)
	}
	return domain.Succeeded(uri.String())
}

func (c *GeminiClient) executeRequest(ctx context.Context, parts []*genai.Part) (*ImageOutput, error) {
	opts := gemini.GenerateOptions{
		AspectRatio:  c.aspectRatio,
		SystemPrompt: SystemPrompt,
		Seed:         c.seed,
	}

	resp, err := c.aiClient.GenerateWithParts(ctx, c.model, parts, opts)
	if err != nil {
		return nil, err
	}
	return parseToResponse(resp, dereferenceSeed(c.seed))
}

// classify はモデル呼び出しのエラーを失敗の分類に変換します。
func classify(ctx context.Context, err error) domain.Outcome {
	var apiErr genai.APIError
	var blockedErr *blockedError
	switch {
	case errors.As(err, &blockedErr):
		slog.WarnContext(ctx, "Geminiが生成を打ち切りました", "finish_reason", blockedErr.reason)
		return domain.Failed(domain.KindRemote, blockedErr.Error(), err)
	case errors.Is(err, errInvalidResponse), errors.Is(err, errNoImageData):
		slog.WarnContext(ctx, "Gemini応答に画像が含まれていません", "error", err)
		return domain.Failed(domain.KindRemote, ReasonNoImage, err)
	case errors.As(err, &apiErr):
		slog.ErrorContext(ctx, "Gemini APIエラー", "code", apiErr.Code, "status", apiErr.Status, "message", apiErr.Message)
		reason := apiErr.Message
		if reason == "" {
			reason = fmt.Sprintf(reasonStatusFormat, apiErr.Code)
		}
		return domain.Failed(domain.KindRemote, reason, err)
	default:
		slog.ErrorContext(ctx, "Geminiへの接続に失敗しました", "error", err)
		return domain.Failed(domain.KindTransport, ReasonNetwork, err)
	}
}
