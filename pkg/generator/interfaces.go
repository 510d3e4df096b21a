package generator

import (
	"context"
	"net/http"

	"github.com/shouni/go-gemini-client/pkg/gemini"
	"google.golang.org/genai"

	"github.com/kazuki-osada/internal-excali-banana/pkg/domain"
)

// Client は画像生成サービスへの統合窓口です。
// Generate はエラーを返さず、失敗は domain.Outcome の Failure として返します。
type Client interface {
	Generate(ctx context.Context, req domain.GenerationRequest) domain.Outcome
}

// PartsGenerator は GeminiClient が利用する生成モデルの能力です。
// gemini.GenerativeModel の一部であり、GenAIModel も実装します。
type PartsGenerator interface {
	GenerateWithParts(ctx context.Context, model string, parts []*genai.Part, opts gemini.GenerateOptions) (*gemini.Response, error)
}

// Doer は HTTPClient が利用する HTTP 送信の能力です。*http.Client が満たします。
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}
