package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/shouni/go-http-kit/pkg/httpkit"

	"github.com/kazuki-osada/internal-excali-banana/pkg/datauri"
	"github.com/kazuki-osada/internal-excali-banana/pkg/domain"
)

// maxResponseBytes は読み込むレスポンス本文の上限です。
const maxResponseBytes = 64 << 20

// HTTPClient はリモートの生成サービスに JSON を1回だけ POST する Client です。
type HTTPClient struct {
	endpoint string
	doer     Doer
	headers  map[string]string
}

// HTTPOption は HTTPClient の設定を変更します。
type HTTPOption func(*HTTPClient)

// WithDoer は送信に使う HTTP クライアントを差し替えます。
func WithDoer(d Doer) HTTPOption {
	return func(c *HTTPClient) {
		if d != nil {
			c.doer = d
		}
	}
}

// WithHeader は全リクエストに付けるヘッダーを追加します。
func WithHeader(key, value string) HTTPOption {
	return func(c *HTTPClient) { c.headers[key] = value }
}

// NewHTTPClient は endpoint に POST する HTTPClient を作成します。
// 既定の送信には httpkit.Client.Do を使います。Do は再試行しないため、1回だけ送る契約を保てます。
func NewHTTPClient(endpoint string, opts ...HTTPOption) (*HTTPClient, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	c := &HTTPClient{
		endpoint: endpoint,
		doer:     httpkit.New(DefaultTimeout, httpkit.WithSkipNetworkValidation(true)),
		headers:  map[string]string{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Generate はリクエストを送り、応答を domain.Outcome に変換します。再試行はしません。
func (c *HTTPClient) Generate(ctx context.Context, req domain.GenerationRequest) domain.Outcome {
	if req.ImageData() == "" {
		return domain.Failed(domain.KindMisuse, ReasonNoDrawing, domain.ErrMisuse)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return domain.Failed(domain.KindMisuse, ReasonNoDrawing, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.Failed(domain.KindMisuse, domain.UnknownGenerationError, fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range c.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.doer.Do(httpReq)
	if err != nil {
		slog.ErrorContext(ctx, "生成サービスへの接続に失敗しました", "endpoint", c.endpoint, "error", err)
		return domain.Failed(domain.KindTransport, ReasonNetwork, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return domain.Failed(domain.KindTransport, ReasonNetwork, fmt.Errorf("failed to read response: %w", err))
	}

	var result domain.GenerateImageResult
	decodeErr := json.Unmarshal(raw, &result)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		reason := fmt.Sprintf(reasonStatusFormat, resp.StatusCode)
		if decodeErr == nil && result.Error != "" {
			reason = result.Error
		}
		slog.WarnContext(ctx, "生成サービスがエラーを返しました", "status", resp.StatusCode, "reason", reason)
		return domain.Failed(domain.KindRemote, reason, fmt.Errorf("status %d", resp.StatusCode))
	}
	if decodeErr != nil {
		return domain.Failed(domain.KindRemote, ReasonInvalidJSON, fmt.Errorf("failed to parse response: %w", decodeErr))
	}
	if !result.Success {
		return domain.Failed(domain.KindRemote, result.Error, domain.ErrRemote)
	}
	if result.ImageBase64 == "" {
		return domain.Failed(domain.KindRemote, ReasonNoImage, errors.New("success without imageBase64"))
	}
	if !datauri.IsImage(result.ImageBase64) {
		return domain.Failed(domain.KindRemote, ReasonNoImage, errors.New("imageBase64 is not an image"))
	}
	return domain.Succeeded(result.ImageBase64)
}
