// Package datauri はラスター画像と data URI 文字列を相互に変換します。
package datauri

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kazuki-osada/internal-excali-banana/pkg/domain"
)

// chunkSize ごとにコンテキストのキャンセルを確認します。
const chunkSize = 32 * 1024

var ErrMalformed = errors.New("malformed data URI")

// Encode は RasterImage を "data:<mime>;base64,<payload>" に変換します。
// 同じ入力からは常に同じ文字列が得られます。
func Encode(ctx context.Context, img *domain.RasterImage) (domain.EncodedImage, error) {
	if img == nil || len(img.Data) == 0 {
		return "", domain.NewFailure(domain.KindEncode, "Failed to read captured image", domain.ErrEncode)
	}
	return EncodeReader(ctx, img.MIMEType, bytes.NewReader(img.Data))
}

// EncodeReader は r を読み切って data URI を組み立てます。
func EncodeReader(ctx context.Context, mimeType string, r io.Reader) (domain.EncodedImage, error) {
	if !strings.HasPrefix(mimeType, "image/") {
		return "", domain.NewFailure(domain.KindEncode, fmt.Sprintf("Unsupported image type %q", mimeType), domain.ErrEncode)
	}

	var sb strings.Builder
	sb.WriteString("data:")
	sb.WriteString(mimeType)
	sb.WriteString(";base64,")

	enc := base64.NewEncoder(base64.StdEncoding, &sb)
	buf := make([]byte, chunkSize)
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return "", domain.NewFailure(domain.KindEncode, "Image encoding was cancelled", err)
		}
		n, err := r.Read(buf)
		if n > 0 {
			total += n
			// strings.Builder への書き込みは失敗しない
			_, _ = enc.Write(buf[:n])
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", domain.NewFailure(domain.KindEncode, "Failed to read captured image", err)
		}
	}
	if total == 0 {
		return "", domain.NewFailure(domain.KindEncode, "Failed to read captured image", domain.ErrEncode)
	}
	if err := enc.Close(); err != nil {
		return "", domain.NewFailure(domain.KindEncode, "Failed to read captured image", err)
	}
	return domain.EncodedImage(sb.String()), nil
}

// Decode は data URI もしくは生の base64 文字列をバイト列に戻します。
// 生の base64 の場合、MIME タイプは内容から判定します。
func Decode(s string) (string, []byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil, ErrMalformed
	}

	if !strings.HasPrefix(s, "data:") {
		data, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return "", nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return http.DetectContentType(data), data, nil
	}

	head, payload, ok := strings.Cut(s[len("data:"):], ",")
	if !ok {
		return "", nil, fmt.Errorf("%w: missing payload separator", ErrMalformed)
	}
	mimeType, params, _ := strings.Cut(head, ";")
	if !strings.Contains(params, "base64") {
		return "", nil, fmt.Errorf("%w: only base64 payloads are supported", ErrMalformed)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return mimeType, data, nil
}

// IsImage は文字列がそのまま画像の表示元として使えるかを判定します。
func IsImage(s string) bool {
	mimeType, data, err := Decode(s)
	if err != nil || len(data) == 0 {
		return false
	}
	return strings.HasPrefix(mimeType, "image/")
}
