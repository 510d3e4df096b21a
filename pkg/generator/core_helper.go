package generator

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"strings"

	"github.com/shouni/go-gemini-client/pkg/gemini"
	"google.golang.org/genai"

	"github.com/kazuki-osada/internal-excali-banana/pkg/imgutil"
)

var (
	errInvalidResponse = errors.New("invalid response")
	errNoImageData     = errors.New("no image data")
)

// blockedError はモデルが生成を打ち切ったことを示します。
type blockedError struct {
	reason genai.FinishReason
}

func (e *blockedError) Error() string {
	return fmt.Sprintf("Image generation was blocked (%s)", e.reason)
}

// prepareImagePart はスケッチを長辺 MaxInputEdge 以内に縮小し、必要なら JPEG に圧縮します。
func (c *GeminiClient) prepareImagePart(data []byte) (*genai.Part, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("画像のデコードに失敗しました: %w", err)
	}

	finalData := data
	resized := false
	if b := img.Bounds(); b.Dx() > c.maxEdge || b.Dy() > c.maxEdge {
		img = imgutil.FitMaxEdge(img, c.maxEdge)
		resized = true
	}
	switch {
	case c.compress:
		if compressed, err := imgutil.EncodeJPEG(img, c.quality); err == nil {
			finalData = compressed
		}
	case resized:
		if finalData, err = imgutil.EncodePNG(img); err != nil {
			return nil, err
		}
	}

	part := toPart(finalData)
	if part == nil {
		return nil, fmt.Errorf("画像として認識できないデータです")
	}
	return part, nil
}

func toPart(data []byte) *genai.Part {
	mimeType := http.DetectContentType(data)
	if !strings.HasPrefix(mimeType, "image/") {
		return nil
	}
	return &genai.Part{InlineData: &genai.Blob{MIMEType: mimeType, Data: data}}
}

func parseToResponse(resp *gemini.Response, seed int64) (*ImageOutput, error) {
	if resp == nil || resp.RawResponse == nil || len(resp.RawResponse.Candidates) == 0 {
		return nil, errInvalidResponse
	}
	candidate := resp.RawResponse.Candidates[0]
	if candidate == nil {
		return nil, errInvalidResponse
	}
	if blocked(candidate.FinishReason) {
		return nil, &blockedError{reason: candidate.FinishReason}
	}
	if candidate.Content == nil {
		return nil, errNoImageData
	}
	for _, part := range candidate.Content.Parts {
		if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
			mime := part.InlineData.MIMEType
			if mime == "" {
				mime = http.DetectContentType(part.InlineData.Data)
			}
			return &ImageOutput{Data: part.InlineData.Data, MimeType: mime, UsedSeed: seed}, nil
		}
	}
	return nil, errNoImageData
}

func blocked(reason genai.FinishReason) bool {
	switch reason {
	case "", genai.FinishReasonStop, genai.FinishReasonUnspecified:
		return false
	}
	return true
}
