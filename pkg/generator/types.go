package generator

import "time"

const (
	// DefaultModel は GeminiClient が既定で使う画像生成モデルです。
	DefaultModel = "gemini-2.5-flash-image"

	UseImageCompression     = true
	ImageCompressionQuality = 75

	// MaxInputEdge はモデルに送るスケッチの長辺の上限(px)です。
	MaxInputEdge = 1536

	// DefaultTimeout は HTTPClient の既定のタイムアウトです。
	DefaultTimeout = 2 * time.Minute
)

// 失敗理由。ユーザーにそのまま表示されます。
const (
	ReasonNetwork      = "Network error: could not reach the image generation service."
	ReasonInvalidJSON  = "Invalid response from image generation service"
	ReasonNoImage      = "Image generation service returned no image"
	ReasonNoDrawing    = "No drawing to send"
	reasonStatusFormat = "Image generation service returned status %d"
)

// ImageOutput はモデル応答から取り出した画像です。
type ImageOutput struct {
	Data     []byte
	MimeType string
	UsedSeed int64
}
