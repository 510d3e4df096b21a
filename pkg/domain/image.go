package domain

import (
	"encoding/json"
	"strings"
)

// RasterImage はキャプチャ結果のピクセルデータです。Strategy は生成した戦略名です。
type RasterImage struct {
	Data     []byte
	MIMEType string
	Width    int
	Height   int
	Strategy string
}

// EncodedImage は data URI 形式の画像です。
type EncodedImage string

func (e EncodedImage) String() string {
	return string(e)
}

// MIMEType は data URI のプレフィックスから MIME タイプを返します。
// data URI でない場合は空文字です。
func (e EncodedImage) MIMEType() string {
	s := string(e)
	if !strings.HasPrefix(s, "data:") {
		return ""
	}
	head, _, ok := strings.Cut(s[len("data:"):], ",")
	if !ok {
		return ""
	}
	mime, _, _ := strings.Cut(head, ";")
	return mime
}

// GenerateImageOptions はリモート生成サービスへのリクエスト本文です。
type GenerateImageOptions struct {
	ImageData    string `json:"imageData"`
	CustomPrompt string `json:"customPrompt,omitempty"`
}

// GenerateImageResult はリモート生成サービスのレスポンス本文です。
type GenerateImageResult struct {
	Success     bool   `json:"success"`
	ImageBase64 string `json:"imageBase64,omitempty"`
	Error       string `json:"error,omitempty"`
}

// GenerationRequest は生成要求です。生成後は変更できません。
type GenerationRequest struct {
	imageData    EncodedImage
	customPrompt string
}

// NewGenerationRequest は空白だけのプロンプトを未指定として扱います。
func NewGenerationRequest(imageData EncodedImage, customPrompt string) GenerationRequest {
	return GenerationRequest{
		imageData:    imageData,
		customPrompt: strings.TrimSpace(customPrompt),
	}
}

func (r GenerationRequest) ImageData() EncodedImage {
	return r.imageData
}

func (r GenerationRequest) CustomPrompt() string {
	return r.customPrompt
}

// Options はワイヤ形式に変換します。
func (r GenerationRequest) Options() GenerateImageOptions {
	return GenerateImageOptions{
		ImageData:    string(r.imageData),
		CustomPrompt: r.customPrompt,
	}
}

func (r GenerationRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Options())
}

// Outcome は生成結果のタグ付きユニオンです。Failure が nil なら成功です。
type Outcome struct {
	ImageBase64 string
	Failure     *Failure
}

// Succeeded は成功結果を返します。
func Succeeded(imageBase64 string) Outcome {
	return Outcome{ImageBase64: imageBase64}
}

// Failed は失敗結果を返します。
func Failed(kind Kind, reason string, err error) Outcome {
	return Outcome{Failure: NewFailure(kind, reason, err)}
}

func (o Outcome) OK() bool {
	return o.Failure == nil
}

// Result はワイヤ形式のレスポンスに変換します。
func (o Outcome) Result() GenerateImageResult {
	if o.OK() {
		return GenerateImageResult{Success: true, ImageBase64: o.ImageBase64}
	}
	return GenerateImageResult{Success: false, Error: o.Failure.Error()}
}
