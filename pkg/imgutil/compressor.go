package imgutil

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
)

// EncodeJPEG は img を白背景に合成して JPEG にします。quality は 1〜100 に丸めます。
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	switch {
	case quality < 1:
		quality = 1
	case quality > 100:
		quality = 100
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, Flatten(img, White), &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("JPEGへのエンコードに失敗しました: %w", err)
	}
	return buf.Bytes(), nil
}
