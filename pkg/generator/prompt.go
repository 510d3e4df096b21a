package generator

import "strings"

// DefaultPrompt はスケッチを完成したイラストに変換させる既定の指示です。
const DefaultPrompt = `Transform this rough sketch into a polished, high-quality image.
Keep the composition, the layout and the main shapes of the drawing.
Interpret simple strokes as the objects they most likely represent and render them with vivid colors, lighting and detail.`

// SystemPrompt はモデルの振る舞いを固定するシステム指示です。
const SystemPrompt = "You are an illustrator who turns hand-drawn whiteboard sketches into finished artwork. Always answer with an image."

// BuildPrompt は既定の指示に任意の追加指示を付け加えます。
func BuildPrompt(customPrompt string) string {
	custom := strings.TrimSpace(customPrompt)
	if custom == "" {
		return DefaultPrompt
	}
	var b strings.Builder
	b.WriteString(DefaultPrompt)
	b.WriteString("\n\nAdditional instructions from the user:\n")
	b.WriteString(custom)
	return b.String()
}
