package domain

import (
	"context"
	"image"
)

// Theme はキャンバスの表示テーマです。
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// Element は Excalidraw 互換のベクター要素です。
// Points は X, Y からの相対座標で保持されます。
type Element struct {
	ID              string       `json:"id"`
	Type            string       `json:"type"`
	X               float64      `json:"x"`
	Y               float64      `json:"y"`
	Width           float64      `json:"width"`
	Height          float64      `json:"height"`
	Angle           float64      `json:"angle"`
	StrokeColor     string       `json:"strokeColor"`
	BackgroundColor string       `json:"backgroundColor"`
	FillStyle       string       `json:"fillStyle,omitempty"`
	StrokeWidth     float64      `json:"strokeWidth"`
	StrokeStyle     string       `json:"strokeStyle,omitempty"`
	Opacity         float64      `json:"opacity"`
	Points          [][2]float64 `json:"points,omitempty"`
	Text            string       `json:"text,omitempty"`
	FontSize        float64      `json:"fontSize,omitempty"`
	FileID          string       `json:"fileId,omitempty"`
	IsDeleted       bool         `json:"isDeleted"`
}

// AppState はエクスポートに影響する表示状態です。
type AppState struct {
	ViewBackgroundColor    string  `json:"viewBackgroundColor"`
	CurrentItemStrokeColor string  `json:"currentItemStrokeColor,omitempty"`
	Theme                  Theme   `json:"theme,omitempty"`
	ExportWithDarkMode     bool    `json:"exportWithDarkMode"`
	ExportScale            float64 `json:"exportScale,omitempty"`
}

// InitialAppState はテーマに応じた新規ボードの表示状態を返します。
func InitialAppState(theme Theme) AppState {
	if theme == ThemeDark {
		return AppState{
			ViewBackgroundColor:    "#1f2937",
			CurrentItemStrokeColor: "#ffffff",
			Theme:                  ThemeDark,
		}
	}
	return AppState{
		ViewBackgroundColor:    "#ffffff",
		CurrentItemStrokeColor: "#000000",
		Theme:                  ThemeLight,
	}
}

// BinaryFile は画像要素から参照される埋め込みファイルです。
type BinaryFile struct {
	ID       string `json:"id"`
	MIMEType string `json:"mimeType"`
	DataURL  string `json:"dataURL"`
	Created  int64  `json:"created,omitempty"`
}

// Scene は .excalidraw ファイルと同じ形のシーン文書です。
type Scene struct {
	Type     string                `json:"type"`
	Version  int                   `json:"version"`
	Source   string                `json:"source,omitempty"`
	Elements []Element             `json:"elements"`
	AppState AppState              `json:"appState"`
	Files    map[string]BinaryFile `json:"files,omitempty"`
}

// Canvas はマウント済みの描画面に載っている1枚のピクセルキャンバスです。
type Canvas struct {
	Class string
	Image image.Image
}

// Surface は描画面が現在表示しているピクセルを返します。
type Surface interface {
	Canvases(ctx context.Context) ([]Canvas, error)
}

// Board は描画面の読み取り能力です。呼び出しごとに明示的に渡されます。
type Board interface {
	Elements() []Element
	AppState() AppState
	Files() map[string]BinaryFile
	Reset()
}

// Mounted は画面にマウントされたピクセル面を持つ Board が実装します。
type Mounted interface {
	Surface() Surface
}

// Snapshot は1回のキャプチャのために取得した読み取り専用のコピーです。
type Snapshot struct {
	Elements []Element
	Files    map[string]BinaryFile
	AppState AppState
	Surface  Surface
}

// Snapshotter は全ての状態を1回のロックで読み出せる Board が実装します。
type Snapshotter interface {
	Snapshot() Snapshot
}

// TakeSnapshot は Board を一度だけ読み、削除済み要素を除いたコピーを返します。
// Board が Snapshotter を実装していればそちらを優先します。
func TakeSnapshot(b Board) Snapshot {
	if s, ok := b.(Snapshotter); ok {
		return s.Snapshot()
	}
	snap := Snapshot{
		Elements: LiveElements(b.Elements()),
		AppState: b.AppState(),
	}
	files := b.Files()
	snap.Files = make(map[string]BinaryFile, len(files))
	for id, f := range files {
		snap.Files[id] = f
	}
	if m, ok := b.(Mounted); ok {
		snap.Surface = m.Surface()
	}
	return snap
}

// LiveElements は削除済みでない要素だけを順序を保って返します。
func LiveElements(elements []Element) []Element {
	live := make([]Element, 0, len(elements))
	for _, el := range elements {
		if el.IsDeleted {
			continue
		}
		el.Points = append([][2]float64(nil), el.Points...)
		live = append(live, el)
	}
	return live
}
