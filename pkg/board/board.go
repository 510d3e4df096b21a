// Package board は Excalidraw 互換のシーンを保持するインメモリの描画ボードです。
package board

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/shouni/go-remote-io/pkg/remoteio"

	"github.com/kazuki-osada/internal-excali-banana/pkg/domain"
)

const (
	// SceneType は .excalidraw ファイルの type フィールドの値です。
	SceneType = "excalidraw"
	// SceneVersion は書き出すシーンのバージョンです。
	SceneVersion = 2
	// SceneSource は書き出すシーンの source フィールドの値です。
	SceneSource = "excali-banana"
)

// Board は並行アクセスに安全な domain.Board の実装です。
type Board struct {
	mu       sync.RWMutex
	elements []domain.Element
	files    map[string]domain.BinaryFile
	appState domain.AppState
	surface  domain.Surface
}

// New はテーマに応じた初期状態の空のボードを作ります。
func New(theme domain.Theme) *Board {
	return &Board{
		files:    map[string]domain.BinaryFile{},
		appState: domain.InitialAppState(theme),
	}
}

// Elements は要素のコピーを返します。
func (b *Board) Elements() []domain.Element {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return copyElements(b.elements)
}

func (b *Board) AppState() domain.AppState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.appState
}

// Files は埋め込みファイルのコピーを返します。
func (b *Board) Files() map[string]domain.BinaryFile {
	b.mu.RLock()
	defer b.mu.RUnlock()
	files := make(map[string]domain.BinaryFile, len(b.files))
	for id, f := range b.files {
		files[id] = f
	}
	return files
}

// Reset は要素とファイルを消去します。表示状態とマウント済みの描画面は残ります。
func (b *Board) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.elements = nil
	b.files = map[string]domain.BinaryFile{}
}

// Load はシーンでボードの内容を置き換えます。
// appState の空の項目は現在の値を引き継ぎます。
func (b *Board) Load(scene domain.Scene) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.elements = copyElements(scene.Elements)
	b.files = make(map[string]domain.BinaryFile, len(scene.Files))
	for id, f := range scene.Files {
		b.files[id] = f
	}
	b.appState = mergeAppState(b.appState, scene.AppState)
}

// Scene は現在の内容をシーン文書として返します。
func (b *Board) Scene() domain.Scene {
	return domain.Scene{
		Type:     SceneType,
		Version:  SceneVersion,
		Source:   SceneSource,
		Elements: b.Elements(),
		AppState: b.AppState(),
		Files:    b.Files(),
	}
}

// Snapshot は要素とファイルと表示状態と描画面を1回の読み取りロックでコピーします。
// 削除済みの要素は含みません。
func (b *Board) Snapshot() domain.Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	files := make(map[string]domain.BinaryFile, len(b.files))
	for id, f := range b.files {
		files[id] = f
	}
	return domain.Snapshot{
		Elements: domain.LiveElements(b.elements),
		Files:    files,
		AppState: b.appState,
		Surface:  b.surface,
	}
}

// Mount は描画面を取り付けます。nil で取り外します。
func (b *Board) Mount(s domain.Surface) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.surface = s
}

// Surface はマウント済みの描画面を返します。未マウントなら nil です。
func (b *Board) Surface() domain.Surface {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.surface
}

// SetTheme はテーマを切り替えます。背景色と線の色も初期値に戻ります。
func (b *Board) SetTheme(theme domain.Theme) {
	b.mu.Lock()
	defer b.mu.Unlock()
	scale := b.appState.ExportScale
	b.appState = domain.InitialAppState(theme)
	b.appState.ExportScale = scale
}

// SetExportScale はエクスポート時の倍率を設定します。0 以下は無視します。
func (b *Board) SetExportScale(scale float64) {
	if scale <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.appState.ExportScale = scale
}

func mergeAppState(current, incoming domain.AppState) domain.AppState {
	if incoming.Theme != "" && incoming.Theme != current.Theme {
		current = domain.InitialAppState(incoming.Theme)
	}
	if incoming.ViewBackgroundColor != "" {
		current.ViewBackgroundColor = incoming.ViewBackgroundColor
	}
	if incoming.CurrentItemStrokeColor != "" {
		current.CurrentItemStrokeColor = incoming.CurrentItemStrokeColor
	}
	if incoming.ExportScale > 0 {
		current.ExportScale = incoming.ExportScale
	}
	current.ExportWithDarkMode = incoming.ExportWithDarkMode
	return current
}

func copyElements(elements []domain.Element) []domain.Element {
	if elements == nil {
		return nil
	}
	out := make([]domain.Element, len(elements))
	for i, el := range elements {
		el.Points = append([][2]float64(nil), el.Points...)
		out[i] = el
	}
	return out
}

// ParseScene は Excalidraw JSON を読み取ります。type が excalidraw でなければエラーです。
func ParseScene(data []byte) (domain.Scene, error) {
	var scene domain.Scene
	if err := json.Unmarshal(data, &scene); err != nil {
		return domain.Scene{}, fmt.Errorf("シーンJSONの解析に失敗しました: %w", err)
	}
	if scene.Type != SceneType {
		return domain.Scene{}, fmt.Errorf("サポートされていないシーン形式です: %q", scene.Type)
	}
	return scene, nil
}

// ReadScene は r からシーンを読み取ります。
func ReadScene(r io.Reader) (domain.Scene, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return domain.Scene{}, fmt.Errorf("シーンの読み込みに失敗しました: %w", err)
	}
	return ParseScene(data)
}

// LoadFile は .excalidraw ファイルを読み込んだボードを返します。
// path にはローカルパスのほか gs:// や s3:// の URI も指定できます。
// reader が nil ならローカルファイルだけを読めるリーダーを使います。
func LoadFile(ctx context.Context, reader remoteio.InputReader, path string, theme domain.Theme) (*Board, error) {
	if reader == nil {
		reader = remoteio.NewUniversalInputReader(nil, nil)
	}
	f, err := reader.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("シーンファイルを開けません: %w", err)
	}
	defer f.Close()

	scene, err := ReadScene(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	b := New(theme)
	b.Load(scene)
	return b, nil
}

// MarshalScene はシーンを整形済み JSON にします。
func MarshalScene(scene domain.Scene) ([]byte, error) {
	return json.MarshalIndent(scene, "", "  ")
}
