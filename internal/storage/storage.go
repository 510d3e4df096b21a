// Package storage はエクスポート画像と生成画像を保存します。
// 保存先はローカルディレクトリか gs:// のプレフィックスです。
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shouni/go-remote-io/pkg/remoteio"
)

// ErrInvalidPath は保存先の外を指すパスです。
var ErrInvalidPath = errors.New("invalid storage path")

type FileStorage interface {
	// Save は name に data を書き込み、実際の保存先を返します。
	Save(ctx context.Context, name string, data io.Reader, contentType string) (string, error)
}

type fileStorage struct {
	base   string
	writer remoteio.OutputWriter
}

// NewFileStorage は base 以下に書き込む FileStorage を作ります。
// writer が nil ならローカルにだけ書き込めるライターを使います。
func NewFileStorage(base string, writer remoteio.OutputWriter) FileStorage {
	if writer == nil {
		writer = remoteio.NewUniversalIOWriter(nil, nil)
	}
	return &fileStorage{base: base, writer: writer}
}

func (s *fileStorage) resolve(name string) (string, error) {
	clean := path.Clean("/" + filepath.ToSlash(name))
	if clean == "/" {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, name)
	}
	if remoteio.IsRemoteURI(s.base) {
		return strings.TrimSuffix(s.base, "/") + clean, nil
	}
	full := filepath.Join(s.base, filepath.FromSlash(clean))
	rel, err := filepath.Rel(s.base, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, name)
	}
	return full, nil
}

// Save はローカルの場合、一時ファイルに書き込んでから置き換えるため、途中で失敗しても既存のファイルは壊れません。
func (s *fileStorage) Save(ctx context.Context, name string, data io.Reader, contentType string) (string, error) {
	dest, err := s.resolve(name)
	if err != nil {
		return "", err
	}
	if remoteio.IsRemoteURI(dest) {
		if err := s.writer.Write(ctx, dest, data, contentType); err != nil {
			return "", fmt.Errorf("%s への保存に失敗しました: %w", dest, err)
		}
		return dest, nil
	}

	tmp := filepath.Join(filepath.Dir(dest), ".tmp-"+uuid.NewString())
	defer os.Remove(tmp)
	if err := s.writer.Write(ctx, tmp, data, contentType); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// ExportFileName はエクスポート画像のファイル名です。
func ExportFileName(t time.Time) string {
	return fmt.Sprintf("excali-banana-%d.png", t.UnixMilli())
}

// ResultFileName は生成画像のダウンロード用ファイル名です。
func ResultFileName(t time.Time) string {
	return fmt.Sprintf("banana-magic-%d.png", t.UnixMilli())
}
