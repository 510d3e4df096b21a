package pipeline

import (
	"errors"

	"github.com/kazuki-osada/internal-excali-banana/pkg/domain"
)

// ユーザーに表示する固定の文言です。
const (
	EmptyCanvasNotice    = "Please draw something first!"
	CaptureFailedMessage = "Failed to capture drawing. Please try again."
	ExportFailedMessage  = "Failed to export image."
)

// Op は失敗した操作です。
type Op string

const (
	OpGenerate Op = "generate"
	OpExport   Op = "export"
)

// Error は Orchestrator が返すエラーです。Message はそのまま表示できます。
type Error struct {
	Op      Op
	Kind    domain.Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return domain.UnknownGenerationError
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op Op, kind domain.Kind, message string, err error) *Error {
	return &Error{Op: op, Kind: kind, Message: message, Err: err}
}

// fromFailure は生成の失敗をエラーに変換する唯一の箇所です。
func fromFailure(f *domain.Failure) *Error {
	return newError(OpGenerate, f.Kind, f.Error(), f)
}

// KindOf はエラーの分類を返します。
func KindOf(err error) domain.Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return domain.KindOf(err)
}
