package domain

import "errors"

// Kind は1回の生成試行で起こりうる失敗の分類です。
type Kind int

const (
	KindUnknown Kind = iota
	KindEmptyCanvas
	KindCapture
	KindEncode
	KindRemote
	KindTransport
	KindMisuse
)

func (k Kind) String() string {
	switch k {
	case KindEmptyCanvas:
		return "empty_canvas"
	case KindCapture:
		return "capture"
	case KindEncode:
		return "encode"
	case KindRemote:
		return "remote"
	case KindTransport:
		return "transport"
	case KindMisuse:
		return "misuse"
	default:
		return "unknown"
	}
}

var (
	ErrEmptyCanvas = errors.New("canvas is empty")
	ErrCapture     = errors.New("Failed to capture drawing")
	ErrEncode      = errors.New("failed to encode image")
	ErrRemote      = errors.New("image generation service reported a failure")
	ErrTransport   = errors.New("image generation service unreachable")
	ErrMisuse      = errors.New("invalid generation request")
)

// UnknownGenerationError は理由を持たない失敗に使われる文言です。
const UnknownGenerationError = "Unknown generation error"

// Failure は分類済みの失敗です。Reason はそのままユーザーに表示されます。
type Failure struct {
	Kind   Kind
	Reason string
	Err    error
}

// NewFailure は Failure を生成します。
func NewFailure(kind Kind, reason string, err error) *Failure {
	return &Failure{Kind: kind, Reason: reason, Err: err}
}

func (f *Failure) Error() string {
	if f.Reason == "" {
		return UnknownGenerationError
	}
	return f.Reason
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Is は Kind に対応する番兵エラーとの比較を可能にします。
func (f *Failure) Is(target error) bool {
	switch target {
	case ErrEmptyCanvas:
		return f.Kind == KindEmptyCanvas
	case ErrCapture:
		return f.Kind == KindCapture
	case ErrEncode:
		return f.Kind == KindEncode
	case ErrRemote:
		return f.Kind == KindRemote
	case ErrTransport:
		return f.Kind == KindTransport
	case ErrMisuse:
		return f.Kind == KindMisuse
	}
	return false
}

// KindOf はエラーチェーンから分類を取り出します。
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	switch {
	case errors.Is(err, ErrEmptyCanvas):
		return KindEmptyCanvas
	case errors.Is(err, ErrCapture):
		return KindCapture
	case errors.Is(err, ErrEncode):
		return KindEncode
	}
	return KindUnknown
}
