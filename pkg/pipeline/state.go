package pipeline

// State は1回の生成試行の進行状態です。
type State int32

const (
	StateIdle State = iota
	StateCapturing
	StateEncoding
	StateRequesting
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StateEncoding:
		return "encoding"
	case StateRequesting:
		return "requesting"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Busy は試行が進行中かどうかを返します。
func (s State) Busy() bool {
	return s == StateCapturing || s == StateEncoding || s == StateRequesting
}
