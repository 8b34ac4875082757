package imageresult

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes carried by ProcessingError.
const (
	CodeProcessing   = "IMAGE_PROCESSING_ERROR"
	CodeValidation   = "IMAGE_VALIDATION_ERROR"
	CodeSize         = "IMAGE_SIZE_ERROR"
	CodeEncoding     = "BASE64_ENCODING_ERROR"
	CodeFallback     = "FALLBACK_FAILED"
	CodeAllFallbacks = "ALL_FALLBACKS_FAILED"
)

var (
	ErrValidation = errors.New("image validation failed")
	ErrSize       = errors.New("image too large for inline encoding")
	ErrEncoding   = errors.New("base64 encoding failed")
	ErrFallback   = errors.New("url fallback not available")
)

var codeSentinels = map[string]error{
	CodeValidation: ErrValidation,
	CodeSize:       ErrSize,
	CodeEncoding:   ErrEncoding,
	CodeFallback:   ErrFallback,
}

// ProcessingError is a failure to turn an image into a result. Reasons lists
// every attempt that failed on the way, in order.
type ProcessingError struct {
	Code    string
	Message string
	SizeMB  float64
	Reasons []string
	Err     error
}

func (e *ProcessingError) Error() string {
	switch {
	case len(e.Reasons) > 0:
		return e.Message + ": " + strings.Join(e.Reasons, "; ")
	case e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	default:
		return e.Message
	}
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for this error's own code.
func (e *ProcessingError) Is(target error) bool {
	sentinel, ok := codeSentinels[e.Code]
	return ok && sentinel == target
}

func newError(code string, err error, format string, args ...interface{}) *ProcessingError {
	return &ProcessingError{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// FriendlyError is the user-facing rendering of a ProcessingError.
type FriendlyError struct {
	Code             string
	TechnicalMessage string
	UserMessage      string
	Suggestion       string
	Retryable        bool
	Original         string
}

type userText struct {
	message    string
	suggestion string
	retryable  bool
}

// UserMessage maps err to the message shown to end users. maxMB is the
// configured inline size limit quoted in the size message.
func UserMessage(err error, maxMB float64) FriendlyError {
	code := CodeProcessing
	var pe *ProcessingError
	if errors.As(err, &pe) {
		code = pe.Code
	}

	text, ok := userTexts(maxMB)[code]
	if !ok {
		text = userText{
			message:    "予期しないエラーが発生しました。",
			suggestion: "しばらく時間をおいて再試行してください。",
			retryable:  true,
		}
	}

	fe := FriendlyError{
		Code:             code,
		TechnicalMessage: err.Error(),
		UserMessage:      text.message,
		Suggestion:       text.suggestion,
		Retryable:        text.retryable,
	}
	if pe != nil && pe.Err != nil {
		fe.Original = pe.Err.Error()
	}
	return fe
}

func userTexts(maxMB float64) map[string]userText {
	return map[string]userText{
		CodeEncoding: {
			message:    "画像の処理中にエラーが発生しました。",
			suggestion: "別の画像を試すか、しばらく時間をおいて再試行してください。",
			retryable:  true,
		},
		CodeSize: {
			message:    fmt.Sprintf("画像ファイルが大きすぎます（制限: %gMB）。", maxMB),
			suggestion: "より小さな画像を使用するか、画像を圧縮してください。",
			retryable:  false,
		},
		CodeValidation: {
			message:    "サポートされていない画像形式です。",
			suggestion: "JPEG、PNG、GIF、BMP、WebP形式の画像を使用してください。",
			retryable:  false,
		},
		CodeFallback: {
			message:    "画像の処理に失敗しました。",
			suggestion: "画像ファイルが破損していないか確認し、再試行してください。",
			retryable:  true,
		},
		CodeAllFallbacks: {
			message:    "画像の処理ができませんでした。",
			suggestion: "別の画像を使用するか、サポートにお問い合わせください。",
			retryable:  false,
		},
	}
}
