package media

import (
	"fmt"
	"strings"
)

// Kind classifies where a media candidate came from.
type Kind int

const (
	KindImage Kind = iota
	KindVideo
	KindSvg
	KindBackgroundImage
)

func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindSvg:
		return "svg"
	case KindBackgroundImage:
		return "background"
	default:
		return "image"
	}
}

// DefaultExtension is used when a file name has to be synthesised.
func (k Kind) DefaultExtension() string {
	switch k {
	case KindVideo:
		return ".mp4"
	case KindSvg:
		return ".svg"
	default:
		return ".jpg"
	}
}

// ParseKind accepts the names produced by Kind.String.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "image", "img":
		return KindImage, nil
	case "video":
		return KindVideo, nil
	case "svg":
		return KindSvg, nil
	case "background", "background-image", "bg":
		return KindBackgroundImage, nil
	}
	return KindImage, fmt.Errorf("unknown media kind %q", s)
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Mode selects the download strategy.
type Mode int

const (
	ModeNormal Mode = iota
	ModeCacheAssisted
	ModeCanvasExtraction
	ModeWebpToPNG
	ModeNextGen
)

var modeNames = map[Mode]string{
	ModeNormal:           "normal",
	ModeCacheAssisted:    "cache",
	ModeCanvasExtraction: "canvas",
	ModeWebpToPNG:        "webp-to-png",
	ModeNextGen:          "nextgen",
}

func (m Mode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return "normal"
}

// ParseMode maps a user supplied mode name. "avif" selects the next-gen codec path.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "normal", "default":
		return ModeNormal, nil
	case "cache", "cache-assisted":
		return ModeCacheAssisted, nil
	case "canvas":
		return ModeCanvasExtraction, nil
	case "webp-to-png", "webp", "png":
		return ModeWebpToPNG, nil
	case "nextgen", "next-gen", "avif":
		return ModeNextGen, nil
	}
	return ModeNormal, fmt.Errorf("unknown download mode %q", s)
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Candidate is a piece of media found on a page. SourceURL is always absolute.
type Candidate struct {
	SourceURL     string `json:"url"`
	Kind          Kind   `json:"kind"`
	DisplayWidth  int    `json:"width"`
	DisplayHeight int    `json:"height"`
	AltText       string `json:"alt,omitempty"`
}

// DownloadRequest is produced once per save action and crosses the context
// boundary as JSON.
type DownloadRequest struct {
	SourceURL      string            `json:"url"`
	TargetFilename string            `json:"filename"`
	Mode           Mode              `json:"mode"`
	Kind           Kind              `json:"kind"`
	Options        map[string]string `json:"options,omitempty"`
}

// FailureKind enumerates why a conversion attempt did not produce bytes.
type FailureKind int

const (
	FailureUnknown FailureKind = iota
	FailureTimeout
	FailureSizeLimitExceeded
	FailureUnsupportedFormat
	FailureDecodeError
	FailureTransport
)

func (k FailureKind) String() string {
	switch k {
	case FailureTimeout:
		return "timeout"
	case FailureSizeLimitExceeded:
		return "size-limit-exceeded"
	case FailureUnsupportedFormat:
		return "unsupported-format"
	case FailureDecodeError:
		return "decode-error"
	case FailureTransport:
		return "transport"
	default:
		return "unknown"
	}
}

func (k FailureKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *FailureKind) UnmarshalText(b []byte) error {
	for _, v := range []FailureKind{FailureTimeout, FailureSizeLimitExceeded, FailureUnsupportedFormat, FailureDecodeError, FailureTransport} {
		if v.String() == string(b) {
			*k = v
			return nil
		}
	}
	*k = FailureUnknown
	return nil
}

// Outcome is the result of one conversion attempt: Success or Failure.
type Outcome interface {
	outcome()
}

// Success carries converted bytes ready for the sink.
type Success struct {
	Data []byte
	MIME string
}

// Failure records why a conversion was abandoned.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

func (Success) outcome() {}
func (Failure) outcome() {}

func (f Failure) Error() string {
	if f.Message == "" {
		return f.Kind.String()
	}
	return f.Kind.String() + ": " + f.Message
}

// Failf builds a Failure with a formatted message.
func Failf(kind FailureKind, format string, args ...any) Failure {
	return Failure{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
