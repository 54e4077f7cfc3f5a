// Package sink is the platform download facility: it turns a URL or a byte
// payload into a file in the downloads directory and keeps a history of
// what was saved.
package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"hoversave/media"
)

// ErrEmpty is returned for an item with neither a URL nor data, or whose
// body turned out empty.
var ErrEmpty = errors.New("sink: nothing to download")

// Handle identifies an accepted download.
type Handle string

// Item is one download. Exactly one of URL or Data is normally set; with
// Data, URL is kept for bookkeeping only.
type Item struct {
	URL      string
	Data     []byte
	MIME     string
	Filename string
	// SaveAs asks for an interactive location prompt; file sinks ignore it.
	SaveAs bool
	Mode   media.Mode
}

// Sink accepts downloads.
type Sink interface {
	Download(ctx context.Context, it Item) (Handle, error)
}

type FileSinkConfig struct {
	Dir     string
	Fetcher *media.Fetcher
	History *History
	Logger  zerolog.Logger
	Clock   func() time.Time
}

// FileSink writes downloads into a directory.
type FileSink struct {
	dir     string
	fetcher *media.Fetcher
	history *History
	log     zerolog.Logger
	clock   func() time.Time

	// reserve serialises picking a free name
	reserve sync.Mutex
}

func NewFileSink(cfg FileSinkConfig) (*FileSink, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, errors.New("sink: downloads directory not set")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("sink: create %s: %w", cfg.Dir, err)
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &FileSink{
		dir:     cfg.Dir,
		fetcher: cfg.Fetcher,
		history: cfg.History,
		log:     cfg.Logger.With().Str("component", "sink").Logger(),
		clock:   cfg.Clock,
	}, nil
}

// Dir is the downloads directory.
func (s *FileSink) Dir() string { return s.dir }

func (s *FileSink) Download(ctx context.Context, it Item) (Handle, error) {
	data, mt, err := s.body(ctx, it)
	if err != nil {
		return "", err
	}
	if len(data) == 0 {
		return "", ErrEmpty
	}
	name := strings.TrimSpace(it.Filename)
	if name == "" {
		name = media.FilenameFor(it.URL, kindForMIME(mt), s.clock())
	}
	name = media.SanitizeFilename(name)
	if name == "" || name == "." || name == ".." {
		name = media.SynthesizedName(kindForMIME(mt), s.clock())
	}

	path, err := s.write(name, data)
	if err != nil {
		return "", err
	}
	h := Handle(uuid.NewString())
	s.log.Info().Str("handle", string(h)).Str("path", path).Int("bytes", len(data)).Msg("download stored")

	if s.history != nil {
		rec := DownloadRecord{
			ID:       string(h),
			URL:      recordURL(it.URL),
			Filename: filepath.Base(path),
			Path:     path,
			Mode:     it.Mode.String(),
			MIME:     mt,
			Bytes:    int64(len(data)),
		}
		if err := s.history.Record(ctx, rec); err != nil {
			s.log.Warn().Err(err).Str("handle", string(h)).Msg("history not recorded")
		}
	}
	return h, nil
}

func (s *FileSink) body(ctx context.Context, it Item) ([]byte, string, error) {
	if it.Data != nil {
		return it.Data, media.SniffMIME(it.Data, it.MIME), nil
	}
	if strings.TrimSpace(it.URL) == "" {
		return nil, "", ErrEmpty
	}
	if strings.HasPrefix(it.URL, "data:") {
		data, mt, err := media.DecodeDataURI(it.URL)
		if err != nil {
			return nil, "", fmt.Errorf("sink: %w", err)
		}
		return data, mt, nil
	}
	if s.fetcher == nil {
		return nil, "", errors.New("sink: no fetcher for url downloads")
	}
	resp, err := s.fetcher.Get(ctx, it.URL, "")
	if err != nil {
		return nil, "", fmt.Errorf("sink: %w", err)
	}
	return resp.Data, resp.MIME, nil
}

// write stores data under a free variant of name and returns the final path.
// The final name is claimed with O_EXCL before the body lands via rename.
func (s *FileSink) write(name string, data []byte) (string, error) {
	s.reserve.Lock()
	path, err := s.claim(name)
	s.reserve.Unlock()
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.dir, ".hoversave-*")
	if err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("sink: temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmp.Name())
		_ = os.Remove(path)
		return "", fmt.Errorf("sink: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		_ = os.Remove(path)
		return "", fmt.Errorf("sink: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		_ = os.Remove(path)
		return "", fmt.Errorf("sink: rename: %w", err)
	}
	return path, nil
}

func (s *FileSink) claim(name string) (string, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 0; i < 10000; i++ {
		candidate := name
		if i > 0 {
			candidate = numbered(stem, ext, i)
		}
		path := filepath.Join(s.dir, candidate)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			f.Close()
			return path, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("sink: create %s: %w", candidate, err)
		}
	}
	return "", fmt.Errorf("sink: no free name for %s", name)
}

// numbered appends " (i)" to stem, shortening stem so the result stays
// within media.MaxFilenameRunes.
func numbered(stem, ext string, i int) string {
	suffix := " (" + strconv.Itoa(i) + ")"
	keep := media.MaxFilenameRunes - utf8.RuneCountInString(suffix) - utf8.RuneCountInString(ext)
	if keep < 1 {
		stem, ext = stem+ext, ""
		keep = media.MaxFilenameRunes - utf8.RuneCountInString(suffix)
	}
	if rs := []rune(stem); len(rs) > keep {
		stem = string(rs[:keep])
	}
	return stem + suffix + ext
}

func kindForMIME(mt string) media.Kind {
	switch {
	case strings.HasPrefix(mt, "video/"):
		return media.KindVideo
	case mt == "image/svg+xml":
		return media.KindSvg
	}
	return media.KindImage
}

// recordURL keeps history rows readable when the source was inline data.
func recordURL(u string) string {
	if strings.HasPrefix(u, "data:") {
		if i := strings.IndexByte(u, ','); i > 0 {
			return u[:i] + ",…"
		}
	}
	return u
}
