package media

import (
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// diskCache stores one file per URL under dir/<h0>/<h1>/<sha1>.bin.
// File layout: uint16 BE media type length, media type, body.
type diskCache struct {
	dir string
	max int64
	mu  sync.Mutex
}

func newDiskCache(dir string, max int64) *diskCache {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil
	}
	return &diskCache{dir: dir, max: max}
}

func (c *diskCache) key(url string) (string, string) {
	h := sha1.Sum([]byte(url))
	hx := hex.EncodeToString(h[:])
	dir := filepath.Join(c.dir, hx[0:1], hx[1:2])
	return dir, filepath.Join(dir, hx+".bin")
}

func (c *diskCache) get(url string) ([]byte, string, bool) {
	if c == nil {
		return nil, "", false
	}
	_, path := c.key(url)
	f, err := os.Open(path)
	if err != nil {
		return nil, "", false
	}
	defer f.Close()
	var hdr [2]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		return nil, "", false
	}
	mt := make([]byte, binary.BigEndian.Uint16(hdr[:]))
	if _, err := io.ReadFull(f, mt); err != nil {
		return nil, "", false
	}
	b, err := io.ReadAll(f)
	if err != nil || len(b) == 0 {
		return nil, "", false
	}
	now := time.Now()
	_ = os.Chtimes(path, now, now)
	return b, string(mt), true
}

func (c *diskCache) put(url string, data []byte, mime string) {
	if c == nil {
		return
	}
	if len(mime) > 0xFFFF {
		mime = ""
	}
	dir, path := c.key(url)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return
	}
	var hdr [2]byte
	binary.BigEndian.PutUint16(hdr[:], uint16(len(mime)))
	_, _ = f.Write(hdr[:])
	_, _ = f.Write([]byte(mime))
	_, _ = f.Write(data)
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return
	}
	_ = os.Rename(tmp, path)
	go c.prune()
}

func (c *diskCache) prune() {
	if c.max <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	type cached struct {
		p  string
		sz int64
		mt time.Time
	}
	var files []cached
	var total int64
	filepath.WalkDir(c.dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(p, ".bin") {
			return nil
		}
		if info, e := d.Info(); e == nil {
			files = append(files, cached{p, info.Size(), info.ModTime()})
			total += info.Size()
		}
		return nil
	})
	if total <= c.max {
		return
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mt.Before(files[j].mt) })
	for _, f := range files {
		if total <= c.max {
			break
		}
		_ = os.Remove(f.p)
		total -= f.sz
	}
}
