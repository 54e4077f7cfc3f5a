package media

import (
	"encoding/binary"
	"fmt"
)

// Animation is the verdict of the WebP container inspection.
type Animation int

const (
	AnimationStatic Animation = iota
	AnimationAnimated
	// AnimationUnknown is returned when a truncated buffer ran out before
	// anything was decided. Callers must treat it as animated.
	AnimationUnknown
)

func (a Animation) String() string {
	switch a {
	case AnimationAnimated:
		return "animated"
	case AnimationUnknown:
		return "unknown"
	default:
		return "static"
	}
}

// MaybeAnimated reports whether conversion must be skipped.
func (a Animation) MaybeAnimated() bool { return a != AnimationStatic }

const (
	riffHeaderLen  = 12
	chunkHeaderLen = 8
	vp8xAnimFlag   = 0x02
)

// WebpChunk describes one RIFF chunk inside a WebP container.
type WebpChunk struct {
	FourCC        [4]byte
	Size          uint32
	PayloadOffset int
}

func (c WebpChunk) String() string {
	return fmt.Sprintf("%s size=%d at=%d", string(c.FourCC[:]), c.Size, c.PayloadOffset)
}

// IsWebP checks the RIFF/WEBP signature.
func IsWebP(b []byte) bool {
	return len(b) >= riffHeaderLen && string(b[0:4]) == "RIFF" && string(b[8:12]) == "WEBP"
}

// IsAnimated inspects the container without decoding pixels. truncated says
// whether b is only a prefix of the resource (ranged fetch).
//
// A simple-format file (first chunk "VP8 " or "VP8L") cannot carry animation.
// An extended file is animated when the VP8X animation flag is set or an
// ANIM/ANMF chunk appears; a clear VP8X flag decides static when the buffer
// runs out before any contrary chunk.
func IsAnimated(b []byte, truncated bool) Animation {
	if len(b) < riffHeaderLen {
		if truncated {
			return AnimationUnknown
		}
		return AnimationStatic
	}
	if !IsWebP(b) {
		return AnimationStatic
	}
	decided := false
	off := riffHeaderLen
	for off+chunkHeaderLen <= len(b) {
		cc := string(b[off : off+4])
		size := binary.LittleEndian.Uint32(b[off+4 : off+8])
		switch cc {
		case "VP8X":
			flags := off + chunkHeaderLen
			if flags >= len(b) {
				if truncated {
					return AnimationUnknown
				}
				return AnimationStatic
			}
			if b[flags]&vp8xAnimFlag != 0 {
				return AnimationAnimated
			}
			decided = true
		case "ANIM", "ANMF":
			return AnimationAnimated
		case "VP8 ", "VP8L":
			if off == riffHeaderLen {
				return AnimationStatic
			}
		}
		if size == 0 {
			return AnimationStatic
		}
		next, ok := nextChunk(off, size, len(b))
		if !ok {
			break
		}
		off = next
	}
	if truncated && !decided {
		return AnimationUnknown
	}
	return AnimationStatic
}

// Chunks lists the chunks that fit into b. It stops at the first zero-sized
// chunk or when no further header fits.
func Chunks(b []byte) []WebpChunk {
	if !IsWebP(b) {
		return nil
	}
	var out []WebpChunk
	off := riffHeaderLen
	for off+chunkHeaderLen <= len(b) {
		var c WebpChunk
		copy(c.FourCC[:], b[off:off+4])
		c.Size = binary.LittleEndian.Uint32(b[off+4 : off+8])
		c.PayloadOffset = off + chunkHeaderLen
		out = append(out, c)
		if c.Size == 0 {
			break
		}
		next, ok := nextChunk(off, c.Size, len(b))
		if !ok {
			break
		}
		off = next
	}
	return out
}

// nextChunk returns the offset after the chunk at off, or false when it ends
// past n. The sum is done in 64 bits so a hostile size cannot wrap int.
func nextChunk(off int, size uint32, n int) (int, bool) {
	end := uint64(off) + chunkHeaderLen + uint64(size) + uint64(size&1)
	if end > uint64(n) {
		return 0, false
	}
	return int(end), true
}
