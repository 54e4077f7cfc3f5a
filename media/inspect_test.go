package media

import "testing"

func TestInspect(t *testing.T) {
	jpg := jpegBytes(t, 40, 30)
	in := Inspect(&Response{URL: "https://ex.com/a.JPG?x=1", Status: 206, MIME: "image/jpeg", Data: jpg[:200], Truncated: true})
	if in.Format != "jpeg" || in.Width != 40 || in.Height != 30 {
		t.Fatalf("jpeg header = %s %dx%d", in.Format, in.Width, in.Height)
	}
	if !in.JPEGLike || in.WebP || in.Animation != "" {
		t.Fatalf("unexpected jpeg verdicts: %+v", in)
	}

	buf := webpFile(vp8x(0x02), riffChunk("ANIM", make([]byte, 6)))
	in = Inspect(&Response{URL: "https://ex.com/b.webp", Status: 200, Data: buf})
	if !in.WebP || !in.WebPLike || in.Animation != "animated" {
		t.Fatalf("webp verdicts: %+v", in)
	}
	if len(in.Chunks) != 2 || in.Chunks[0][:4] != "VP8X" {
		t.Fatalf("chunks = %v", in.Chunks)
	}
}
