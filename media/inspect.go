package media

// Inspection is what can be learned about an image from a (possibly ranged)
// fetch of its leading bytes, without decoding pixels.
type Inspection struct {
	URL       string   `json:"url"`
	Status    int      `json:"status"`
	MIME      string   `json:"mime"`
	Bytes     int      `json:"bytes"`
	Truncated bool     `json:"truncated"`
	Format    string   `json:"format,omitempty"`
	Width     int      `json:"width,omitempty"`
	Height    int      `json:"height,omitempty"`
	WebP      bool     `json:"webp"`
	WebPLike  bool     `json:"webp_like"`
	JPEGLike  bool     `json:"jpeg_like"`
	Animation string   `json:"animation,omitempty"`
	Chunks    []string `json:"chunks,omitempty"`
}

// Inspect summarises r.
func Inspect(r *Response) Inspection {
	in := Inspection{
		URL:       r.URL,
		Status:    r.Status,
		MIME:      r.MIME,
		Bytes:     len(r.Data),
		Truncated: r.Truncated,
		WebP:      IsWebP(r.Data),
		WebPLike:  IsWebPLike(r.URL),
		JPEGLike:  IsJPEGLike(r.URL),
	}
	if w, h, format, err := ImageSize(r.Data); err == nil {
		in.Width, in.Height, in.Format = w, h, format
	}
	if in.WebP {
		in.Animation = IsAnimated(r.Data, r.Truncated).String()
		for _, c := range Chunks(r.Data) {
			in.Chunks = append(in.Chunks, c.String())
		}
	}
	return in
}
