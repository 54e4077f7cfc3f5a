package bus

import (
	"hoversave/media"
)

// RasterizeRequest asks the page context to draw an image onto a surface and
// export it.
type RasterizeRequest struct {
	URL    string `json:"url"`
	Format string `json:"format"`
}

// RasterizeReply carries the exported image as a data: URI.
type RasterizeReply struct {
	DataURI string `json:"dataUri"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
}

// ScanReply lists the media found on the page.
type ScanReply struct {
	URL        string            `json:"url"`
	Candidates []media.Candidate `json:"candidates"`
}

// DownloadReply reports how a download request was carried out.
type DownloadReply struct {
	Handle   string         `json:"handle,omitempty"`
	Mode     media.Mode     `json:"mode"`
	Filename string         `json:"filename,omitempty"`
	Fallback *media.Failure `json:"fallback,omitempty"`
	Error    string         `json:"error,omitempty"`
}
