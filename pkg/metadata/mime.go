package metadata

import (
	"path"
	"strings"
)

// DefaultContentType is used when no Content-Type is supplied and the
// extension is unknown.
const DefaultContentType = "application/octet-stream"

var mimeByExt = map[string]string{
	".txt":  "text/plain",
	".html": "text/html",
	".htm":  "text/html",
	".css":  "text/css",
	".csv":  "text/csv",
	".js":   "text/javascript",
	".json": "application/json",
	".xml":  "application/xml",
	".pdf":  "application/pdf",
	".zip":  "application/zip",
	".gz":   "application/gzip",
	".tar":  "application/x-tar",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".svg":  "image/svg+xml",
	".ico":  "image/x-icon",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".woff": "font/woff",
	".woff2": "font/woff2",
	".wasm": "application/wasm",
}

// ResolveContentType picks the content type for a PUT: the request header
// wins, then the extension table, then DefaultContentType.
func ResolveContentType(header, key string) string {
	if header != "" {
		return header
	}
	if t, ok := mimeByExt[strings.ToLower(path.Ext(key))]; ok {
		return t
	}
	return DefaultContentType
}
