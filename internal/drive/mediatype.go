package drive

import (
	"mime"
	"path"
	"strings"
)

var mediaTypes = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"pdf":  "application/pdf",
	"doc":  "application/msword",
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"xls":  "application/vnd.ms-excel",
	"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"ppt":  "application/vnd.ms-powerpoint",
	"pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"txt":  "text/plain",
	"html": "text/html",
	"htm":  "text/html",
	"mp3":  "audio/mpeg",
	"mp4":  "video/mp4",
	"zip":  "application/zip",
	"rar":  "application/x-rar-compressed",
}

// DefaultMediaType is used when the extension is unknown.
const DefaultMediaType = "application/octet-stream"

// MediaTypeFor guesses a media type from the file name's extension.
func MediaTypeFor(name string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
	if ext == "" {
		return DefaultMediaType
	}
	if t, ok := mediaTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension("." + ext); t != "" {
		return t
	}
	return DefaultMediaType
}
