package httpserver

import (
	"net/url"
	"strings"
)

const fallbackFilename = "download"

// ContentDisposition builds an attachment header carrying an ASCII-only
// filename for old clients and the full UTF-8 name in filename*.
func ContentDisposition(name string) string {
	if name == "" {
		name = fallbackFilename
	}
	encoded := strings.ReplaceAll(url.QueryEscape(name), "+", "%20")
	return `attachment; filename="` + asciiFilename(name) + `"; filename*=UTF-8''` + encoded
}

func asciiFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r < 0x20 || r > 0x7E || r == '"' || r == '\\' {
			b.WriteByte('_')
			continue
		}
		b.WriteRune(r)
	}
	if b.Len() == 0 {
		return fallbackFilename
	}
	return b.String()
}
