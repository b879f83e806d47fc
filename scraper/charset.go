package scraper

import (
	"mime"
	"regexp"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
)

var metaCharset = regexp.MustCompile(`(?i)<meta[^>]+charset\s*=\s*["']?([a-z0-9_\-:.]+)`)

// sniffLimit bounds how far into the body a meta charset is looked for.
const sniffLimit = 2048

// toUTF8 converts HTML bodies whose charset is declared only in a meta tag.
// Charsets in the Content-Type header are already handled by the collector.
func toUTF8(body []byte, contentType string) []byte {
	if _, params, err := mime.ParseMediaType(contentType); err == nil && params["charset"] != "" {
		return body
	}
	if contentType != "" && !strings.Contains(strings.ToLower(contentType), "html") {
		return body
	}
	head := body
	if len(head) > sniffLimit {
		head = head[:sniffLimit]
	}
	m := metaCharset.FindSubmatch(head)
	if m == nil {
		return body
	}
	return convertToUTF8(body, string(m[1]))
}

func convertToUTF8(body []byte, charsetName string) []byte {
	charsetName = strings.ToLower(strings.TrimSpace(charsetName))
	if charsetName == "" || charsetName == "utf-8" || charsetName == "utf8" {
		return body
	}
	enc, err := htmlindex.Get(charsetName)
	if err != nil {
		return body
	}
	decoded, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return body
	}
	return decoded
}
