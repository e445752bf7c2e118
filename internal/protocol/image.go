package protocol

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var ErrInvalidImage = errors.New("invalid image payload")

var base64Encodings = []*base64.Encoding{
	base64.StdEncoding,
	base64.RawStdEncoding,
	base64.URLEncoding,
	base64.RawURLEncoding,
}

// DecodeImagePayload turns a base64 image, optionally prefixed with a
// "data:<mime>;base64," header, into raw encoded bytes. The returned MIME type
// comes from the header when present and is sniffed otherwise.
func DecodeImagePayload(payload string) ([]byte, string, error) {
	s := strings.TrimSpace(payload)
	mimeType := ""
	if strings.HasPrefix(strings.ToLower(s), "data:") {
		comma := strings.IndexByte(s, ',')
		if comma < 0 {
			return nil, "", fmt.Errorf("%w: data URI without payload", ErrInvalidImage)
		}
		header := s[len("data:"):comma]
		if !strings.HasSuffix(strings.ToLower(header), ";base64") {
			return nil, "", fmt.Errorf("%w: data URI is not base64", ErrInvalidImage)
		}
		mimeType = strings.TrimSpace(header[:len(header)-len(";base64")])
		s = s[comma+1:]
	}
	s = stripWhitespace(s)
	if s == "" {
		return nil, "", fmt.Errorf("%w: empty image data", ErrInvalidImage)
	}

	var (
		data []byte
		err  error
	)
	for _, enc := range base64Encodings {
		data, err = enc.DecodeString(s)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty image data", ErrInvalidImage)
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return data, mimeType, nil
}

func stripWhitespace(s string) string {
	if !strings.ContainsAny(s, " \t\r\n") {
		return s
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, s)
}
