package offline

import (
	"encoding/base64"
	"errors"
	"mime"
	"net/http"
	"strings"
)

// ErrBadPayload is returned by [DecodeDataURL] for a malformed payload.
var ErrBadPayload = errors.New("offline: malformed data URL")

// EncodeDataURL renders data as a base64 data URL. An empty or generic
// contentType is replaced by one sniffed from the bytes.
func EncodeDataURL(data []byte, contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil || mt == "" || mt == "application/octet-stream" {
		mt, _, _ = mime.ParseMediaType(http.DetectContentType(data))
	}
	var b strings.Builder
	b.Grow(len("data:;base64,") + len(mt) + base64.StdEncoding.EncodedLen(len(data)))
	b.WriteString("data:")
	b.WriteString(mt)
	b.WriteString(";base64,")
	b.WriteString(base64.StdEncoding.EncodeToString(data))
	return b.String()
}

// DecodeDataURL reverses [EncodeDataURL].
func DecodeDataURL(payload string) (data []byte, contentType string, err error) {
	rest, ok := strings.CutPrefix(payload, "data:")
	if !ok {
		return nil, "", ErrBadPayload
	}
	meta, body, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", ErrBadPayload
	}
	contentType, ok = strings.CutSuffix(meta, ";base64")
	if !ok {
		return nil, "", ErrBadPayload
	}
	data, err = base64.StdEncoding.DecodeString(body)
	if err != nil {
		return nil, "", errors.Join(ErrBadPayload, err)
	}
	return data, contentType, nil
}
