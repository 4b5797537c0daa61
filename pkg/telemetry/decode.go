package telemetry

import (
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding/htmlindex"
)

// minDetectConfidence is the lowest chardet confidence we trust.
const minDetectConfidence = 10

// SafeDecode turns bytes of unknown origin into a valid UTF-8 string.
// It tries UTF-8 first, then statistical charset detection, and finally
// lossy UTF-8 with replacement characters. It never fails.
func SafeDecode(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	if s, ok := detectAndDecode(b); ok {
		return s
	}
	return strings.ToValidUTF8(string(b), "�")
}

func detectAndDecode(b []byte) (s string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s, ok = "", false
		}
	}()

	res, err := chardet.NewTextDetector().DetectBest(b)
	if err != nil || res == nil || res.Confidence < minDetectConfidence {
		return "", false
	}

	enc, err := htmlindex.Get(res.Charset)
	if err != nil {
		return "", false
	}

	out, err := enc.NewDecoder().Bytes(b)
	if err != nil || !utf8.Valid(out) {
		return "", false
	}
	return string(out), true
}
