package artifact

import (
	"path"
	"strings"
)

const (
	defaultStem = "output"
	idPrefixLen = 8
)

// DownloadFilename names the output after the uploaded file, e.g.
// "track.wav" for job "abc12345..." gives "track_abc12345.wav".
func DownloadFilename(originalFilename *string, jobID string) string {
	stem := defaultStem
	if originalFilename != nil {
		base := path.Base(strings.ReplaceAll(*originalFilename, "\\", "/"))
		if s := strings.TrimSuffix(base, path.Ext(base)); s != "" && s != "." && s != "/" {
			stem = s
		}
	}
	short := jobID
	if len(short) > idPrefixLen {
		short = short[:idPrefixLen]
	}
	return stem + "_" + short + ".wav"
}

// ContentDisposition builds an RFC 5987 attachment header value.
func ContentDisposition(filename string) string {
	return "attachment; filename*=UTF-8''" + percentEncode(filename)
}

const upperhex = "0123456789ABCDEF"

func unreserved(c byte) bool {
	switch {
	case 'A' <= c && c <= 'Z', 'a' <= c && c <= 'z', '0' <= c && c <= '9':
		return true
	}
	return c == '-' || c == '.' || c == '_' || c == '~'
}

func percentEncode(s string) string {
	var b strings.Builder
	b.Grow(len(s) * 3)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if unreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperhex[c>>4])
		b.WriteByte(upperhex[c&15])
	}
	return b.String()
}
