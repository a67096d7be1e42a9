package middleware

import (
	"net/http"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
)

// brotliMinLength is the smallest body worth compressing. Exam payloads
// (question sets, summaries) clear this easily; tick acks do not.
const brotliMinLength = 1024

type brotliWriter struct {
	gin.ResponseWriter
	bw         *brotli.Writer
	buf        []byte
	once       sync.Once
	compressed bool
}

func (w *brotliWriter) Write(data []byte) (int, error) {
	w.buf = append(w.buf, data...)
	if len(w.buf) < brotliMinLength {
		return len(data), nil
	}
	w.once.Do(func() {
		w.compressed = true
		w.ResponseWriter.Header().Set("Content-Encoding", "br")
		w.ResponseWriter.Header().Del("Content-Length")
	})
	n, err := w.bw.Write(w.buf)
	w.buf = w.buf[:0]
	return n, err
}

func (w *brotliWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

func (w *brotliWriter) finish() error {
	if len(w.buf) > 0 {
		if _, err := w.ResponseWriter.Write(w.buf); err != nil {
			return err
		}
		w.buf = w.buf[:0]
	}
	if w.compressed {
		return w.bw.Close()
	}
	return nil
}

// Brotli compresses responses above brotliMinLength for clients that
// accept it. WebSocket upgrades pass through untouched: the handshake
// fails if the response is wrapped or buffered.
func Brotli() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.EqualFold(c.GetHeader("Upgrade"), "websocket") || !acceptsBrotli(c.Request) {
			c.Next()
			return
		}

		c.Header("Vary", "Accept-Encoding")

		w := &brotliWriter{
			ResponseWriter: c.Writer,
			bw:             brotli.NewWriterLevel(c.Writer, brotli.DefaultCompression),
		}
		defer func() {
			if err := w.finish(); err != nil {
				_ = c.Error(err)
			}
		}()

		c.Writer = w
		c.Next()
	}
}

func acceptsBrotli(r *http.Request) bool {
	for _, enc := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		if strings.TrimSpace(strings.ToLower(enc)) == "br" {
			return true
		}
	}
	return false
}
