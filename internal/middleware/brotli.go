package middleware

import (
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
)

// Brotli compresses responses for clients that send Accept-Encoding: br.
// Small bodies are passed through uncompressed: below the threshold the
// brotli framing costs more than it saves. SSE and WebSocket traffic is
// never touched, since both need the raw connection.
func Brotli() gin.HandlerFunc {
	return BrotliLevel(brotli.DefaultCompression, 1024)
}

// BrotliLevel is Brotli with an explicit quality (0-11) and minimum body
// size in bytes.
func BrotliLevel(quality, minSize int) gin.HandlerFunc {
	if quality < brotli.BestSpeed || quality > brotli.BestCompression {
		quality = brotli.DefaultCompression
	}
	if minSize <= 0 {
		minSize = 1024
	}

	return func(c *gin.Context) {
		if isStreamingRequest(c) || !clientAcceptsBr(c.Request) {
			c.Next()
			return
		}

		c.Header("Vary", "Accept-Encoding")

		bw := &brWriter{
			ResponseWriter: c.Writer,
			br:             brotli.NewWriterLevel(c.Writer, quality),
			minSize:        minSize,
		}
		c.Writer = bw
		defer bw.finish(c)

		c.Next()
	}
}

// brWriter buffers the response until it knows whether the body clears the
// compression threshold. Handlers run on a single goroutine, so no locking.
type brWriter struct {
	gin.ResponseWriter
	br      *brotli.Writer
	pending []byte
	minSize int
	engaged bool
}

func (w *brWriter) Write(p []byte) (int, error) {
	if w.engaged {
		return w.br.Write(p)
	}

	w.pending = append(w.pending, p...)
	if len(w.pending) < w.minSize {
		return len(p), nil
	}

	// Threshold crossed: commit to compressed output.
	w.engaged = true
	w.ResponseWriter.Header().Set("Content-Encoding", "br")
	w.ResponseWriter.Header().Del("Content-Length")
	if _, err := w.br.Write(w.pending); err != nil {
		return 0, err
	}
	w.pending = nil
	return len(p), nil
}

func (w *brWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

// Flush satisfies http.Flusher for handlers that stream. Anything still
// buffered goes out uncompressed, since a flushed response cannot wait for
// the threshold.
func (w *brWriter) Flush() {
	if !w.engaged && len(w.pending) > 0 {
		_, _ = w.ResponseWriter.Write(w.pending)
		w.pending = nil
	}
	w.ResponseWriter.Flush()
}

// finish drains whatever is left after the handler returns.
func (w *brWriter) finish(c *gin.Context) {
	if w.engaged {
		if err := w.br.Close(); err != nil {
			_ = c.Error(err)
		}
		return
	}
	if len(w.pending) > 0 {
		if _, err := w.ResponseWriter.Write(w.pending); err != nil {
			_ = c.Error(err)
		}
		w.pending = nil
	}
}

// isStreamingRequest reports whether the request expects a live stream that
// buffered compression would break.
func isStreamingRequest(c *gin.Context) bool {
	if strings.EqualFold(c.GetHeader("Upgrade"), "websocket") {
		return true
	}
	return strings.Contains(c.GetHeader("Accept"), "text/event-stream")
}

func clientAcceptsBr(r *http.Request) bool {
	for _, enc := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		enc = strings.TrimSpace(enc)
		// Strip any quality annotation: "br;q=0.8".
		if name, _, _ := strings.Cut(enc, ";"); strings.EqualFold(strings.TrimSpace(name), "br") {
			return true
		}
	}
	return false
}
