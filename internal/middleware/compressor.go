package middleware

import (
	"compress/flate"
	"compress/gzip"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

const (
	AlgGzip    = "gzip"
	AlgDeflate = "deflate"
)

// Compressor encodes response bodies for clients that accept the configured algorithm.
type Compressor struct {
	alg string
	log *zap.Logger
}

// NewCompressor falls back to gzip for unknown algorithms.
func NewCompressor(log *zap.Logger, alg string) *Compressor {
	alg = strings.ToLower(alg)
	if alg != AlgGzip && alg != AlgDeflate {
		alg = AlgGzip
	}

	return &Compressor{
		alg: alg,
		log: log,
	}
}

func (m *Compressor) Name() string {
	return "compressor"
}

func (m *Compressor) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), m.alg) {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Content-Encoding", m.alg)
		w.Header().Add("Vary", "Accept-Encoding")

		var writer io.WriteCloser
		var err error

		switch m.alg {
		case AlgGzip:
			writer = gzip.NewWriter(w)
		case AlgDeflate:
			writer, err = flate.NewWriter(w, flate.DefaultCompression)
			if err != nil {
				m.log.Error("cannot create deflate writer", zap.Error(err))
				w.Header().Del("Content-Encoding")
				next.ServeHTTP(w, r)

				return
			}
		}

		defer func() {
			if err = writer.Close(); err != nil {
				m.log.Warn("cannot close compression writer", zap.Error(err))
			}
		}()

		cw := &compressorResponseWriter{
			ResponseWriter: w,
			Writer:         writer,
		}

		next.ServeHTTP(cw, r)
	})
}

type compressorResponseWriter struct {
	http.ResponseWriter
	Writer io.Writer
}

func (w *compressorResponseWriter) WriteHeader(code int) {
	w.Header().Del("Content-Length")
	w.ResponseWriter.WriteHeader(code)
}

func (w *compressorResponseWriter) Write(b []byte) (int, error) {
	return w.Writer.Write(b)
}
