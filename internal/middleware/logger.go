package middleware

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Logger writes an access log line when a request starts and when it completes.
type Logger struct {
	logBody bool
	log     *zap.Logger
}

func NewLogger(log *zap.Logger, logBody bool) *Logger {
	return &Logger{
		logBody: logBody,
		log:     log,
	}
}

func (m *Logger) Name() string {
	return "logger"
}

func (m *Logger) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		var bodyCopy []byte
		if m.logBody && r.Body != nil {
			bodyCopy, _ = io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewReader(bodyCopy))
		}

		m.log.Info("request started",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
			zap.String("request_id", r.Header.Get("X-Request-ID")),
		)

		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		fields := []zap.Field{
			zap.Int("status", rec.status),
			zap.Int64("bytes", rec.written),
			zap.Duration("duration", time.Since(start)),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
		}

		if m.logBody && len(bodyCopy) > 0 {
			fields = append(fields, zap.ByteString("body", bodyCopy))
		}

		m.log.Info("request completed", fields...)
	})
}

type responseRecorder struct {
	http.ResponseWriter
	status  int
	written int64
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	n, err := r.ResponseWriter.Write(b)
	r.written += int64(n)

	return n, err
}

func (r *responseRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
