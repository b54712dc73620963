package dcontext

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/vfsgate/vfsgate/internal/redact"
	"github.com/vfsgate/vfsgate/internal/requestutil"
)

type httpRequestKey string

const (
	requestIDKey         httpRequestKey = "http.request.id"
	requestMethodKey     httpRequestKey = "http.request.method"
	requestURIKey        httpRequestKey = "http.request.uri"
	requestRemoteAddrKey httpRequestKey = "http.request.remoteaddr"
	requestUserAgentKey  httpRequestKey = "http.request.useragent"
	requestStartedKey    httpRequestKey = "http.request.startedat"
)

// WithRequest places request-scoped values on the context: a generated
// request id, method, uri and user agent. Header values pass through the
// redactor before ever reaching a log field.
func WithRequest(ctx context.Context, r *http.Request) context.Context {
	ctx = context.WithValue(ctx, requestIDKey, uuid.NewString())
	ctx = context.WithValue(ctx, requestMethodKey, r.Method)
	ctx = context.WithValue(ctx, requestURIKey, redact.URI(r.RequestURI))
	ctx = context.WithValue(ctx, requestRemoteAddrKey, requestutil.RemoteAddr(r))
	ctx = context.WithValue(ctx, requestUserAgentKey, r.UserAgent())
	ctx = context.WithValue(ctx, requestStartedKey, time.Now())
	return ctx
}

// GetRequestID attempts to resolve the current request id, if possible.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

// GetRequestLogger returns a logger carrying the standard request fields.
func GetRequestLogger(ctx context.Context) Logger {
	return GetLogger(ctx,
		requestIDKey, requestMethodKey, requestURIKey,
		requestRemoteAddrKey, requestUserAgentKey)
}

// Since returns the duration since the request attached to ctx started, or
// zero when no request is attached.
func Since(ctx context.Context) time.Duration {
	if started, ok := ctx.Value(requestStartedKey).(time.Time); ok {
		return time.Since(started)
	}
	return 0
}

// ResponseWriter instruments an http.ResponseWriter to capture the status
// code and bytes written for completion logging.
type ResponseWriter struct {
	http.ResponseWriter

	Status  int
	Written int64
}

// NewResponseWriter wraps w. The zero Status means no header was written
// explicitly, which net/http treats as 200.
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{ResponseWriter: w}
}

func (rw *ResponseWriter) WriteHeader(status int) {
	if rw.Status == 0 {
		rw.Status = status
	}
	rw.ResponseWriter.WriteHeader(status)
}

func (rw *ResponseWriter) Write(p []byte) (int, error) {
	if rw.Status == 0 {
		rw.Status = http.StatusOK
	}
	n, err := rw.ResponseWriter.Write(p)
	rw.Written += int64(n)
	return n, err
}

// Flush passes the flush through when the underlying writer supports it.
func (rw *ResponseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
