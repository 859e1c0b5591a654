package main

import (
	"io"
	"net/http"
	"time"

	"github.com/go-zoox/logger"
	"github.com/gorilla/handlers"
)

func loggingMiddleware(h http.Handler) http.Handler {
	return handlers.CustomLoggingHandler(io.Discard, h, logFormatter)
}

// logFormatter writes access lines through the application logger instead of
// the writer gorilla hands over.
func logFormatter(_ io.Writer, p handlers.LogFormatterParams) {
	duration := time.Since(p.TimeStamp)
	logger.Infof(
		"%s %s %d %dB %.3fms",
		p.Request.Method,
		p.URL.RequestURI(),
		p.StatusCode,
		p.Size,
		float64(duration.Nanoseconds())/1e6,
	)
}
