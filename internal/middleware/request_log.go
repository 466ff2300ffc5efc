package middleware

import (
	"net/http"
	"time"

	"github.com/dmchat/internal/logger"
)

// RequestLog пишет медленные запросы через DeferLogDuration и каждый 5xx отдельно.
func RequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := wrap(w)
		defer logger.DeferLogDuration("http "+r.Method+" "+r.URL.Path, time.Now())()
		next.ServeHTTP(rw, r)
		if rw.status >= http.StatusInternalServerError {
			logger.Errorf("http %s %s -> %d", r.Method, r.URL.Path, rw.status)
		}
	})
}
