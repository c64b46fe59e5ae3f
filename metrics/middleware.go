package metrics

import (
	"net/http"
	"strconv"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// Collect records every HTTP request except scrapes of skipPath.
func (r *Recorder) Collect(skipPath string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, req.ProtoMajor)
			start := time.Now()

			defer func() {
				if req.URL.Path == skipPath {
					return
				}
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				r.httpRequests.WithLabelValues(strconv.Itoa(status), req.Method).Inc()
				r.responseTime.Observe(time.Since(start).Seconds())
			}()

			next.ServeHTTP(ww, req)
		})
	}
}
