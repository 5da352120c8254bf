package middleware

import (
	"strconv"
	"time"

	"github.com/fasthttp/router"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"
)

// Instrument observes request durations in hist, labelled by method,
// matched route and status. The router must run with SaveMatchedRoutePath
// so that path parameters (key hashes) do not become label values.
func Instrument(hist *prometheus.HistogramVec) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			start := time.Now()
			next(ctx)

			route, _ := ctx.UserValue(router.MatchedRoutePathParam).(string)
			if route == "" {
				route = "unmatched"
			}
			hist.WithLabelValues(
				string(ctx.Method()),
				route,
				strconv.Itoa(ctx.Response.StatusCode()),
			).Observe(time.Since(start).Seconds())
		}
	}
}
