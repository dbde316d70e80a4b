package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// FastHTTPHandler serves the metrics gathered by g in the text exposition format
func FastHTTPHandler(g prometheus.Gatherer) fasthttp.RequestHandler {
	if g == nil {
		g = DefaultRegistry
	}
	return fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
}

// FastHTTPMetricsMiddleware creates middleware that records HTTP metrics
func FastHTTPMetricsMiddleware(m *Metrics) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	if m == nil {
		m = GetMetrics()
	}
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			start := time.Now()
			method := string(ctx.Method())
			path := string(ctx.Path())

			next(ctx)

			code := ctx.Response.StatusCode()
			if code == fasthttp.StatusNotFound {
				path = "unmatched"
			}
			status := statusCodeString(code)
			m.RecordHTTPRequest(method, path, status, time.Since(start))
		}
	}
}

// statusCodeString converts status code to string
func statusCodeString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
