package devserver

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/devserve/internal/devconfig"
	"github.com/wolfeidau/devserve/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type proxyRoute struct {
	prefix string
	target *url.URL
	proxy  *httputil.ReverseProxy
}

// newProxyRoutes builds one reverse proxy per rule, ordered longest prefix first.
func newProxyRoutes(server devconfig.ServerConfig, transport http.RoundTripper) ([]proxyRoute, error) {
	routes := make([]proxyRoute, 0, len(server.Proxy))

	for _, prefix := range server.Prefixes() {
		rule := server.Proxy[prefix]

		target, err := url.Parse(rule.Target)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", prefix, err)
		}
		rewrite, err := rule.Rewriter()
		if err != nil {
			return nil, err
		}

		routes = append(routes, proxyRoute{
			prefix: prefix,
			target: target,
			proxy:  newReverseProxy(prefix, target, rule.ChangeOrigin, rewrite, transport),
		})
	}

	return routes, nil
}

func newReverseProxy(prefix string, target *url.URL, changeOrigin bool, rewrite func(string) string, transport http.RoundTripper) *httputil.ReverseProxy {
	attrs := metric.WithAttributes(attribute.String("prefix", prefix), attribute.String("target", target.Host))

	if transport == nil {
		transport = otelhttp.NewTransport(http.DefaultTransport)
	}

	return &httputil.ReverseProxy{
		Transport: transport,
		Rewrite: func(pr *httputil.ProxyRequest) {
			// rewrite the escaped form so encoded separators like %2F reach the backend intact
			escaped := joinPath(target.EscapedPath(), rewrite(pr.In.URL.EscapedPath()))
			unescaped, err := url.PathUnescape(escaped)
			if err != nil {
				unescaped = escaped
			}

			pr.Out.URL.Scheme = target.Scheme
			pr.Out.URL.Host = target.Host
			pr.Out.URL.Path = unescaped
			pr.Out.URL.RawPath = escaped
			if target.RawQuery != "" && pr.In.URL.RawQuery != "" {
				pr.Out.URL.RawQuery = target.RawQuery + "&" + pr.In.URL.RawQuery
			} else if target.RawQuery != "" {
				pr.Out.URL.RawQuery = target.RawQuery
			}

			pr.SetXForwarded()

			if changeOrigin {
				// empty Host makes the transport use the target's host
				pr.Out.Host = ""
			} else {
				pr.Out.Host = pr.In.Host
			}

			telemetry.GetMetrics().ProxyRequestsTotal.Add(pr.In.Context(), 1, attrs)
			zerolog.Ctx(pr.In.Context()).Debug().
				Str("prefix", prefix).
				Str("upstream", pr.Out.URL.String()).
				Msg("Proxying request")
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			telemetry.GetMetrics().ProxyErrorsTotal.Add(r.Context(), 1, attrs)

			if errors.Is(err, r.Context().Err()) {
				// client went away
				return
			}

			zerolog.Ctx(r.Context()).Error().
				Err(err).
				Str("prefix", prefix).
				Str("target", target.String()).
				Msg("Proxy error")
			http.Error(w, "Bad Gateway", http.StatusBadGateway)
		},
	}
}

func joinPath(base, path string) string {
	if base == "" || base == "/" {
		return path
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/")
}

// match returns the route whose prefix starts the request path, longest prefix first.
func match(routes []proxyRoute, path string) (proxyRoute, bool) {
	for _, r := range routes {
		if strings.HasPrefix(path, r.prefix) {
			return r, true
		}
	}
	return proxyRoute{}, false
}
