// SPDX-License-Identifier: MIT

package gateway

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hgraven/wavegate/internal/log"
	"github.com/hgraven/wavegate/internal/metrics"
	"github.com/hgraven/wavegate/internal/web"
)

// hopByHopHeaders are never forwarded in either direction.
var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Connection", "Transfer-Encoding",
	"Upgrade", "Te", "Trailer", "Proxy-Authorization", "Proxy-Authenticate",
	"Host", "Content-Length", "Expect",
}

// Proxy streams requests to a pinned upstream with sanitized headers.
type Proxy struct {
	client     *http.Client
	token      string
	timeout    time.Duration
	trustProxy bool
	logger     zerolog.Logger
}

// NewProxy builds the proxy around one shared keep-alive client.
func NewProxy(token string, timeout time.Duration, trustProxy bool, logger zerolog.Logger) *Proxy {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &Proxy{
		client:     &http.Client{Transport: transport},
		token:      token,
		timeout:    timeout,
		trustProxy: trustProxy,
		logger:     logger,
	}
}

// ClientIP derives the originating address. Forwarding headers are only
// honored when the listener sits behind a trusted proxy.
func (p *Proxy) ClientIP(r *http.Request) string {
	if p.trustProxy {
		for _, h := range []string{"CF-Connecting-IP", "CF-Connection-IP"} {
			if v := strings.TrimSpace(r.Header.Get(h)); v != "" {
				return normalizeIP(v)
			}
		}
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if v := strings.TrimSpace(first); v != "" {
				return normalizeIP(v)
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return normalizeIP(host)
}

func normalizeIP(ip string) string {
	ip = strings.TrimPrefix(ip, "::ffff:")
	if ip == "::1" {
		return "127.0.0.1"
	}
	return ip
}

// outbound clones the inbound request for the upstream target: hop-by-hop
// headers stripped, identity headers rewritten, service token forced.
func (p *Proxy) outbound(ctx context.Context, r *http.Request, target *url.URL, nonce string) (*http.Request, error) {
	out, err := http.NewRequestWithContext(ctx, r.Method, target.String(), r.Body)
	if err != nil {
		return nil, err
	}

	out.Header = r.Header.Clone()
	for _, h := range hopByHopHeaders {
		out.Header.Del(h)
	}

	// The client never chooses the upstream identity.
	out.Header.Set("Authorization", "Bearer "+p.token)

	clientIP := p.ClientIP(r)
	out.Header.Set("CF-Connecting-IP", clientIP)
	out.Header.Set("CF-Connection-IP", clientIP)
	out.Header.Set("X-Real-IP", clientIP)

	hops := splitForwardedFor(r.Header.Get("X-Forwarded-For"))
	if !containsHop(hops, clientIP) {
		hops = append(hops, clientIP)
	}
	out.Header.Set("X-Forwarded-For", strings.Join(hops, ", "))

	if nonce != "" {
		out.Header.Set("X-Gateway-Session", nonce)
	}
	return out, nil
}

func splitForwardedFor(raw string) []string {
	if raw == "" {
		return nil
	}
	var hops []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			hops = append(hops, p)
		}
	}
	return hops
}

func containsHop(hops []string, ip string) bool {
	for _, h := range hops {
		if h == ip {
			return true
		}
	}
	return false
}

// Forward proxies the request. When cache and cacheKey are set, the body
// is streamed to the client and accumulated for an asynchronous store.
func (p *Proxy) Forward(w http.ResponseWriter, r *http.Request, target *url.URL, service, nonce string, cache *ResponseCache, cacheKey string) {
	ctx, cancel := context.WithTimeout(r.Context(), p.timeout)
	defer cancel()

	logger := log.WithContext(r.Context(), p.logger)

	out, err := p.outbound(ctx, r, target, nonce)
	if err != nil {
		logger.Error().Err(err).Str("event", "proxy.build_failed").Msg("could not build upstream request")
		web.WriteError(w, http.StatusBadGateway, "Upstream request failed")
		return
	}

	resp, err := p.client.Do(out)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			metrics.IncProxyUpstream(service, "timeout")
			logger.Warn().Str("event", "proxy.timeout").Str("target", target.Host).
				Dur("timeout", p.timeout).Msg("upstream deadline exceeded")
			web.WriteError(w, http.StatusGatewayTimeout, "Upstream timed out")
			return
		}
		metrics.IncProxyUpstream(service, "error")
		logger.Warn().Err(err).Str("event", "proxy.upstream_failed").Str("target", target.Host).
			Msg("upstream request failed")
		web.WriteError(w, http.StatusBadGateway, "Upstream request failed")
		return
	}
	defer func() { _ = resp.Body.Close() }()
	metrics.IncProxyUpstream(service, "ok")

	// Response headers, minus hop-by-hop.
	header := w.Header()
	for k, vs := range resp.Header {
		if isHopByHop(k) {
			continue
		}
		for _, v := range vs {
			header.Add(k, v)
		}
	}

	cacheable := cache != nil && cacheKey != "" && Storable(resp.StatusCode, resp.Header)
	if cache != nil && cacheKey != "" {
		header.Set("X-Cache", "MISS")
	}
	w.WriteHeader(resp.StatusCode)

	var buf *bytes.Buffer
	var dst io.Writer = w
	if cacheable {
		buf = &bytes.Buffer{}
		dst = io.MultiWriter(w, buf)
	}

	if _, err := copyFlush(dst, resp.Body, w); err != nil {
		logger.Debug().Err(err).Str("event", "proxy.stream_aborted").Msg("client or upstream aborted mid-stream")
		return
	}

	if cacheable {
		cache.Store(cacheKey, &CachedResponse{
			Status:  resp.StatusCode,
			Headers: resp.Header,
			Body:    buf.Bytes(),
		})
	}
}

func isHopByHop(name string) bool {
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(h, name) {
			return true
		}
	}
	return false
}

// copyFlush streams src to dst chunk-wise, flushing after each chunk so
// clients see bytes in upstream order without buffering delays.
func copyFlush(dst io.Writer, src io.Reader, w http.ResponseWriter) (int64, error) {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	var written int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			wn, werr := dst.Write(buf[:n])
			written += int64(wn)
			if werr != nil {
				return written, werr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if rerr != nil {
			if rerr == io.EOF {
				return written, nil
			}
			return written, rerr
		}
	}
}
