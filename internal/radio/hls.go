// SPDX-License-Identifier: MIT

package radio

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hgraven/wavegate/internal/web"
)

const playlistContentType = "application/vnd.apple.mpegurl"

// maxPlaylistBytes bounds how much playlist text is buffered for rewriting.
const maxPlaylistBytes = 2 << 20

// StreamProxy serves station streams, rewriting HLS playlists so every
// segment URI routes back through the segment endpoint.
type StreamProxy struct {
	httpc   *http.Client
	timeout time.Duration
	logger  zerolog.Logger
}

// NewStreamProxy builds the proxy on a shared connection pool.
func NewStreamProxy(httpc *http.Client, timeout time.Duration, logger zerolog.Logger) *StreamProxy {
	return &StreamProxy{httpc: httpc, timeout: timeout, logger: logger}
}

// isPlaylist reports whether a response is an HLS playlist, judged by
// content type and URL path.
func isPlaylist(contentType, urlPath string) bool {
	ct := strings.ToLower(contentType)
	if strings.Contains(ct, "vnd.apple.mpegurl") || strings.Contains(ct, "x-mpegurl") {
		return true
	}
	return strings.HasSuffix(strings.ToLower(urlPath), ".m3u8")
}

// ServeStream fetches the station's stream. Playlists are rewritten and
// returned; anything else is streamed through unchanged.
func (p *StreamProxy) ServeStream(w http.ResponseWriter, r *http.Request, station Station) {
	ctx, cancel := context.WithTimeout(r.Context(), p.timeout)
	defer cancel()

	resp, err := p.fetch(ctx, station.StreamURL, r)
	if err != nil {
		p.writeUpstreamError(w, ctx, err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	// The rewrite decision follows the live response, not the persisted
	// hls flag, so a stale flag cannot mangle raw audio bytes.
	contentType := resp.Header.Get("Content-Type")
	if isPlaylist(contentType, resp.Request.URL.Path) {
		p.serveRewrittenPlaylist(w, resp)
		return
	}

	copyUpstreamHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		p.logger.Debug().Err(err).Str("event", "hls.stream_aborted").
			Str("station", station.ID).Msg("stream copy aborted")
	}
}

// serveRewrittenPlaylist rewrites every non-comment, non-blank line to a
// segment-proxy URI. Comments and blanks pass through verbatim.
func (p *StreamProxy) serveRewrittenPlaylist(w http.ResponseWriter, resp *http.Response) {
	base := resp.Request.URL

	w.Header().Set("Content-Type", playlistContentType)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)

	scanner := bufio.NewScanner(io.LimitReader(resp.Body, maxPlaylistBytes))
	scanner.Buffer(make([]byte, 64*1024), 64*1024)
	out := bufio.NewWriter(w)
	defer func() { _ = out.Flush() }()

	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			_, _ = out.WriteString(line)
			_, _ = out.WriteString("\n")
			continue
		}
		_, _ = out.WriteString(rewriteSegmentLine(base, trimmed))
		_, _ = out.WriteString("\n")
	}
}

// rewriteSegmentLine resolves a segment URI against the playlist base and
// emits the proxied form.
func rewriteSegmentLine(base *url.URL, line string) string {
	ref, err := url.Parse(line)
	if err != nil {
		return line
	}
	absolute := base.ResolveReference(ref).String()
	return "stream/segment?source=" + url.QueryEscape(absolute)
}

// ServeSegment proxies one segment. The decoded source must be https and
// share the station stream's origin; anything else is refused.
func (p *StreamProxy) ServeSegment(w http.ResponseWriter, r *http.Request, station Station) {
	source := r.URL.Query().Get("source")
	if source == "" {
		web.WriteError(w, http.StatusBadRequest, "Missing source parameter")
		return
	}
	src, err := url.Parse(source)
	if err != nil || src.Scheme != "https" {
		web.WriteError(w, http.StatusForbidden, "Segment source not allowed")
		return
	}
	streamURL, err := url.Parse(station.StreamURL)
	if err != nil || !sameOrigin(src, streamURL) {
		web.WriteError(w, http.StatusForbidden, "Segment source not allowed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), p.timeout)
	defer cancel()

	resp, err := p.fetch(ctx, src.String(), r)
	if err != nil {
		p.writeUpstreamError(w, ctx, err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	copyUpstreamHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		p.logger.Debug().Err(err).Str("event", "hls.segment_aborted").
			Str("station", station.ID).Msg("segment copy aborted")
	}
}

func sameOrigin(a, b *url.URL) bool {
	return a.Scheme == b.Scheme && strings.EqualFold(a.Host, b.Host)
}

// fetch issues the upstream request, forwarding the few headers that
// matter for media delivery.
func (p *StreamProxy) fetch(ctx context.Context, rawURL string, inbound *http.Request) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	for _, h := range []string{"Range", "Accept", "User-Agent"} {
		if v := inbound.Header.Get(h); v != "" {
			req.Header.Set(h, v)
		}
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", directoryUserAgent)
	}
	return p.httpc.Do(req)
}

func (p *StreamProxy) writeUpstreamError(w http.ResponseWriter, ctx context.Context, err error) {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
		web.WriteError(w, http.StatusGatewayTimeout, "Upstream timed out")
		return
	}
	web.WriteError(w, http.StatusBadGateway, "Upstream request failed")
}

// copyUpstreamHeaders forwards response headers except transfer framing.
func copyUpstreamHeaders(dst, src http.Header) {
	for k, vs := range src {
		if strings.EqualFold(k, "Transfer-Encoding") {
			continue
		}
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}
