// Package proxy is a local forward proxy that lets the daemon see the
// browser's requests to the judge without a browser extension.
package proxy

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"subwatch/internal/tracker/model"
	appErr "subwatch/pkg/errors"
	"subwatch/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultDialTimeout     = 10 * time.Second
	defaultUpstreamTimeout = 60 * time.Second
	caCertPath             = "/ca.crt"
	sourceProxy            = "proxy"
)

var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// RequestObserver receives a copy of every proxied request.
type RequestObserver interface {
	Observe(ctx context.Context, source string, req model.ObservedRequest) (model.ObserveResult, error)
}

// HostMatcher selects the CONNECT targets worth decrypting.
type HostMatcher interface {
	Interesting(host string) bool
}

// Config holds proxy dependencies.
type Config struct {
	Observer RequestObserver
	Matcher  HostMatcher
	// Certs enables TLS interception for hosts the matcher accepts.
	// Without it every CONNECT is tunnelled blind.
	Certs       *CertManager
	Transport   http.RoundTripper
	DialTimeout time.Duration
}

// Proxy forwards browser traffic and reports every request to the observer.
type Proxy struct {
	observer    RequestObserver
	matcher     HostMatcher
	certs       *CertManager
	client      *http.Client
	dialTimeout time.Duration

	observing sync.WaitGroup
}

// New creates a proxy.
func New(cfg Config) (*Proxy, error) {
	if cfg.Observer == nil {
		return nil, errors.New("observer is required")
	}
	if cfg.Matcher == nil {
		return nil, errors.New("host matcher is required")
	}
	transport := cfg.Transport
	if transport == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		// Never loop back through a system proxy that may point at us.
		t.Proxy = nil
		transport = t
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	return &Proxy{
		observer: cfg.Observer,
		matcher:  cfg.Matcher,
		certs:    cfg.Certs,
		client: &http.Client{
			Transport: transport,
			Timeout:   defaultUpstreamTimeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		dialTimeout: dialTimeout,
	}, nil
}

// ServeHTTP handles proxy requests.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		p.handleConnect(w, r)
		return
	}
	if !r.URL.IsAbs() {
		p.handleDirect(w, r)
		return
	}
	p.observe(r.Context(), r)
	p.proxyLive(w, r)
}

// Wait blocks until pending observations have been handed to the observer.
func (p *Proxy) Wait() {
	p.observing.Wait()
}

// handleDirect serves requests addressed to the proxy itself.
func (p *Proxy) handleDirect(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == caCertPath && p.certs != nil {
		w.Header().Set("Content-Type", "application/x-x509-ca-cert")
		_, _ = w.Write(p.certs.CACertPEM())
		return
	}
	http.Error(w, "this is a forward proxy", http.StatusBadRequest)
}

// observe reports r without delaying it.
func (p *Proxy) observe(ctx context.Context, r *http.Request) {
	req := model.ObservedRequest{
		Method: r.Method,
		URL:    r.URL.String(),
		Header: r.Header.Clone(),
	}
	ctx = context.WithoutCancel(ctx)
	p.observing.Add(1)
	go func() {
		defer p.observing.Done()
		if _, err := p.observer.Observe(ctx, sourceProxy, req); err != nil {
			logger.Debug(ctx, "observation rejected", zap.String("url", req.URL), zap.Error(err))
		}
	}()
}

func (p *Proxy) proxyLive(w http.ResponseWriter, r *http.Request) {
	resp, err := p.roundTrip(r)
	if err != nil {
		logger.Warn(r.Context(), "upstream request failed", zap.String("url", r.URL.String()), zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func (p *Proxy) roundTrip(r *http.Request) (*http.Response, error) {
	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, r.URL.String(), r.Body)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.ProxyUpstreamFailed, "build upstream request failed")
	}
	copyHeaders(outReq.Header, r.Header)
	outReq.ContentLength = r.ContentLength

	resp, err := p.client.Do(outReq)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.ProxyUpstreamFailed, "live request failed")
	}
	return resp, nil
}

func (p *Proxy) handleConnect(w http.ResponseWriter, r *http.Request) {
	target := r.Host
	if p.certs != nil && p.matcher.Interesting(target) {
		p.intercept(w, r, target)
		return
	}
	p.tunnel(w, r, target)
}

// tunnel relays bytes between the client and target without inspecting them.
func (p *Proxy) tunnel(w http.ResponseWriter, r *http.Request, target string) {
	upstream, err := net.DialTimeout("tcp", target, p.dialTimeout)
	if err != nil {
		logger.Debug(r.Context(), "tunnel dial failed", zap.String("target", target), zap.Error(err))
		http.Error(w, "dial "+target+" failed", http.StatusBadGateway)
		return
	}
	client, ok := hijack(w)
	if !ok {
		_ = upstream.Close()
		return
	}

	done := make(chan struct{}, 2)
	relay := func(dst, src net.Conn) {
		_, _ = io.Copy(dst, src)
		if cw, ok := dst.(interface{ CloseWrite() error }); ok {
			_ = cw.CloseWrite()
		}
		done <- struct{}{}
	}
	go relay(upstream, client)
	go relay(client, upstream)
	<-done
	<-done
	_ = upstream.Close()
	_ = client.Close()
}

// intercept terminates TLS with a certificate from the local CA and proxies
// each decrypted request, observing it on the way.
func (p *Proxy) intercept(w http.ResponseWriter, r *http.Request, target string) {
	client, ok := hijack(w)
	if !ok {
		return
	}
	defer client.Close()

	tlsConn := tls.Server(client, p.certs.TLSConfigForHost(stripPort(target)))
	if err := tlsConn.HandshakeContext(r.Context()); err != nil {
		logger.Debug(r.Context(), "client handshake failed", zap.String("target", target), zap.Error(err))
		return
	}

	ctx := context.WithoutCancel(r.Context())
	reader := bufio.NewReader(tlsConn)
	for {
		req, err := http.ReadRequest(reader)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Debug(ctx, "read intercepted request failed", zap.Error(err))
			}
			return
		}
		req.URL.Scheme = "https"
		req.URL.Host = target
		if req.Host != "" {
			req.URL.Host = req.Host
		}
		req = req.WithContext(ctx)

		p.observe(ctx, req)
		if !p.forwardIntercepted(tlsConn, req) {
			return
		}
	}
}

// forwardIntercepted writes the upstream response to conn and reports whether
// the connection can carry another request.
func (p *Proxy) forwardIntercepted(conn net.Conn, req *http.Request) bool {
	resp, err := p.roundTrip(req)
	if err != nil {
		logger.Warn(req.Context(), "upstream request failed", zap.String("url", req.URL.String()), zap.Error(err))
		resp = &http.Response{
			StatusCode: http.StatusBadGateway,
			ProtoMajor: 1,
			ProtoMinor: 1,
			Header:     http.Header{"Content-Type": {"text/plain; charset=utf-8"}},
			Body:       io.NopCloser(strings.NewReader(err.Error())),
			Close:      true,
		}
	}
	defer resp.Body.Close()

	for _, h := range hopByHopHeaders {
		resp.Header.Del(h)
	}
	// The client side of an intercepted connection only speaks HTTP/1.1.
	resp.Proto, resp.ProtoMajor, resp.ProtoMinor = "HTTP/1.1", 1, 1
	resp.Close = resp.Close || req.Close
	if err := resp.Write(conn); err != nil {
		return false
	}
	return !resp.Close
}

func hijack(w http.ResponseWriter) (net.Conn, bool) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "connection hijacking unsupported", http.StatusInternalServerError)
		return nil, false
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return nil, false
	}
	if _, err := conn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		_ = conn.Close()
		return nil, false
	}
	return conn, true
}

// copyHeaders copies end-to-end headers from src to dst.
func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		if isHopByHop(key) {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

func isHopByHop(key string) bool {
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(h, key) {
			return true
		}
	}
	return false
}

func stripPort(hostport string) string {
	if host, _, err := net.SplitHostPort(hostport); err == nil {
		return host
	}
	return hostport
}
