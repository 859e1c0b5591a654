package keyproxy

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-zoox/headers"
	"github.com/go-zoox/keyproxy/utils/rotator"
	"github.com/go-zoox/logger"
)

// Proxy is an HTTP reverse proxy that injects a rotating api key into every
// forwarded request and moves on to the next key when upstream rate limits.
type Proxy struct {
	onRequest  func(outReq, inReq *http.Request) error
	onResponse func(res *http.Response, inReq *http.Request) error
	onError    func(err error, rw http.ResponseWriter, req *http.Request)
	onRotate   func(prev, next int)

	keys      *rotator.Rotator
	keyHeader string
	transport http.RoundTripper
	metrics   *Metrics

	bufferPool   BufferPool
	maxBodyBytes int64
}

// ErrNoUpstream is returned by New when no OnRequest hook points requests at an upstream.
var ErrNoUpstream = errors.New("no upstream: OnRequest is required")

// Config is the configuration for the Proxy.
type Config struct {
	// Keys is the ordered list of api keys. At least one is required.
	Keys []string

	// KeyHeader is the request header the api key is written to.
	// Default is x-api-key.
	KeyHeader string

	// Transport executes upstream requests.
	// Default is DefaultTransport(0).
	Transport http.RoundTripper

	// BufferPool provides buffers for streaming response bodies.
	BufferPool BufferPool

	// MaxRequestBodyBytes caps the request body buffered for replay.
	// Zero means no limit.
	MaxRequestBodyBytes int64

	// OnRequest is called once per inbound request, before any attempt is sent.
	// It must point outReq.URL at the upstream, which starts without scheme and host.
	// Required.
	OnRequest func(outReq, inReq *http.Request) error

	// OnResponse is called with the response that is returned to the caller.
	OnResponse func(res *http.Response, inReq *http.Request) error

	// OnError is a function that will be called when an error occurs.
	OnError func(err error, rw http.ResponseWriter, req *http.Request)

	// OnRotate is called after each key rotation with the cursor before and after.
	OnRotate func(prev, next int)

	// Metrics records attempt outcomes. Optional.
	Metrics *Metrics
}

// BufferPool is an interface for getting and returning temporary
// byte slices for use by io.CopyBuffer.
type BufferPool interface {
	Get() []byte
	Put([]byte)
}

type syncBufferPool struct {
	size int
	pool sync.Pool
}

// NewBufferPool returns a BufferPool handing out buffers of size bytes.
func NewBufferPool(size int) BufferPool {
	return &syncBufferPool{size: size}
}

func (p *syncBufferPool) Get() []byte {
	if buf, ok := p.pool.Get().(*[]byte); ok {
		return *buf
	}

	return make([]byte, p.size)
}

func (p *syncBufferPool) Put(buf []byte) {
	if cap(buf) < p.size {
		return
	}

	buf = buf[:p.size]
	p.pool.Put(&buf)
}

// New creates a new Proxy.
func New(cfg *Config) (*Proxy, error) {
	if cfg.OnRequest == nil {
		return nil, ErrNoUpstream
	}

	keys, err := rotator.New(cfg.Keys)
	if err != nil {
		return nil, err
	}

	onError := cfg.OnError
	if onError == nil {
		onError = defaultOnError
	}

	keyHeader := cfg.KeyHeader
	if keyHeader == "" {
		keyHeader = HeaderAPIKey
	}

	transport := cfg.Transport
	if transport == nil {
		transport = DefaultTransport(0)
	}

	return &Proxy{
		onRequest:    cfg.OnRequest,
		onResponse:   cfg.OnResponse,
		onError:      onError,
		onRotate:     cfg.OnRotate,
		keys:         keys,
		keyHeader:    keyHeader,
		transport:    transport,
		metrics:      cfg.Metrics,
		bufferPool:   cfg.BufferPool,
		maxBodyBytes: cfg.MaxRequestBodyBytes,
	}, nil
}

// DefaultTransport returns a pooled upstream transport.
// A zero responseHeaderTimeout waits for response headers indefinitely.
func DefaultTransport(responseHeaderTimeout time.Duration) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = 100
	transport.MaxIdleConnsPerHost = 10
	transport.IdleConnTimeout = 190 * time.Second
	transport.ResponseHeaderTimeout = responseHeaderTimeout
	return transport
}

// KeyIndex returns the index of the api key the next request starts with.
func (r *Proxy) KeyIndex() int {
	return r.keys.Index()
}

// KeyCount returns the number of configured api keys.
func (r *Proxy) KeyCount() int {
	return r.keys.Len()
}

// ServeHTTP is the entry point for the proxy.
func (r *Proxy) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	// create request by origin request
	request, err := r.createRequest(req)
	if err != nil {
		r.onError(err, rw, req)
		return
	}

	// create response by trying each key
	response, err := r.createResponse(request)
	if err != nil {
		r.onError(err, rw, req)
		return
	}

	// headers
	//	1. clean
	cleanResponseHeaders(response.Header)

	// modify response
	if !r.modifyResponse(rw, response, req) {
		return
	}

	//  2. copy
	copyHeaders(rw.Header(), response.Header)
	//  3. trailer
	// The "Trailer" header isn't included in the Transport's response,
	// at least for *http.Transport. Build it up from Trailer.
	announcedTrailers := len(response.Trailer)
	if announcedTrailers > 0 {
		trailerKeys := make([]string, 0, len(response.Trailer))
		for k := range response.Trailer {
			trailerKeys = append(trailerKeys, k)
		}
		rw.Header().Add("Trailer", strings.Join(trailerKeys, ", "))
	}

	// status
	rw.WriteHeader(response.StatusCode)

	// copy buffer
	if err := r.copyResponse(rw, response.Body, r.flushInterval(response)); err != nil {
		defer response.Body.Close()

		// The status line is already written, all we can do is abort the
		// request so the client sees a broken stream instead of a short body.
		if !shouldPanicOnCopyError(req) {
			logger.Warnf("suppressing panic for copyResponse error in test; copy error: %v", err)
			return
		}

		panic(http.ErrAbortHandler)
	}

	response.Body.Close() // close now, instead of defer, to populate res.Trailer
	if len(response.Trailer) > 0 {
		// Force chunking if we saw a response trailer
		// This prevents net/http from calculating the length for short
		// bodies and adding a Content-Length
		if fl, ok := rw.(http.Flusher); ok {
			fl.Flush()
		}
	}

	updateResponseTrailerHeaders(rw, response, announcedTrailers)
}

func (r *Proxy) modifyResponse(rw http.ResponseWriter, res *http.Response, req *http.Request) bool {
	if r.onResponse == nil {
		return true
	}

	if err := r.onResponse(res, req); err != nil {
		res.Body.Close()
		r.onError(err, rw, req)
		return false
	}

	return true
}

func (r *Proxy) copyResponse(dst io.Writer, src io.Reader, flushInterval time.Duration) error {
	if flushInterval != 0 {
		if wf, ok := dst.(writeFlusher); ok {
			mlw := &maxLatencyWriter{
				dst:     wf,
				latency: flushInterval,
			}
			defer mlw.stop()

			// set up initial timer so headers get flushed even if body writes are delayed
			mlw.flushPending = true
			mlw.t = time.AfterFunc(flushInterval, mlw.delayedFlush)

			dst = mlw
		}
	}

	var buf []byte
	if r.bufferPool != nil {
		buf = r.bufferPool.Get()
		defer r.bufferPool.Put(buf)
	}
	_, err := copyBuffer(dst, src, buf)
	return err
}

func (r *Proxy) flushInterval(res *http.Response) time.Duration {
	resCT := res.Header.Get(headers.ContentType)

	// For Server-Sent Events response, flush immediately
	// The MIME type is defined in https://www.w3.org/TR/eventsource/#text-event-stream
	if baseCT, _, _ := mime.ParseMediaType(resCT); baseCT == "text/event-stream" {
		return -1 // negative means immediately
	}

	// We might have the case of streaming for which Content-Length might be unset.
	if res.ContentLength == -1 {
		return -1
	}

	return 0
}
