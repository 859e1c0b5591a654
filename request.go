package keyproxy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/net/http/httpguts"
)

// createRequest builds the template every attempt is cloned from.
// The inbound body is read once so it can be replayed for each key.
func (r *Proxy) createRequest(originReq *http.Request) (*http.Request, error) {
	newReq := originReq.Clone(originReq.Context())
	newReq.RequestURI = ""
	newReq.Close = false

	// upstream host comes from the URL, not the inbound Host header
	newReq.Host = ""

	// absolute-form targets must not pick the upstream; only onRequest does
	newReq.URL.Scheme = ""
	newReq.URL.Host = ""
	newReq.URL.User = nil

	if err := r.captureBody(newReq, originReq); err != nil {
		return nil, err
	}

	// Issue 33142: historical behavior was to always allocate
	if newReq.Header == nil {
		newReq.Header = make(http.Header)
	}

	// clean headers
	cleanRequestHeaders(newReq.Header, originReq.Header)

	if err := r.onRequest(newReq, originReq); err != nil {
		return nil, err
	}

	if newReq.URL.Host == "" {
		return nil, fmt.Errorf("no upstream host for %s %s", originReq.Method, originReq.URL.Path)
	}

	// default http
	if newReq.URL.Scheme == "" {
		newReq.URL.Scheme = "http"
	}

	return newReq, nil
}

// captureBody buffers the inbound body and installs GetBody on newReq.
// GET requests are forwarded without a body.
func (r *Proxy) captureBody(newReq, originReq *http.Request) error {
	newReq.Body = nil
	newReq.GetBody = nil
	newReq.ContentLength = 0
	newReq.TransferEncoding = nil

	if originReq.Method == http.MethodGet || originReq.Body == nil || originReq.Body == http.NoBody {
		return nil
	}

	src := originReq.Body
	if r.maxBodyBytes > 0 {
		src = http.MaxBytesReader(nil, src, r.maxBodyBytes)
	}

	body, err := io.ReadAll(src)
	src.Close()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return NewHTTPError(http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		}

		return NewHTTPError(http.StatusBadRequest, fmt.Sprintf("failed to read request body: %v", err))
	}

	newReq.ContentLength = int64(len(body))
	newReq.GetBody = func() (io.ReadCloser, error) {
		if len(body) == 0 {
			return http.NoBody, nil
		}

		return io.NopCloser(bytes.NewReader(body)), nil
	}

	return nil
}

// createAttempt clones the template with a fresh body and the given key.
func (r *Proxy) createAttempt(req *http.Request, key string) (*http.Request, error) {
	outReq := req.Clone(req.Context())

	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		outReq.Body = body
	}

	outReq.Header.Set(r.keyHeader, key)
	return outReq, nil
}

func cleanRequestHeaders(h, origin http.Header) {
	// connection
	removeConnectionHeaders(h)

	// common
	removeHopHeaders(h)

	// Issue 21096: tell backend applications that care about trailer support
	// that we support trailers. Look at the inbound header, the clone has
	// already passed through removeConnectionHeaders.
	if httpguts.HeaderValuesContainsToken(origin["Te"], "trailers") {
		h.Set("Te", "trailers")
	}
}
