package keyproxy

import (
	"io"
	"net/http"

	"github.com/go-zoox/logger"
)

// createResponse sends req upstream once per api key, starting at the shared
// cursor. A rate limited response or a transport error rotates the cursor and
// moves on to the next key; any other response is returned as is.
func (r *Proxy) createResponse(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	for attempt := 0; attempt < r.keys.Len(); attempt++ {
		// caller went away, no point in burning keys
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		index, key := r.keys.Current()
		outReq, err := r.createAttempt(req, key)
		if err != nil {
			return nil, err
		}

		res, err := r.transport.RoundTrip(outReq)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			logger.Errorf("request failed with api key at index %d: %v", index, err)
			r.metrics.recordAttempt(outcomeTransportError)
			r.rotate()
			continue
		}

		if res.StatusCode == http.StatusTooManyRequests {
			logger.Warnf("api key at index %d is rate limited (%s %s)", index, req.Method, req.URL.Path)
			r.metrics.recordAttempt(outcomeRateLimited)
			discardBody(res.Body)
			r.rotate()
			continue
		}

		r.metrics.recordAttempt(outcomeOK)
		return res, nil
	}

	logger.Errorf("all %d api keys exhausted (%s %s)", r.keys.Len(), req.Method, req.URL.Path)
	r.metrics.recordExhausted()
	return nil, ErrKeysExhausted
}

func (r *Proxy) rotate() {
	prev, next := r.keys.Rotate()
	logger.Infof("rotated api key from index %d to index %d", prev, next)

	r.metrics.recordRotation(next)
	if r.onRotate != nil {
		r.onRotate(prev, next)
	}
}

func discardBody(body io.ReadCloser) {
	io.Copy(io.Discard, io.LimitReader(body, maxDrainBytes))
	body.Close()
}
