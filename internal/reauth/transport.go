package reauth

import (
	"context"
	"io"
	"net/http"
)

// Transport sets access token to every request and recovers 401 responses with Coordinator.
// Requests with body are replayed only if req.GetBody is set (http.NewRequest does it for common readers).
type Transport struct {
	Base        http.RoundTripper
	Coordinator *Coordinator

	// Access header: '<Header>: <Scheme> <access>'
	Header string
	Scheme string
}

func (t *Transport) base() http.RoundTripper {
	if t.Base == nil {
		return http.DefaultTransport
	}
	return t.Base
}

func (t *Transport) header() string {
	if t.Header == "" {
		return "Authorization"
	}
	return t.Header
}

func (t *Transport) scheme() string {
	if t.Scheme == "" {
		return "Bearer"
	}
	return t.Scheme
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	var (
		resp     *http.Response
		attempts int
	)
	replayable := req.Body == nil || req.Body == http.NoBody || req.GetBody != nil

	err := t.Coordinator.Do(req.Context(), func(ctx context.Context, access string) error {
		attempts++

		r := req.Clone(ctx)
		if attempts > 1 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return err
			}
			r.Body = body
		}
		r.Header.Set(t.header(), t.scheme()+" "+access)

		res, err := t.base().RoundTrip(r)
		if err != nil {
			return err
		}

		if res.StatusCode == http.StatusUnauthorized && attempts == 1 && replayable {
			_, _ = io.Copy(io.Discard, res.Body)
			_ = res.Body.Close()
			return ErrAuthFailed
		}

		resp = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	return resp, nil
}
