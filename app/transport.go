package app

import (
	"net/http"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// NewTransport is the round tripper used for pushes to region endpoints.
func NewTransport(lc fx.Lifecycle, log *zap.Logger) http.RoundTripper {
	return &transport{base: http.DefaultTransport, log: log}
}

type transport struct {
	base http.RoundTripper
	log  *zap.Logger
}

func (tpt *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := tpt.base.RoundTrip(req)
	elapsed := time.Since(start)

	if err != nil {
		tpt.log.Sugar().Warnw("Region request failed", "method", req.Method, "url", req.URL.String(), "elapsed", elapsed, "err", err)
		return nil, err
	}
	tpt.log.Sugar().Debugw("Region request", "method", req.Method, "url", req.URL.String(), "status", resp.StatusCode, "elapsed", elapsed)
	return resp, nil
}
