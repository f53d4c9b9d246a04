package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/fiffu/uptimesync/config"
	"github.com/fiffu/uptimesync/lib"
	"github.com/fiffu/uptimesync/lib/models"
	"github.com/fiffu/uptimesync/lib/scanner"
	"github.com/fiffu/uptimesync/lib/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Scans are the sweeps an operator can trigger by hand.
type Scans interface {
	RepairScan(ctx context.Context) (int, error)
	BrokenMonitorScan(ctx context.Context) (int, error)
}

func NewAPI(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger, svc *lib.Service, scans *scanner.Scanner, gatherer prometheus.Gatherer) *http.Server {
	addr := fmt.Sprintf(":%d", cfg.ServerPort)
	srv := &http.Server{Addr: addr, Handler: router(cfg, log, svc, scans, gatherer)}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Sugar().Errorw("HTTP server stopped", "addr", addr, "err", err)
				}
			}()
			log.Sugar().Infow("HTTP server listening", "addr", addr)
			return nil
		},
		OnStop: srv.Shutdown,
	})

	return srv
}

func router(cfg *config.Config, log *zap.Logger, svc *lib.Service, scans Scans, gatherer prometheus.Gatherer) http.Handler {
	ctrl := &controller{log, svc, scans}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(r chi.Router) {
		if creds := cfg.GetCreds(); len(creds) > 0 {
			r.Use(middleware.BasicAuth("uptimesync", creds))
		} else {
			log.Sugar().Info("Auth is disabled since no credentials are defined")
		}

		r.Route("/subscriptions", func(r chi.Router) {
			r.Post("/", ctrl.createSubscription)
			r.Get("/{id}", ctrl.getSubscription)
			r.Put("/{id}", ctrl.updateSubscription)
			r.Delete("/{id}", ctrl.deleteSubscription)
			r.Post("/{id}/results", ctrl.reportResult)
		})
		r.Route("/detectors", func(r chi.Router) {
			r.Post("/{id}/disable", ctrl.disableDetector)
			r.Post("/{id}/enable", ctrl.enableDetector)
		})
		r.Route("/scans", func(r chi.Router) {
			r.Post("/repair", ctrl.scan("repair", scans.RepairScan))
			r.Post("/broken", ctrl.scan("broken_monitor", scans.BrokenMonitorScan))
		})
	})

	return r
}

type controller struct {
	log   *zap.Logger
	svc   *lib.Service
	scans Scans
}

func (ctrl *controller) reject(w http.ResponseWriter, status int, err error) {
	if err == nil {
		w.WriteHeader(status)
		return
	}
	ctrl.resolve(w, status, map[string]string{"error": err.Error()})
}

// fail maps service errors onto status codes.
func (ctrl *controller) fail(w http.ResponseWriter, err error) {
	var verr *lib.ValidationError
	switch {
	case errors.As(err, &verr):
		ctrl.reject(w, http.StatusBadRequest, err)
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrNoDetector):
		ctrl.reject(w, http.StatusNotFound, err)
	case errors.Is(err, store.ErrStatusMismatch):
		ctrl.reject(w, http.StatusConflict, err)
	default:
		ctrl.log.Sugar().Errorw("Request failed", "err", err)
		ctrl.reject(w, http.StatusInternalServerError, err)
	}
}

func (ctrl *controller) resolve(w http.ResponseWriter, status int, body any) {
	b, err := json.Marshal(body)
	if err != nil {
		ctrl.log.Sugar().Errorw("Request failed", "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b)
}

func (ctrl *controller) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		ctrl.reject(w, http.StatusBadRequest, fmt.Errorf("malformed body: %w", err))
		return false
	}
	return true
}

func (ctrl *controller) pathID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		ctrl.reject(w, http.StatusBadRequest, errors.New("id must be a positive integer"))
		return 0, false
	}
	return uint(id), true
}

func (ctrl *controller) createSubscription(w http.ResponseWriter, r *http.Request) {
	var params lib.CreateParams
	if !ctrl.decode(w, r, &params) {
		return
	}

	sub, err := ctrl.svc.CreateSubscription(r.Context(), params)
	if err != nil {
		ctrl.fail(w, err)
		return
	}
	ctrl.resolve(w, http.StatusAccepted, SubscriptionView{}.From(sub))
}

func (ctrl *controller) getSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := ctrl.pathID(w, r)
	if !ok {
		return
	}

	detail, err := ctrl.svc.GetSubscription(r.Context(), id)
	if err != nil {
		ctrl.fail(w, err)
		return
	}
	ctrl.resolve(w, http.StatusOK, SubscriptionDetailView{}.From(detail))
}

func (ctrl *controller) updateSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := ctrl.pathID(w, r)
	if !ok {
		return
	}
	var params lib.CheckParams
	if !ctrl.decode(w, r, &params) {
		return
	}

	if err := ctrl.svc.UpdateSubscription(r.Context(), id, params); err != nil {
		ctrl.fail(w, err)
		return
	}
	ctrl.reject(w, http.StatusAccepted, nil)
}

func (ctrl *controller) deleteSubscription(w http.ResponseWriter, r *http.Request) {
	id, ok := ctrl.pathID(w, r)
	if !ok {
		return
	}

	if err := ctrl.svc.DeleteSubscription(r.Context(), id); err != nil {
		ctrl.fail(w, err)
		return
	}
	ctrl.reject(w, http.StatusAccepted, nil)
}

func (ctrl *controller) reportResult(w http.ResponseWriter, r *http.Request) {
	id, ok := ctrl.pathID(w, r)
	if !ok {
		return
	}
	var body struct {
		UptimeStatus models.UptimeStatus `json:"uptime_status"`
	}
	if !ctrl.decode(w, r, &body) {
		return
	}

	if err := ctrl.svc.ReportCheckResult(r.Context(), id, body.UptimeStatus); err != nil {
		ctrl.fail(w, err)
		return
	}
	ctrl.reject(w, http.StatusNoContent, nil)
}

func (ctrl *controller) disableDetector(w http.ResponseWriter, r *http.Request) {
	id, ok := ctrl.pathID(w, r)
	if !ok {
		return
	}

	if err := ctrl.svc.DisableDetector(r.Context(), id); err != nil {
		ctrl.fail(w, err)
		return
	}
	ctrl.reject(w, http.StatusAccepted, nil)
}

func (ctrl *controller) enableDetector(w http.ResponseWriter, r *http.Request) {
	id, ok := ctrl.pathID(w, r)
	if !ok {
		return
	}

	if err := ctrl.svc.EnableDetector(r.Context(), id); err != nil {
		ctrl.fail(w, err)
		return
	}
	ctrl.reject(w, http.StatusAccepted, nil)
}

func (ctrl *controller) scan(name string, fn func(context.Context) (int, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		count, err := fn(r.Context())
		if err != nil {
			ctrl.fail(w, err)
			return
		}
		ctrl.log.Sugar().Infow("Manual scan finished", "scan", name, "count", count)
		ctrl.resolve(w, http.StatusOK, map[string]any{"scan": name, "count": count})
	}
}
