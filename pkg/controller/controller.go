// Package controller implements the HTTP surface described in spec
// §4.5/§6: a chi router exposing device command dispatch, job retrieval,
// inventory/template/credential/cache introspection and monitoring,
// fronted by pkg/auth and instrumented with pkg/metrics.
package controller

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/wrgeorge1983/tom/pkg/auth"
	"github.com/wrgeorge1983/tom/pkg/cache"
	"github.com/wrgeorge1983/tom/pkg/config"
	"github.com/wrgeorge1983/tom/pkg/credential"
	"github.com/wrgeorge1983/tom/pkg/gate"
	"github.com/wrgeorge1983/tom/pkg/inventory"
	"github.com/wrgeorge1983/tom/pkg/log"
	"github.com/wrgeorge1983/tom/pkg/metrics"
	"github.com/wrgeorge1983/tom/pkg/parser"
	"github.com/wrgeorge1983/tom/pkg/queue"
	"github.com/wrgeorge1983/tom/pkg/types"
)

// Controller wires the components a request handler needs: the queue
// (job lifecycle), cache (response reuse), parser dispatcher, the active
// inventory/credential plugins, the authenticator and the process
// config.
type Controller struct {
	Queue      *queue.Queue
	Cache      *cache.Cache
	Parser     *parser.Dispatcher
	Inventory  inventory.Plugin
	Credential credential.Plugin
	Auth       *auth.Authenticator
	Config     *config.Controller

	// Gate is a read-only handle on the worker fleet's lease store, used
	// by /monitoring/devices/{name} to report whether a device is
	// currently leased without taking part in the acquire/release
	// protocol itself.
	Gate *gate.Gate

	// FailedJobs is a bounded ring of recently FAILED jobs, populated by
	// the controller itself whenever it renders a FAILED job, for the
	// /monitoring/failed_commands endpoint's supplemented detail.
	FailedJobs *recentJobs

	// DeviceHistory is a bounded, per-device ring of recently terminal
	// jobs, supplementing /monitoring/devices/{name}'s live ACTIVE-job
	// snapshot with actual history.
	DeviceHistory *deviceHistory
}

// New builds a Controller from its dependencies.
func New(cfg *config.Controller, q *queue.Queue, c *cache.Cache, p *parser.Dispatcher, inv inventory.Plugin, cred credential.Plugin, authn *auth.Authenticator, g *gate.Gate) *Controller {
	return &Controller{
		Queue:         q,
		Cache:         c,
		Parser:        p,
		Inventory:     inv,
		Credential:    cred,
		Auth:          authn,
		Config:        cfg,
		Gate:          g,
		FailedJobs:    newRecentJobs(50),
		DeviceHistory: newDeviceHistory(20),
	}
}

// Router builds the chi.Router serving every endpoint in §6.
func (ctl *Controller) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Api-Key"},
		MaxAge:           300,
		AllowCredentials: false,
	}))
	r.Use(middleware.Timeout(60 * time.Second))

	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(ctl.authenticate)

		r.Post("/device/{name}/send_command", ctl.wrap(ctl.handleSendCommand))
		r.Post("/device/{name}/send_commands", ctl.wrap(ctl.handleSendCommands))
		r.Post("/raw/send_via_adapter_A", ctl.wrap(ctl.handleRawAdapter(types.AdapterA)))
		r.Post("/raw/send_via_adapter_B", ctl.wrap(ctl.handleRawAdapter(types.AdapterB)))
		r.Get("/job/{id}", ctl.wrap(ctl.handleGetJob))

		r.Get("/inventory/{name}", ctl.wrap(ctl.handleGetDevice))
		r.Get("/inventory/export", ctl.wrap(ctl.handleExportInventory))
		r.Get("/inventory/export/raw", ctl.wrap(ctl.handleExportInventoryRaw))
		r.Get("/inventory/fields", ctl.wrap(ctl.handleInventoryFields))
		r.Get("/inventory/filters", ctl.wrap(ctl.handleInventoryFilters))

		r.Get("/templates/{engine}", ctl.wrap(ctl.handleListTemplates))
		r.Get("/templates/match", ctl.wrap(ctl.handleTemplateMatch))
		r.Post("/parse/test", ctl.wrap(ctl.handleParseTest))

		r.Get("/credentials", ctl.wrap(ctl.handleListCredentials))

		r.Get("/cache", ctl.wrap(ctl.handleCacheInspect))
		r.Delete("/cache", ctl.wrap(ctl.handleCacheInvalidateAll))
		r.Delete("/cache/{device}", ctl.wrap(ctl.handleCacheInvalidateDevice))

		r.Get("/monitoring/workers", ctl.wrap(ctl.handleMonitoringWorkers))
		r.Get("/monitoring/failed_commands", ctl.wrap(ctl.handleMonitoringFailedCommands))
		r.Get("/monitoring/devices/{name}", ctl.wrap(ctl.handleMonitoringDevice))

		r.Get("/auth/debug", ctl.wrap(ctl.handleAuthDebug))
	})

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequestsTotal.WithLabelValues(route, http.StatusText(status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())

		log.WithComponent("controller").Debug().
			Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Dur("elapsed", time.Since(start)).
			Msg("request handled")
	})
}
