package httpx

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zrcvae/partnermatch/internal/service/auth"
	"github.com/zrcvae/partnermatch/internal/service/team"
	"github.com/zrcvae/partnermatch/internal/ws"
)

// HealthCheck probes one dependency.
type HealthCheck func(context.Context) error

// Options tunes the router. Zero values pick defaults.
type Options struct {
	JoinRateLimit  int
	JoinRateWindow time.Duration
	Registerer     prometheus.Registerer
	Gatherer       prometheus.Gatherer
	HealthChecks   map[string]HealthCheck
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux      *http.ServeMux
	logger   *slog.Logger
	auth     auth.Service
	team     team.Service
	hub      *ws.Hub
	upgrader websocket.Upgrader
	limiter  RateLimiter
	metrics  *routerMetrics
	gatherer prometheus.Gatherer
	health   map[string]HealthCheck
	joinRate int
	joinWin  time.Duration
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitUserWrite = 60
	rateLimitUserRead  = 120
	rateLimitWebsocket = 30
	healthCheckTimeout = 2 * time.Second
	maxBodyBytes       = 1 << 20
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, authSvc auth.Service, teamSvc team.Service, hub *ws.Hub, limiter RateLimiter, opts Options) *Router {
	r := &Router{
		mux:    http.NewServeMux(),
		logger: logger,
		auth:   authSvc,
		team:   teamSvc,
		hub:    hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:  limiter,
		metrics:  newRouterMetrics(opts.Registerer),
		gatherer: opts.Gatherer,
		health:   opts.HealthChecks,
		joinRate: opts.JoinRateLimit,
		joinWin:  opts.JoinRateWindow,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	if r.gatherer == nil {
		r.gatherer = prometheus.DefaultGatherer
	}
	if r.joinWin <= 0 {
		r.joinWin = rateWindowDefault
	}
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit("/healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{}))

	r.mux.HandleFunc("/team/add", r.audit("/team/add", r.authed("/team/add", rateLimitUserWrite, rateWindowDefault, r.handleTeamAdd)))
	r.mux.HandleFunc("/team/update", r.audit("/team/update", r.authed("/team/update", rateLimitUserWrite, rateWindowDefault, r.handleTeamUpdate)))
	r.mux.HandleFunc("/team/delete", r.audit("/team/delete", r.authed("/team/delete", rateLimitUserWrite, rateWindowDefault, r.handleTeamDelete)))
	r.mux.HandleFunc("/team/get", r.audit("/team/get", r.public("/team/get", rateLimitUserRead, rateWindowDefault, r.handleTeamGet)))
	r.mux.HandleFunc("/team/list", r.audit("/team/list", r.public("/team/list", rateLimitUserRead, rateWindowDefault, r.handleTeamList)))
	r.mux.HandleFunc("/team/list/my", r.audit("/team/list/my", r.authed("/team/list/my", rateLimitUserRead, rateWindowDefault, r.handleTeamListOwned)))
	r.mux.HandleFunc("/team/list/joined", r.audit("/team/list/joined", r.authed("/team/list/joined", rateLimitUserRead, rateWindowDefault, r.handleTeamListJoined)))
	r.mux.HandleFunc("/team/join", r.audit("/team/join", r.authed("/team/join", r.joinRate, r.joinWin, r.handleTeamJoin)))
	r.mux.HandleFunc("/team/quit", r.audit("/team/quit", r.authed("/team/quit", rateLimitUserWrite, rateWindowDefault, r.handleTeamQuit)))
	r.mux.HandleFunc("/ws/teams", r.audit("/ws/teams", r.withQueryToken(r.authed("/ws/teams", rateLimitWebsocket, rateWindowRealtime, r.handleTeamsWS))))
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	names := make([]string, 0, len(r.health))
	for name := range r.health {
		names = append(names, name)
	}
	sort.Strings(names)

	components := make(map[string]any, len(names))
	status := "ok"
	for _, name := range names {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		err := r.health[name](ctx)
		cancel()
		if err != nil {
			status = "degraded"
			components[name] = map[string]any{"status": "down", "error": err.Error()}
			continue
		}
		components[name] = map[string]any{"status": "up"}
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// withQueryToken lets browsers pass the bearer token as ?token= on
// websocket upgrades, where custom headers are unavailable.
func (r *Router) withQueryToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Header.Get("Authorization") == "" {
			if token := strings.TrimSpace(req.URL.Query().Get("token")); token != "" {
				req.Header.Set("Authorization", "Bearer "+token)
			}
		}
		next(w, req)
	}
}

func (r *Router) handleTeamsWS(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	if r.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream disabled")
		return
	}
	teamID := ws.AllTeams
	if raw := strings.TrimSpace(req.URL.Query().Get("team_id")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			writeError(w, http.StatusBadRequest, "team_id must be a positive integer")
			return
		}
		teamID = id
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(teamID, client)
	defer func() {
		r.hub.Unregister(teamID, client)
		client.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		reqID := strings.TrimSpace(req.Header.Get("X-Request-ID"))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)

		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		r.recordRequestMetrics(req.Method, route, status, duration)

		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
			"request_id", reqID,
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if user := callerFromContext(ctx); user != nil {
			actor = "user"
			fields = append(fields, "user_id", user.ID)
		}
		fields = append(fields, "actor", actor)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		sr.status = http.StatusSwitchingProtocols
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
