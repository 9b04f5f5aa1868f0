// Package main implements the neoproctl server that tracks club playback
// devices, dispatches remote commands, and rolls out content and updates.
package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"neoproctl/internal/config"
	"neoproctl/internal/dispatch"
	"neoproctl/internal/health"
	"neoproctl/internal/periodic"
	"neoproctl/internal/scheduler"
	"neoproctl/internal/store"
	"neoproctl/internal/transport"
	"neoproctl/internal/types"
)

const (
	// HTTP timeouts.
	readTimeout  = 15 * time.Second
	writeTimeout = 15 * time.Second
	idleTimeout  = 60 * time.Second

	// Request validation limits.
	maxFieldLength  = 255
	maxRequestBody  = 1024 * 1024 // 1MB limit
	shutdownTimeout = 10 * time.Second

	// Retry configuration for persistence writes.
	maxRetries     = 3
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second

	// Heartbeat rows older than this are pruned hourly. The health window is
	// 24h, so 48h of history always covers it.
	heartbeatRetention = 48 * time.Hour
)

var (
	port         = flag.String("port", "8080", "Server port")
	dbPath       = flag.String("db", "neoproctl.db", "Path to SQLite database")
	settingsPath = flag.String("settings", "", "Path to YAML settings file (defaults used when empty)")
	apiKey       = flag.String("api-key", "", "API key for authentication (optional but recommended)")
)

type Server struct {
	store     *store.Store
	hub       *transport.Hub
	dispatch  *dispatch.Dispatcher
	scheduler *scheduler.Scheduler
	health    *health.Tracker
	cfg       config.Settings
	upgrader  websocket.Upgrader

	// Last known remote address per live session, keyed by device id.
	// Heartbeat frames carry no address, so it is captured at upgrade time.
	ipMu      sync.RWMutex
	clientIPs map[string]string

	healthMu     sync.RWMutex
	statsmu      sync.RWMutex
	requestCount int64
	errorCount   int64
	healthy      bool
}

func main() {
	flag.Parse()

	cfg := config.Default()
	if *settingsPath != "" {
		var err error
		cfg, err = config.Load(*settingsPath)
		if err != nil {
			log.Fatalf("[ERROR] Failed to load settings: %v", err)
		}
	}

	st, err := store.Open(*dbPath)
	if err != nil {
		log.Fatalf("[ERROR] Failed to open store: %v", err)
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := &Server{
		store:     st,
		cfg:       cfg,
		clientIPs: make(map[string]string),
		healthy:   true,
		upgrader: websocket.Upgrader{
			// Agents are headless devices, not browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	server.hub = transport.NewHub(transport.Handlers{
		Heartbeat: server.onHeartbeat,
		Result:    server.onResult,
		Closed:    server.onSessionClosed,
	})
	server.dispatch = dispatch.New(st, server.hub)
	server.scheduler = scheduler.New(st, server.dispatch)
	server.health = health.New(st, cfg.HeartbeatInterval.Std(), cfg.StaleMultiplier, cfg.WarningUptimePercent)

	if *apiKey != "" {
		log.Println("[INFO] API key authentication enabled")
	} else {
		log.Println("[WARN] Running without API key authentication")
	}
	log.Printf("[INFO] Health thresholds: heartbeat_interval=%v, stale_multiplier=%d, warning_uptime=%.0f%%",
		cfg.HeartbeatInterval.Std(), cfg.StaleMultiplier, cfg.WarningUptimePercent)
	log.Printf("[INFO] Retry configuration: max_retries=%d, initial_backoff=%v, max_backoff=%v",
		maxRetries, initialBackoff, maxBackoff)

	periodic.New("deployment-sweep", cfg.SweepInterval.Std(), server.scheduler.Sweep).Start(ctx)
	periodic.New("command-expiry", cfg.ExpiryInterval.Std(), func(ctx context.Context) {
		server.dispatch.ExpireStale(ctx, cfg.CommandTimeout.Std())
	}).Start(ctx)
	periodic.New("heartbeat-prune", time.Hour, func(ctx context.Context) {
		n, err := st.PruneHeartbeats(ctx, time.Now().UTC().Add(-heartbeatRetention))
		if err != nil {
			log.Printf("[ERROR] Heartbeat prune failed: %v", err)
			return
		}
		if n > 0 {
			log.Printf("[INFO] Pruned %d heartbeat rows older than %v", n, heartbeatRetention)
		}
	}).Start(ctx)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/devices/register", server.handleRegister)
	mux.HandleFunc("/api/v1/devices", server.handleDevices)
	mux.HandleFunc("/api/v1/devices/", server.handleDeviceStatus)
	mux.HandleFunc("/api/v1/commands", server.handleCommands)
	mux.HandleFunc("/api/v1/commands/", server.handleCommand)
	mux.HandleFunc("/api/v1/deployments", server.handleDeployments)
	mux.HandleFunc("/api/v1/deployments/", server.handleDeployment)
	mux.HandleFunc("/api/v1/sites/", server.handleSiteConfig)
	mux.HandleFunc("/ws/agent", server.handleAgentSocket)
	mux.HandleFunc("/health", server.handleHealth)

	srv := &http.Server{
		Addr:           ":" + *port,
		Handler:        loggingMiddleware(mux),
		ReadTimeout:    readTimeout,
		WriteTimeout:   writeTimeout,
		IdleTimeout:    idleTimeout,
		MaxHeaderBytes: 1 << 16, // 64KB max header size
	}

	go func() {
		log.Printf("[INFO] Server starting on port %s", *port)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("[ERROR] Server failed: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("[INFO] Shutting down server...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[ERROR] Server shutdown error: %v", err)
	} else {
		log.Println("[INFO] Server shutdown complete")
	}
}

// onHeartbeat handles a heartbeat frame from a live device session. The
// heartbeat row is the health record; losing one shifts the uptime figure, so
// the write is retried and the session stays up either way.
func (s *Server) onHeartbeat(deviceID, softwareVersion string) {
	ctx := context.Background()
	now := time.Now().UTC()

	s.ipMu.RLock()
	ip := s.clientIPs[deviceID]
	s.ipMu.RUnlock()

	err := retry.Do(func() error {
		if err := s.store.RecordHeartbeat(ctx, deviceID, now); err != nil {
			return err
		}
		return s.store.TouchDevice(ctx, deviceID, ip, softwareVersion, now)
	}, retry.Attempts(maxRetries), retry.Delay(initialBackoff), retry.MaxDelay(maxBackoff))
	if err != nil {
		log.Printf("[ERROR] Failed to record heartbeat for device %s: %v", deviceID, err)
		s.setHealthy(false)
		return
	}
	s.setHealthy(true)
}

// onSessionClosed drops the cached client address when a device's session
// ends, so the map tracks live sessions rather than growing with history.
func (s *Server) onSessionClosed(deviceID string) {
	s.ipMu.Lock()
	delete(s.clientIPs, deviceID)
	s.ipMu.Unlock()
}

func (s *Server) onResult(commandID string, success bool, result json.RawMessage, errorMessage string) {
	if err := s.dispatch.DeliverResult(context.Background(), commandID, success, result, errorMessage); err != nil {
		log.Printf("[ERROR] Failed to record result for command %s: %v", commandID, err)
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	s.incrementRequestCount()

	if r.Method != http.MethodPost {
		s.incrementErrorCount()
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorized(w, r) {
		return
	}

	var req struct {
		ID              string `json:"id"`
		Name            string `json:"name"`
		ClubName        string `json:"club_name"`
		SoftwareVersion string `json:"software_version"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.incrementErrorCount()
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if !isValidDeviceID(req.ID) || len(req.ID) > maxFieldLength {
		s.incrementErrorCount()
		log.Printf("[WARN] Invalid device id from %s", r.RemoteAddr)
		http.Error(w, "Invalid device id", http.StatusBadRequest)
		return
	}
	if len(req.Name) > maxFieldLength || len(req.ClubName) > maxFieldLength {
		s.incrementErrorCount()
		http.Error(w, "Field too long", http.StatusBadRequest)
		return
	}

	now := time.Now().UTC()
	device := &types.Device{
		ID:              req.ID,
		Name:            req.Name,
		ClubName:        req.ClubName,
		SoftwareVersion: req.SoftwareVersion,
		Status:          types.DeviceOnline,
		LastSeen:        now,
		LastIP:          clientIP(r),
		RegisteredAt:    now,
	}
	// Registration counts as the device's first heartbeat.
	err := retry.Do(func() error {
		if err := s.store.UpsertDevice(r.Context(), device); err != nil {
			return err
		}
		return s.store.RecordHeartbeat(r.Context(), device.ID, now)
	}, retry.Attempts(maxRetries), retry.Delay(initialBackoff), retry.MaxDelay(maxBackoff))
	if err != nil {
		s.incrementErrorCount()
		log.Printf("[ERROR] Failed to register device %s: %v", device.ID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	log.Printf("[INFO] Registered device %s (club: %s) from %s", device.ID, device.ClubName, r.RemoteAddr)
	writeJSON(w, http.StatusOK, device)
}

// handleDevices returns the fleet with derived connection status per device.
func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	s.incrementRequestCount()

	if r.Method != http.MethodGet {
		s.incrementErrorCount()
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	devices, err := s.store.ListDevices(r.Context())
	if err != nil {
		s.incrementErrorCount()
		log.Printf("[ERROR] Failed to list devices: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	type entry struct {
		*types.Device
		Connection types.ConnectionStatus `json:"connection"`
	}
	out := make([]entry, 0, len(devices))
	for _, d := range devices {
		out = append(out, entry{Device: d, Connection: s.health.Status(r.Context(), d.ID)})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleDeviceStatus serves GET /api/v1/devices/{id}/status and
// GET /api/v1/devices/{id}/commands.
func (s *Server) handleDeviceStatus(w http.ResponseWriter, r *http.Request) {
	s.incrementRequestCount()

	if r.Method != http.MethodGet {
		s.incrementErrorCount()
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/devices/")
	deviceID, action, _ := strings.Cut(rest, "/")
	if deviceID == "" {
		s.incrementErrorCount()
		http.NotFound(w, r)
		return
	}

	switch action {
	case "status":
		if _, err := s.store.GetDevice(r.Context(), deviceID); err != nil {
			s.notFoundOrError(w, err, "device", deviceID)
			return
		}
		writeJSON(w, http.StatusOK, s.health.Status(r.Context(), deviceID))
	case "commands":
		commands, err := s.store.CommandsForDevice(r.Context(), deviceID, 50)
		if err != nil {
			s.incrementErrorCount()
			log.Printf("[ERROR] Failed to list commands for device %s: %v", deviceID, err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, commands)
	default:
		s.incrementErrorCount()
		http.NotFound(w, r)
	}
}

func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	s.incrementRequestCount()

	if r.Method != http.MethodPost {
		s.incrementErrorCount()
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorized(w, r) {
		return
	}

	var req struct {
		DeviceID string            `json:"device_id"`
		Type     types.CommandType `json:"command_type"`
		Params   json.RawMessage   `json:"command_data,omitempty"`
		Wait     bool              `json:"wait,omitempty"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.incrementErrorCount()
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	commandID, err := s.dispatch.Issue(r.Context(), req.DeviceID, req.Type, req.Params)
	switch {
	case err == nil:
	case errors.Is(err, types.ErrDeviceNotFound):
		s.incrementErrorCount()
		http.Error(w, "Device not found", http.StatusNotFound)
		return
	case errors.Is(err, types.ErrDeviceUnreachable):
		s.incrementErrorCount()
		http.Error(w, "Device not connected", http.StatusConflict)
		return
	case errors.Is(err, types.ErrInvalidState):
		s.incrementErrorCount()
		http.Error(w, "Unknown command type", http.StatusBadRequest)
		return
	case errors.Is(err, types.ErrDeliveryFailed):
		// The command exists in the ledger as failed; report it like any
		// other command so the caller can inspect it.
	default:
		s.incrementErrorCount()
		log.Printf("[ERROR] Failed to issue command to device %s: %v", req.DeviceID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if req.Wait {
		cmd, err := s.dispatch.Await(r.Context(), commandID, s.cfg.PollAttempts, s.cfg.PollInterval.Std())
		if err == nil {
			writeJSON(w, http.StatusOK, cmd)
			return
		}
		log.Printf("[WARN] Command %s not terminal within poll budget: %v", commandID, err)
	}

	cmd, err := s.dispatch.Observe(r.Context(), commandID)
	if err != nil {
		s.incrementErrorCount()
		log.Printf("[ERROR] Failed to load command %s: %v", commandID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusAccepted, cmd)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	s.incrementRequestCount()

	if r.Method != http.MethodGet {
		s.incrementErrorCount()
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	commandID := strings.TrimPrefix(r.URL.Path, "/api/v1/commands/")
	cmd, err := s.dispatch.Observe(r.Context(), commandID)
	if err != nil {
		s.notFoundOrError(w, err, "command", commandID)
		return
	}
	writeJSON(w, http.StatusOK, cmd)
}

func (s *Server) handleDeployments(w http.ResponseWriter, r *http.Request) {
	s.incrementRequestCount()

	if r.Method != http.MethodPost {
		s.incrementErrorCount()
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorized(w, r) {
		return
	}

	var req struct {
		Kind        types.DeploymentKind `json:"kind"`
		TargetType  types.TargetType     `json:"target_type"`
		TargetID    string               `json:"target_id"`
		Payload     json.RawMessage      `json:"payload"`
		RequestedBy string               `json:"requested_by"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.incrementErrorCount()
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	dep, err := s.scheduler.Create(r.Context(), req.Kind, req.TargetType, req.TargetID, req.Payload, req.RequestedBy)
	if err != nil {
		s.incrementErrorCount()
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	log.Printf("[INFO] Created %s deployment %s for %s %s", dep.Kind, dep.ID, dep.TargetType, dep.TargetID)
	writeJSON(w, http.StatusCreated, dep)
}

// handleDeployment serves GET /api/v1/deployments/{id} plus the
// /schedule and /cancel actions.
func (s *Server) handleDeployment(w http.ResponseWriter, r *http.Request) {
	s.incrementRequestCount()

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/deployments/")
	deploymentID, action, _ := strings.Cut(rest, "/")
	if deploymentID == "" {
		s.incrementErrorCount()
		http.NotFound(w, r)
		return
	}

	switch action {
	case "":
		if r.Method != http.MethodGet {
			s.incrementErrorCount()
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		dep, err := s.scheduler.Get(r.Context(), deploymentID)
		if err != nil {
			s.notFoundOrError(w, err, "deployment", deploymentID)
			return
		}
		writeJSON(w, http.StatusOK, dep)

	case "schedule":
		if r.Method != http.MethodPost {
			s.incrementErrorCount()
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !s.authorized(w, r) {
			return
		}
		var req struct {
			At          time.Time `json:"at"`
			RequestedBy string    `json:"requested_by"`
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.At.IsZero() {
			s.incrementErrorCount()
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		s.deploymentAction(w, r, deploymentID, "schedule", func() error {
			return s.scheduler.Schedule(r.Context(), deploymentID, req.At.UTC(), req.RequestedBy)
		})

	case "cancel":
		if r.Method != http.MethodPost {
			s.incrementErrorCount()
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if !s.authorized(w, r) {
			return
		}
		s.deploymentAction(w, r, deploymentID, "cancel", func() error {
			return s.scheduler.Cancel(r.Context(), deploymentID)
		})

	default:
		s.incrementErrorCount()
		http.NotFound(w, r)
	}
}

func (s *Server) deploymentAction(w http.ResponseWriter, r *http.Request, id, action string, run func() error) {
	err := run()
	switch {
	case err == nil:
	case errors.Is(err, types.ErrInvalidState):
		s.incrementErrorCount()
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, types.ErrDeploymentNotFound):
		s.incrementErrorCount()
		http.Error(w, "Deployment not found", http.StatusNotFound)
		return
	default:
		s.incrementErrorCount()
		log.Printf("[ERROR] Failed to %s deployment %s: %v", action, id, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	dep, err := s.scheduler.Get(r.Context(), id)
	if err != nil {
		s.notFoundOrError(w, err, "deployment", id)
		return
	}
	writeJSON(w, http.StatusOK, dep)
}

// handleSiteConfig serves POST /api/v1/sites/{id}/config/preview: the change
// list a merge push would produce, computed without persisting anything.
func (s *Server) handleSiteConfig(w http.ResponseWriter, r *http.Request) {
	s.incrementRequestCount()

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/sites/")
	siteID, action, _ := strings.Cut(rest, "/")
	if siteID == "" || action != "config/preview" {
		s.incrementErrorCount()
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		s.incrementErrorCount()
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.authorized(w, r) {
		return
	}

	var req struct {
		Document json.RawMessage `json:"document"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Document) == 0 {
		s.incrementErrorCount()
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	changes, err := s.scheduler.Preview(r.Context(), siteID, req.Document)
	if err != nil {
		if errors.Is(err, types.ErrMergeConflict) {
			s.incrementErrorCount()
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		s.incrementErrorCount()
		log.Printf("[ERROR] Preview failed for site %s: %v", siteID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, changes)
}

// handleAgentSocket upgrades a registered device's connection and attaches it
// to the session hub. A reconnect replaces the previous session.
func (s *Server) handleAgentSocket(w http.ResponseWriter, r *http.Request) {
	s.incrementRequestCount()

	if !s.authorized(w, r) {
		return
	}

	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		s.incrementErrorCount()
		http.Error(w, "device_id required", http.StatusBadRequest)
		return
	}
	if _, err := s.store.GetDevice(r.Context(), deviceID); err != nil {
		s.notFoundOrError(w, err, "device", deviceID)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.incrementErrorCount()
		log.Printf("[WARN] WebSocket upgrade failed for device %s: %v", deviceID, err)
		return
	}

	ip := clientIP(r)
	s.ipMu.Lock()
	s.clientIPs[deviceID] = ip
	s.ipMu.Unlock()

	log.Printf("[INFO] Device %s connected from %s", deviceID, ip)
	s.hub.Attach(deviceID, conn)
}

func (s *Server) handleHealth(writer http.ResponseWriter, _ *http.Request) {
	s.incrementRequestCount()

	s.healthMu.RLock()
	healthy := s.healthy
	s.healthMu.RUnlock()

	s.statsmu.RLock()
	requestCount := s.requestCount
	errorCount := s.errorCount
	s.statsmu.RUnlock()

	status := "healthy"
	statusCode := http.StatusOK
	if !healthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	response := fmt.Sprintf(`{"status":%q,"sessions":%d,"requests":%d,"errors":%d}`,
		status, s.hub.SessionCount(), requestCount, errorCount)

	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(statusCode)
	if _, err := writer.Write([]byte(response)); err != nil {
		log.Printf("[WARN] Error writing health response: %v", err)
	}
}

// authorized enforces the API key when one is configured. It writes the 401
// itself; callers return immediately on false.
func (s *Server) authorized(w http.ResponseWriter, r *http.Request) bool {
	if *apiKey == "" {
		return true
	}
	// Security: Don't accept API key from query params (exposes in logs)
	if !constantTimeCompare(r.Header.Get("X-API-Key"), *apiKey) {
		s.incrementErrorCount()
		log.Printf("[WARN] Unauthorized request from %s to %s", r.RemoteAddr, r.URL.Path)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return false
	}
	return true
}

func (s *Server) notFoundOrError(w http.ResponseWriter, err error, kind, id string) {
	s.incrementErrorCount()
	if errors.Is(err, types.ErrDeviceNotFound) || errors.Is(err, types.ErrCommandNotFound) || errors.Is(err, types.ErrDeploymentNotFound) {
		http.Error(w, kind+" not found", http.StatusNotFound)
		return
	}
	log.Printf("[ERROR] Failed to load %s %s: %v", kind, id, err)
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[WARN] Error writing response: %v", err)
	}
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Security: Add comprehensive security headers
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		start := time.Now()
		next.ServeHTTP(w, r)
		duration := time.Since(start)

		// Log with different levels based on duration and status
		if duration > 1*time.Second {
			log.Printf("[WARN] Slow request: %s %s %s %v", r.RemoteAddr, r.Method, r.URL.Path, duration)
		} else {
			log.Printf("[DEBUG] %s %s %s %v", r.RemoteAddr, r.Method, r.URL.Path, duration)
		}
	})
}

// Utility methods for tracking server statistics and health.
func (s *Server) incrementRequestCount() {
	s.statsmu.Lock()
	s.requestCount++
	s.statsmu.Unlock()
}

func (s *Server) incrementErrorCount() {
	s.statsmu.Lock()
	s.errorCount++
	s.statsmu.Unlock()
}

func (s *Server) setHealthy(healthy bool) {
	s.healthMu.Lock()
	changed := s.healthy != healthy
	s.healthy = healthy
	s.healthMu.Unlock()

	if !changed {
		return
	}
	if !healthy {
		log.Printf("[WARN] Server health status changed to degraded")
	} else {
		log.Printf("[INFO] Server health status changed to healthy")
	}
}

// clientIP extracts the caller address, honoring proxy headers.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if parts := strings.Split(xff, ","); len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}

// constantTimeCompare performs constant-time string comparison to prevent timing attacks.
func constantTimeCompare(a, b string) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// isValidDeviceID validates that a device id contains only safe characters.
func isValidDeviceID(id string) bool {
	for _, r := range id {
		if !((r >= 'a' && r <= 'z') ||
			(r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') ||
			r == '-' || r == '_' || r == '.') {
			return false
		}
	}
	return len(id) > 0
}
