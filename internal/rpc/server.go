package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/voltmesh/curtaild/escrow"
	"github.com/voltmesh/curtaild/events"
	"github.com/voltmesh/curtaild/internal/metrics"
	"github.com/voltmesh/curtaild/reconcile"
	"github.com/voltmesh/curtaild/rewards"
)

// Server provides the JSON-RPC interface of curtaild
type Server struct {
	mu         sync.RWMutex
	server     *http.Server
	manager    *rewards.Manager
	holds      *escrow.Store
	directory  *events.Directory
	reconciler *reconcile.Reconciler
	health     http.HandlerFunc
	logger     *zap.Logger
	running    bool
}

// Dependencies holds the required dependencies for the RPC server
type Dependencies struct {
	Manager    *rewards.Manager
	Holds      *escrow.Store
	Directory  *events.Directory
	Reconciler *reconcile.Reconciler
	Health     http.HandlerFunc
	Logger     *zap.Logger
}

// Options tunes the HTTP surface
type Options struct {
	APIKeys   []string
	RateLimit float64
	RateBurst int
}

// Request represents a JSON-RPC request
type Request struct {
	ID     interface{} `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`
}

// Response represents a JSON-RPC response
type Response struct {
	ID     interface{} `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  *RPCError   `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC error
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// FundPoolParams represents parameters for settle.fundPool()
type FundPoolParams struct {
	EventID         string  `json:"eventId"`
	OperatorAddress string  `json:"operatorAddress"`
	TotalAmount     float64 `json:"totalAmount"`
}

// FundPoolResult represents the result of settle.fundPool()
type FundPoolResult struct {
	HoldID   string `json:"holdId"`
	QRURL    string `json:"qrUrl,omitempty"`
	DeepLink string `json:"deepLink,omitempty"`
}

// AllocateParams represents parameters for settle.allocate()
type AllocateParams struct {
	EventID        string   `json:"eventId"`
	ParticipantIDs []string `json:"participantIds"`
}

// AllocateResult represents the result of settle.allocate()
type AllocateResult struct {
	Allocations []*rewards.RewardAllocation `json:"allocations"`
}

// FinalizeParams represents parameters for settle.finalize()
type FinalizeParams struct {
	EventID string `json:"eventId"`
}

// FinalizeResult represents the result of settle.finalize()
type FinalizeResult struct {
	Payments []*rewards.RewardPayment `json:"payments"`
}

// StatusParams represents parameters for settle.status()
type StatusParams struct {
	EventID string `json:"eventId"`
}

// StatusResult represents the result of settle.status()
type StatusResult struct {
	Event       *events.CurtailmentEvent    `json:"event"`
	Holds       []*escrow.ConditionalHold   `json:"holds"`
	Allocations []*rewards.RewardAllocation `json:"allocations"`
}

// HoldParams represents parameters for settle.hold()
type HoldParams struct {
	HoldID string `json:"holdId"`
}

// NewServer creates a new RPC server
func NewServer(deps *Dependencies) *Server {
	return &Server{
		manager:    deps.Manager,
		holds:      deps.Holds,
		directory:  deps.Directory,
		reconciler: deps.Reconciler,
		health:     deps.Health,
		logger:     deps.Logger.Named("rpc"),
		running:    false,
	}
}

// Start starts the RPC server on the specified address
func (s *Server) Start(addr string, opts Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("RPC server is already running")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRequest)
	mux.HandleFunc("/webhooks/signing", s.handleWebhook)
	mux.Handle("/metrics", metrics.PrometheusHandler())
	mux.Handle("/debug/vars", expvar.Handler())
	if s.health != nil {
		mux.HandleFunc("/health", s.health)
	}

	auth := NewAPIKeyMiddleware(opts.APIKeys)
	limiter := NewRateLimiter(opts.RateLimit, opts.RateBurst)
	handler := LoggingMiddleware(s.logger)(
		SecurityHeadersMiddleware(
			auth.Middleware(
				limiter.Middleware(mux))))

	s.server = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}

	s.running = true

	// Start server in background
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("RPC server error", zap.Error(err))
		}
	}()

	s.logger.Info("RPC server started", zap.String("addr", addr))
	return nil
}

// Stop stops the RPC server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	s.running = false

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}

	return nil
}

// handleRequest handles JSON-RPC requests
func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	// Set CORS headers
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
	w.Header().Set("Content-Type", "application/json")

	// Handle preflight OPTIONS request
	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	// Only accept POST requests for JSON-RPC
	if r.Method != "POST" {
		s.writeError(w, nil, -32600, "Invalid Request")
		return
	}

	// Parse request
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, nil, -32700, "Parse error")
		return
	}

	metrics.IncrementRPCRequests()

	// Route method
	var result interface{}
	var rpcErr *RPCError

	switch req.Method {
	case "settle.fundPool":
		result, rpcErr = s.handleFundPool(r.Context(), req.Params)
	case "settle.allocate":
		result, rpcErr = s.handleAllocate(r.Context(), req.Params)
	case "settle.finalize":
		result, rpcErr = s.handleFinalize(r.Context(), req.Params)
	case "settle.status":
		result, rpcErr = s.handleStatus(req.Params)
	case "settle.hold":
		result, rpcErr = s.handleHold(req.Params)
	default:
		rpcErr = &RPCError{Code: -32601, Message: "Method not found"}
	}

	// Write response
	if rpcErr != nil {
		metrics.IncrementRPCErrors()
		s.writeError(w, req.ID, rpcErr.Code, rpcErr.Message)
	} else {
		s.writeResult(w, req.ID, result)
	}
}

// handleWebhook accepts signing outcome deliveries from the wallet
// provider. Replayed deliveries are acknowledged without re-applying.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		fmt.Fprint(w, `{"error":"method not allowed"}`)
		return
	}

	var n reconcile.Notification
	if err := json.NewDecoder(r.Body).Decode(&n); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid payload"}`)
		return
	}

	if err := s.reconciler.HandleNotification(r.Context(), &n); err != nil {
		s.logger.Error("webhook processing failed",
			zap.String("correlation_id", n.CorrelationID),
			zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":"processing failed"}`)
		return
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"ok":true}`)
}

// handleFundPool handles settle.fundPool()
func (s *Server) handleFundPool(ctx context.Context, params interface{}) (interface{}, *RPCError) {
	var p FundPoolParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	if p.EventID == "" {
		return nil, &RPCError{Code: -32602, Message: "Missing required field: eventId"}
	}
	if p.OperatorAddress == "" {
		return nil, &RPCError{Code: -32602, Message: "Missing required field: operatorAddress"}
	}
	if p.TotalAmount <= 0 {
		return nil, &RPCError{Code: -32602, Message: "totalAmount must be positive"}
	}

	result, err := s.manager.FundPool(ctx, p.EventID, p.OperatorAddress, p.TotalAmount)
	if err != nil {
		return nil, mapError(err)
	}

	return &FundPoolResult{
		HoldID:   result.Hold.ID,
		QRURL:    result.QRURL,
		DeepLink: result.DeepLink,
	}, nil
}

// handleAllocate handles settle.allocate()
func (s *Server) handleAllocate(ctx context.Context, params interface{}) (interface{}, *RPCError) {
	var p AllocateParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	if p.EventID == "" {
		return nil, &RPCError{Code: -32602, Message: "Missing required field: eventId"}
	}
	if len(p.ParticipantIDs) == 0 {
		return nil, &RPCError{Code: -32602, Message: "Missing required field: participantIds"}
	}

	allocations, err := s.manager.Allocate(ctx, p.EventID, p.ParticipantIDs)
	if err != nil {
		return nil, mapError(err)
	}

	return &AllocateResult{Allocations: allocations}, nil
}

// handleFinalize handles settle.finalize()
func (s *Server) handleFinalize(ctx context.Context, params interface{}) (interface{}, *RPCError) {
	var p FinalizeParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	if p.EventID == "" {
		return nil, &RPCError{Code: -32602, Message: "Missing required field: eventId"}
	}

	payments, err := s.manager.Finalize(ctx, p.EventID)
	if err != nil {
		return nil, mapError(err)
	}

	return &FinalizeResult{Payments: payments}, nil
}

// handleStatus handles settle.status()
func (s *Server) handleStatus(params interface{}) (interface{}, *RPCError) {
	var p StatusParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	if p.EventID == "" {
		return nil, &RPCError{Code: -32602, Message: "Missing required field: eventId"}
	}

	event, err := s.directory.Event(p.EventID)
	if err != nil {
		return nil, mapError(err)
	}

	holds, err := s.holds.ListByEvent(p.EventID)
	if err != nil {
		return nil, mapError(err)
	}

	allocations, err := s.manager.Store().Allocations(p.EventID)
	if err != nil {
		return nil, mapError(err)
	}

	return &StatusResult{
		Event:       event,
		Holds:       holds,
		Allocations: allocations,
	}, nil
}

// handleHold handles settle.hold()
func (s *Server) handleHold(params interface{}) (interface{}, *RPCError) {
	var p HoldParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	if p.HoldID == "" {
		return nil, &RPCError{Code: -32602, Message: "Missing required field: holdId"}
	}

	hold, err := s.holds.Get(p.HoldID)
	if err != nil {
		return nil, mapError(err)
	}

	return hold, nil
}

// IsRunning returns whether the server is running
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// GetAddr returns the server address
func (s *Server) GetAddr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.server != nil {
		return s.server.Addr
	}
	return ""
}

// decodeParams re-marshals loosely typed params into the method's struct
func decodeParams(params interface{}, v interface{}) *RPCError {
	paramsBytes, err := json.Marshal(params)
	if err != nil {
		return &RPCError{Code: -32602, Message: "Invalid params"}
	}
	if err := json.Unmarshal(paramsBytes, v); err != nil {
		return &RPCError{Code: -32602, Message: "Invalid params structure"}
	}
	return nil
}

// mapError translates domain sentinels into JSON-RPC error codes
func mapError(err error) *RPCError {
	switch {
	case errors.Is(err, events.ErrNotFound),
		errors.Is(err, escrow.ErrNotFound),
		errors.Is(err, rewards.ErrEventNotFound),
		errors.Is(err, rewards.ErrNotFound),
		errors.Is(err, rewards.ErrPaymentNotFound):
		return &RPCError{Code: -32001, Message: err.Error()}
	case errors.Is(err, rewards.ErrMainEscrowNotFound),
		errors.Is(err, rewards.ErrEventNotCompleted),
		errors.Is(err, escrow.ErrInvalidState),
		errors.Is(err, escrow.ErrInvalidReleaseDate),
		errors.Is(err, escrow.ErrTooEarlyToCancel),
		errors.Is(err, escrow.ErrMissingOfferSequence):
		return &RPCError{Code: -32002, Message: err.Error()}
	default:
		return &RPCError{Code: -32603, Message: err.Error()}
	}
}

// writeResult writes a successful JSON-RPC response
func (s *Server) writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	response := Response{
		ID:     id,
		Result: result,
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

// writeError writes an error JSON-RPC response
func (s *Server) writeError(w http.ResponseWriter, id interface{}, code int, message string) {
	response := Response{
		ID: id,
		Error: &RPCError{
			Code:    code,
			Message: message,
		},
	}

	w.WriteHeader(http.StatusOK) // JSON-RPC errors still return 200
	json.NewEncoder(w).Encode(response)
}
