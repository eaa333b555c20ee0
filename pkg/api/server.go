package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/tpsl/pkg/app/core/escrow"
	"github.com/uhyunpark/tpsl/pkg/app/core/mempool"
	"github.com/uhyunpark/tpsl/pkg/app/core/transaction"
	"github.com/uhyunpark/tpsl/pkg/app/tpsl"
	"github.com/uhyunpark/tpsl/pkg/oracle"
)

const maxTxBytes = 64 << 10

// Relay forwards an accepted transaction to other nodes.
type Relay func(ctx context.Context, raw []byte) error

type Options struct {
	Logger         *zap.SugaredLogger
	Relay          Relay
	AllowedOrigins []string
	// RelayOnly serves a node that executes no blocks: submitted txs are
	// checked and relayed but never queued, and state queries answer 503.
	RelayOnly bool
}

// Server handles REST API and WebSocket connections
type Server struct {
	app    *tpsl.App
	router *mux.Router
	hub    *Hub
	log    *zap.SugaredLogger
	relay  Relay
	cors   *cors.Cors

	relayOnly bool
}

// NewServer creates a new API server and subscribes it to the app's events.
func NewServer(app *tpsl.App, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:3001"}
	}

	s := &Server{
		app:       app,
		router:    mux.NewRouter(),
		hub:       NewHub(log),
		log:       log,
		relay:     opts.Relay,
		relayOnly: opts.RelayOnly,
		cors: cors.New(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type", "Authorization"},
			AllowCredentials: true,
		}),
	}

	s.setupRoutes()
	app.OnEvent(s.publishEvent)
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Escrow endpoints
	api.HandleFunc("/escrows", s.stateful(s.handleGetEscrows)).Methods("GET")
	api.HandleFunc("/escrows/{owner}/{orderId}", s.stateful(s.handleGetEscrow)).Methods("GET")

	// Account endpoints
	api.HandleFunc("/accounts/{address}/balances", s.stateful(s.handleGetBalances)).Methods("GET")

	// Oracle endpoints
	api.HandleFunc("/prices/{feedId}", s.stateful(s.handleGetPrice)).Methods("GET")

	// Chain endpoints
	api.HandleFunc("/chain/status", s.stateful(s.handleGetChainStatus)).Methods("GET")

	// Transaction submission
	api.HandleFunc("/tx", s.handleSubmitTx).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// stateful guards handlers that read the ledger. A relay-only node never
// executes blocks, so its ledger is frozen at genesis.
func (s *Server) stateful(h http.HandlerFunc) http.HandlerFunc {
	if !s.relayOnly {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusServiceUnavailable, "relay node holds no chain state", "query a sequencer")
	}
}

// Handler returns the CORS-wrapped router.
func (s *Server) Handler() http.Handler { return s.cors.Handler(s.router) }

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Infow("api_listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetEscrows(w http.ResponseWriter, r *http.Request) {
	var owner *common.Address
	if q := r.URL.Query().Get("owner"); q != "" {
		if !common.IsHexAddress(q) {
			respondError(w, http.StatusBadRequest, "invalid owner", q)
			return
		}
		addr := common.HexToAddress(q)
		owner = &addr
	}

	escrows, err := s.app.Escrows(owner)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list escrows", err.Error())
		return
	}
	respondJSON(w, EscrowsResponse{Escrows: escrows})
}

func (s *Server) handleGetEscrow(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if !common.IsHexAddress(vars["owner"]) {
		respondError(w, http.StatusBadRequest, "invalid owner", vars["owner"])
		return
	}
	orderID, err := strconv.ParseUint(vars["orderId"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid orderId", err.Error())
		return
	}

	e, err := s.app.Escrow(common.HexToAddress(vars["owner"]), orderID)
	if errors.Is(err, escrow.ErrEscrowNotFound) {
		respondError(w, http.StatusNotFound, "escrow not found", err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load escrow", err.Error())
		return
	}
	respondJSON(w, e)
}

func (s *Server) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	addressStr := mux.Vars(r)["address"]
	if !common.IsHexAddress(addressStr) {
		respondError(w, http.StatusBadRequest, "invalid address", "")
		return
	}

	addr := common.HexToAddress(addressStr)
	balances, err := s.app.Balances(addr)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load balances", err.Error())
		return
	}
	respondJSON(w, BalancesResponse{Address: addr.Hex(), Balances: balances})
}

func (s *Server) handleGetPrice(w http.ResponseWriter, r *http.Request) {
	raw, err := hexutil.Decode(mux.Vars(r)["feedId"])
	if err != nil || len(raw) != common.HashLength {
		respondError(w, http.StatusBadRequest, "invalid feedId", "expected 0x-prefixed 32-byte hex")
		return
	}

	u, err := s.app.Price(common.BytesToHash(raw))
	if errors.Is(err, oracle.ErrPriceNotFound) {
		respondError(w, http.StatusNotFound, "price not found", err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load price", err.Error())
		return
	}

	age := s.app.Status().Time - u.PublishTime
	_, staleErr := u.NoOlderThan(u.FeedID, s.app.Status().Time, s.app.EscrowConfig().MaxPriceAge)
	respondJSON(w, PriceInfo{
		FeedID:      u.FeedID.Hex(),
		Price:       u.Price,
		Conf:        u.Conf,
		Expo:        u.Expo,
		PublishTime: u.PublishTime,
		Age:         age,
		Stale:       staleErr != nil,
	})
}

func (s *Server) handleGetChainStatus(w http.ResponseWriter, r *http.Request) {
	st := s.app.Status()
	cfg := s.app.EscrowConfig()
	respondJSON(w, ChainStatus{
		Height:      st.Height,
		Time:        st.Time,
		AppHash:     "0x" + st.AppHash.String(),
		MempoolSize: s.app.PendingTxs(),
		FeedID:      cfg.FeedID.Hex(),
		MaxPriceAge: cfg.MaxPriceAge,
		WSClients:   s.hub.ClientCount(),
	})
}

func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxTxBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body", err.Error())
		return
	}

	if s.relayOnly {
		err = s.app.CheckTx(body)
	} else {
		err = s.app.PushTx(body)
	}
	if errors.Is(err, mempool.ErrMempoolFull) {
		respondError(w, http.StatusServiceUnavailable, "mempool full", err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusBadRequest, "transaction rejected", err.Error())
		return
	}
	hash := transaction.Hash(body)

	if s.relay != nil {
		if err := s.relay(r.Context(), body); err != nil {
			s.log.Warnw("tx_relay_failed", "tx", hash.Hex(), "err", err)
			if s.relayOnly {
				respondError(w, http.StatusBadGateway, "relay failed", err.Error())
				return
			}
		}
	}
	s.log.Debugw("tx_submitted", "tx", hash.Hex(), "bytes", len(body))

	respondJSON(w, SubmitTxResponse{Status: "accepted", TxHash: hash.Hex()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Event fan-out (called after every block)
// ==============================

// publishEvent routes a finalized ledger event to websocket channels.
func (s *Server) publishEvent(ev tpsl.Event) {
	var channels []string
	switch ev.Type {
	case "escrow_opened", "escrow_settled":
		channels = []string{"escrows", "escrows:" + strings.ToLower(ev.Attrs["owner"])}
	case "price_updated":
		channels = []string{"prices"}
	default:
		return
	}
	for _, ch := range channels {
		s.hub.BroadcastToChannel(ch, WSMessage{
			Channel: ch,
			Type:    ev.Type,
			Height:  ev.Height,
			TxHash:  ev.TxHash.Hex(),
			Data:    ev.Attrs,
		})
	}
}

// ==============================
// Helper Functions
// ==============================

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
