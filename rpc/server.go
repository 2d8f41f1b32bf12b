package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"powchain/core"
	"powchain/crypto"
	"powchain/interfaces"
	"powchain/logger"
	"powchain/miner"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const clientVersion = "powchain/1.0.0"

var errInvalidParams = errors.New("invalid params")

type Config struct {
	Host          string
	Port          int
	EnableMetrics bool
}

// MiningController is what the API needs from the miner.
type MiningController interface {
	MineNext(ctx context.Context, data []byte, opts ...miner.MineOption) (*core.Block, error)
	Start()
	Stop()
	IsRunning() bool
	Stats() miner.Stats
	Validate() error
}

type Server struct {
	config    *Config
	chain     interfaces.ChainReader
	miner     MiningController
	server    *http.Server
	listener  net.Listener
	miningAPI *MiningAPI
	chainAPI  *ChainAPI
}

type JSONRPCRequest struct {
	ID      interface{}   `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	Version string        `json:"jsonrpc"`
}

type JSONRPCResponse struct {
	ID      interface{}   `json:"id"`
	Result  interface{}   `json:"result,omitempty"`
	Error   *JSONRPCError `json:"error,omitempty"`
	Version string        `json:"jsonrpc"`
}

type JSONRPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func NewServer(config *Config, chain interfaces.ChainReader, controller MiningController) *Server {
	return &Server{
		config:    config,
		chain:     chain,
		miner:     controller,
		miningAPI: NewMiningAPI(controller),
		chainAPI:  NewChainAPI(chain, controller),
	}
}

// UseBlockStore serves historical block lookups from the persistent store.
func (s *Server) UseBlockStore(store interfaces.BlockReader) {
	s.chainAPI.UseBlockStore(store)
}

// Router builds the HTTP routes. It is exported so tests can drive the API
// through httptest without opening a port.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(corsMiddleware)

	router.HandleFunc("/", s.handleRPC).Methods("POST", "OPTIONS")
	router.HandleFunc("/health", s.handleHealth).Methods("GET", "OPTIONS")
	if s.config.EnableMetrics {
		router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	}

	api := router.PathPrefix("/api").Subrouter()

	mining := api.PathPrefix("/mining").Subrouter()
	mining.HandleFunc("/mine-block", s.miningAPI.MineBlockHandler).Methods("POST", "OPTIONS")
	mining.HandleFunc("/start", s.miningAPI.StartHandler).Methods("POST", "OPTIONS")
	mining.HandleFunc("/stop", s.miningAPI.StopHandler).Methods("POST", "OPTIONS")
	mining.HandleFunc("/stats", s.miningAPI.StatsHandler).Methods("GET", "OPTIONS")

	chain := api.PathPrefix("/chain").Subrouter()
	chain.HandleFunc("/validate", s.chainAPI.ValidateHandler).Methods("GET", "OPTIONS")
	chain.HandleFunc("/tip", s.chainAPI.TipHandler).Methods("GET", "OPTIONS")
	chain.HandleFunc("/blocks/{index:[0-9]+}", s.chainAPI.BlockByIndexHandler).Methods("GET", "OPTIONS")
	chain.HandleFunc("/blocks/hash/{hash}", s.chainAPI.BlockByHashHandler).Methods("GET", "OPTIONS")

	return router
}

// Start binds the listener and serves in the background. Bind errors are
// returned; later serve errors are logged.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("RPC server error: %v", err)
		}
	}()

	logger.Infof("JSON-RPC server with REST API started on %s", ln.Addr())
	return nil
}

// Addr returns the bound address once Start succeeded.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down, letting in-flight requests finish until ctx
// ends.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	logger.Info("JSON-RPC server stopped")
	return err
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.miner.Stats()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"height": s.chain.Len() - 1,
		"mining": stats.IsActive,
		"halted": stats.Halted,
	})
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, nil, -32700, "Parse error", nil)
		return
	}

	result, err := s.handleMethod(r.Context(), req.Method, req.Params)
	if err != nil {
		code := -32603
		if errors.Is(err, errInvalidParams) {
			code = -32602
		}
		// block yang sudah di-append tapi gagal disimpan tetap dilaporkan
		var data interface{}
		if block, ok := result.(*core.Block); ok && block != nil {
			data = block
		}
		s.sendError(w, req.ID, code, err.Error(), data)
		return
	}

	writeJSON(w, http.StatusOK, JSONRPCResponse{
		ID:      req.ID,
		Result:  result,
		Version: "2.0",
	})
}

func (s *Server) handleMethod(ctx context.Context, method string, params []interface{}) (interface{}, error) {
	switch method {
	case "chain_blockNumber":
		tip, err := s.chain.Tip()
		if err != nil {
			return nil, err
		}
		return hexutil.Uint64(tip.Index), nil
	case "chain_difficulty":
		return s.chain.Difficulty(), nil
	case "chain_getBlockByNumber":
		return s.getBlockByNumber(params)
	case "chain_getBlockByHash":
		return s.getBlockByHash(params)
	case "chain_validate":
		return validationResult(s.chain.Validate()), nil
	case "mining_mineBlock":
		return s.mineBlock(ctx, params)
	case "mining_stats":
		return s.miner.Stats(), nil
	case "web3_clientVersion":
		return clientVersion, nil
	default:
		return nil, fmt.Errorf("method not found: %s", method)
	}
}

func (s *Server) getBlockByNumber(params []interface{}) (interface{}, error) {
	if len(params) < 1 {
		return nil, fmt.Errorf("%w: missing block number", errInvalidParams)
	}
	var index uint64
	switch v := params[0].(type) {
	case float64:
		if v < 0 || v >= math.MaxUint64 || v != math.Trunc(v) {
			return nil, fmt.Errorf("%w: block number %v", errInvalidParams, v)
		}
		index = uint64(v)
	case string:
		if v == "latest" {
			tip, err := s.chain.Tip()
			if err != nil {
				return nil, err
			}
			return tip, nil
		}
		n, err := parseIndex(v)
		if err != nil {
			return nil, fmt.Errorf("%w: block number %q: %w", errInvalidParams, v, err)
		}
		index = n
	default:
		return nil, fmt.Errorf("%w: block number must be a number or string", errInvalidParams)
	}
	return s.chainAPI.blockByIndex(index)
}

func (s *Server) getBlockByHash(params []interface{}) (interface{}, error) {
	if len(params) < 1 {
		return nil, fmt.Errorf("%w: missing block hash", errInvalidParams)
	}
	hashStr, ok := params[0].(string)
	if !ok || !crypto.IsHexHash(hashStr) {
		return nil, fmt.Errorf("%w: block hash must be 32 hex bytes", errInvalidParams)
	}
	return s.chainAPI.blockByHash(crypto.HexToHash(hashStr))
}

func (s *Server) mineBlock(ctx context.Context, params []interface{}) (interface{}, error) {
	var data []byte
	if len(params) > 0 {
		str, ok := params[0].(string)
		if !ok {
			return nil, fmt.Errorf("%w: data must be a string", errInvalidParams)
		}
		data = []byte(str)
	}
	var opts []miner.MineOption
	if len(params) > 1 {
		d, ok := params[1].(float64)
		if !ok || d < 0 || d > core.MaxDifficulty || d != math.Trunc(d) {
			return nil, fmt.Errorf("%w: difficulty must be an integer between 0 and %d", errInvalidParams, core.MaxDifficulty)
		}
		opts = append(opts, miner.WithDifficulty(uint(d)))
	}
	return s.miner.MineNext(ctx, data, opts...)
}

// parseIndex menerima desimal atau hex dengan prefix 0x.
func parseIndex(s string) (uint64, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return hexutil.DecodeUint64(s)
	}
	return strconv.ParseUint(s, 10, 64)
}

func (s *Server) sendError(w http.ResponseWriter, id interface{}, code int, message string, data interface{}) {
	writeJSON(w, http.StatusOK, JSONRPCResponse{
		ID:      id,
		Error:   &JSONRPCError{Code: code, Message: message, Data: data},
		Version: "2.0",
	})
}
