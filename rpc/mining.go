package rpc

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"powchain/core"
	"powchain/logger"
	"powchain/miner"
)

type MiningAPI struct {
	controller MiningController
}

func NewMiningAPI(controller MiningController) *MiningAPI {
	return &MiningAPI{controller: controller}
}

// MineBlockRequest is the body of POST /api/mining/mine-block. Data is the
// block payload as text; Difficulty optionally overrides the chain's.
type MineBlockRequest struct {
	Data       string `json:"data"`
	Difficulty *uint  `json:"difficulty,omitempty"`
}

type MineBlockResponse struct {
	Success bool        `json:"success"`
	Block   *core.Block `json:"block"`
}

// MineBlockHandler runs one mining round and appends the result. The round
// is cancelled if the client goes away.
func (api *MiningAPI) MineBlockHandler(w http.ResponseWriter, r *http.Request) {
	var req MineBlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(w, "Invalid request format: "+err.Error())
		return
	}

	var opts []miner.MineOption
	if req.Difficulty != nil {
		if *req.Difficulty > core.MaxDifficulty {
			badRequest(w, "difficulty must be between 0 and 256")
			return
		}
		opts = append(opts, miner.WithDifficulty(*req.Difficulty))
	}

	block, err := api.controller.MineNext(r.Context(), []byte(req.Data), opts...)
	if err != nil {
		writeBlockError(w, block, err)
		return
	}
	writeJSON(w, http.StatusOK, MineBlockResponse{Success: true, Block: block})
}

func (api *MiningAPI) StartHandler(w http.ResponseWriter, r *http.Request) {
	if api.controller.IsRunning() {
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "Mining already active", Kind: "active"})
		return
	}
	api.controller.Start()
	logger.Info("Mining started via API")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Mining started successfully",
		"stats":   api.controller.Stats(),
	})
}

func (api *MiningAPI) StopHandler(w http.ResponseWriter, r *http.Request) {
	if !api.controller.IsRunning() {
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "Mining not active", Kind: "inactive"})
		return
	}
	api.controller.Stop()
	logger.Info("Mining stopped via API")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Mining stopped successfully",
	})
}

func (api *MiningAPI) StatsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.controller.Stats())
}
