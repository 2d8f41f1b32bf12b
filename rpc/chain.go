package rpc

import (
	"errors"
	"net/http"
	"strconv"

	"powchain/core"
	"powchain/crypto"
	"powchain/interfaces"

	"github.com/gorilla/mux"
)

type ChainAPI struct {
	chain     interfaces.ChainReader
	validator interface{ Validate() error }
	blocks    interfaces.BlockReader
}

func NewChainAPI(chain interfaces.ChainReader, validator interface{ Validate() error }) *ChainAPI {
	if validator == nil {
		validator = chain
	}
	return &ChainAPI{chain: chain, validator: validator}
}

// UseBlockStore serves block lookups from store, falling back to the
// in-memory chain for blocks the store does not have yet.
func (api *ChainAPI) UseBlockStore(store interfaces.BlockReader) {
	api.blocks = store
}

func (api *ChainAPI) blockByIndex(index uint64) (*core.Block, error) {
	if api.blocks != nil {
		block, err := api.blocks.BlockByIndex(index)
		if !errors.Is(err, core.ErrBlockNotFound) {
			return block, err
		}
	}
	return api.chain.BlockByIndex(index)
}

func (api *ChainAPI) blockByHash(hash crypto.Hash) (*core.Block, error) {
	if api.blocks != nil {
		block, err := api.blocks.BlockByHash(hash)
		if !errors.Is(err, core.ErrBlockNotFound) {
			return block, err
		}
	}
	return api.chain.BlockByHash(hash)
}

// ValidationResult reports the outcome of a full chain check.
type ValidationResult struct {
	Valid  bool    `json:"valid"`
	Index  *uint64 `json:"index,omitempty"`
	Reason string  `json:"reason,omitempty"`
	Error  string  `json:"error,omitempty"`
}

func validationResult(err error) ValidationResult {
	if err == nil {
		return ValidationResult{Valid: true}
	}
	res := ValidationResult{Error: err.Error()}
	var verr *core.ValidationError
	if errors.As(err, &verr) {
		index := verr.Index
		res.Index = &index
		res.Reason = verr.Reason()
	}
	return res
}

func (api *ChainAPI) ValidateHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, validationResult(api.validator.Validate()))
}

func (api *ChainAPI) TipHandler(w http.ResponseWriter, r *http.Request) {
	tip, err := api.chain.Tip()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tip)
}

func (api *ChainAPI) BlockByIndexHandler(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.ParseUint(mux.Vars(r)["index"], 10, 64)
	if err != nil {
		badRequest(w, "invalid block index")
		return
	}
	block, err := api.blockByIndex(index)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, block)
}

func (api *ChainAPI) BlockByHashHandler(w http.ResponseWriter, r *http.Request) {
	hashStr := mux.Vars(r)["hash"]
	if !crypto.IsHexHash(hashStr) {
		badRequest(w, "invalid block hash")
		return
	}
	block, err := api.blockByHash(crypto.HexToHash(hashStr))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, block)
}
