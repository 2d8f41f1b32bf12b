package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"powchain/consensus"
	"powchain/core"
	"powchain/crypto"
	"powchain/database"
	"powchain/miner"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const apiDifficulty = 4

type testAPI struct {
	chain      *core.Blockchain
	controller *miner.Controller
	server     *httptest.Server
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	chain, err := core.NewBlockchain(apiDifficulty)
	require.NoError(t, err)
	queue, err := miner.NewWorkQueue(consensus.NewProofOfWork(0), miner.QueueConfig{Workers: 2})
	require.NoError(t, err)
	controller := miner.NewController(chain, queue, miner.ControllerConfig{})

	srv := NewServer(&Config{EnableMetrics: true}, chain, controller)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		ts.Close()
		controller.Stop()
		queue.Close()
	})
	return &testAPI{chain: chain, controller: controller, server: ts}
}

func (a *testAPI) do(t *testing.T, method, path string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, a.server.URL+path, r)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

func TestMineBlockAndLookups(t *testing.T) {
	api := newTestAPI(t)

	resp, body := api.do(t, http.MethodPost, "/api/mining/mine-block", MineBlockRequest{Data: "a"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var mined struct {
		Success bool        `json:"success"`
		Block   *core.Block `json:"block"`
	}
	require.NoError(t, json.Unmarshal(body, &mined))
	assert.True(t, mined.Success)
	assert.Equal(t, uint64(1), mined.Block.Index)
	assert.Equal(t, "a", string(mined.Block.Data))
	assert.NoError(t, mined.Block.Verify(apiDifficulty))

	resp, body = api.do(t, http.MethodGet, "/api/chain/tip", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tip core.Block
	require.NoError(t, json.Unmarshal(body, &tip))
	assert.Equal(t, mined.Block.Hash, tip.Hash)

	resp, body = api.do(t, http.MethodGet, "/api/chain/blocks/0", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var genesis core.Block
	require.NoError(t, json.Unmarshal(body, &genesis))
	assert.Equal(t, uint64(0), genesis.Index)

	resp, body = api.do(t, http.MethodGet, "/api/chain/blocks/hash/"+tip.Hash.Hex(), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var byHash core.Block
	require.NoError(t, json.Unmarshal(body, &byHash))
	assert.Equal(t, uint64(1), byHash.Index)

	resp, _ = api.do(t, http.MethodGet, "/api/chain/blocks/42", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = api.do(t, http.MethodGet, "/api/chain/blocks/hash/0x1234", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMineBlockRequestValidation(t *testing.T) {
	api := newTestAPI(t)

	resp, _ := api.do(t, http.MethodPost, "/api/mining/mine-block", map[string]interface{}{"difficulty": 300})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, api.server.URL+"/api/mining/mine-block", strings.NewReader("{not json"))
	require.NoError(t, err)
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)

	// an empty body mines an empty payload
	resp, body := api.do(t, http.MethodPost, "/api/mining/mine-block", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, string(body))
}

func TestValidateEndpoint(t *testing.T) {
	api := newTestAPI(t)

	resp, body := api.do(t, http.MethodGet, "/api/chain/validate", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var res ValidationResult
	require.NoError(t, json.Unmarshal(body, &res))
	assert.True(t, res.Valid)
	assert.Nil(t, res.Index)
}

func TestValidationResult(t *testing.T) {
	res := validationResult(&core.ValidationError{Index: 3, Err: fmt.Errorf("%w: details", core.ErrLinkage)})
	assert.False(t, res.Valid)
	require.NotNil(t, res.Index)
	assert.Equal(t, uint64(3), *res.Index)
	assert.Equal(t, core.ErrLinkage.Error(), res.Reason)

	res = validationResult(core.ErrEmptyChain)
	assert.False(t, res.Valid)
	assert.Nil(t, res.Index)
}

func TestMiningStartStopAndStats(t *testing.T) {
	api := newTestAPI(t)

	resp, _ := api.do(t, http.MethodPost, "/api/mining/stop", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = api.do(t, http.MethodPost, "/api/mining/start", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = api.do(t, http.MethodPost, "/api/mining/start", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body := api.do(t, http.MethodGet, "/api/mining/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats miner.Stats
	require.NoError(t, json.Unmarshal(body, &stats))
	assert.True(t, stats.IsActive)
	assert.Equal(t, uint(apiDifficulty), stats.Difficulty)

	resp, _ = api.do(t, http.MethodPost, "/api/mining/stop", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, api.controller.IsRunning())
	assert.NoError(t, api.chain.Validate())
}

func TestHealthMetricsAndCORS(t *testing.T) {
	api := newTestAPI(t)

	resp, body := api.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"ok"`)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	resp, body = api.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "powchain_chain_height")

	resp, _ = api.do(t, http.MethodOptions, "/api/mining/mine-block", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestJSONRPC(t *testing.T) {
	api := newTestAPI(t)

	call := func(method string, params ...interface{}) JSONRPCResponse {
		t.Helper()
		resp, body := api.do(t, http.MethodPost, "/", JSONRPCRequest{ID: 1, Method: method, Params: params, Version: "2.0"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var out JSONRPCResponse
		require.NoError(t, json.Unmarshal(body, &out))
		return out
	}

	mined := call("mining_mineBlock", "via rpc")
	require.Nil(t, mined.Error)

	height := call("chain_blockNumber")
	require.Nil(t, height.Error)
	assert.Equal(t, "0x1", height.Result)

	block := call("chain_getBlockByNumber", "0x1")
	require.Nil(t, block.Error)
	fields, ok := block.Result.(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 1, fields["index"])

	latest := call("chain_getBlockByNumber", "latest")
	require.Nil(t, latest.Error)

	valid := call("chain_validate")
	require.Nil(t, valid.Error)
	assert.Equal(t, true, valid.Result.(map[string]interface{})["valid"])

	unknown := call("eth_chainId")
	require.NotNil(t, unknown.Error)
	assert.Equal(t, -32603, unknown.Error.Code)

	badParams := []struct {
		method string
		params []interface{}
	}{
		{"mining_mineBlock", []interface{}{"x", 8.5}},
		{"mining_mineBlock", []interface{}{"x", 1e30}},
		{"mining_mineBlock", []interface{}{"x", -1}},
		{"mining_mineBlock", []interface{}{"x", 257}},
		{"mining_mineBlock", []interface{}{42}},
		{"chain_getBlockByNumber", []interface{}{1.5}},
		{"chain_getBlockByNumber", []interface{}{"0xzz"}},
		{"chain_getBlockByHash", []interface{}{"0x12"}},
	}
	for _, tt := range badParams {
		res := call(tt.method, tt.params...)
		require.NotNil(t, res.Error, "%s %v", tt.method, tt.params)
		assert.Equal(t, -32602, res.Error.Code, "%s %v", tt.method, tt.params)
	}

	height = call("chain_blockNumber")
	assert.Equal(t, "0x1", height.Result, "rejected requests must not mine")
}

// stubController returns a fixed result from MineNext.
type stubController struct {
	block *core.Block
	err   error
}

func (s *stubController) MineNext(context.Context, []byte, ...miner.MineOption) (*core.Block, error) {
	return s.block, s.err
}
func (s *stubController) Start()             {}
func (s *stubController) Stop()              {}
func (s *stubController) IsRunning() bool    { return false }
func (s *stubController) Stats() miner.Stats { return miner.Stats{} }
func (s *stubController) Validate() error    { return nil }

func TestMineBlockErrorStatus(t *testing.T) {
	chain, err := core.NewBlockchain(0)
	require.NoError(t, err)

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "halted", err: fmt.Errorf("%w: %w", miner.ErrHalted, core.ErrLinkage), want: http.StatusServiceUnavailable},
		{name: "queue closed", err: miner.ErrQueueClosed, want: http.StatusServiceUnavailable},
		{name: "cancelled", err: consensus.ErrCancelled, want: http.StatusConflict},
		{name: "exhausted", err: fmt.Errorf("%w: height 1", consensus.ErrExhausted), want: http.StatusConflict},
		{name: "chain rejection", err: fmt.Errorf("%w: expected 2", core.ErrSequence), want: http.StatusUnprocessableEntity},
		{name: "unknown", err: errors.New("boom"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := NewServer(&Config{}, chain, &stubController{err: tt.err})
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/mining/mine-block", strings.NewReader(`{"data":"x"}`))
			srv.Router().ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.False(t, body.Success)
			assert.Equal(t, tt.err.Error(), body.Error)
			assert.Nil(t, body.Block)
		})
	}
}

func TestUnpersistedBlockIsReported(t *testing.T) {
	chain, err := core.NewBlockchain(0)
	require.NoError(t, err)
	genesis, err := chain.Tip()
	require.NoError(t, err)
	appended := core.NewBlockAfter(genesis, []byte("kept"))
	require.NoError(t, appended.Seal(0, 0))

	stub := &stubController{
		block: appended,
		err:   fmt.Errorf("%w: block 1: %w", miner.ErrNotPersisted, errors.New("disk full")),
	}
	router := NewServer(&Config{}, chain, stub).Router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/mining/mine-block", strings.NewReader(`{"data":"kept"}`)))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not_persisted", body.Kind)
	require.NotNil(t, body.Block)
	assert.Equal(t, appended.Hash, body.Block.Hash)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"mining_mineBlock","params":["kept"]}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	var rpcResp struct {
		Error *struct {
			Code int         `json:"code"`
			Data *core.Block `json:"data"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rpcResp))
	require.NotNil(t, rpcResp.Error)
	assert.Equal(t, -32603, rpcResp.Error.Code)
	require.NotNil(t, rpcResp.Error.Data)
	assert.Equal(t, appended.Hash, rpcResp.Error.Data.Hash)
}

// countingStore records which lookups reached the block store.
type countingStore struct {
	*database.BlockStore
	byIndex atomic.Int32
	byHash  atomic.Int32
}

func (c *countingStore) BlockByIndex(index uint64) (*core.Block, error) {
	c.byIndex.Add(1)
	return c.BlockStore.BlockByIndex(index)
}

func (c *countingStore) BlockByHash(hash crypto.Hash) (*core.Block, error) {
	c.byHash.Add(1)
	return c.BlockStore.BlockByHash(hash)
}

func TestBlockLookupsReadThroughStore(t *testing.T) {
	chain, err := core.NewBlockchain(apiDifficulty)
	require.NoError(t, err)
	db, err := database.NewMemoryDB()
	require.NoError(t, err)
	store := database.NewBlockStore(db, 16, time.Minute)
	t.Cleanup(func() { store.Close() })

	genesis, err := chain.Tip()
	require.NoError(t, err)
	require.NoError(t, store.Save(genesis))

	queue, err := miner.NewWorkQueue(consensus.NewProofOfWork(0), miner.QueueConfig{Workers: 2})
	require.NoError(t, err)
	t.Cleanup(queue.Close)
	controller := miner.NewController(chain, queue, miner.ControllerConfig{Store: store})
	persisted, err := controller.MineNext(context.Background(), []byte("stored"))
	require.NoError(t, err)

	// appended to the chain only, as after a failed save
	tip, err := chain.Tip()
	require.NoError(t, err)
	next := core.NewBlockAfter(tip, []byte("memory only"))
	require.NoError(t, core.MineSerial(next, apiDifficulty))
	require.NoError(t, chain.Append(next))

	counting := &countingStore{BlockStore: store}
	srv := NewServer(&Config{}, chain, controller)
	srv.UseBlockStore(counting)
	router := srv.Router()

	get := func(path string) (int, core.Block) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		var b core.Block
		if rec.Code == http.StatusOK {
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &b))
		}
		return rec.Code, b
	}

	code, b := get("/api/chain/blocks/hash/" + persisted.Hash.Hex())
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "stored", string(b.Data))
	assert.Equal(t, int32(1), counting.byHash.Load())

	code, b = get("/api/chain/blocks/1")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, persisted.Hash, b.Hash)
	assert.Equal(t, int32(1), counting.byIndex.Load())

	code, b = get("/api/chain/blocks/2")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, next.Hash, b.Hash)
	assert.Equal(t, int32(2), counting.byIndex.Load())

	code, b = get("/api/chain/blocks/hash/" + next.Hash.Hex())
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, uint64(2), b.Index)

	code, _ = get("/api/chain/blocks/hash/" + crypto.Sum256([]byte("unknown")).Hex())
	assert.Equal(t, http.StatusNotFound, code)
}
