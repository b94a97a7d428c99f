// Copyright 2025 Certen Protocol
//
// Chain Query API Handlers
// Provides HTTP endpoints for chain state, block and record-ledger queries.

package server

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/certen/zkpow-node/pkg/consensus"
	"github.com/certen/zkpow-node/pkg/ledger"
	"github.com/certen/zkpow-node/pkg/types"
)

// ErrorCode classifies API failures for clients.
type ErrorCode string

const (
	CodeBadRequest     ErrorCode = "bad_request"
	CodeNotFound       ErrorCode = "not_found"
	CodeStorageFailure ErrorCode = "storage_failure"
	CodeValidation     ErrorCode = "validation_failure"
)

// apiError is the structured error envelope.
type apiError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// ChainStatus is the /api/status response.
type ChainStatus struct {
	Network       string `json:"network"`
	Height        uint32 `json:"height"`
	TipHash       string `json:"tip_hash"`
	LatestDigest  string `json:"latest_digest"`
	Commitments   int    `json:"commitments"`
	MempoolSize   int    `json:"mempool_size"`
	MempoolBytes  int    `json:"mempool_bytes"`
}

// BlockView is the /api/block response.
type BlockView struct {
	Hash             string   `json:"hash"`
	Height           *uint32  `json:"height,omitempty"`
	PreviousHash     string   `json:"previous_hash"`
	TransactionRoot  string   `json:"transaction_root"`
	CommitmentRoot   string   `json:"commitment_root"`
	Time             int64    `json:"time"`
	DifficultyTarget uint64   `json:"difficulty_target"`
	Nonce            uint32   `json:"nonce"`
	TransactionIDs   []string `json:"transaction_ids"`
	Committed        bool     `json:"committed"`
}

// Handlers serves the node's HTTP surface.
type Handlers struct {
	engine  *consensus.Engine
	network string
	logger  *log.Logger
}

// NewHandlers creates the HTTP handler set.
func NewHandlers(engine *consensus.Engine, network string) *Handlers {
	return &Handlers{
		engine:  engine,
		network: network,
		logger:  log.New(log.Writer(), "[Server] ", log.LstdFlags),
	}
}

// Register installs all routes on mux, including prometheus metrics.
func (h *Handlers) Register(mux *http.ServeMux, gatherer prometheus.Gatherer) {
	mux.HandleFunc("/health", h.HandleHealth)
	mux.HandleFunc("/api/status", h.HandleStatus)
	mux.HandleFunc("/api/block", h.HandleBlock)
	mux.HandleFunc("/api/record", h.HandleRecord)
	mux.HandleFunc("/api/membership", h.HandleMembership)
	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	} else {
		mux.Handle("/metrics", promhttp.Handler())
	}
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, format string, args ...interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiError{Code: code, Message: fmt.Sprintf(format, args...)})
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, err := h.engine.CanonTip()
	status := "ok"
	if err != nil {
		status = "degraded"
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": status, "network": h.network})
}

// HandleStatus handles GET /api/status.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	tip, err := h.engine.CanonTip()
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeStorageFailure, "failed to load tip: %v", err)
		return
	}

	status := &ChainStatus{
		Network:      h.network,
		Height:       tip.Height,
		TipHash:      tip.Hash.Hex(),
		LatestDigest: h.engine.Records().LatestDigest().Hex(),
		Commitments:  h.engine.Records().CommitmentCount(),
		MempoolSize:  h.engine.Pool().Len(),
		MempoolBytes: h.engine.Pool().TotalBytes(),
	}
	if err := json.NewEncoder(w).Encode(status); err != nil {
		h.logger.Printf("failed to encode status response: %v", err)
	}
}

// HandleBlock handles GET /api/block?hash=0x.. or ?height=n.
func (h *Handlers) HandleBlock(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	store := h.engine.Store()

	var hash types.Hash
	switch {
	case r.URL.Query().Get("hash") != "":
		parsed := common.HexToHash(r.URL.Query().Get("hash"))
		hash = types.BytesToHash(parsed.Bytes())
	case r.URL.Query().Get("height") != "":
		height, err := strconv.ParseUint(r.URL.Query().Get("height"), 10, 32)
		if err != nil {
			writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid height parameter")
			return
		}
		var lerr error
		hash, lerr = store.BlockHashAtHeight(uint32(height))
		if lerr != nil {
			writeError(w, http.StatusNotFound, CodeNotFound, "no canon block at height %d", height)
			return
		}
	default:
		writeError(w, http.StatusBadRequest, CodeBadRequest, "hash or height parameter required")
		return
	}

	block, err := store.GetBlock(hash)
	if err != nil {
		writeError(w, http.StatusNotFound, CodeNotFound, "block %s not found", hash.Hex())
		return
	}
	status, err := store.Status(hash)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeStorageFailure, "failed to classify block: %v", err)
		return
	}

	view := &BlockView{
		Hash:             hash.Hex(),
		PreviousHash:     block.Header.PreviousBlockHash.Hex(),
		TransactionRoot:  block.Header.TransactionRoot.Hex(),
		CommitmentRoot:   block.Header.CommitmentRoot.Hex(),
		Time:             block.Header.Time,
		DifficultyTarget: block.Header.DifficultyTarget,
		Nonce:            block.Header.Nonce,
		Committed:        status.Kind == ledger.StatusCommitted,
	}
	if status.Kind == ledger.StatusCommitted {
		height := status.Height
		view.Height = &height
	}
	for _, id := range block.TransactionIDs() {
		view.TransactionIDs = append(view.TransactionIDs, id.Hex())
	}
	if err := json.NewEncoder(w).Encode(view); err != nil {
		h.logger.Printf("failed to encode block response: %v", err)
	}
}

// HandleRecord handles GET /api/record?commitment=0x.. returning the stored
// encrypted record.
func (h *Handlers) HandleRecord(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	cmParam := r.URL.Query().Get("commitment")
	if cmParam == "" {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "commitment parameter required")
		return
	}
	cm := types.BytesToHash(common.HexToHash(cmParam).Bytes())

	sealed, err := h.engine.Store().GetRecord(cm)
	if err != nil {
		writeError(w, http.StatusNotFound, CodeNotFound, "record for %s not found", cm.Hex())
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{
		"commitment":       cm.Hex(),
		"encrypted_record": common.Bytes2Hex(sealed),
	})
}

// HandleMembership handles GET /api/membership?commitment=0x.. returning a
// merkle authentication path against the latest ledger digest.
func (h *Handlers) HandleMembership(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	cmParam := r.URL.Query().Get("commitment")
	if cmParam == "" {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "commitment parameter required")
		return
	}
	cm := types.BytesToHash(common.HexToHash(cmParam).Bytes())

	proof, err := h.engine.Records().ProveMembership(cm)
	if err != nil {
		writeError(w, http.StatusNotFound, CodeNotFound, "commitment %s not in record ledger", cm.Hex())
		return
	}
	if err := json.NewEncoder(w).Encode(proof); err != nil {
		h.logger.Printf("failed to encode membership proof: %v", err)
	}
}
