package v1

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"

	"github.com/volarelabs/flightcast/api"
	"github.com/volarelabs/flightcast/auth"
	"github.com/volarelabs/flightcast/forecast/canonical"
	"github.com/volarelabs/flightcast/forecast/commitment"
	"github.com/volarelabs/flightcast/ledger"
	"github.com/volarelabs/flightcast/submit"
)

func (h *Handler) logAndReply(ctx context.Context, msg string, w http.ResponseWriter, err error) {
	h.logger.Error(msg,
		"request_id", ctx.Value(RequestIDContextKey),
		"error", err,
	)
	api.HumanReadableJsonErrorHandler(w, err)
}

// fail logs, renders the error and counts the failure under cause.
func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, r *http.Request, msg, cause string, err error) {
	h.logAndReply(ctx, msg, w, err)
	h.metrics.RequestCounter(r.URL.Path, "failure", cause).Inc()
}

func (h *Handler) reply(ctx context.Context, w http.ResponseWriter, r *http.Request, v interface{}) {
	resp, err := json.Marshal(v)
	if err != nil {
		h.fail(ctx, w, r, "failed to marshal response", "serde_error", err)
		return
	}

	w.Header().Set("content-type", "application/json")
	if _, err := w.Write(resp); err != nil {
		h.logger.Error("failed to write response",
			"request_id", ctx.Value(RequestIDContextKey),
			"error", err,
		)
		h.metrics.RequestCounter(r.URL.Path, "failure", "http_error").Inc()
	} else {
		h.metrics.RequestCounter(r.URL.Path, "success").Inc()
	}
}

func hashParam(r *http.Request, name string) (common.Hash, error) {
	b, err := hexutil.Decode(chi.URLParam(r, name))
	if err != nil || len(b) != common.HashLength {
		return common.Hash{}, fmt.Errorf("%w: malformed %s", api.ErrBadRequest, name)
	}
	return common.BytesToHash(b), nil
}

func addressParam(r *http.Request, name string) (common.Address, error) {
	raw := chi.URLParam(r, name)
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%w: malformed %s", api.ErrBadRequest, name)
	}
	return common.HexToAddress(raw), nil
}

func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", api.ErrBadRequest, err)
	}
	return nil
}

// GetStatus gets the service status.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	h.reply(r.Context(), w, r, struct {
		Status string    `json:"status"`
		Time   time.Time `json:"time"`
	}{
		Status: "ok",
		Time:   time.Now().UTC(),
	})
}

// IssueNonce issues a fresh single-use login nonce for an address.
func (h *Handler) IssueNonce(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Address string `json:"address"`
	}
	if err := decodeBody(r, &req); err != nil {
		h.fail(ctx, w, r, "malformed nonce request", "request_error", err)
		return
	}
	if !common.IsHexAddress(req.Address) {
		h.fail(ctx, w, r, "malformed nonce request", "request_error",
			fmt.Errorf("%w: malformed address", api.ErrBadRequest))
		return
	}

	challenge, err := h.verifier.IssueChallenge(ctx, common.HexToAddress(req.Address))
	if err != nil {
		h.fail(ctx, w, r, "failed to issue nonce", "auth_error", err)
		return
	}

	h.reply(ctx, w, r, challenge)
}

// Login verifies a signed login message and consumes its nonce.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req struct {
		Address   string `json:"address"`
		Nonce     string `json:"nonce"`
		Signature string `json:"signature"`
	}
	if err := decodeBody(r, &req); err != nil {
		h.fail(ctx, w, r, "malformed login request", "request_error", err)
		return
	}
	if !common.IsHexAddress(req.Address) {
		h.fail(ctx, w, r, "malformed login request", "request_error",
			fmt.Errorf("%w: malformed address", api.ErrBadRequest))
		return
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(req.Signature, "0x"))
	if err != nil {
		h.fail(ctx, w, r, "malformed login request", "request_error",
			fmt.Errorf("%w: malformed signature", api.ErrBadRequest))
		return
	}

	address := common.HexToAddress(req.Address)
	if err := h.verifier.VerifyLogin(ctx, address, req.Nonce, sig); err != nil {
		h.fail(ctx, w, r, "login rejected", "auth_error", err)
		return
	}

	h.reply(ctx, w, r, h.verifier.StartSession(address))
}

// authorize requires a live bearer session issued to the provider the
// request acts on.
func (h *Handler) authorize(r *http.Request, provider common.Address) error {
	header := r.Header.Get("Authorization")
	token := strings.TrimPrefix(header, "Bearer ")
	if header == "" || token == header {
		return fmt.Errorf("%w: missing bearer token", auth.ErrSessionNotFound)
	}
	return h.verifier.VerifySession(token, provider)
}

type batchResponse struct {
	ID             string         `json:"id"`
	Hash           common.Hash    `json:"hash"`
	Operator       common.Address `json:"operator"`
	Funder         common.Address `json:"funder"`
	WindowStart    time.Time      `json:"window_start"`
	WindowEnd      time.Time      `json:"window_end"`
	RevealDeadline time.Time      `json:"reveal_deadline"`
	Phase          string         `json:"phase"`
	SeedRevealed   bool           `json:"seed_revealed"`
	Funded         bool           `json:"funded"`
	Finalized      bool           `json:"finalized"`
	Bounty         uint64         `json:"bounty"`
	JoinBond       uint64         `json:"join_bond"`
}

// GetBatch gets a batch.
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	batchHash, err := hashParam(r, "batch_hash")
	if err != nil {
		h.fail(ctx, w, r, "malformed batch request", "request_error", err)
		return
	}

	batch, err := h.ledger.GetBatch(ctx, batchHash)
	if err != nil {
		h.fail(ctx, w, r, "failed to get batch", "ledger_error", err)
		return
	}

	h.reply(ctx, w, r, batchResponse{
		ID:             batch.ID,
		Hash:           batch.Hash,
		Operator:       batch.Operator,
		Funder:         batch.Funder,
		WindowStart:    batch.WindowStart,
		WindowEnd:      batch.WindowEnd,
		RevealDeadline: batch.RevealDeadline,
		Phase:          batch.PhaseAt(time.Now()).String(),
		SeedRevealed:   batch.SeedRevealed,
		Funded:         batch.Funded,
		Finalized:      batch.Finalized,
		Bounty:         batch.Bounty,
		JoinBond:       batch.JoinBond,
	})
}

// GetTimeline gets the reconciled audit timeline of a batch.
func (h *Handler) GetTimeline(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	batchHash, err := hashParam(r, "batch_hash")
	if err != nil {
		h.fail(ctx, w, r, "malformed timeline request", "request_error", err)
		return
	}

	timeline, err := h.reconciler.Timeline(ctx, batchHash)
	if err != nil {
		h.fail(ctx, w, r, "failed to build timeline", "ledger_error", err)
		return
	}

	h.reply(ctx, w, r, timeline)
}

// Join posts the provider's join bond for a batch.
func (h *Handler) Join(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	batchHash, err := hashParam(r, "batch_hash")
	if err != nil {
		h.fail(ctx, w, r, "malformed join request", "request_error", err)
		return
	}
	provider, err := addressParam(r, "address")
	if err != nil {
		h.fail(ctx, w, r, "malformed join request", "request_error", err)
		return
	}
	if err := h.authorize(r, provider); err != nil {
		h.fail(ctx, w, r, "unauthorized join", "auth_error", err)
		return
	}

	if err := h.ledger.Join(ctx, batchHash, provider); err != nil {
		h.fail(ctx, w, r, "failed to join batch", "ledger_error", err)
		return
	}

	h.reply(ctx, w, r, struct {
		Provider common.Address `json:"provider"`
		Joined   bool           `json:"joined"`
	}{Provider: provider, Joined: true})
}

// Submit accepts a forecast set, encrypts and stores it, and anchors the
// commitment on the ledger.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	batchHash, err := hashParam(r, "batch_hash")
	if err != nil {
		h.fail(ctx, w, r, "malformed submission", "request_error", err)
		return
	}
	provider, err := addressParam(r, "address")
	if err != nil {
		h.fail(ctx, w, r, "malformed submission", "request_error", err)
		return
	}
	if err := h.authorize(r, provider); err != nil {
		h.fail(ctx, w, r, "unauthorized submission", "auth_error", err)
		return
	}

	var req struct {
		Entries []canonical.Entry `json:"entries"`
	}
	if err := decodeBody(r, &req); err != nil {
		h.fail(ctx, w, r, "malformed submission", "request_error", err)
		return
	}

	receipt, err := h.pipeline.Submit(ctx, batchHash, provider, req.Entries)
	if err != nil {
		h.fail(ctx, w, r, "submission failed", "pipeline_error", err)
		return
	}

	h.reply(ctx, w, r, receipt)
}

type revealItem struct {
	Index         uint64      `json:"index"`
	Root          common.Hash `json:"root"`
	Salt          string      `json:"salt"`
	PublicURIHash common.Hash `json:"public_uri_hash"`
}

// Reveal verifies and submits the provider's reveals.
func (h *Handler) Reveal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	batchHash, err := hashParam(r, "batch_hash")
	if err != nil {
		h.fail(ctx, w, r, "malformed reveal", "request_error", err)
		return
	}
	provider, err := addressParam(r, "address")
	if err != nil {
		h.fail(ctx, w, r, "malformed reveal", "request_error", err)
		return
	}
	if err := h.authorize(r, provider); err != nil {
		h.fail(ctx, w, r, "unauthorized reveal", "auth_error", err)
		return
	}

	var req struct {
		Reveals []revealItem `json:"reveals"`
	}
	if err := decodeBody(r, &req); err != nil {
		h.fail(ctx, w, r, "malformed reveal", "request_error", err)
		return
	}

	reveals := make([]submit.RevealRequest, len(req.Reveals))
	for i, item := range req.Reveals {
		salt, err := commitment.SaltFromHex(strings.TrimPrefix(item.Salt, "0x"))
		if err != nil {
			h.fail(ctx, w, r, "malformed reveal", "request_error",
				fmt.Errorf("%w: malformed salt at index %d", api.ErrBadRequest, item.Index))
			return
		}
		reveals[i] = submit.RevealRequest{
			Index:         item.Index,
			Root:          item.Root,
			Salt:          salt,
			PublicURIHash: item.PublicURIHash,
		}
	}

	if err := h.pipeline.Reveal(ctx, batchHash, provider, reveals); err != nil {
		h.fail(ctx, w, r, "reveal failed", "pipeline_error", err)
		return
	}

	h.reply(ctx, w, r, struct {
		Revealed int `json:"revealed"`
	}{Revealed: len(reveals)})
}

// GetProviderSummary gets the per-provider view of a batch.
func (h *Handler) GetProviderSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	batchHash, err := hashParam(r, "batch_hash")
	if err != nil {
		h.fail(ctx, w, r, "malformed provider request", "request_error", err)
		return
	}
	provider, err := addressParam(r, "address")
	if err != nil {
		h.fail(ctx, w, r, "malformed provider request", "request_error", err)
		return
	}

	summary, err := h.ledger.GetProviderSummary(ctx, batchHash, provider)
	if err != nil {
		h.fail(ctx, w, r, "failed to get provider summary", "ledger_error", err)
		return
	}

	h.reply(ctx, w, r, struct {
		Provider      common.Address `json:"provider"`
		Joined        bool           `json:"joined"`
		CommitCount   uint64         `json:"commit_count"`
		RevealedCount uint64         `json:"revealed_count"`
	}{
		Provider:      summary.Provider,
		Joined:        summary.Joined,
		CommitCount:   summary.CommitCount,
		RevealedCount: summary.RevealedCount,
	})
}

type commitmentResponse struct {
	Index            uint64       `json:"index"`
	CommitHash       common.Hash  `json:"commit_hash"`
	EncryptedURIHash common.Hash  `json:"encrypted_uri_hash"`
	CommittedAt      time.Time    `json:"committed_at"`
	Revealed         bool         `json:"revealed"`
	Root             *common.Hash `json:"root,omitempty"`
	Salt             string       `json:"salt,omitempty"`
	PublicURIHash    *common.Hash `json:"public_uri_hash,omitempty"`
}

func newCommitmentResponse(c *ledger.Commitment) commitmentResponse {
	resp := commitmentResponse{
		Index:            c.Index,
		CommitHash:       c.CommitHash,
		EncryptedURIHash: c.EncryptedURIHash,
		CommittedAt:      c.CommittedAt,
		Revealed:         c.Revealed,
	}
	if c.Revealed {
		root, publicURIHash := c.Root, c.PublicURIHash
		resp.Root = &root
		resp.Salt = c.Salt.Hex()
		resp.PublicURIHash = &publicURIHash
	}
	return resp
}

// GetLatest gets the provider's most recent commitment. Display only;
// scoring uses the seed-selected commitment.
func (h *Handler) GetLatest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	batchHash, err := hashParam(r, "batch_hash")
	if err != nil {
		h.fail(ctx, w, r, "malformed latest request", "request_error", err)
		return
	}
	provider, err := addressParam(r, "address")
	if err != nil {
		h.fail(ctx, w, r, "malformed latest request", "request_error", err)
		return
	}

	c, err := h.pipeline.Latest(ctx, batchHash, provider)
	if err != nil {
		h.fail(ctx, w, r, "failed to get latest commitment", "ledger_error", err)
		return
	}

	h.reply(ctx, w, r, newCommitmentResponse(c))
}

// GetSelected gets the provider's seed-selected commitment.
func (h *Handler) GetSelected(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	batchHash, err := hashParam(r, "batch_hash")
	if err != nil {
		h.fail(ctx, w, r, "malformed selected request", "request_error", err)
		return
	}
	provider, err := addressParam(r, "address")
	if err != nil {
		h.fail(ctx, w, r, "malformed selected request", "request_error", err)
		return
	}

	c, err := h.pipeline.Selected(ctx, batchHash, provider)
	if err != nil {
		h.fail(ctx, w, r, "failed to get selected commitment", "ledger_error", err)
		return
	}

	h.reply(ctx, w, r, newCommitmentResponse(c))
}
