package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"EscrowSettle/internal/auth"
	"EscrowSettle/internal/engine"
	"EscrowSettle/internal/server"
	"EscrowSettle/internal/trade"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ============================================================================
// Test harness
// ============================================================================

var harnessSeq int

type testServer struct {
	t             *testing.T
	router        *gin.Engine
	engine        *engine.Engine
	operatorID    uuid.UUID
	accountID     uuid.UUID
	operatorToken string
	accountToken  string
	remoteAddr    string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	operatorID := uuid.New()
	accountID := uuid.New()

	eng, err := engine.New(engine.Config{
		ChainID:  296,
		Operator: operatorID,
		Logger:   zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	tokens := auth.NewTokenService("test-secret", time.Hour)
	tokens.RegisterCredentials("op-key", "op-secret", operatorID, auth.RoleOperator)
	tokens.RegisterCredentials("acct-key", "acct-secret", accountID, auth.RoleAccount)

	opToken, err := tokens.GenerateToken(auth.Credentials{APIKey: "op-key", APISecret: "op-secret"})
	if err != nil {
		t.Fatalf("operator token: %v", err)
	}
	acctToken, err := tokens.GenerateToken(auth.Credentials{APIKey: "acct-key", APISecret: "acct-secret"})
	if err != nil {
		t.Fatalf("account token: %v", err)
	}

	srv := server.New(server.Config{
		Engine: eng,
		Tokens: tokens,
		Logger: zerolog.Nop(),
	})

	// Distinct client address per harness so rate limiter state does not
	// leak across tests.
	harnessSeq++
	return &testServer{
		t:             t,
		router:        srv.Router(),
		engine:        eng,
		operatorID:    operatorID,
		accountID:     accountID,
		operatorToken: opToken.Token,
		accountToken:  acctToken.Token,
		remoteAddr:    fmt.Sprintf("10.1.0.%d:4000", harnessSeq),
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *server.Error   `json:"error"`
}

func (ts *testServer) do(method, path, token string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	ts.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			ts.t.Fatalf("encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = ts.remoteAddr
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
			ts.t.Fatalf("decode envelope: %v (body %s)", err, w.Body.String())
		}
	}
	return w, env
}

// fund seeds escrow through the engine directly; deposits over HTTP are
// strictly self-service and the harness only holds one account token.
func (ts *testServer) fund(account uuid.UUID, asset string, amount int64) {
	ts.t.Helper()
	if err := ts.engine.Deposit(context.Background(), account, account, asset, amount); err != nil {
		ts.t.Fatalf("fund %s: %v", asset, err)
	}
}

func (ts *testServer) sameChainTrade(party2 uuid.UUID) trade.Trade {
	return trade.Trade{
		OrderID:             uuid.NewString(),
		Party1:              ts.accountID,
		Party2:              party2,
		Party1ReceiveWallet: "0x1111111111111111111111111111111111111111",
		Party2ReceiveWallet: "0x2222222222222222222222222222222222222222",
		BaseAsset:           "BTC",
		QuoteAsset:          "USDT",
		Price:               500,       // 5.00
		Quantity:            100000000, // 100
		Party1Side:          trade.SideAsk,
		Party2Side:          trade.SideBid,
		SourceChainID:       296,
		DestinationChainID:  296,
		Timestamp:           time.Now().Unix(),
		Nonce1:              1,
		Nonce2:              1,
	}
}

// ============================================================================
// Auth
// ============================================================================

func TestServer_TokenIssuance(t *testing.T) {
	ts := newTestServer(t)

	w, env := ts.do(http.MethodPost, "/api/v1/auth/token", "", auth.Credentials{
		APIKey:    "acct-key",
		APISecret: "acct-secret",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("got status %d, want %d", w.Code, http.StatusCreated)
	}
	var resp auth.TokenResponse
	if err := json.Unmarshal(env.Data, &resp); err != nil {
		t.Fatalf("decode token response: %v", err)
	}
	if resp.Token == "" {
		t.Error("issued token is empty")
	}

	w, env = ts.do(http.MethodPost, "/api/v1/auth/token", "", auth.Credentials{
		APIKey:    "acct-key",
		APISecret: "wrong",
	})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad credentials: got status %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if env.Error == nil || env.Error.Code != server.ErrCodeUnauthorized {
		t.Errorf("bad credentials: got error %+v, want code %s", env.Error, server.ErrCodeUnauthorized)
	}
}

func TestServer_RequiresAuth(t *testing.T) {
	ts := newTestServer(t)

	w, _ := ts.do(http.MethodGet, "/api/v1/escrow/balance/BTC", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("missing token: got status %d, want %d", w.Code, http.StatusUnauthorized)
	}

	w, _ = ts.do(http.MethodGet, "/api/v1/escrow/balance/BTC", "garbage", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("malformed token: got status %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestServer_OperatorGate(t *testing.T) {
	ts := newTestServer(t)

	tr := ts.sameChainTrade(uuid.New())
	w, env := ts.do(http.MethodPost, "/api/v1/settlements/same", ts.accountToken, gin.H{"trade": tr})
	if w.Code != http.StatusForbidden {
		t.Fatalf("got status %d, want %d", w.Code, http.StatusForbidden)
	}
	if env.Error == nil || env.Error.Code != server.ErrCodeForbidden {
		t.Errorf("got error %+v, want code %s", env.Error, server.ErrCodeForbidden)
	}
}

func TestServer_RateLimitKeyedByAccount(t *testing.T) {
	ts := newTestServer(t)
	tr := ts.sameChainTrade(uuid.New())

	// Burn through the settlement burst with the account token. The role
	// gate rejects each call, but the limiter still spends a token.
	var last int
	for i := 0; i < 6; i++ {
		w, _ := ts.do(http.MethodPost, "/api/v1/settlements/same", ts.accountToken, gin.H{"trade": tr})
		last = w.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("exhausted account budget: got status %d, want %d", last, http.StatusTooManyRequests)
	}

	// The operator shares the client address but carries its own budget.
	w, _ := ts.do(http.MethodPost, "/api/v1/settlements/same", ts.operatorToken, gin.H{"trade": tr})
	if w.Code == http.StatusTooManyRequests {
		t.Fatalf("operator throttled by the account's budget: status %d", w.Code)
	}
}

// ============================================================================
// Balance operations
// ============================================================================

func TestServer_DepositWithdrawBalance(t *testing.T) {
	ts := newTestServer(t)

	w, _ := ts.do(http.MethodPost, "/api/v1/escrow/deposit", ts.accountToken, gin.H{
		"asset":  "USDT",
		"amount": 1000,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("deposit: got status %d, want %d (body %s)", w.Code, http.StatusCreated, w.Body.String())
	}

	w, env := ts.do(http.MethodGet, "/api/v1/escrow/balance/USDT", ts.accountToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("balance: got status %d, want %d", w.Code, http.StatusOK)
	}
	var bal struct {
		Total     int64 `json:"total"`
		Available int64 `json:"available"`
		Locked    int64 `json:"locked"`
	}
	if err := json.Unmarshal(env.Data, &bal); err != nil {
		t.Fatalf("decode balance: %v", err)
	}
	if bal.Total != 1000 || bal.Available != 1000 || bal.Locked != 0 {
		t.Errorf("after deposit: got %+v, want total=1000 available=1000 locked=0", bal)
	}

	w, _ = ts.do(http.MethodPost, "/api/v1/escrow/withdraw", ts.accountToken, gin.H{
		"asset":  "USDT",
		"amount": 400,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("withdraw: got status %d, want %d", w.Code, http.StatusCreated)
	}

	// Withdrawing more than available is a funding failure, not a
	// validation failure.
	w, env = ts.do(http.MethodPost, "/api/v1/escrow/withdraw", ts.accountToken, gin.H{
		"asset":  "USDT",
		"amount": 100000,
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("overdraw: got status %d, want %d", w.Code, http.StatusUnprocessableEntity)
	}
	if env.Error == nil || env.Error.Code != server.ErrCodeInsufficientFunds {
		t.Errorf("overdraw: got error %+v, want code %s", env.Error, server.ErrCodeInsufficientFunds)
	}
}

func TestServer_DepositForOtherAccountRejected(t *testing.T) {
	ts := newTestServer(t)
	other := uuid.New()

	w, _ := ts.do(http.MethodPost, "/api/v1/escrow/deposit", ts.accountToken, gin.H{
		"account": other.String(),
		"asset":   "USDT",
		"amount":  1000,
	})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("account funding stranger: got status %d, want %d", w.Code, http.StatusUnauthorized)
	}

	// Not even the operator moves another account's escrow
	w, _ = ts.do(http.MethodPost, "/api/v1/escrow/deposit", ts.operatorToken, gin.H{
		"account": other.String(),
		"asset":   "USDT",
		"amount":  1000,
	})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("operator funding stranger: got status %d, want %d", w.Code, http.StatusUnauthorized)
	}

	if total, _, _ := ts.engine.Balance(other, "USDT"); total != 0 {
		t.Errorf("stranger balance after rejected deposits: total=%d, want 0", total)
	}
}

// ============================================================================
// Settlement
// ============================================================================

func TestServer_SameChainSettlementFlow(t *testing.T) {
	ts := newTestServer(t)
	party2 := uuid.New()
	tr := ts.sameChainTrade(party2)

	ts.fund(ts.accountID, "BTC", tr.Quantity)
	ts.fund(party2, "USDT", tr.QuoteAmount())

	w, env := ts.do(http.MethodPost, "/api/v1/settlements/same", ts.operatorToken, gin.H{"trade": tr})
	if w.Code != http.StatusCreated {
		t.Fatalf("settle: got status %d, want %d (body %s)", w.Code, http.StatusCreated, w.Body.String())
	}
	var rec engine.SettlementRecord
	if err := json.Unmarshal(env.Data, &rec); err != nil {
		t.Fatalf("decode settlement record: %v", err)
	}
	if rec.OrderID != tr.OrderID || rec.Leg != "same_chain" || len(rec.Transfers) != 2 {
		t.Errorf("settlement record: got %+v", rec)
	}

	// Replaying the same order is a conflict.
	w, env = ts.do(http.MethodPost, "/api/v1/settlements/same", ts.operatorToken, gin.H{"trade": tr})
	if w.Code != http.StatusConflict {
		t.Errorf("replay: got status %d, want %d", w.Code, http.StatusConflict)
	}
	if env.Error == nil || env.Error.Code != server.ErrCodeAlreadySettled {
		t.Errorf("replay: got error %+v, want code %s", env.Error, server.ErrCodeAlreadySettled)
	}

	w, env = ts.do(http.MethodGet, "/api/v1/settlements/"+tr.OrderID, ts.accountToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got status %d, want %d", w.Code, http.StatusOK)
	}
	var status struct {
		SameChainSettled bool `json:"same_chain_settled"`
	}
	if err := json.Unmarshal(env.Data, &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.SameChainSettled {
		t.Error("order not reported settled after settlement")
	}

	w, env = ts.do(http.MethodGet, "/api/v1/nonce/BTC", ts.accountToken, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("nonce: got status %d, want %d", w.Code, http.StatusOK)
	}
	var nonce struct {
		Nonce int64 `json:"nonce"`
	}
	if err := json.Unmarshal(env.Data, &nonce); err != nil {
		t.Fatalf("decode nonce: %v", err)
	}
	if nonce.Nonce != tr.Nonce1 {
		t.Errorf("nonce: got %d, want %d", nonce.Nonce, tr.Nonce1)
	}
}

func TestServer_SettlementValidationMapping(t *testing.T) {
	ts := newTestServer(t)
	party2 := uuid.New()

	wrongChain := ts.sameChainTrade(party2)
	wrongChain.SourceChainID = 1
	wrongChain.DestinationChainID = 1
	w, env := ts.do(http.MethodPost, "/api/v1/settlements/same", ts.operatorToken, gin.H{"trade": wrongChain})
	if w.Code != http.StatusBadRequest {
		t.Errorf("wrong chain: got status %d, want %d", w.Code, http.StatusBadRequest)
	}
	if env.Error == nil || env.Error.Code != server.ErrCodeValidationFailed {
		t.Errorf("wrong chain: got error %+v, want code %s", env.Error, server.ErrCodeValidationFailed)
	}

	// Unfunded parties fail the escrow coverage check.
	unfunded := ts.sameChainTrade(party2)
	w, env = ts.do(http.MethodPost, "/api/v1/settlements/same", ts.operatorToken, gin.H{"trade": unfunded})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("unfunded: got status %d, want %d", w.Code, http.StatusUnprocessableEntity)
	}
	if env.Error == nil || env.Error.Code != server.ErrCodeInsufficientFunds {
		t.Errorf("unfunded: got error %+v, want code %s", env.Error, server.ErrCodeInsufficientFunds)
	}
}

func TestServer_OperatorTransfer(t *testing.T) {
	ts := newTestServer(t)
	newOperator := uuid.New()
	party2 := uuid.New()
	tr := ts.sameChainTrade(party2)
	ts.fund(ts.accountID, "BTC", tr.Quantity)

	w, _ := ts.do(http.MethodPost, "/api/v1/operator/transfer", ts.operatorToken, gin.H{
		"new_operator": newOperator.String(),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("transfer: got status %d, want %d (body %s)", w.Code, http.StatusCreated, w.Body.String())
	}

	// The old operator's token still carries the operator role, but the
	// guard no longer accepts the caller.
	w, env := ts.do(http.MethodPost, "/api/v1/settlements/same", ts.operatorToken, gin.H{"trade": tr})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("stale operator: got status %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if env.Error == nil || env.Error.Code != server.ErrCodeUnauthorized {
		t.Errorf("stale operator: got error %+v, want code %s", env.Error, server.ErrCodeUnauthorized)
	}
}
