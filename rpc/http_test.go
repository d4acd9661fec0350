package rpc

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"scrollpay/native/bank"
	"scrollpay/native/oracle"
	"scrollpay/native/payments"
	"scrollpay/state"
	"scrollpay/storage"
)

const (
	testToken    = "test-token"
	ownerHex     = "0x00000000000000000000000000000000000000A1"
	vaultHex     = "0x00000000000000000000000000000000000000EE"
	merchantHex  = "0x00000000000000000000000000000000000000AA"
	clientHex    = "0x00000000000000000000000000000000000000BB"
	testNow      = int64(1_700_000_000)
	testPriceRaw = int64(2000_00000000)
)

type rpcTestEnv struct {
	server *httptest.Server
	feed   *oracle.ManualFeed
	ledger *bank.Ledger
}

func newRPCTestEnv(t *testing.T) *rpcTestEnv {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	ledger := bank.NewLedger(manager)

	feed := oracle.NewManualFeed()
	feed.SetRound(oracle.RoundData{
		RoundID:         1,
		Answer:          big.NewInt(testPriceRaw),
		UpdatedAt:       testNow,
		AnsweredInRound: 1,
	})
	priceOracle, err := oracle.NewOracle(feed)
	if err != nil {
		t.Fatalf("oracle: %v", err)
	}
	if err := priceOracle.SetState(manager); err != nil {
		t.Fatalf("oracle state: %v", err)
	}
	priceOracle.SetNowFunc(func() int64 { return testNow })

	owner := mustAddr(t, ownerHex)
	priceOracle.SetOwner(owner)

	engine := payments.NewEngine()
	engine.SetState(manager)
	engine.SetToken(ledger)
	engine.SetPauses(manager)
	engine.SetOwner(owner)
	engine.SetVault(mustAddr(t, vaultHex))
	engine.SetNowFunc(func() int64 { return testNow })

	srv := NewServer(engine, priceOracle, manager, owner)
	srv.SetAuthToken(testToken)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &rpcTestEnv{server: ts, feed: feed, ledger: ledger}
}

func mustAddr(t *testing.T, raw string) [20]byte {
	t.Helper()
	addr, err := parseHexAddress(raw)
	if err != nil {
		t.Fatalf("parse %s: %v", raw, err)
	}
	return addr
}

func (env *rpcTestEnv) fundClient(t *testing.T, amount int64) {
	t.Helper()
	client := mustAddr(t, clientHex)
	vault := mustAddr(t, vaultHex)
	if err := env.ledger.Mint(client, big.NewInt(amount)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := env.ledger.Approve(client, vault, big.NewInt(amount)); err != nil {
		t.Fatalf("approve: %v", err)
	}
}

func (env *rpcTestEnv) call(t *testing.T, token, method string, params interface{}) (*RPCResponse, int) {
	t.Helper()
	payload := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		payload["params"] = []interface{}{params}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, env.server.URL, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()

	decoded := &RPCResponse{}
	if err := json.NewDecoder(resp.Body).Decode(decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return decoded, resp.StatusCode
}

func TestHandleRejectsMalformedRequests(t *testing.T) {
	env := newRPCTestEnv(t)

	resp, err := http.Post(env.server.URL, "application/json", bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	decoded := &RPCResponse{}
	if err := json.NewDecoder(resp.Body).Decode(decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Error == nil || decoded.Error.Code != codeParseError {
		t.Fatalf("expected parse error, got %+v", decoded.Error)
	}

	unknown, status := env.call(t, "", "scrollpay_noSuchMethod", nil)
	if status != http.StatusNotFound || unknown.Error == nil || unknown.Error.Code != codeMethodNotFound {
		t.Fatalf("expected method-not-found, got status=%d err=%+v", status, unknown.Error)
	}
}

func TestProcessPaymentOverRPC(t *testing.T) {
	env := newRPCTestEnv(t)
	env.fundClient(t, 10_000)

	resp, status := env.call(t, "", "scrollpay_processPayment", processPaymentParams{
		Client:   clientHex,
		Merchant: merchantHex,
		Amount:   "2500",
	})
	if status != http.StatusOK || resp.Error != nil {
		t.Fatalf("unexpected failure: status=%d err=%+v", status, resp.Error)
	}
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected result shape: %T", resp.Result)
	}
	if result["amount"] != "2500" || result["id"] != float64(0) {
		t.Fatalf("unexpected payment: %+v", result)
	}

	balanceResp, _ := env.call(t, "", "scrollpay_getBalance", merchantParams{Merchant: merchantHex})
	balance := balanceResp.Result.(map[string]interface{})
	if balance["balance"] != "2500" {
		t.Fatalf("balance not visible over RPC: %+v", balance)
	}
}

func TestProcessPaymentValidation(t *testing.T) {
	env := newRPCTestEnv(t)
	cases := []processPaymentParams{
		{Client: "nope", Merchant: merchantHex, Amount: "10"},
		{Client: clientHex, Merchant: merchantHex, Amount: "-5"},
		{Client: clientHex, Merchant: merchantHex, Amount: ""},
	}
	for i, params := range cases {
		resp, status := env.call(t, "", "scrollpay_processPayment", params)
		if status != http.StatusBadRequest || resp.Error == nil || resp.Error.Code != codePaymentsInvalidParams {
			t.Fatalf("case %d: expected invalid params, got status=%d err=%+v", i, status, resp.Error)
		}
	}
}

func TestPrivilegedMethodsRequireBearerToken(t *testing.T) {
	env := newRPCTestEnv(t)

	resp, status := env.call(t, "", "scrollpay_resolveDispute", resolveDisputeParams{PaymentID: 0})
	if status != http.StatusUnauthorized || resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("expected unauthorized without token, got status=%d err=%+v", status, resp.Error)
	}

	resp, status = env.call(t, "wrong-token", "scrollpay_resolveDispute", resolveDisputeParams{PaymentID: 0})
	if status != http.StatusUnauthorized || resp.Error == nil {
		t.Fatalf("expected unauthorized with bad token, got status=%d err=%+v", status, resp.Error)
	}

	// With proper credentials the request reaches the engine and fails on
	// the unknown payment instead.
	resp, status = env.call(t, testToken, "scrollpay_resolveDispute", resolveDisputeParams{PaymentID: 99})
	if status != http.StatusNotFound || resp.Error == nil || resp.Error.Code != codePaymentsNotFound {
		t.Fatalf("expected not-found past auth, got status=%d err=%+v", status, resp.Error)
	}
}

func TestProcessSubscriptionsIsPublic(t *testing.T) {
	env := newRPCTestEnv(t)

	// Sweeping needs no credentials: it can only charge subscriptions the
	// subscribers already authorized.
	resp, status := env.call(t, "", "scrollpay_processSubscriptions", processSubscriptionsParams{Cursor: 0, Limit: 10})
	if status != http.StatusOK || resp.Error != nil {
		t.Fatalf("expected public sweep to succeed, got status=%d err=%+v", status, resp.Error)
	}
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected result shape: %+v", resp.Result)
	}
	if result["charged"] != float64(0) || result["nextCursor"] != float64(0) {
		t.Fatalf("empty ledger sweep should charge nothing: %+v", result)
	}
}

func TestDisputeLifecycleOverRPC(t *testing.T) {
	env := newRPCTestEnv(t)
	env.fundClient(t, 10_000)

	if resp, _ := env.call(t, "", "scrollpay_processPayment", processPaymentParams{
		Client: clientHex, Merchant: merchantHex, Amount: "1000",
	}); resp.Error != nil {
		t.Fatalf("payment: %+v", resp.Error)
	}

	resp, status := env.call(t, "", "scrollpay_raiseDispute", disputeParams{Caller: merchantHex, PaymentID: 0})
	if status != http.StatusForbidden || resp.Error == nil || resp.Error.Code != codePaymentsForbidden {
		t.Fatalf("expected forbidden for non-client, got status=%d err=%+v", status, resp.Error)
	}

	if resp, _ := env.call(t, "", "scrollpay_raiseDispute", disputeParams{Caller: clientHex, PaymentID: 0}); resp.Error != nil {
		t.Fatalf("raise: %+v", resp.Error)
	}
	if resp, _ := env.call(t, testToken, "scrollpay_resolveDispute", resolveDisputeParams{PaymentID: 0, MerchantFavor: true}); resp.Error != nil {
		t.Fatalf("resolve: %+v", resp.Error)
	}

	payment, _ := env.call(t, "", "scrollpay_getPayment", idParams{ID: 0})
	record := payment.Result.(map[string]interface{})
	if record["completed"] != true || record["disputed"] != false {
		t.Fatalf("dispute not settled: %+v", record)
	}
}

func TestPauseSwitchOverRPC(t *testing.T) {
	env := newRPCTestEnv(t)
	env.fundClient(t, 10_000)

	if resp, _ := env.call(t, testToken, "scrollpay_pause", pauseParams{Module: payments.ModuleName}); resp.Error != nil {
		t.Fatalf("pause: %+v", resp.Error)
	}
	resp, status := env.call(t, "", "scrollpay_processPayment", processPaymentParams{
		Client: clientHex, Merchant: merchantHex, Amount: "100",
	})
	if status != http.StatusServiceUnavailable || resp.Error == nil || resp.Error.Code != codePaymentsPaused {
		t.Fatalf("expected paused rejection, got status=%d err=%+v", status, resp.Error)
	}

	if resp, _ := env.call(t, testToken, "scrollpay_unpause", pauseParams{Module: payments.ModuleName}); resp.Error != nil {
		t.Fatalf("unpause: %+v", resp.Error)
	}
	if resp, _ := env.call(t, "", "scrollpay_processPayment", processPaymentParams{
		Client: clientHex, Merchant: merchantHex, Amount: "100",
	}); resp.Error != nil {
		t.Fatalf("payment after unpause: %+v", resp.Error)
	}
}

func TestOracleMethods(t *testing.T) {
	env := newRPCTestEnv(t)

	resp, _ := env.call(t, "", "oracle_resolvePrice", nil)
	if resp.Error != nil {
		t.Fatalf("resolve: %+v", resp.Error)
	}
	price := resp.Result.(map[string]interface{})
	if price["price"] != "200000000000" {
		t.Fatalf("unexpected price: %+v", price)
	}

	resp, status := env.call(t, "", "oracle_getFallback", nil)
	if status != http.StatusNotFound || resp.Error == nil {
		t.Fatalf("expected no fallback yet, got status=%d err=%+v", status, resp.Error)
	}

	if resp, _ := env.call(t, testToken, "oracle_updateFallbackPrice", updateFallbackParams{Price: "195000000000"}); resp.Error != nil {
		t.Fatalf("update fallback: %+v", resp.Error)
	}
	resp, _ = env.call(t, "", "oracle_getFallback", nil)
	if resp.Error != nil {
		t.Fatalf("get fallback: %+v", resp.Error)
	}
	fallback := resp.Result.(map[string]interface{})
	if fallback["price"] != "195000000000" {
		t.Fatalf("unexpected fallback: %+v", fallback)
	}

	health, _ := env.call(t, "", "oracle_isHealthy", nil)
	if health.Result.(map[string]interface{})["healthy"] != true {
		t.Fatalf("expected healthy oracle: %+v", health.Result)
	}
}

func TestOracleConvert(t *testing.T) {
	env := newRPCTestEnv(t)

	// 1 native unit at $2000 converts to 2000 tokens in 6 decimals.
	resp, _ := env.call(t, "", "oracle_convert", convertParams{
		Amount:    "1000000000000000000",
		Direction: "nativeToToken",
	})
	if resp.Error != nil {
		t.Fatalf("convert: %+v", resp.Error)
	}
	result := resp.Result.(map[string]interface{})
	if result["converted"] != "2000000000" {
		t.Fatalf("unexpected conversion: %+v", result)
	}

	back, _ := env.call(t, "", "oracle_convert", convertParams{
		Amount:    "2000000000",
		Direction: "tokenToNative",
	})
	if back.Error != nil {
		t.Fatalf("convert back: %+v", back.Error)
	}
	if back.Result.(map[string]interface{})["converted"] != "1000000000000000000" {
		t.Fatalf("round trip mismatch: %+v", back.Result)
	}

	bad, status := env.call(t, "", "oracle_convert", convertParams{Amount: "10", Direction: "sideways"})
	if status != http.StatusBadRequest || bad.Error == nil || bad.Error.Code != codeOracleInvalidParams {
		t.Fatalf("expected invalid direction rejection, got status=%d err=%+v", status, bad.Error)
	}
}
