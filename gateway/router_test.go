package gateway

import (
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"scrollpay/native/bank"
	"scrollpay/native/oracle"
	"scrollpay/native/payments"
	"scrollpay/state"
	"scrollpay/storage"
)

const (
	merchantHex = "0x00000000000000000000000000000000000000AA"
	clientHex   = "0x00000000000000000000000000000000000000BB"
	vaultHex    = "0x00000000000000000000000000000000000000EE"
	testNow     = int64(1_700_000_000)
)

func hexAddr(raw string) [20]byte {
	var addr [20]byte
	decoded := new(big.Int)
	decoded.SetString(raw[2:], 16)
	decoded.FillBytes(addr[:])
	return addr
}

func newTestGateway(t *testing.T) *httptest.Server {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	ledger := bank.NewLedger(manager)

	feed := oracle.NewManualFeed()
	feed.SetRound(oracle.RoundData{
		RoundID:         1,
		Answer:          big.NewInt(2000_00000000),
		UpdatedAt:       testNow,
		AnsweredInRound: 1,
	})
	priceOracle, err := oracle.NewOracle(feed)
	if err != nil {
		t.Fatalf("oracle: %v", err)
	}
	priceOracle.SetNowFunc(func() int64 { return testNow })

	engine := payments.NewEngine()
	engine.SetState(manager)
	engine.SetToken(ledger)
	engine.SetVault(hexAddr(vaultHex))
	engine.SetNowFunc(func() int64 { return testNow })

	client := hexAddr(clientHex)
	if err := ledger.Mint(client, big.NewInt(10_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.Approve(client, hexAddr(vaultHex), big.NewInt(10_000)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := engine.ProcessPayment(client, hexAddr(merchantHex), big.NewInt(2_500), false); err != nil {
		t.Fatalf("seed payment: %v", err)
	}

	ts := httptest.NewServer(New(Config{Payments: engine, Oracle: priceOracle}))
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string) (map[string]interface{}, int) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	body := map[string]interface{}{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
	return body, resp.StatusCode
}

func TestHealthz(t *testing.T) {
	ts := newTestGateway(t)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatal("request id header missing")
	}
}

func TestGetPayment(t *testing.T) {
	ts := newTestGateway(t)

	body, status := getJSON(t, ts.URL+"/v1/payments/0")
	if status != http.StatusOK {
		t.Fatalf("unexpected status %d: %+v", status, body)
	}
	if body["amount"] != "2500" || !strings.EqualFold(body["merchant"].(string), merchantHex) {
		t.Fatalf("unexpected payment: %+v", body)
	}

	if _, status := getJSON(t, ts.URL+"/v1/payments/99"); status != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown payment, got %d", status)
	}
	if _, status := getJSON(t, ts.URL+"/v1/payments/abc"); status != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", status)
	}
}

func TestGetMerchantBalance(t *testing.T) {
	ts := newTestGateway(t)

	body, status := getJSON(t, ts.URL+"/v1/merchants/"+merchantHex+"/balance")
	if status != http.StatusOK || body["balance"] != "2500" {
		t.Fatalf("unexpected balance response: status=%d %+v", status, body)
	}

	if _, status := getJSON(t, ts.URL+"/v1/merchants/not-an-address/balance"); status != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad address, got %d", status)
	}
}

func TestGetPendingWithdrawalNotFound(t *testing.T) {
	ts := newTestGateway(t)
	if _, status := getJSON(t, ts.URL+"/v1/merchants/"+merchantHex+"/withdrawal"); status != http.StatusNotFound {
		t.Fatalf("expected 404 without a pending request, got %d", status)
	}
}

func TestOracleEndpoints(t *testing.T) {
	ts := newTestGateway(t)

	body, status := getJSON(t, ts.URL+"/v1/oracle/price")
	if status != http.StatusOK || body["price"] != "200000000000" {
		t.Fatalf("unexpected price response: status=%d %+v", status, body)
	}

	body, status = getJSON(t, ts.URL+"/v1/oracle/health")
	if status != http.StatusOK || body["healthy"] != true {
		t.Fatalf("unexpected health response: status=%d %+v", status, body)
	}
}
