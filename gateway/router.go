package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"scrollpay/gateway/middleware"
	"scrollpay/native/oracle"
	"scrollpay/native/payments"
	"scrollpay/observability"
)

// Config wires the read-only REST surface over the ledger engines.
type Config struct {
	Payments    *payments.Engine
	Oracle      *oracle.Oracle
	Logger      *slog.Logger
	RateLimiter *middleware.RateLimiter
}

type router struct {
	payments *payments.Engine
	oracle   *oracle.Oracle
}

// New builds the gateway handler: health and metrics endpoints plus read-only
// views of payments, merchant balances, withdrawals, subscriptions and the
// resolved price.
func New(cfg Config) http.Handler {
	g := &router{payments: cfg.Payments, oracle: cfg.Oracle}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if cfg.RateLimiter != nil {
		r.Use(cfg.RateLimiter.Middleware())
	}
	r.Use(middleware.Observe(cfg.Logger, observability.Gateway(), "gateway"))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Get("/payments/{id}", g.getPayment)
		v1.Get("/merchants/{address}/balance", g.getMerchantBalance)
		v1.Get("/merchants/{address}/withdrawal", g.getPendingWithdrawal)
		v1.Get("/subscriptions/{id}", g.getSubscription)
		v1.Get("/oracle/price", g.getPrice)
		v1.Get("/oracle/health", g.getOracleHealth)
	})

	return r
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeErr(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}

func pathID(r *http.Request) (uint64, error) {
	return strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
}

func pathAddress(r *http.Request) ([20]byte, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, "address"))
	if !common.IsHexAddress(raw) {
		return [20]byte{}, false
	}
	return common.HexToAddress(raw), true
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func (g *router) getPayment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid payment id")
		return
	}
	payment, err := g.payments.Payment(id)
	if err != nil {
		if errors.Is(err, payments.ErrInvalidPaymentID) {
			writeErr(w, http.StatusNotFound, "unknown payment")
			return
		}
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":        payment.ID,
		"merchant":  common.Address(payment.Merchant).Hex(),
		"client":    common.Address(payment.Client).Hex(),
		"amount":    amountString(payment.Amount),
		"timestamp": payment.Timestamp,
		"disputed":  payment.Disputed,
		"completed": payment.Completed,
	})
}

func (g *router) getMerchantBalance(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(r)
	if !ok {
		writeErr(w, http.StatusBadRequest, "invalid merchant address")
		return
	}
	balance, err := g.payments.MerchantBalance(addr)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"merchant": common.Address(addr).Hex(),
		"balance":  amountString(balance),
	})
}

func (g *router) getPendingWithdrawal(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(r)
	if !ok {
		writeErr(w, http.StatusBadRequest, "invalid merchant address")
		return
	}
	request, found, err := g.payments.PendingWithdrawal(addr)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		writeErr(w, http.StatusNotFound, "no pending withdrawal")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"merchant":    common.Address(addr).Hex(),
		"amount":      amountString(request.Amount),
		"requestTime": request.RequestTime,
		"unlocksAt":   request.RequestTime + payments.WithdrawalDelay,
	})
}

func (g *router) getSubscription(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid subscription id")
		return
	}
	sub, found, err := g.payments.Subscription(id)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		writeErr(w, http.StatusNotFound, "unknown subscription")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":          sub.ID,
		"merchant":    common.Address(sub.Merchant).Hex(),
		"subscriber":  common.Address(sub.Subscriber).Hex(),
		"amount":      amountString(sub.Amount),
		"interval":    sub.Interval,
		"lastPayment": sub.LastPayment,
	})
}

func (g *router) getPrice(w http.ResponseWriter, r *http.Request) {
	price, err := g.oracle.ResolvePrice()
	if err != nil {
		writeErr(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"price":     amountString(price),
		"precision": oracle.PricePrecision,
	})
}

func (g *router) getOracleHealth(w http.ResponseWriter, r *http.Request) {
	healthy := g.oracle.Healthy()
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]bool{"healthy": healthy})
}
