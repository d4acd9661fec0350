package rpc

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"scrollpay/native/common"
	"scrollpay/native/payments"
)

const (
	codePaymentsInvalidParams = -32021
	codePaymentsNotFound      = -32022
	codePaymentsForbidden     = -32023
	codePaymentsConflict      = -32024
	codePaymentsPaused        = -32026
	codePaymentsInternal      = -32025
)

type processPaymentParams struct {
	Client   string `json:"client"`
	Merchant string `json:"merchant"`
	Amount   string `json:"amount"`
	Native   bool   `json:"native"`
}

type payForGoodsParams struct {
	Client   string `json:"client"`
	Merchant string `json:"merchant"`
	Amount   string `json:"amount"`
	OrderRef string `json:"orderRef"`
}

type merchantParams struct {
	Merchant string `json:"merchant"`
}

type withdrawalParams struct {
	Merchant string `json:"merchant"`
	Amount   string `json:"amount"`
}

type disputeParams struct {
	Caller    string `json:"caller"`
	PaymentID uint64 `json:"paymentId"`
}

type resolveDisputeParams struct {
	PaymentID     uint64 `json:"paymentId"`
	MerchantFavor bool   `json:"merchantFavor"`
}

type createSubscriptionParams struct {
	Subscriber string `json:"subscriber"`
	Merchant   string `json:"merchant"`
	Amount     string `json:"amount"`
	Interval   int64  `json:"interval"`
}

type processSubscriptionsParams struct {
	Cursor uint64 `json:"cursor"`
	Limit  int    `json:"limit"`
}

type idParams struct {
	ID uint64 `json:"id"`
}

type pauseParams struct {
	Module string `json:"module"`
}

type paymentJSON struct {
	ID        uint64 `json:"id"`
	Merchant  string `json:"merchant"`
	Client    string `json:"client"`
	Amount    string `json:"amount"`
	Timestamp int64  `json:"timestamp"`
	Disputed  bool   `json:"disputed"`
	Completed bool   `json:"completed"`
}

type withdrawalJSON struct {
	Merchant    string `json:"merchant"`
	Amount      string `json:"amount"`
	RequestTime int64  `json:"requestTime"`
	UnlocksAt   int64  `json:"unlocksAt"`
}

type subscriptionJSON struct {
	ID          uint64 `json:"id"`
	Merchant    string `json:"merchant"`
	Subscriber  string `json:"subscriber"`
	Amount      string `json:"amount"`
	Interval    int64  `json:"interval"`
	LastPayment int64  `json:"lastPayment"`
}

type sweepResult struct {
	NextCursor uint64 `json:"nextCursor"`
	Charged    int    `json:"charged"`
}

func paymentToJSON(p *payments.Payment) paymentJSON {
	return paymentJSON{
		ID:        p.ID,
		Merchant:  formatAddress(p.Merchant),
		Client:    formatAddress(p.Client),
		Amount:    formatAmount(p.Amount),
		Timestamp: p.Timestamp,
		Disputed:  p.Disputed,
		Completed: p.Completed,
	}
}

func (s *Server) handleProcessPayment(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params processPaymentParams
	if err := singleParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	client, err := parseHexAddress(params.Client)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	merchant, err := parseHexAddress(params.Merchant)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	payment, err := s.payments.ProcessPayment(client, merchant, amount, params.Native)
	if err != nil {
		writePaymentsError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, paymentToJSON(payment))
}

func (s *Server) handlePayForGoods(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params payForGoodsParams
	if err := singleParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	client, err := parseHexAddress(params.Client)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	merchant, err := parseHexAddress(params.Merchant)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	orderRef, err := parseOrderRef(params.OrderRef)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	payment, err := s.payments.PayForGoods(client, merchant, amount, orderRef)
	if err != nil {
		writePaymentsError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, paymentToJSON(payment))
}

func parseOrderRef(raw string) ([32]byte, error) {
	var ref [32]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if trimmed == "" {
		return ref, fmt.Errorf("orderRef required")
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return ref, fmt.Errorf("orderRef must be hex: %w", err)
	}
	if len(decoded) != 32 {
		return ref, fmt.Errorf("orderRef must be 32 bytes, got %d", len(decoded))
	}
	copy(ref[:], decoded)
	return ref, nil
}

func (s *Server) handleRequestWithdrawal(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params withdrawalParams
	if err := singleParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	merchant, err := parseHexAddress(params.Merchant)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.payments.RequestWithdrawal(merchant, amount); err != nil {
		writePaymentsError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"accepted": true})
}

func (s *Server) handleCompleteWithdrawal(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params merchantParams
	if err := singleParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	merchant, err := parseHexAddress(params.Merchant)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.payments.CompleteWithdrawal(merchant); err != nil {
		writePaymentsError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"completed": true})
}

func (s *Server) handleRaiseDispute(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params disputeParams
	if err := singleParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseHexAddress(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.payments.RaiseDispute(caller, params.PaymentID); err != nil {
		writePaymentsError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"disputed": true})
}

func (s *Server) handleResolveDispute(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params resolveDisputeParams
	if err := singleParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.payments.ResolveDispute(s.owner, params.PaymentID, params.MerchantFavor); err != nil {
		writePaymentsError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"resolved": true})
}

func (s *Server) handleCreateSubscription(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params createSubscriptionParams
	if err := singleParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	subscriber, err := parseHexAddress(params.Subscriber)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	merchant, err := parseHexAddress(params.Merchant)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	if params.Interval <= 0 {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", "interval must be positive")
		return
	}
	sub, err := s.payments.CreateSubscription(subscriber, merchant, amount, params.Interval)
	if err != nil {
		writePaymentsError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, subscriptionToJSON(sub))
}

func (s *Server) handleProcessSubscriptions(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params processSubscriptionsParams
	if err := singleParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	if params.Limit <= 0 {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", "limit must be positive")
		return
	}
	next, charged, err := s.payments.ProcessSubscriptions(params.Cursor, params.Limit)
	if err != nil {
		writePaymentsError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, sweepResult{NextCursor: next, Charged: charged})
}

func (s *Server) handleGetPayment(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params idParams
	if err := singleParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	payment, err := s.payments.Payment(params.ID)
	if err != nil {
		writePaymentsError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, paymentToJSON(payment))
}

func (s *Server) handleGetMerchantBalance(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params merchantParams
	if err := singleParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	merchant, err := parseHexAddress(params.Merchant)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	balance, err := s.payments.MerchantBalance(merchant)
	if err != nil {
		writePaymentsError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{
		"merchant": formatAddress(merchant),
		"balance":  formatAmount(balance),
	})
}

func (s *Server) handleGetPendingWithdrawal(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params merchantParams
	if err := singleParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	merchant, err := parseHexAddress(params.Merchant)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	request, ok, err := s.payments.PendingWithdrawal(merchant)
	if err != nil {
		writePaymentsError(w, req.ID, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codePaymentsNotFound, "not_found", "no pending withdrawal")
		return
	}
	writeResult(w, req.ID, withdrawalJSON{
		Merchant:    formatAddress(merchant),
		Amount:      formatAmount(request.Amount),
		RequestTime: request.RequestTime,
		UnlocksAt:   request.RequestTime + payments.WithdrawalDelay,
	})
}

func subscriptionToJSON(sub *payments.Subscription) subscriptionJSON {
	return subscriptionJSON{
		ID:          sub.ID,
		Merchant:    formatAddress(sub.Merchant),
		Subscriber:  formatAddress(sub.Subscriber),
		Amount:      formatAmount(sub.Amount),
		Interval:    sub.Interval,
		LastPayment: sub.LastPayment,
	}
}

func (s *Server) handleGetSubscription(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params idParams
	if err := singleParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	sub, ok, err := s.payments.Subscription(params.ID)
	if err != nil {
		writePaymentsError(w, req.ID, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codePaymentsNotFound, "not_found", "unknown subscription")
		return
	}
	writeResult(w, req.ID, subscriptionToJSON(sub))
}

func (s *Server) handleSetPaused(w http.ResponseWriter, r *http.Request, req *RPCRequest, paused bool) {
	var params pauseParams
	if err := singleParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", err.Error())
		return
	}
	module := strings.TrimSpace(params.Module)
	if module == "" {
		writeError(w, http.StatusBadRequest, req.ID, codePaymentsInvalidParams, "invalid_params", "module required")
		return
	}
	if err := s.pauses.SetPaused(module, paused); err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codePaymentsInternal, "internal_error", err.Error())
		return
	}
	writeResult(w, req.ID, map[string]bool{"paused": paused})
}

func writePaymentsError(w http.ResponseWriter, id interface{}, err error) {
	if err == nil {
		return
	}
	status := http.StatusInternalServerError
	code := codePaymentsInternal
	message := "internal_error"
	data := err.Error()
	switch {
	case errors.Is(err, payments.ErrInvalidPaymentID):
		status = http.StatusNotFound
		code = codePaymentsNotFound
		message = "not_found"
	case errors.Is(err, payments.ErrUnauthorizedWithdrawal) || errors.Is(err, payments.ErrUnauthorizedCaller):
		status = http.StatusForbidden
		code = codePaymentsForbidden
		message = "forbidden"
	case errors.Is(err, common.ErrModulePaused):
		status = http.StatusServiceUnavailable
		code = codePaymentsPaused
		message = "paused"
	case errors.Is(err, payments.ErrInsufficientBalance) ||
		errors.Is(err, payments.ErrWithdrawalDelayNotMet) ||
		errors.Is(err, payments.ErrNoWithdrawalRequest) ||
		errors.Is(err, payments.ErrDisputeWindowClosed) ||
		errors.Is(err, payments.ErrPaymentAlreadyDisputed) ||
		errors.Is(err, common.ErrReentrantCall):
		status = http.StatusConflict
		code = codePaymentsConflict
		message = "conflict"
	case strings.Contains(err.Error(), "amount must be positive") ||
		strings.Contains(err.Error(), "interval must be positive") ||
		strings.Contains(err.Error(), "limit must be positive"):
		status = http.StatusBadRequest
		code = codePaymentsInvalidParams
		message = "invalid_params"
	}
	writeError(w, status, id, code, message, data)
}
