package rpc

import (
	"errors"
	"math/big"
	"net/http"
	"strings"

	"scrollpay/native/oracle"
)

const (
	codeOracleInvalidParams = -32031
	codeOracleStale         = -32032
	codeOracleUnavailable   = -32033
	codeOracleForbidden     = -32034
	codeOracleInternal      = -32035
)

type updateFallbackParams struct {
	Price string `json:"price"`
}

type convertParams struct {
	Amount    string `json:"amount"`
	Direction string `json:"direction"`
}

type convertResult struct {
	Amount    string `json:"amount"`
	Converted string `json:"converted"`
	Direction string `json:"direction"`
}

type priceResult struct {
	Price     string `json:"price"`
	Precision int    `json:"precision"`
}

type fallbackResult struct {
	Price      string `json:"price"`
	LastUpdate int64  `json:"lastUpdate"`
}

type oracleHealthResult struct {
	Healthy bool `json:"healthy"`
}

func (s *Server) handleResolvePrice(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	price, err := s.oracle.ResolvePrice()
	if err != nil {
		writeOracleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, priceResult{Price: formatAmount(price), Precision: oracle.PricePrecision})
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params convertParams
	if err := singleParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeOracleInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(params.Amount), 10)
	if !ok || amount.Sign() < 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeOracleInvalidParams, "invalid_params", "amount must be a non-negative integer")
		return
	}
	var converted *big.Int
	var err error
	switch params.Direction {
	case "nativeToToken":
		converted, err = s.oracle.NativeToToken(amount)
	case "tokenToNative":
		converted, err = s.oracle.TokenToNative(amount)
	default:
		writeError(w, http.StatusBadRequest, req.ID, codeOracleInvalidParams, "invalid_params", "direction must be nativeToToken or tokenToNative")
		return
	}
	if err != nil {
		writeOracleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, convertResult{
		Amount:    amount.String(),
		Converted: converted.String(),
		Direction: params.Direction,
	})
}

func (s *Server) handleUpdateFallbackPrice(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params updateFallbackParams
	if err := singleParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeOracleInvalidParams, "invalid_params", err.Error())
		return
	}
	price, err := parsePositiveBigInt(params.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeOracleInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.oracle.UpdateFallbackPrice(s.owner, price); err != nil {
		writeOracleError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]bool{"updated": true})
}

func (s *Server) handleGetFallback(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	fallback, ok := s.oracle.Fallback()
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeOracleUnavailable, "not_found", "no fallback price set")
		return
	}
	writeResult(w, req.ID, fallbackResult{
		Price:      formatAmount(fallback.Price),
		LastUpdate: fallback.LastUpdate,
	})
}

func (s *Server) handleOracleHealth(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	writeResult(w, req.ID, oracleHealthResult{Healthy: s.oracle.Healthy()})
}

func writeOracleError(w http.ResponseWriter, id interface{}, err error) {
	if err == nil {
		return
	}
	status := http.StatusInternalServerError
	code := codeOracleInternal
	message := "internal_error"
	data := err.Error()
	switch {
	case errors.Is(err, oracle.ErrStalePriceData):
		status = http.StatusServiceUnavailable
		code = codeOracleStale
		message = "stale_price"
	case errors.Is(err, oracle.ErrInvalidPriceFeed):
		status = http.StatusServiceUnavailable
		code = codeOracleUnavailable
		message = "feed_unavailable"
	case errors.Is(err, oracle.ErrInvalidPrice):
		status = http.StatusBadRequest
		code = codeOracleInvalidParams
		message = "invalid_price"
	case errors.Is(err, oracle.ErrUnauthorizedCaller):
		status = http.StatusForbidden
		code = codeOracleForbidden
		message = "forbidden"
	}
	writeError(w, status, id, code, message, data)
}
