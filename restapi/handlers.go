package restapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/electrumgw/electrumgw/dispatch"
)

// sendTxRequest is the JSON form of a tx/send body. A plain hex body is
// accepted too.
type sendTxRequest struct {
	RawTx string `json:"rawtx"`
}

type sendTxResponse struct {
	TxID string `json:"txid"`
}

type balanceResponse struct {
	Confirmed   int64 `json:"confirmed"`
	Unconfirmed int64 `json:"unconfirmed"`
	Balance     int64 `json:"balance"`
}

type utxoResponse struct {
	TxID   string `json:"txid"`
	Vout   uint32 `json:"vout"`
	Value  int64  `json:"value"`
	Height int32  `json:"height"`
}

// chainRoute rejects requests for a coin or network this gateway does not
// serve.
func (s *Server) chainRoute(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		coin := r.PathValue("coin")
		network := r.PathValue("network")

		if !strings.EqualFold(coin, s.cfg.Coin) ||
			!strings.EqualFold(network, s.cfg.Network) {

			s.writeError(w, r, errUnsupportedChain)
			return
		}

		next(w, r)
	}
}

func (s *Server) sendTx(w http.ResponseWriter, r *http.Request) {
	rawTx, err := readRawTx(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	txid, err := s.cfg.Backend.Broadcast(r.Context(), rawTx)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, &sendTxResponse{TxID: txid})
}

func (s *Server) getBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := s.cfg.Backend.GetBalance(
		r.Context(), r.PathValue("address"),
	)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, &balanceResponse{
		Confirmed:   balance.Confirmed,
		Unconfirmed: balance.Unconfirmed,
		Balance:     balance.Total(),
	})
}

func (s *Server) listUnspent(w http.ResponseWriter, r *http.Request) {
	utxos, err := s.cfg.Backend.ListUnspent(
		r.Context(), r.PathValue("address"),
	)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toUtxoResponses(utxos))
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Status())
}

func toUtxoResponses(utxos []dispatch.Utxo) []utxoResponse {
	resp := make([]utxoResponse, 0, len(utxos))
	for _, u := range utxos {
		resp = append(resp, utxoResponse{
			TxID:   u.TxID,
			Vout:   u.OutputIndex,
			Value:  u.Value,
			Height: u.Height,
		})
	}

	return resp
}

// readRawTx returns the hex transaction of a tx/send body, either raw or
// wrapped in a JSON object.
func readRawTx(body io.Reader) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}

	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var req sendTxRequest
		if err := json.Unmarshal(data, &req); err != nil {
			return "", err
		}
		data = []byte(strings.TrimSpace(req.RawTx))
	}

	if len(data) == 0 {
		return "", errEmptyBody
	}

	return string(data), nil
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request,
	err error) {

	status := statusFor(err)

	switch {
	case status >= http.StatusInternalServerError:
		log.Errorf("%v %v: %v", r.Method, r.URL.Path, err)
	default:
		log.Debugf("%v %v: %v", r.Method, r.URL.Path, err)
	}

	writeJSON(w, status, &errorResponse{Error: publicMessage(status, err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("Unable to write response: %v", err)
	}
}
