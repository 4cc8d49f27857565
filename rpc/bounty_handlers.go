package rpc

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"openbounty/core"
	"openbounty/core/types"
	"openbounty/crypto"
	"openbounty/native/bounty"
	"openbounty/storage/eventlog"
)

type bountyQueryParams struct {
	Address         string `json:"address,omitempty"`
	Company         string `json:"company,omitempty"`
	DescriptionHash string `json:"descriptionHash,omitempty"`
}

type listBountiesParams struct {
	Company string `json:"company,omitempty"`
	Status  string `json:"status,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

type addressParams struct {
	Address string `json:"address"`
}

type profileParams struct {
	Hunter string `json:"hunter"`
}

type deriveParams struct {
	Kind            string `json:"kind"`
	Company         string `json:"company,omitempty"`
	DescriptionHash string `json:"descriptionHash,omitempty"`
	Hunter          string `json:"hunter,omitempty"`
}

type listEventsParams struct {
	Type    string `json:"type,omitempty"`
	Bounty  string `json:"bounty,omitempty"`
	Company string `json:"company,omitempty"`
	After   int64  `json:"after,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

type airdropParams struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

// decodeParams unmarshals the single parameter object. With optional set a
// missing parameter leaves out untouched.
func decodeParams(w http.ResponseWriter, req *RPCRequest, out interface{}, optional bool) bool {
	if len(req.Params) == 0 {
		if optional {
			return true
		}
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "parameter object required", nil)
		return false
	}
	if len(req.Params) > 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "too many parameters", nil)
		return false
	}
	dec := json.NewDecoder(strings.NewReader(string(req.Params[0])))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return false
	}
	return true
}

func parseAddressParam(w http.ResponseWriter, req *RPCRequest, field, value string) (crypto.Address, bool) {
	addr, err := crypto.ParseAddress(value)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, fmt.Sprintf("invalid %s", field), err.Error())
		return crypto.Address{}, false
	}
	return addr, true
}

func (s *Server) handleSendTransaction(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "transaction parameter required", nil)
		return
	}
	var tx types.Transaction
	if err := json.Unmarshal(req.Params[0], &tx); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid transaction format", err.Error())
		return
	}
	receipt, err := s.processor.Apply(&tx)
	if err != nil {
		writeLedgerError(w, req, err)
		return
	}
	writeResult(w, req.ID, receiptResult(receipt))
}

func (s *Server) handleGetTreasury(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	view, err := s.ledger.Treasury()
	if err != nil {
		writeLedgerError(w, req, err)
		return
	}
	writeResult(w, req.ID, treasuryResult(view))
}

func (s *Server) handleGetBounty(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params bountyQueryParams
	if !decodeParams(w, req, &params, false) {
		return
	}
	var addr crypto.Address
	switch {
	case params.Address != "":
		parsed, ok := parseAddressParam(w, req, "address", params.Address)
		if !ok {
			return
		}
		addr = parsed
	case params.Company != "" && params.DescriptionHash != "":
		company, ok := parseAddressParam(w, req, "company", params.Company)
		if !ok {
			return
		}
		addr = crypto.BountyAddress(company, params.DescriptionHash)
	default:
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "address or company and descriptionHash required", nil)
		return
	}
	b, escrow, err := s.ledger.BountyWithEscrow(addr)
	if err != nil {
		writeLedgerError(w, req, err)
		return
	}
	writeResult(w, req.ID, bountyResult(b, escrow, s.ledger.Now()))
}

func (s *Server) handleListBounties(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params listBountiesParams
	if !decodeParams(w, req, &params, true) {
		return
	}
	filter := core.BountyFilter{Limit: params.Limit}
	if params.Company != "" {
		company, ok := parseAddressParam(w, req, "company", params.Company)
		if !ok {
			return
		}
		filter.Company = &company
	}
	if params.Status != "" {
		status, ok := bounty.ParseStatus(params.Status)
		if !ok {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid status", params.Status)
			return
		}
		filter.Status = &status
	}
	bounties, err := s.ledger.Bounties(filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to list bounties", err.Error())
		return
	}
	now := s.ledger.Now()
	out := make([]BountyResult, 0, len(bounties))
	for _, b := range bounties {
		out = append(out, bountyResult(b, nil, now))
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params profileParams
	if !decodeParams(w, req, &params, false) {
		return
	}
	hunterAddr, ok := parseAddressParam(w, req, "hunter", params.Hunter)
	if !ok {
		return
	}
	profile, err := s.ledger.HunterProfile(hunterAddr)
	if err != nil {
		writeLedgerError(w, req, err)
		return
	}
	writeResult(w, req.ID, profileResult(profile))
}

func (s *Server) handleGetAccount(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params addressParams
	if !decodeParams(w, req, &params, false) {
		return
	}
	addr, ok := parseAddressParam(w, req, "address", params.Address)
	if !ok {
		return
	}
	account, err := s.ledger.Account(addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to load account", err.Error())
		return
	}
	writeResult(w, req.ID, accountResult(addr.String(), account))
}

func (s *Server) handleDeriveAddress(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params deriveParams
	if !decodeParams(w, req, &params, false) {
		return
	}
	var derived crypto.Address
	switch strings.ToLower(strings.TrimSpace(params.Kind)) {
	case "treasury":
		derived = crypto.TreasuryAddress()
	case "bounty":
		company, ok := parseAddressParam(w, req, "company", params.Company)
		if !ok {
			return
		}
		if err := bounty.ValidateDescriptionHash(params.DescriptionHash); err != nil {
			writeLedgerError(w, req, err)
			return
		}
		derived = crypto.BountyAddress(company, params.DescriptionHash)
	case "profile":
		hunterAddr, ok := parseAddressParam(w, req, "hunter", params.Hunter)
		if !ok {
			return
		}
		derived = crypto.ProfileAddress(hunterAddr)
	default:
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "kind must be treasury, bounty or profile", params.Kind)
		return
	}
	writeResult(w, req.ID, map[string]string{"address": derived.String(), "hex": derived.Hex()})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if s.events == nil {
		writeError(w, http.StatusServiceUnavailable, req.ID, codeUnavailable, "event journal unavailable", nil)
		return
	}
	var params listEventsParams
	if !decodeParams(w, req, &params, true) {
		return
	}
	if params.After < 0 || params.Limit < 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "after and limit must not be negative", nil)
		return
	}
	stored, err := s.events.List(r.Context(), eventlog.Filter{
		Type:    params.Type,
		Bounty:  params.Bounty,
		Company: params.Company,
		After:   params.After,
		Limit:   params.Limit,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to list events", err.Error())
		return
	}
	result := EventsResult{Events: stored, Next: params.After}
	if result.Events == nil {
		result.Events = []eventlog.StoredEvent{}
	}
	if len(stored) > 0 {
		result.Next = stored[len(stored)-1].Sequence
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleAirdrop(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if _, err := s.auth.Authorize(r, faucetScope); err != nil {
		writeAuthError(w, req, err)
		return
	}
	var params airdropParams
	if !decodeParams(w, req, &params, false) {
		return
	}
	addr, ok := parseAddressParam(w, req, "address", params.Address)
	if !ok {
		return
	}
	value, ok := new(big.Int).SetString(strings.TrimSpace(params.Amount), 10)
	if !ok || value.Sign() <= 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "amount must be a positive base-10 integer", params.Amount)
		return
	}
	account, err := s.ledger.Airdrop(addr, value)
	if err != nil {
		writeLedgerError(w, req, err)
		return
	}
	s.logger.Info("faucet airdrop", "address", addr.String(), "amount", value.String())
	writeResult(w, req.ID, accountResult(addr.String(), account))
}
