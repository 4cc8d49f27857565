package rpc

import (
	"encoding/json"
	"math/big"
	"net/http"
	"strconv"

	"openbounty/core"
	"openbounty/core/types"
	"openbounty/native/bounty"
	"openbounty/native/hunter"
	"openbounty/storage/eventlog"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeNotFound       = -32004
	codeLedgerConflict = -32030
	codeUnavailable    = -32050
)

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      json.RawMessage   `json:"id,omitempty"`
}

type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ErrorData is attached to ledger rejections so clients can branch on kind.
type ErrorData struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail,omitempty"`
}

func responseID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}

func writeError(w http.ResponseWriter, status int, id json.RawMessage, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	w.WriteHeader(status)
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: responseID(id), Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id json.RawMessage, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: responseID(id), Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

type TreasuryResult struct {
	Address                    string `json:"address"`
	Authority                  string `json:"authority"`
	Balance                    string `json:"balance"`
	TotalBountiesCreated       uint64 `json:"totalBountiesCreated"`
	TotalBountiesCompleted     uint64 `json:"totalBountiesCompleted"`
	TotalFeesCollected         string `json:"totalFeesCollected"`
	TotalExpiredFundsReclaimed string `json:"totalExpiredFundsReclaimed"`
	InitializedAt              uint64 `json:"initializedAt"`
}

func treasuryResult(view *core.TreasuryView) TreasuryResult {
	record := view.Record
	return TreasuryResult{
		Address:                    view.Address.String(),
		Authority:                  record.Authority.String(),
		Balance:                    amount(view.Balance),
		TotalBountiesCreated:       record.TotalBountiesCreated,
		TotalBountiesCompleted:     record.TotalBountiesCompleted,
		TotalFeesCollected:         amount(record.TotalFeesCollected),
		TotalExpiredFundsReclaimed: amount(record.TotalExpiredFundsReclaimed),
		InitializedAt:              record.InitializedAt,
	}
}

type BountyResult struct {
	Address           string  `json:"address"`
	Company           string  `json:"company"`
	DescriptionHash   string  `json:"descriptionHash"`
	PrizeAmount       string  `json:"prizeAmount"`
	EscrowBalance     *string `json:"escrowBalance,omitempty"`
	CreatedAt         uint64  `json:"createdAt"`
	DeadlineTimestamp *uint64 `json:"deadlineTimestamp,omitempty"`
	ExpiryTimestamp   uint64  `json:"expiryTimestamp"`
	Status            string  `json:"status"`
	Completed         bool    `json:"completed"`
	Expired           bool    `json:"expired"`
	// Reclaimable is true once an open bounty has passed its expiry.
	Reclaimable     bool    `json:"reclaimable"`
	Winner          *string `json:"winner,omitempty"`
	SubmissionRef   string  `json:"submissionRef,omitempty"`
	ClosedAt        uint64  `json:"closedAt,omitempty"`
	ReclaimedAmount string  `json:"reclaimedAmount,omitempty"`
}

func bountyResult(b *bounty.Bounty, escrow *big.Int, now int64) BountyResult {
	result := BountyResult{
		Address:         b.Address.String(),
		Company:         b.Company.String(),
		DescriptionHash: b.DescriptionHash,
		PrizeAmount:     amount(b.PrizeAmount),
		CreatedAt:       b.CreatedAt,
		ExpiryTimestamp: b.ExpiryTimestamp,
		Status:          b.Status().String(),
		Completed:       b.Completed,
		Expired:         b.Expired,
		Reclaimable:     !b.Terminal() && now >= 0 && b.ExpiredAt(uint64(now)),
		SubmissionRef:   b.SubmissionRef,
		ClosedAt:        b.ClosedAt,
	}
	if escrow != nil {
		value := escrow.String()
		result.EscrowBalance = &value
	}
	if b.HasDeadline {
		deadline := b.DeadlineTimestamp
		result.DeadlineTimestamp = &deadline
	}
	if b.HasWinner() {
		winner := b.Winner.String()
		result.Winner = &winner
	}
	if b.Expired {
		result.ReclaimedAmount = amount(b.ReclaimedAmount)
	}
	return result
}

type ProfileResult struct {
	Hunter            string `json:"hunter"`
	Address           string `json:"address"`
	BountiesCompleted uint64 `json:"bountiesCompleted"`
	CreatedAt         uint64 `json:"createdAt"`
}

func profileResult(p *hunter.Profile) ProfileResult {
	return ProfileResult{
		Hunter:            p.Hunter.String(),
		Address:           p.Address().String(),
		BountiesCompleted: p.BountiesCompleted,
		CreatedAt:         p.CreatedAt,
	}
}

type AccountResult struct {
	Address string `json:"address"`
	Balance string `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

func accountResult(addr string, account *types.Account) AccountResult {
	return AccountResult{Address: addr, Balance: amount(account.Balance), Nonce: account.Nonce}
}

type ReceiptResult struct {
	TransactionHash string              `json:"transactionHash"`
	Type            string              `json:"type"`
	Sender          string              `json:"sender"`
	Nonce           string              `json:"nonce"`
	Subject         string              `json:"subject"`
	Logs            []map[string]string `json:"logs"`
}

func receiptResult(r *core.Receipt) ReceiptResult {
	logs := make([]map[string]string, 0, len(r.Events))
	for _, evt := range r.Events {
		entry := make(map[string]string, len(evt.Attributes)+1)
		for k, v := range evt.Attributes {
			entry[k] = v
		}
		entry["event"] = evt.Type
		logs = append(logs, entry)
	}
	return ReceiptResult{
		TransactionHash: r.TxHash,
		Type:            r.Type,
		Sender:          r.Sender.String(),
		Nonce:           strconv.FormatUint(r.Nonce, 10),
		Subject:         r.Subject.String(),
		Logs:            logs,
	}
}

type EventsResult struct {
	Events []eventlog.StoredEvent `json:"events"`
	// Next is the cursor to pass as "after" for the following page.
	Next int64 `json:"next"`
}

func amount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
