package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"openbounty/core"
	"openbounty/core/state"
	"openbounty/core/types"
	"openbounty/crypto"
	"openbounty/gateway/idempotency"
	"openbounty/gateway/middleware"
	"openbounty/native/fees"
	"openbounty/storage"
	"openbounty/storage/eventlog"
)

const testNow int64 = 1_750_000_000

type testEnv struct {
	t       *testing.T
	ledger  *core.Ledger
	journal *eventlog.Journal
	server  *Server
	now     *int64
}

func newTestEnv(t *testing.T, cfg ServerConfig) *testEnv {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	ledger := core.NewLedger(state.NewManager(db))
	now := testNow
	ledger.SetNowFunc(func() int64 { return now })
	ledger.EnableFaucet(big.NewInt(100 * fees.UnitsPerCoin))

	journal, err := eventlog.Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = journal.Close() })
	ledger.Subscribe(journal)

	return &testEnv{t: t, ledger: ledger, journal: journal, server: NewServer(ledger, journal, cfg, nil), now: &now}
}

type rpcReply struct {
	status int
	result json.RawMessage
	err    *RPCError
	header http.Header
}

func (e *testEnv) call(method string, params interface{}, headers ...string) rpcReply {
	e.t.Helper()
	body := map[string]interface{}{"jsonrpc": "2.0", "id": 7, "method": method}
	if params != nil {
		body["params"] = []interface{}{params}
	}
	raw, err := json.Marshal(body)
	require.NoError(e.t, err)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(raw))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)

	var resp struct {
		ID     json.RawMessage `json:"id"`
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	require.NoError(e.t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	require.Equal(e.t, "7", string(resp.ID))
	return rpcReply{status: rec.Code, result: resp.Result, err: resp.Error, header: rec.Header()}
}

func (r rpcReply) kind(t *testing.T) string {
	t.Helper()
	require.NotNil(t, r.err)
	data, err := json.Marshal(r.err.Data)
	require.NoError(t, err)
	var decoded ErrorData
	require.NoError(t, json.Unmarshal(data, &decoded))
	return decoded.Kind
}

func (e *testEnv) send(key *crypto.PrivateKey, txType types.TxType, nonce uint64, payload interface{}) rpcReply {
	e.t.Helper()
	tx, err := types.NewTransaction(txType, nonce, payload)
	require.NoError(e.t, err)
	require.NoError(e.t, tx.Sign(key.PrivateKey))
	return e.call("bounty_sendTransaction", tx)
}

func newKey(t *testing.T) *crypto.PrivateKey {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	return key
}

func TestBountyLifecycleOverRPC(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	authority, company, hunterKey := newKey(t), newKey(t), newKey(t)

	reply := env.call("bounty_getTreasury", nil)
	require.Equal(t, http.StatusNotFound, reply.status)
	require.Equal(t, "TreasuryNotInitialized", reply.kind(t))

	reply = env.send(authority, types.TxTypeInitializeTreasury, 0, nil)
	require.Nil(t, reply.err)

	reply = env.call("bounty_airdrop", map[string]string{"address": company.Address().String(), "amount": "5000000000"})
	require.Nil(t, reply.err)

	reply = env.send(company, types.TxTypeCreateBounty, 0, &types.CreateBountyPayload{
		DescriptionHash: "bug-42",
		PrizeAmount:     big.NewInt(1_000_000_000),
	})
	require.Nil(t, reply.err)
	var receipt ReceiptResult
	require.NoError(t, json.Unmarshal(reply.result, &receipt))
	require.Equal(t, "createBounty", receipt.Type)
	require.Equal(t, "bounty.created", receipt.Logs[0]["event"])
	bountyAddr := crypto.BountyAddress(company.Address(), "bug-42")
	require.Equal(t, bountyAddr.String(), receipt.Subject)

	reply = env.call("bounty_getBounty", map[string]string{"company": company.Address().String(), "descriptionHash": "bug-42"})
	require.Nil(t, reply.err)
	var b BountyResult
	require.NoError(t, json.Unmarshal(reply.result, &b))
	require.Equal(t, "open", b.Status)
	require.NotNil(t, b.EscrowBalance)
	require.Equal(t, "1000000000", *b.EscrowBalance)
	require.False(t, b.Reclaimable)

	reply = env.send(company, types.TxTypeSelectWinner, 1, &types.SelectWinnerPayload{Bounty: bountyAddr, Winner: hunterKey.Address()})
	require.Equal(t, http.StatusConflict, reply.status)
	require.Equal(t, "WinnerProfileMissing", reply.kind(t))

	reply = env.send(hunterKey, types.TxTypeCreateHunterProfile, 0, nil)
	require.Nil(t, reply.err)
	reply = env.send(company, types.TxTypeSelectWinner, 1, &types.SelectWinnerPayload{Bounty: bountyAddr, Winner: hunterKey.Address(), SubmissionRef: "pr-1"})
	require.Nil(t, reply.err)

	reply = env.call("bounty_getAccount", map[string]string{"address": hunterKey.Address().String()})
	var acct AccountResult
	require.NoError(t, json.Unmarshal(reply.result, &acct))
	require.Equal(t, "990000000", acct.Balance)

	reply = env.call("bounty_getTreasury", nil)
	var treasury TreasuryResult
	require.NoError(t, json.Unmarshal(reply.result, &treasury))
	require.Equal(t, uint64(1), treasury.TotalBountiesCreated)
	require.Equal(t, uint64(1), treasury.TotalBountiesCompleted)
	require.Equal(t, "10000000", treasury.TotalFeesCollected)
	require.Equal(t, "11000000", treasury.Balance)

	reply = env.call("bounty_getProfile", map[string]string{"hunter": hunterKey.Address().String()})
	var profile ProfileResult
	require.NoError(t, json.Unmarshal(reply.result, &profile))
	require.Equal(t, uint64(1), profile.BountiesCompleted)

	reply = env.call("bounty_listEvents", map[string]interface{}{"bounty": bountyAddr.String()})
	require.Nil(t, reply.err)
	var events EventsResult
	require.NoError(t, json.Unmarshal(reply.result, &events))
	require.Len(t, events.Events, 2)
	require.Equal(t, "bounty.created", events.Events[0].Type)
	require.Equal(t, "bounty.completed", events.Events[1].Type)
	require.Equal(t, events.Events[1].Sequence, events.Next)
}

func TestErrorKindsSurfaceInData(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	company, stranger := newKey(t), newKey(t)
	_, err := env.ledger.InitializeTreasury(company.Address())
	require.NoError(t, err)
	_, err = env.ledger.Airdrop(company.Address(), big.NewInt(fees.UnitsPerCoin))
	require.NoError(t, err)

	reply := env.send(company, types.TxTypeCreateBounty, 0, &types.CreateBountyPayload{DescriptionHash: "zero", PrizeAmount: big.NewInt(0)})
	require.Equal(t, http.StatusBadRequest, reply.status)
	require.Equal(t, "InvalidPrizeAmount", reply.kind(t))

	reply = env.send(company, types.TxTypeCreateBounty, 0, &types.CreateBountyPayload{DescriptionHash: "task", PrizeAmount: big.NewInt(50)})
	require.Nil(t, reply.err)
	bountyAddr := crypto.BountyAddress(company.Address(), "task")

	reply = env.send(stranger, types.TxTypeSelectWinner, 0, &types.SelectWinnerPayload{Bounty: bountyAddr, Winner: stranger.Address()})
	require.Equal(t, http.StatusForbidden, reply.status)
	require.Equal(t, "Unauthorized", reply.kind(t))

	reply = env.send(stranger, types.TxTypeReclaimExpiredBounty, 0, &types.ReclaimPayload{Bounty: bountyAddr})
	require.Equal(t, "BountyNotExpired", reply.kind(t))

	reply = env.send(company, types.TxTypeCreateBounty, 0, &types.CreateBountyPayload{DescriptionHash: "again", PrizeAmount: big.NewInt(1)})
	require.Equal(t, "InvalidNonce", reply.kind(t))

	*env.now += 15_552_000
	reply = env.call("bounty_getBounty", map[string]string{"address": bountyAddr.String()})
	var b BountyResult
	require.NoError(t, json.Unmarshal(reply.result, &b))
	require.True(t, b.Reclaimable)

	reply = env.send(stranger, types.TxTypeReclaimExpiredBounty, 0, &types.ReclaimPayload{Bounty: bountyAddr})
	require.Nil(t, reply.err)
	reply = env.send(stranger, types.TxTypeReclaimExpiredBounty, 1, &types.ReclaimPayload{Bounty: bountyAddr})
	require.Equal(t, "BountyAlreadyExpired", reply.kind(t))

	reply = env.call("bounty_getBounty", map[string]string{"address": crypto.DeriveAddress([]byte("nothing")).String()})
	require.Equal(t, http.StatusNotFound, reply.status)
	require.Equal(t, "BountyNotFound", reply.kind(t))
}

func TestListBountiesAndDerive(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})
	company := newKey(t)
	_, err := env.ledger.InitializeTreasury(company.Address())
	require.NoError(t, err)
	_, err = env.ledger.Airdrop(company.Address(), big.NewInt(fees.UnitsPerCoin))
	require.NoError(t, err)
	for _, hash := range []string{"one", "two"} {
		_, err := env.ledger.CreateBounty(company.Address(), hash, big.NewInt(10), nil)
		require.NoError(t, err)
	}

	reply := env.call("bounty_listBounties", map[string]interface{}{"company": company.Address().String(), "status": "open"})
	require.Nil(t, reply.err)
	var list []BountyResult
	require.NoError(t, json.Unmarshal(reply.result, &list))
	require.Len(t, list, 2)

	reply = env.call("bounty_listBounties", nil)
	require.Nil(t, reply.err)

	reply = env.call("bounty_listBounties", map[string]string{"status": "pending"})
	require.Equal(t, codeInvalidParams, reply.err.Code)

	reply = env.call("bounty_deriveAddress", map[string]string{"kind": "bounty", "company": company.Address().String(), "descriptionHash": "one"})
	require.Nil(t, reply.err)
	var derived map[string]string
	require.NoError(t, json.Unmarshal(reply.result, &derived))
	require.Equal(t, crypto.BountyAddress(company.Address(), "one").String(), derived["address"])

	reply = env.call("bounty_deriveAddress", map[string]string{"kind": "treasury"})
	require.NoError(t, json.Unmarshal(reply.result, &derived))
	require.Equal(t, crypto.TreasuryAddress().String(), derived["address"])

	reply = env.call("bounty_deriveAddress", map[string]string{"kind": "bounty", "company": company.Address().String(), "descriptionHash": strings.Repeat("x", 33)})
	require.Equal(t, "InvalidDescriptionHash", reply.kind(t))
}

func TestProtocolErrors(t *testing.T) {
	env := newTestEnv(t, ServerConfig{})

	reply := env.call("bounty_unknown", nil)
	require.Equal(t, codeMethodNotFound, reply.err.Code)

	reply = env.call("bounty_getAccount", map[string]string{"address": "nope"})
	require.Equal(t, codeInvalidParams, reply.err.Code)

	reply = env.call("bounty_getAccount", map[string]string{"address": crypto.TreasuryAddress().String(), "extra": "x"})
	require.Equal(t, codeInvalidParams, reply.err.Code)

	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{")))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	oversized := bytes.Repeat([]byte("a"), maxRequestBytes+1)
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(oversized)))
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "treasury_uninitialized")

	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "openbounty_rpc_requests_total")
}

func TestAirdropRequiresFaucetScope(t *testing.T) {
	secret := "faucet-secret"
	env := newTestEnv(t, ServerConfig{Auth: middleware.AuthConfig{Enabled: true, HMACSecret: secret}})
	target := newKey(t).Address().String()
	params := map[string]string{"address": target, "amount": "1000"}

	reply := env.call("bounty_airdrop", params)
	require.Equal(t, http.StatusUnauthorized, reply.status)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   "ops",
		"scope": "faucet",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	reply = env.call("bounty_airdrop", params, "Authorization", "Bearer "+token)
	require.Nil(t, reply.err)
	var acct AccountResult
	require.NoError(t, json.Unmarshal(reply.result, &acct))
	require.Equal(t, "1000", acct.Balance)

	over := map[string]string{"address": target, "amount": "100000000001"}
	reply = env.call("bounty_airdrop", over, "Authorization", "Bearer "+token)
	require.Equal(t, "FaucetLimitExceeded", reply.kind(t))
}

func TestRateLimitedRPC(t *testing.T) {
	env := newTestEnv(t, ServerConfig{RateLimit: middleware.RateLimit{RequestsPerMinute: 1, Burst: 1}})
	reply := env.call("bounty_deriveAddress", map[string]string{"kind": "treasury"})
	require.Nil(t, reply.err)

	raw := []byte(`{"jsonrpc":"2.0","id":1,"method":"bounty_deriveAddress","params":[{"kind":"treasury"}]}`)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(raw)))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestIdempotentSendTransaction(t *testing.T) {
	store, err := idempotency.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()), time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	env := newTestEnv(t, ServerConfig{Idempotency: store})
	authority := newKey(t)

	tx, err := types.NewTransaction(types.TxTypeInitializeTreasury, 0, nil)
	require.NoError(t, err)
	require.NoError(t, tx.Sign(authority.PrivateKey))

	first := env.call("bounty_sendTransaction", tx, idempotency.HeaderKey, "init-1")
	require.Nil(t, first.err)
	require.Empty(t, first.header.Get(idempotency.HeaderReplay))

	// A retry after a lost response gets the original receipt instead of a
	// nonce rejection.
	second := env.call("bounty_sendTransaction", tx, idempotency.HeaderKey, "init-1")
	require.Nil(t, second.err)
	require.Equal(t, "true", second.header.Get(idempotency.HeaderReplay))
	require.JSONEq(t, string(first.result), string(second.result))

	third := env.call("bounty_sendTransaction", tx)
	require.NotNil(t, third.err)
	require.Equal(t, "InvalidNonce", third.kind(t))
}
