package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"strings"

	"openbounty/core/types"
	"openbounty/crypto"
)

type signerFlags struct {
	key   string
	nonce string
}

func (s *signerFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&s.key, "key", "", "keystore file of the signer")
	fs.StringVar(&s.nonce, "nonce", "", "override the account nonce")
}

func runInitTreasury(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("init-treasury", stderr)
	var signer signerFlags
	signer.register(fs)
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	return submit(stdout, stderr, signer, types.TxTypeInitializeTreasury, nil)
}

func runCreateProfile(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("create-profile", stderr)
	var signer signerFlags
	signer.register(fs)
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	return submit(stdout, stderr, signer, types.TxTypeCreateHunterProfile, nil)
}

func runCreateBounty(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("create-bounty", stderr)
	var (
		signer   signerFlags
		hash     string
		prize    string
		deadline string
	)
	signer.register(fs)
	fs.StringVar(&hash, "description-hash", "", "bounty description hash (1-32 bytes)")
	fs.StringVar(&prize, "prize", "", "prize amount in base units (supports 5e9 shorthand)")
	fs.StringVar(&deadline, "deadline", "", "optional deadline as +duration, RFC3339 or unix seconds")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if hash == "" {
		return printError(stderr, "--description-hash is required")
	}
	if len(hash) > 32 {
		return printError(stderr, "--description-hash must be at most 32 bytes")
	}
	normalized, err := normalizeAmount(prize, "--prize")
	if err != nil {
		return printError(stderr, err.Error())
	}
	prizeValue, _ := new(big.Int).SetString(normalized, 10)
	payload := &types.CreateBountyPayload{DescriptionHash: hash, PrizeAmount: prizeValue}
	if strings.TrimSpace(deadline) != "" {
		ts, err := parseDeadline(deadline, cliNow())
		if err != nil {
			return printError(stderr, err.Error())
		}
		payload.HasDeadline = true
		payload.Deadline = uint64(ts)
	}
	return submit(stdout, stderr, signer, types.TxTypeCreateBounty, payload)
}

func runSelectWinner(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("select-winner", stderr)
	var (
		signer     signerFlags
		bountyAddr string
		winner     string
		submission string
	)
	signer.register(fs)
	fs.StringVar(&bountyAddr, "bounty", "", "bounty address")
	fs.StringVar(&winner, "winner", "", "winning hunter address")
	fs.StringVar(&submission, "submission", "", "submission reference")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	target, err := parseAddressFlag("--bounty", bountyAddr)
	if err != nil {
		return printError(stderr, err.Error())
	}
	winnerAddr, err := parseAddressFlag("--winner", winner)
	if err != nil {
		return printError(stderr, err.Error())
	}
	if len(submission) > 128 {
		return printError(stderr, "--submission must be at most 128 bytes")
	}
	payload := &types.SelectWinnerPayload{Bounty: target, Winner: winnerAddr, SubmissionRef: submission}
	return submit(stdout, stderr, signer, types.TxTypeSelectWinner, payload)
}

func runReclaim(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("reclaim", stderr)
	var (
		signer     signerFlags
		bountyAddr string
	)
	signer.register(fs)
	fs.StringVar(&bountyAddr, "bounty", "", "bounty address")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	target, err := parseAddressFlag("--bounty", bountyAddr)
	if err != nil {
		return printError(stderr, err.Error())
	}
	return submit(stdout, stderr, signer, types.TxTypeReclaimExpiredBounty, &types.ReclaimPayload{Bounty: target})
}

// submit signs a transaction of txType with the signer's next nonce and sends
// it to the node.
func submit(stdout, stderr io.Writer, signer signerFlags, txType types.TxType, payload interface{}) int {
	key, err := loadKey(signer.key)
	if err != nil {
		return printError(stderr, err.Error())
	}
	nonce, code := resolveNonce(stderr, key.Address(), signer.nonce)
	if code != 0 {
		return code
	}
	tx, err := types.NewTransaction(txType, nonce, payload)
	if err != nil {
		return printError(stderr, fmt.Sprintf("encode transaction: %v", err))
	}
	if err := tx.Sign(key.PrivateKey); err != nil {
		return printError(stderr, fmt.Sprintf("sign transaction: %v", err))
	}
	return query(stdout, stderr, "bounty_sendTransaction", tx, false)
}

func resolveNonce(stderr io.Writer, addr crypto.Address, override string) (uint64, int) {
	if strings.TrimSpace(override) != "" {
		nonce, err := strconv.ParseUint(strings.TrimSpace(override), 10, 64)
		if err != nil {
			return 0, printError(stderr, "--nonce must be a non-negative integer")
		}
		return nonce, 0
	}
	result, rpcErr, err := rpcCall("bounty_getAccount", map[string]string{"address": addr.String()}, false)
	if err != nil {
		return 0, handleRPCCallError(stderr, err)
	}
	if rpcErr != nil {
		return 0, handleRPCError(stderr, rpcErr)
	}
	var account struct {
		Nonce uint64 `json:"nonce"`
	}
	if err := json.Unmarshal(result, &account); err != nil {
		return 0, printError(stderr, fmt.Sprintf("decode account: %v", err))
	}
	return account.Nonce, 0
}

func parseAddressFlag(flagName, value string) (crypto.Address, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return crypto.Address{}, fmt.Errorf("%s is required", flagName)
	}
	addr, err := crypto.ParseAddress(value)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%s: %v", flagName, err)
	}
	return addr, nil
}
