package main

import (
	"io"
	"strings"

	"openbounty/crypto"
)

func runTreasury(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("treasury", stderr)
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	return query(stdout, stderr, "bounty_getTreasury", nil, false)
}

func runBounty(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("bounty", stderr)
	var address, company, hash string
	fs.StringVar(&address, "address", "", "bounty address")
	fs.StringVar(&company, "company", "", "company address (with --description-hash)")
	fs.StringVar(&hash, "description-hash", "", "description hash (with --company)")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	params := map[string]string{}
	switch {
	case strings.TrimSpace(address) != "":
		params["address"] = strings.TrimSpace(address)
	case strings.TrimSpace(company) != "" && hash != "":
		params["company"] = strings.TrimSpace(company)
		params["descriptionHash"] = hash
	default:
		return printError(stderr, "--address or --company with --description-hash is required")
	}
	return query(stdout, stderr, "bounty_getBounty", params, false)
}

func runBounties(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("bounties", stderr)
	var company, status string
	var limit int
	fs.StringVar(&company, "company", "", "only bounties posted by this company")
	fs.StringVar(&status, "status", "", "open, completed or expired")
	fs.IntVar(&limit, "limit", 0, "maximum number of bounties")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if limit < 0 {
		return printError(stderr, "--limit must not be negative")
	}
	params := map[string]interface{}{}
	if v := strings.TrimSpace(company); v != "" {
		params["company"] = v
	}
	if v := strings.TrimSpace(status); v != "" {
		params["status"] = strings.ToLower(v)
	}
	if limit > 0 {
		params["limit"] = limit
	}
	return query(stdout, stderr, "bounty_listBounties", params, false)
}

func runProfile(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("profile", stderr)
	var hunter string
	fs.StringVar(&hunter, "hunter", "", "hunter wallet address")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if strings.TrimSpace(hunter) == "" {
		return printError(stderr, "--hunter is required")
	}
	return query(stdout, stderr, "bounty_getProfile", map[string]string{"hunter": strings.TrimSpace(hunter)}, false)
}

func runAccount(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("account", stderr)
	var address, keyPath string
	fs.StringVar(&address, "address", "", "account address")
	fs.StringVar(&keyPath, "key", "", "keystore file (alternative to --address)")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	address = strings.TrimSpace(address)
	if address == "" && strings.TrimSpace(keyPath) != "" {
		addr, err := keystoreAddress(keyPath)
		if err != nil {
			return printError(stderr, err.Error())
		}
		address = addr
	}
	if address == "" {
		return printError(stderr, "--address or --key is required")
	}
	return query(stdout, stderr, "bounty_getAccount", map[string]string{"address": address}, false)
}

func runDerive(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("derive", stderr)
	var kind, company, hash, hunter string
	fs.StringVar(&kind, "kind", "", "treasury, bounty or profile")
	fs.StringVar(&company, "company", "", "company address for bounty addresses")
	fs.StringVar(&hash, "description-hash", "", "description hash for bounty addresses")
	fs.StringVar(&hunter, "hunter", "", "hunter address for profile addresses")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	kind = strings.ToLower(strings.TrimSpace(kind))
	params := map[string]string{"kind": kind}
	switch kind {
	case "treasury":
	case "bounty":
		if strings.TrimSpace(company) == "" || hash == "" {
			return printError(stderr, "--company and --description-hash are required for bounty addresses")
		}
		params["company"] = strings.TrimSpace(company)
		params["descriptionHash"] = hash
	case "profile":
		if strings.TrimSpace(hunter) == "" {
			return printError(stderr, "--hunter is required for profile addresses")
		}
		params["hunter"] = strings.TrimSpace(hunter)
	default:
		return printError(stderr, "--kind must be treasury, bounty or profile")
	}
	return query(stdout, stderr, "bounty_deriveAddress", params, false)
}

func runEvents(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("events", stderr)
	var eventType, bountyAddr, company string
	var after int64
	var limit int
	fs.StringVar(&eventType, "type", "", "event type, e.g. bounty.completed")
	fs.StringVar(&bountyAddr, "bounty", "", "only events for this bounty")
	fs.StringVar(&company, "company", "", "only events for this company")
	fs.Int64Var(&after, "after", 0, "return events after this sequence")
	fs.IntVar(&limit, "limit", 0, "page size")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if after < 0 || limit < 0 {
		return printError(stderr, "--after and --limit must not be negative")
	}
	params := map[string]interface{}{}
	if v := strings.TrimSpace(eventType); v != "" {
		params["type"] = v
	}
	if v := strings.TrimSpace(bountyAddr); v != "" {
		params["bounty"] = v
	}
	if v := strings.TrimSpace(company); v != "" {
		params["company"] = v
	}
	if after > 0 {
		params["after"] = after
	}
	if limit > 0 {
		params["limit"] = limit
	}
	return query(stdout, stderr, "bounty_listEvents", params, false)
}

func runAirdrop(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("airdrop", stderr)
	var address, amount string
	fs.StringVar(&address, "address", "", "account to fund")
	fs.StringVar(&amount, "amount", "", "amount in base units (supports 5e9 shorthand)")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if _, err := parseAddressFlag("--address", address); err != nil {
		return printError(stderr, err.Error())
	}
	normalized, err := normalizeAmount(amount, "--amount")
	if err != nil {
		return printError(stderr, err.Error())
	}
	params := map[string]string{"address": strings.TrimSpace(address), "amount": normalized}
	return query(stdout, stderr, "bounty_airdrop", params, tokenConfigured())
}

func keystoreAddress(path string) (string, error) {
	addr, err := crypto.KeystoreAddress(strings.TrimSpace(path))
	if err != nil {
		return "", err
	}
	return addr.String(), nil
}
