package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const (
	rpcURLEnv       = "BOUNTY_RPC_URL"
	rpcTokenEnv     = "BOUNTY_RPC_TOKEN"
	keystorePassEnv = "BOUNTY_KEYSTORE_PASS"
	defaultEndpoint = "http://127.0.0.1:8545"
)

var (
	cliNow     = time.Now
	rpcCall    = callRPC
	passSource = newPassphraseSource
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	args, err := applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}

	switch args[0] {
	case "keygen":
		return runKeygen(args[1:], stdout, stderr)
	case "address":
		return runAddress(args[1:], stdout, stderr)
	case "init-treasury":
		return runInitTreasury(args[1:], stdout, stderr)
	case "create-profile":
		return runCreateProfile(args[1:], stdout, stderr)
	case "create-bounty":
		return runCreateBounty(args[1:], stdout, stderr)
	case "select-winner":
		return runSelectWinner(args[1:], stdout, stderr)
	case "reclaim":
		return runReclaim(args[1:], stdout, stderr)
	case "treasury":
		return runTreasury(args[1:], stdout, stderr)
	case "bounty":
		return runBounty(args[1:], stdout, stderr)
	case "bounties":
		return runBounties(args[1:], stdout, stderr)
	case "profile":
		return runProfile(args[1:], stdout, stderr)
	case "account":
		return runAccount(args[1:], stdout, stderr)
	case "derive":
		return runDerive(args[1:], stdout, stderr)
	case "events":
		return runEvents(args[1:], stdout, stderr)
	case "airdrop":
		return runAirdrop(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

var rpcEndpoint = defaultRPCEndpoint()

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv(rpcURLEnv)); v != "" {
		return v
	}
	return defaultEndpoint
}

// applyGlobalFlags strips --rpc from anywhere in args.
func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--rpc" {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for --rpc")
			}
			rpcEndpoint = args[i+1]
			i++
			continue
		}
		if strings.HasPrefix(arg, "--rpc=") {
			rpcEndpoint = strings.TrimPrefix(arg, "--rpc=")
			continue
		}
		out = append(out, arg)
	}
	return out, nil
}

func usage() string {
	return strings.TrimSpace(`Usage:
  bounty-cli [--rpc URL] <command> [flags]

Keys:
  keygen          Create an encrypted keystore file
  address         Print the address of a keystore

Transactions (signed with --key):
  init-treasury   Initialize the platform treasury
  create-profile  Create the hunter profile for the signer
  create-bounty   Post a bounty and escrow its prize
  select-winner   Pay the winner of a bounty
  reclaim         Refund an expired bounty to its company

Queries:
  treasury        Show the treasury record
  bounty          Show a bounty by address or company and hash
  bounties        List bounties
  profile         Show a hunter profile
  account         Show an account balance and nonce
  derive          Derive a treasury, bounty or profile address
  events          Page through the event journal
  airdrop         Fund an account from the development faucet

Environment:
  BOUNTY_RPC_URL        JSON-RPC endpoint (default http://127.0.0.1:8545)
  BOUNTY_RPC_TOKEN      Bearer token for privileged calls
  BOUNTY_KEYSTORE_PASS  Keystore passphrase`)
}

func printError(w io.Writer, msg string) int {
	fmt.Fprintf(w, "Error: %s\n", msg)
	return 1
}
