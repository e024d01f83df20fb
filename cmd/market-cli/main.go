package main

import (
	"fmt"
	"io"
	"os"
	"strings"
)

var gatewayEndpoint = defaultGatewayEndpoint()

func main() {
	args, err := applyGlobalFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	os.Exit(run(args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	switch args[0] {
	case "generate-key":
		return runGenerateKey(args[1:], stdout, stderr)
	case "login":
		return runLogin(args[1:], stdout, stderr)
	case "dev-token":
		return runDevToken(args[1:], stdout, stderr)
	case "listings":
		return runListings(args[1:], stdout, stderr)
	case "listing":
		return runListingCommand(args[1:], stdout, stderr)
	case "collection":
		return runCollectionCommand(args[1:], stdout, stderr)
	case "royalty":
		return runRoyaltyCommand(args[1:], stdout, stderr)
	case "balance":
		return runBalance(args[1:], stdout, stderr)
	case "transfer":
		return runTransfer(args[1:], stdout, stderr)
	case "events":
		return runEvents(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func usage() string {
	return strings.Join([]string{
		"Usage: market-cli [--gateway URL] <command> [flags]",
		"",
		"Commands:",
		"  generate-key --out wallet.key",
		"  login --key wallet.key",
		"  dev-token --address ADDR --secret-env VAR [--ttl 1h] [--scope market.admin]",
		"  listings",
		"  listing get|create|price|remove|buy|withdraw|cancel",
		"  collection create|mint|approve-market|token",
		"  royalty get|quote|set",
		"  balance --address ADDR",
		"  transfer --to ADDR --amount N [--token NHB]",
		"  events --listing ID [--format json|csv|jsonl|parquet]",
		"",
		"Mutating commands read the bearer token from NHBMARKET_TOKEN.",
	}, "\n")
}

func defaultGatewayEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("NHBMARKET_GATEWAY")); v != "" {
		return v
	}
	return "http://localhost:8080"
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--gateway" {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for --gateway")
			}
			gatewayEndpoint = args[i+1]
			i++
			continue
		}
		if strings.HasPrefix(arg, "--gateway=") {
			gatewayEndpoint = strings.TrimPrefix(arg, "--gateway=")
			continue
		}
		out = append(out, arg)
	}
	return out, nil
}
