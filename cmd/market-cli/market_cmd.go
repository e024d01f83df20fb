package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"

	"nhbmarket/crypto"
)

func runListings(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("listings", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	return doCall(stdout, stderr, http.MethodGet, "/v1/market/listings", nil, false)
}

func runListingCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	switch args[0] {
	case "get":
		return runListingByID(args[1:], stdout, stderr, "listing get", http.MethodGet, "", false)
	case "create":
		return runListingCreate(args[1:], stdout, stderr)
	case "price":
		return runListingPrice(args[1:], stdout, stderr)
	case "remove":
		return runListingByID(args[1:], stdout, stderr, "listing remove", http.MethodDelete, "", true)
	case "buy":
		return runListingBuy(args[1:], stdout, stderr)
	case "withdraw":
		return runListingByID(args[1:], stdout, stderr, "listing withdraw", http.MethodPost, "/withdraw", true)
	case "cancel":
		return runListingByID(args[1:], stdout, stderr, "listing cancel", http.MethodPost, "/cancel", true)
	default:
		fmt.Fprintf(stderr, "Unknown listing subcommand: %s\n", args[0])
		return 1
	}
}

func runListingByID(args []string, stdout, stderr io.Writer, name, method, suffix string, requireAuth bool) int {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	var id uint64
	fs.Uint64Var(&id, "id", 0, "listing id")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if id == 0 {
		fmt.Fprintln(stderr, "Error: --id is required")
		return 1
	}
	path := "/v1/market/listings/" + strconv.FormatUint(id, 10) + suffix
	return doCall(stdout, stderr, method, path, nil, requireAuth)
}

func runListingCreate(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("listing create", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var collection, assetID, price string
	var auction bool
	var duration int64
	fs.StringVar(&collection, "collection", "", "asset collection address")
	fs.StringVar(&assetID, "asset", "", "asset id")
	fs.StringVar(&price, "price", "", "price in NHB base units")
	fs.BoolVar(&auction, "auction", false, "list as an auction")
	fs.Int64Var(&duration, "duration", 0, "auction bidding duration in seconds")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if err := requireFlags(map[string]string{"collection": collection, "asset": assetID, "price": price}); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return doCall(stdout, stderr, http.MethodPost, "/v1/market/listings", map[string]interface{}{
		"assetContract":   strings.TrimSpace(collection),
		"assetId":         strings.TrimSpace(assetID),
		"price":           strings.TrimSpace(price),
		"isAuction":       auction,
		"biddingDuration": duration,
	}, true)
}

func runListingPrice(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("listing price", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var id uint64
	var price string
	fs.Uint64Var(&id, "id", 0, "listing id")
	fs.StringVar(&price, "price", "", "new price")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if id == 0 || strings.TrimSpace(price) == "" {
		fmt.Fprintln(stderr, "Error: --id and --price are required")
		return 1
	}
	path := "/v1/market/listings/" + strconv.FormatUint(id, 10) + "/price"
	return doCall(stdout, stderr, http.MethodPut, path, map[string]string{"price": strings.TrimSpace(price)}, true)
}

func runListingBuy(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("listing buy", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var id uint64
	var amount string
	fs.Uint64Var(&id, "id", 0, "listing id")
	fs.StringVar(&amount, "amount", "", "payment attached to the purchase")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if id == 0 || strings.TrimSpace(amount) == "" {
		fmt.Fprintln(stderr, "Error: --id and --amount are required")
		return 1
	}
	path := "/v1/market/listings/" + strconv.FormatUint(id, 10) + "/buy"
	return doCall(stdout, stderr, http.MethodPost, path, map[string]string{"amount": strings.TrimSpace(amount)}, true)
}

func runCollectionCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	fs := flag.NewFlagSet("collection "+args[0], flag.ContinueOnError)
	fs.SetOutput(stderr)
	var collection, name, symbol, id, to string
	fs.StringVar(&collection, "collection", "", "collection address")
	fs.StringVar(&name, "name", "", "collection name")
	fs.StringVar(&symbol, "symbol", "", "collection symbol")
	fs.StringVar(&id, "id", "", "token id")
	fs.StringVar(&to, "to", "", "recipient address")
	if err := fs.Parse(args[1:]); err != nil {
		return 1
	}
	base := "/v1/market/collections/" + url.PathEscape(strings.TrimSpace(collection))
	switch args[0] {
	case "create":
		if err := requireFlags(map[string]string{"name": name, "symbol": symbol}); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return doCall(stdout, stderr, http.MethodPost, "/v1/market/collections", map[string]string{"name": name, "symbol": symbol}, true)
	case "mint":
		if err := requireFlags(map[string]string{"collection": collection, "id": id}); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return doCall(stdout, stderr, http.MethodPost, base+"/mint", map[string]string{"id": id, "to": to}, true)
	case "approve-market":
		if err := requireFlags(map[string]string{"collection": collection}); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		market, err := marketAddress()
		if err != nil {
			return handleCallError(stderr, err)
		}
		return doCall(stdout, stderr, http.MethodPost, base+"/operators", map[string]interface{}{"operator": market, "approved": true}, true)
	case "token":
		if err := requireFlags(map[string]string{"collection": collection, "id": id}); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
		return doCall(stdout, stderr, http.MethodGet, base+"/tokens/"+url.PathEscape(id), nil, false)
	default:
		fmt.Fprintf(stderr, "Unknown collection subcommand: %s\n", args[0])
		return 1
	}
}

func runRoyaltyCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, usage())
		return 1
	}
	fs := flag.NewFlagSet("royalty "+args[0], flag.ContinueOnError)
	fs.SetOutput(stderr)
	var collection, name, payout, amount string
	var bps uint
	fs.StringVar(&collection, "collection", "", "collection address")
	fs.StringVar(&amount, "amount", "", "sale amount to quote")
	fs.StringVar(&name, "name", "", "royalty label")
	fs.StringVar(&payout, "payout", "", "royalty payout account")
	fs.UintVar(&bps, "bps", 0, "royalty in basis points")
	if err := fs.Parse(args[1:]); err != nil {
		return 1
	}
	if strings.TrimSpace(collection) == "" {
		fmt.Fprintln(stderr, "Error: --collection is required")
		return 1
	}
	switch args[0] {
	case "get":
		return doCall(stdout, stderr, http.MethodGet, "/v1/market/royalties/"+url.PathEscape(strings.TrimSpace(collection)), nil, false)
	case "quote":
		if strings.TrimSpace(amount) == "" {
			fmt.Fprintln(stderr, "Error: --amount is required")
			return 1
		}
		path := "/v1/market/royalties/" + url.PathEscape(strings.TrimSpace(collection)) + "/quote?amount=" + url.QueryEscape(strings.TrimSpace(amount))
		return doCall(stdout, stderr, http.MethodGet, path, nil, false)
	case "set":
		return doCall(stdout, stderr, http.MethodPost, "/v1/market/royalties", map[string]interface{}{
			"collection": strings.TrimSpace(collection),
			"name":       name,
			"payout":     strings.TrimSpace(payout),
			"bps":        bps,
		}, true)
	default:
		fmt.Fprintf(stderr, "Unknown royalty subcommand: %s\n", args[0])
		return 1
	}
}

func runBalance(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("balance", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var address string
	fs.StringVar(&address, "address", "", "account address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	addr, err := crypto.ParseAccount(address)
	if err != nil {
		fmt.Fprintf(stderr, "Error: --address: %v\n", err)
		return 1
	}
	return doCall(stdout, stderr, http.MethodGet, "/v1/market/accounts/"+crypto.FormatAccount(addr)+"/balances", nil, false)
}

func runTransfer(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("transfer", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var token, to, amount string
	fs.StringVar(&token, "token", "NHB", "token symbol (NHB or ZNHB)")
	fs.StringVar(&to, "to", "", "recipient address")
	fs.StringVar(&amount, "amount", "", "amount in base units")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if err := requireFlags(map[string]string{"to": to, "amount": amount}); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return doCall(stdout, stderr, http.MethodPost, "/v1/market/transfers", map[string]string{
		"token":  strings.TrimSpace(token),
		"to":     strings.TrimSpace(to),
		"amount": strings.TrimSpace(amount),
	}, true)
}

func runEvents(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var listing uint64
	var format, eventType, out string
	fs.Uint64Var(&listing, "listing", 0, "listing id; omit for recent events")
	fs.StringVar(&format, "format", "json", "json, csv, jsonl or parquet (listing history only)")
	fs.StringVar(&eventType, "type", "", "event type filter for recent events")
	fs.StringVar(&out, "out", "", "write the raw export to this file instead of stdout")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if listing == 0 {
		query := url.Values{}
		if strings.TrimSpace(eventType) != "" {
			query.Set("type", strings.TrimSpace(eventType))
		}
		path := "/v1/market/events"
		if encoded := query.Encode(); encoded != "" {
			path += "?" + encoded
		}
		return doCall(stdout, stderr, http.MethodGet, path, nil, false)
	}
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "parquet" && out == "" {
		fmt.Fprintln(stderr, "Error: --out is required for parquet exports")
		return 1
	}
	path := fmt.Sprintf("/v1/market/listings/%d/events?format=%s", listing, url.QueryEscape(format))
	if out == "" {
		return doCall(stdout, stderr, http.MethodGet, path, nil, false)
	}
	data, err := gatewayCall(http.MethodGet, path, nil, false)
	if err != nil {
		return handleCallError(stderr, err)
	}
	if err := os.WriteFile(out, data, 0o600); err != nil {
		return handleCallError(stderr, fmt.Errorf("write %s: %w", out, err))
	}
	fmt.Fprintf(stdout, "Wrote %d bytes to %s\n", len(data), out)
	return 0
}

func marketAddress() (string, error) {
	data, err := gatewayCall(http.MethodGet, "/v1/market/listings", nil, false)
	if err != nil {
		return "", err
	}
	var payload struct {
		Market string `json:"market"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", err
	}
	if payload.Market == "" {
		return "", fmt.Errorf("gateway did not report a market address")
	}
	return payload.Market, nil
}

func doCall(stdout, stderr io.Writer, method, path string, body interface{}, requireAuth bool) int {
	data, err := gatewayCall(method, path, body, requireAuth)
	if err != nil {
		return handleCallError(stderr, err)
	}
	writeResult(stdout, data)
	return 0
}

func requireFlags(values map[string]string) error {
	missing := make([]string, 0, len(values))
	for name, value := range values {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, "--"+name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("%s required", strings.Join(missing, ", "))
}
