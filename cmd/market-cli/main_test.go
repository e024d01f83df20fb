package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"nhbmarket/crypto"
	"nhbmarket/gateway/auth"
)

type recordedCall struct {
	method      string
	path        string
	body        interface{}
	requireAuth bool
}

func stubGateway(t *testing.T, responses map[string]string) *[]recordedCall {
	t.Helper()
	calls := &[]recordedCall{}
	original := gatewayCall
	gatewayCall = func(method, path string, body interface{}, requireAuth bool) ([]byte, error) {
		*calls = append(*calls, recordedCall{method: method, path: path, body: body, requireAuth: requireAuth})
		if resp, ok := responses[method+" "+path]; ok {
			return []byte(resp), nil
		}
		return nil, &gatewayError{Status: http.StatusNotFound, Message: "not found"}
	}
	t.Cleanup(func() { gatewayCall = original })
	return calls
}

func runCLI(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestUnknownCommand(t *testing.T) {
	code, _, stderr := runCLI("bogus")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "Unknown command: bogus")

	code, stdout, _ := runCLI("help")
	require.Zero(t, code)
	require.Contains(t, stdout, "Usage: market-cli")
}

func TestListingCommandsValidateFlags(t *testing.T) {
	calls := stubGateway(t, nil)

	code, _, stderr := runCLI("listing", "buy", "--id", "3")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "--id and --amount are required")

	code, _, stderr = runCLI("listing", "create", "--price", "10")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "--asset, --collection required")

	code, _, stderr = runCLI("listing", "explode")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "Unknown listing subcommand")
	require.Empty(t, *calls)
}

func TestListingBuySendsAuthenticatedRequest(t *testing.T) {
	calls := stubGateway(t, map[string]string{
		"POST /v1/market/listings/7/buy": `{"id":7,"price":"150"}`,
	})
	code, stdout, stderr := runCLI("listing", "buy", "--id", "7", "--amount", "150")
	require.Zero(t, code, stderr)
	require.Contains(t, stdout, `"price": "150"`)
	require.Len(t, *calls, 1)
	call := (*calls)[0]
	require.True(t, call.requireAuth)
	require.Equal(t, map[string]string{"amount": "150"}, call.body)
}

func TestGatewayErrorsAreReported(t *testing.T) {
	stubGateway(t, nil)
	code, _, stderr := runCLI("listing", "get", "--id", "99")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "gateway returned 404")
}

func TestApproveMarketUsesReportedMarketAddress(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	market := key.PubKey().Address().String()
	calls := stubGateway(t, map[string]string{
		"GET /v1/market/listings":                        `{"listings":[],"nextListingId":1,"market":"` + market + `"}`,
		"POST /v1/market/collections/nhbc1abc/operators": `{}`,
	})
	code, _, stderr := runCLI("collection", "approve-market", "--collection", "nhbc1abc")
	require.Zero(t, code, stderr)
	require.Len(t, *calls, 2)
	body, ok := (*calls)[1].body.(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, market, body["operator"])
	require.Equal(t, true, body["approved"])
}

func TestEventsBuildsQuery(t *testing.T) {
	calls := stubGateway(t, map[string]string{
		"GET /v1/market/listings/4/events?format=csv": "sequence,type\n1,market.listing.created\n",
		"GET /v1/market/events?type=market.sale":      `{"events":[]}`,
	})
	code, stdout, _ := runCLI("events", "--listing", "4", "--format", "csv")
	require.Zero(t, code)
	require.Contains(t, stdout, "market.listing.created")

	code, _, _ = runCLI("events", "--type", "market.sale")
	require.Zero(t, code)
	require.Len(t, *calls, 2)
}

func TestGenerateKeyRefusesOverwrite(t *testing.T) {
	out := filepath.Join(t.TempDir(), "wallet.key")
	code, stdout, stderr := runCLI("generate-key", "--out", out)
	require.Zero(t, code, stderr)
	require.Contains(t, stdout, "Address: nhb1")

	code, _, stderr = runCLI("generate-key", "--out", out)
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "refusing to overwrite")
}

func TestLoginSignsChallenge(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	keyFile := filepath.Join(t.TempDir(), "wallet.key")
	require.NoError(t, os.WriteFile(keyFile, key.Bytes(), 0o600))

	fixed := time.Unix(1_700_000_000, 0)
	original := nowFn
	nowFn = func() time.Time { return fixed }
	t.Cleanup(func() { nowFn = original })

	var captured auth.LoginRequest
	prev := gatewayCall
	gatewayCall = func(method, path string, body interface{}, requireAuth bool) ([]byte, error) {
		require.Equal(t, http.MethodPost, method)
		require.Equal(t, "/v1/auth/login", path)
		require.False(t, requireAuth)
		captured = body.(auth.LoginRequest)
		return json.Marshal(auth.LoginResponse{Token: "tok", Address: captured.Address, ExpiresAt: fixed.Add(time.Hour)})
	}
	t.Cleanup(func() { gatewayCall = prev })

	code, stdout, stderr := runCLI("login", "--key", keyFile)
	require.Zero(t, code, stderr)
	require.Equal(t, "export NHBMARKET_TOKEN=tok\n", stdout)
	require.Equal(t, key.PubKey().Address().String(), captured.Address)
	require.Equal(t, fixed.Unix(), captured.Timestamp)
	require.NotEmpty(t, captured.Nonce)

	expected, err := auth.SignLogin(key, captured.Address, captured.Timestamp, captured.Nonce)
	require.NoError(t, err)
	require.Equal(t, expected, captured.Signature)
}

func TestDevTokenRequiresSecret(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	address := key.PubKey().Address().String()

	t.Setenv("MARKET_CLI_TEST_SECRET", "")
	code, _, stderr := runCLI("dev-token", "--address", address, "--secret-env", "MARKET_CLI_TEST_SECRET")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "Error:")

	t.Setenv("MARKET_CLI_TEST_SECRET", "s3cret")
	code, stdout, stderr := runCLI("dev-token", "--address", address, "--secret-env", "MARKET_CLI_TEST_SECRET")
	require.Zero(t, code, stderr)
	require.Len(t, strings.Split(strings.TrimSpace(stdout), "."), 3)
}

func TestDevTokenGrantsScopes(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	t.Setenv("MARKET_CLI_TEST_SECRET", "s3cret")

	code, stdout, stderr := runCLI("dev-token", "--address", key.PubKey().Address().String(),
		"--secret-env", "MARKET_CLI_TEST_SECRET", "--scope", "market,market.admin")
	require.Zero(t, code, stderr)

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(strings.TrimSpace(stdout), claims, func(*jwt.Token) (interface{}, error) {
		return []byte("s3cret"), nil
	})
	require.NoError(t, err)
	require.Equal(t, "market market.admin", claims["scope"])
}

func TestEventsParquetRequiresOutFile(t *testing.T) {
	stubGateway(t, map[string]string{
		"GET /v1/market/listings/4/events?format=parquet": "PAR1....PAR1",
	})
	code, _, stderr := runCLI("events", "--listing", "4", "--format", "parquet")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "--out is required")

	out := filepath.Join(t.TempDir(), "listing-4.parquet")
	code, stdout, stderr := runCLI("events", "--listing", "4", "--format", "parquet", "--out", out)
	require.Zero(t, code, stderr)
	require.Contains(t, stdout, "Wrote 12 bytes")
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, "PAR1....PAR1", string(data))
}

func TestRoyaltyQuote(t *testing.T) {
	calls := stubGateway(t, map[string]string{
		"GET /v1/market/royalties/nft1abc/quote?amount=150": `{"sellerCut":"135","royaltyCut":"15"}`,
	})
	code, _, stderr := runCLI("royalty", "quote", "--collection", "nft1abc")
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "--amount is required")

	code, stdout, stderr := runCLI("royalty", "quote", "--collection", "nft1abc", "--amount", "150")
	require.Zero(t, code, stderr)
	require.Contains(t, stdout, `"royaltyCut": "15"`)
	require.Len(t, *calls, 1)
	require.False(t, (*calls)[0].requireAuth)
}
