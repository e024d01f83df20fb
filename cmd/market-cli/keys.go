package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"nhbmarket/cmd/internal/passphrase"
	"nhbmarket/crypto"
	"nhbmarket/gateway/auth"
)

const keystorePassEnv = "NHBMARKET_KEYSTORE_PASS"

var nowFn = time.Now

func runGenerateKey(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("generate-key", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var out string
	fs.StringVar(&out, "out", "wallet.key", "file to write the raw private key to")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if _, err := os.Stat(out); err == nil {
		fmt.Fprintf(stderr, "Error: %s already exists; refusing to overwrite\n", out)
		return 1
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return handleCallError(stderr, err)
	}
	if err := os.WriteFile(out, key.Bytes(), 0o600); err != nil {
		return handleCallError(stderr, fmt.Errorf("save key to %s: %w", out, err))
	}
	fmt.Fprintf(stdout, "Generated new key and saved to %s\n", out)
	fmt.Fprintf(stdout, "Address: %s\n", key.PubKey().Address().String())
	return 0
}

func runLogin(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var keyFile, keystore string
	fs.StringVar(&keyFile, "key", "", "raw private key file")
	fs.StringVar(&keystore, "keystore", "", "encrypted keystore file (passphrase from "+keystorePassEnv+")")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	key, err := loadSigningKey(keyFile, keystore)
	if err != nil {
		return handleCallError(stderr, err)
	}
	address := key.PubKey().Address().String()
	nonce, err := randomNonce()
	if err != nil {
		return handleCallError(stderr, err)
	}
	ts := nowFn().Unix()
	sig, err := auth.SignLogin(key, address, ts, nonce)
	if err != nil {
		return handleCallError(stderr, err)
	}
	data, err := gatewayCall(http.MethodPost, "/v1/auth/login", auth.LoginRequest{
		Address:   address,
		Timestamp: ts,
		Nonce:     nonce,
		Signature: sig,
	}, false)
	if err != nil {
		return handleCallError(stderr, err)
	}
	var resp auth.LoginResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return handleCallError(stderr, fmt.Errorf("decode login response: %w", err))
	}
	fmt.Fprintf(stdout, "export %s=%s\n", tokenEnv, resp.Token)
	fmt.Fprintf(stderr, "token for %s expires at %s\n", resp.Address, resp.ExpiresAt.Format(time.RFC3339))
	return 0
}

// runDevToken mints a token locally from the gateway secret. It exists for
// operators and tests; production wallets use login.
func runDevToken(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("dev-token", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var address, secretEnv, issuer, audience, scopes string
	var ttl time.Duration
	fs.StringVar(&address, "address", "", "wallet address the token is issued to")
	fs.StringVar(&secretEnv, "secret-env", "NHBMARKET_GATEWAY_SECRET", "environment variable holding the gateway HMAC secret")
	fs.StringVar(&issuer, "issuer", "", "token issuer")
	fs.StringVar(&audience, "audience", "", "token audience")
	fs.DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	fs.StringVar(&scopes, "scope", "", "comma-separated scopes to grant, e.g. market.admin")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	addr, err := crypto.ParseAccount(address)
	if err != nil {
		fmt.Fprintf(stderr, "Error: --address: %v\n", err)
		return 1
	}
	token, _, err := auth.IssueToken(auth.TokenConfig{
		HMACSecret: os.Getenv(strings.TrimSpace(secretEnv)),
		Issuer:     issuer,
		Audience:   audience,
		TTL:        ttl,
		Scopes: strings.FieldsFunc(scopes, func(r rune) bool {
			return r == ',' || r == ' '
		}),
	}, crypto.FormatAccount(addr), nowFn())
	if err != nil {
		return handleCallError(stderr, err)
	}
	fmt.Fprintln(stdout, token)
	return 0
}

func loadSigningKey(keyFile, keystore string) (*crypto.PrivateKey, error) {
	keyFile = strings.TrimSpace(keyFile)
	keystore = strings.TrimSpace(keystore)
	switch {
	case keyFile != "" && keystore != "":
		return nil, fmt.Errorf("use either --key or --keystore, not both")
	case keystore != "":
		pass, err := passphrase.NewSource(keystorePassEnv, "wallet keystore").Get()
		if err != nil {
			return nil, err
		}
		return crypto.LoadKeystore(keystore, pass)
	case keyFile != "":
		return loadPrivateKey(keyFile)
	default:
		return nil, fmt.Errorf("--key or --keystore is required")
	}
}

func loadPrivateKey(path string) (*crypto.PrivateKey, error) {
	keyBytes, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("private key file %s not found. run market-cli generate-key first", path)
		}
		return nil, fmt.Errorf("failed to read private key file %s: %w", path, err)
	}
	if len(keyBytes) == 0 {
		return nil, fmt.Errorf("private key file %s is empty", path)
	}
	privKey, err := crypto.PrivateKeyFromBytes(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key in %s: %w", path, err)
	}
	return privKey, nil
}

func randomNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
