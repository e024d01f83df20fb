package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"nhbmarket/crypto"

	"github.com/BurntSushi/toml"
)

// Storage backends accepted by StorageBackend.
const (
	BackendLevelDB = "leveldb"
	BackendBolt    = "bolt"
	BackendMemory  = "memory"
)

type Config struct {
	DataDir           string    `toml:"DataDir"`
	StorageBackend    string    `toml:"StorageBackend"`
	GenesisFile       string    `toml:"GenesisFile"`
	MarketAddress     string    `toml:"MarketAddress"`
	Owner             string    `toml:"Owner"`
	OwnerKeystorePath string    `toml:"OwnerKeystorePath"`
	RefundOverpayment bool      `toml:"RefundOverpayment"`
	IndexerDSN        string    `toml:"IndexerDSN"`
	GatewayConfig     string    `toml:"GatewayConfig"`
	Environment       string    `toml:"Environment"`
	Pauses            Pauses    `toml:"pauses"`
	Telemetry         Telemetry `toml:"telemetry"`
	Logging           Logging   `toml:"logging"`
	Webhook           Webhook   `toml:"webhook"`
}

// LoadOption customises Load.
type LoadOption func(*loadOptions)

type loadOptions struct {
	passphrase func() (string, error)
}

// WithKeystorePassphraseSource supplies the passphrase used to encrypt the
// owner keystore when a default configuration is generated. It is only
// consulted when the config file does not exist yet.
func WithKeystorePassphraseSource(source func() (string, error)) LoadOption {
	return func(o *loadOptions) { o.passphrase = source }
}

// Load loads the configuration from the given path. A missing file is
// replaced by a freshly generated default whose owner key is written to a
// keystore next to it.
func Load(path string, opts ...LoadOption) (*Config, error) {
	var options loadOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path, options.passphrase)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	for _, undecoded := range meta.Undecoded() {
		return nil, fmt.Errorf("config file %s: unknown field %s", path, undecoded.String())
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) applyDefaults() {
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./nhbmarket-data"
	}
	cfg.StorageBackend = strings.ToLower(strings.TrimSpace(cfg.StorageBackend))
	if cfg.StorageBackend == "" {
		cfg.StorageBackend = BackendLevelDB
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "dev"
	}
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = "info"
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string, passphrase func() (string, error)) (*Config, error) {
	pass := ""
	if passphrase != nil {
		var err error
		if pass, err = passphrase(); err != nil {
			return nil, fmt.Errorf("owner keystore passphrase: %w", err)
		}
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveKeystore(keystorePath, key, pass); err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:           "./nhbmarket-data",
		StorageBackend:    BackendLevelDB,
		Owner:             key.PubKey().Address().String(),
		OwnerKeystorePath: keystorePath,
		IndexerDSN:        "file:nhbmarket-index.db",
		Environment:       "dev",
		Logging:           Logging{Level: "info"},
	}

	if err := persist(path, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "owner.keystore")
}
