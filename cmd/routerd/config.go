package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/walletmesh/router/pkg/log"
	"github.com/walletmesh/router/pkg/router"
	"github.com/walletmesh/router/pkg/session"
)

const (
	configDirPathEnv     = "ROUTER_CONFIG_DIR_PATH"
	defaultConfigDirPath = "."
	walletsFileName      = "wallets.yaml"
)

// envConfig holds the tunables cleanenv can populate directly from the
// process environment via a flat env-tagged struct.
type envConfig struct {
	ListenAddr        string        `env:"ROUTER_LISTEN_ADDR" env-default:":8090"`
	WSPath            string        `env:"ROUTER_WS_PATH" env-default:"/ws"`
	MetricsListenAddr string        `env:"ROUTER_METRICS_LISTEN_ADDR" env-default:":9090"`
	MetricsPath       string        `env:"ROUTER_METRICS_PATH" env-default:"/metrics"`
	AllowedOrigins    []string      `env:"ROUTER_ALLOWED_ORIGINS" env-separator:","`
	AutoApprove       bool          `env:"ROUTER_AUTO_APPROVE" env-default:"false"`
	SessionStore      string        `env:"ROUTER_SESSION_STORE" env-default:"memory"`
	ShutdownTimeout   time.Duration `env:"ROUTER_SHUTDOWN_TIMEOUT" env-default:"5s"`

	Router    router.Config
	SessionDB session.DBConfig
	Log       log.Config
}

// WalletEndpoint is one entry of the wallet manifest (wallets.yaml): the
// chain it backs and the WebSocket URL the router dials to reach it.
type WalletEndpoint struct {
	ChainID        string        `yaml:"chain_id"`
	URL            string        `yaml:"url"`
	Disabled       bool          `yaml:"disabled"`
	DefaultTimeout time.Duration `yaml:"default_timeout"`
}

// WalletsManifest is the root of wallets.yaml.
type WalletsManifest struct {
	Wallets []WalletEndpoint `yaml:"wallets"`
}

// Config is the fully assembled configuration for a routerd process.
type Config struct {
	env     envConfig
	wallets []WalletEndpoint
}

// LoadConfig reads a .env file (if present) from ROUTER_CONFIG_DIR_PATH,
// populates envConfig via cleanenv, and loads the chain-to-wallet manifest
// from wallets.yaml in the same directory.
func LoadConfig(lg log.Logger) (*Config, error) {
	dir := os.Getenv(configDirPathEnv)
	if dir == "" {
		dir = defaultConfigDirPath
	}

	dotenvPath := filepath.Join(dir, ".env")
	if err := godotenv.Load(dotenvPath); err != nil {
		lg.Warn("no .env file loaded", "path", dotenvPath)
	}

	var env envConfig
	if err := cleanenv.ReadEnv(&env); err != nil {
		return nil, fmt.Errorf("routerd: reading environment: %w", err)
	}

	wallets, err := loadWallets(filepath.Join(dir, walletsFileName))
	if err != nil {
		return nil, fmt.Errorf("routerd: loading wallet manifest: %w", err)
	}

	return &Config{env: env, wallets: wallets}, nil
}

func loadWallets(path string) ([]WalletEndpoint, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var manifest WalletsManifest
	if err := yaml.NewDecoder(f).Decode(&manifest); err != nil {
		return nil, err
	}

	enabled := make([]WalletEndpoint, 0, len(manifest.Wallets))
	for _, w := range manifest.Wallets {
		if !w.Disabled {
			enabled = append(enabled, w)
		}
	}
	return enabled, nil
}
