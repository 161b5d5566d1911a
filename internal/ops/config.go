// Package ops loads and watches runtime configuration.
package ops

import (
	"encoding/json"
	"os"
	"time"

	"main/internal/search"
	"main/pkg/realtime"

	"github.com/kelseyhightower/envconfig"
	"github.com/yanun0323/errors"
)

// envPrefix namespaces the environment overrides, e.g. SCOUT_ENDPOINT.
const envPrefix = "scout"

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	Client  ClientConfig  `json:"client"`
	API     APIConfig     `json:"api"`
	Gateway GatewayConfig `json:"gateway"`
	Search  search.Config `json:"search"`
	Storage StorageConfig `json:"storage"`
}

// ClientConfig tunes the realtime connection.
type ClientConfig struct {
	Endpoint           string `json:"endpoint" envconfig:"ENDPOINT"`
	MaxAttempts        int    `json:"maxAttempts" envconfig:"MAX_ATTEMPTS"`
	BaseDelayMS        int    `json:"baseDelayMs" envconfig:"BASE_DELAY_MS"`
	MaxExponent        int    `json:"maxExponent" envconfig:"MAX_EXPONENT"`
	HeartbeatSeconds   int    `json:"heartbeatSeconds" envconfig:"HEARTBEAT_SECONDS"`
	DialTimeoutSeconds int    `json:"dialTimeoutSeconds" envconfig:"DIAL_TIMEOUT_SECONDS"`
}

// APIConfig tunes the REST client.
type APIConfig struct {
	BaseURL           string `json:"baseUrl" envconfig:"API_BASE_URL"`
	TimeoutSeconds    int    `json:"timeoutSeconds" envconfig:"API_TIMEOUT_SECONDS"`
	RequestsPerSecond int    `json:"requestsPerSecond" envconfig:"API_RPS"`
}

// GatewayConfig tunes the server binary.
type GatewayConfig struct {
	ListenAddr         string `json:"listenAddr" envconfig:"LISTEN_ADDR"`
	StreamChunkDelayMS int    `json:"streamChunkDelayMs" envconfig:"STREAM_CHUNK_DELAY_MS"`
}

// StorageConfig locates the local database.
type StorageConfig struct {
	Path string `json:"path" envconfig:"STORAGE_PATH"`
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Client  realtime.Option
	API     APIConfig
	Gateway GatewayConfig
	Search  search.Config
	Storage StorageConfig
}

// Load reads a JSON config file, applies SCOUT_* environment overrides,
// and resolves the realtime option. An empty path loads defaults only.
func Load(path string) (Loaded, error) {
	var cfg FileConfig
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Loaded{}, errors.Wrap(err, "read config")
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Loaded{}, errors.Wrap(err, "parse config")
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Loaded{}, err
	}
	return resolve(cfg)
}

func applyEnv(cfg *FileConfig) error {
	for _, section := range []any{&cfg.Client, &cfg.API, &cfg.Gateway, &cfg.Storage} {
		if err := envconfig.Process(envPrefix, section); err != nil {
			return errors.Wrap(err, "apply env overrides")
		}
	}
	return nil
}

func resolve(cfg FileConfig) (Loaded, error) {
	if cfg.Client.MaxAttempts < 0 {
		return Loaded{}, errors.Errorf("maxAttempts must be >= 0, got %d", cfg.Client.MaxAttempts)
	}
	if cfg.Client.BaseDelayMS < 0 || cfg.Client.MaxExponent < 0 {
		return Loaded{}, errors.New("backoff values must be >= 0")
	}

	opt := realtime.Option{
		Endpoint:    cfg.Client.Endpoint,
		MaxAttempts: cfg.Client.MaxAttempts,
		Backoff: realtime.Backoff{
			Base:        time.Duration(cfg.Client.BaseDelayMS) * time.Millisecond,
			MaxExponent: cfg.Client.MaxExponent,
		},
		HeartbeatInterval: time.Duration(cfg.Client.HeartbeatSeconds) * time.Second,
		DialTimeout:       time.Duration(cfg.Client.DialTimeoutSeconds) * time.Second,
	}

	loaded := Loaded{
		Client:  opt,
		API:     cfg.API,
		Gateway: cfg.Gateway,
		Search:  cfg.Search,
		Storage: cfg.Storage,
	}
	if loaded.Gateway.ListenAddr == "" {
		loaded.Gateway.ListenAddr = ":8000"
	}
	if loaded.Storage.Path == "" {
		loaded.Storage.Path = "scout.db"
	}
	return loaded, nil
}
