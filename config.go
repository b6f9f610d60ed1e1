package bankd

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Bank BankConfig `yaml:"bank"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Database struct {
		ConnStr string `yaml:"conn_str"`
	} `yaml:"database"`

	CORS CORSConfig `yaml:"cors"`

	// Limits caps in-flight requests per write operation; zero falls back
	// to a default of 64.
	Limits struct {
		CreateAccount int64 `yaml:"create_account"`
		PostEntry     int64 `yaml:"post_entry"`
	} `yaml:"limits"`
}

// BankConfig identifies the institution for IBAN generation. It is read
// on every generated IBAN, never cached.
type BankConfig struct {
	Name        string `yaml:"name"`
	CountryCode string `yaml:"country_code"`
	BIC         string `yaml:"bic"`
}

type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowed_origins"`
	AllowedHeaders   []string `yaml:"allowed_headers"`
	AllowCredentials bool     `yaml:"allow_credentials"`
}

func LoadConfig(path string) (*Config, error) {
	fl, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file: %w", err)
	}
	defer fl.Close()

	var cfg Config
	if err = yaml.NewDecoder(fl).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config file: %w", err)
	}
	if err = cfg.Bank.validate(); err != nil {
		return nil, err
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":3000"
	}
	return &cfg, nil
}

func (bc BankConfig) validate() error {
	if len(bc.CountryCode) != 2 {
		return fmt.Errorf("bank country code must be 2 letters, got %q", bc.CountryCode)
	}
	if len(bc.BIC) != 8 {
		return fmt.Errorf("bank BIC must be 8 characters, got %q", bc.BIC)
	}
	return nil
}
