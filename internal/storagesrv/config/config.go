// Package config loads the storage service configuration from a TOML file
// and exposes it process-wide. A missing file yields working defaults for
// local development.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

type DatabaseParam struct {
	Host     string `toml:"host" validate:"required"`
	Port     int    `toml:"port" validate:"required,gt=0,lte=65535"`
	User     string `toml:"user" validate:"required"`
	Password string `toml:"password"`
	DBName   string `toml:"dbname" validate:"required"`
	SSLMode  string `toml:"sslmode" validate:"oneof=disable allow prefer require verify-ca verify-full"`
}

type ConfigParam struct {
	Storage struct {
		DatabaseParam
		PoolSize     int `toml:"pool_size" validate:"required,gt=0"`
		MaxFetchSize int `toml:"max_fetch_size" validate:"required,gt=0"`
	} `toml:"storage"`
	Cache struct {
		DatabaseParam
		PoolSize int `toml:"pool_size" validate:"required,gt=0"`
	} `toml:"cache"`
}

var cfg *ConfigParam

func Config() *ConfigParam {
	return cfg
}

func defaultConfig() *ConfigParam {
	c := &ConfigParam{}
	c.Storage.DatabaseParam = DatabaseParam{
		Host:    "localhost",
		Port:    5432,
		User:    "corral_api",
		DBName:  "corralstore",
		SSLMode: "disable",
	}
	c.Storage.PoolSize = 10
	c.Storage.MaxFetchSize = 10000
	c.Cache.DatabaseParam = c.Storage.DatabaseParam
	c.Cache.PoolSize = 10
	return c
}

func LoadConfig(filename string) error {
	if filename == "" {
		cfg = defaultConfig()
		return nil
	}
	content, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}
	cp := defaultConfig()
	if _, err := toml.Decode(string(content), cp); err != nil {
		return fmt.Errorf("error parsing config file: %v", err)
	}
	if err := validator.New().Struct(cp); err != nil {
		return fmt.Errorf("invalid config: %v", err)
	}
	cfg = cp
	return nil
}

func init() {
	if err := LoadConfig(""); err != nil {
		panic(err)
	}
}
