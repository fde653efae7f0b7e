package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/mzakharov/filevault/internal/flagx"
	"github.com/mzakharov/filevault/internal/timex"
)

// JsonConfig is the intermediate DTO for reading JSON configuration files.
// It uses timex.Duration for interval fields, which allows parsing both
// string values such as "5m" and integer nanoseconds. After unmarshalling,
// its fields are copied into the runtime Config struct.
type JsonConfig struct {
	DatabaseDSN    string         `json:"database_dsn"`
	RedisAddr      string         `json:"redis_addr"`
	GrantSecret    string         `json:"grant_secret"`
	GrantValidity  timex.Duration `json:"grant_validity"`
	MasterKeyHex   string         `json:"master_key_hex"`
	MasterKeySalt  string         `json:"master_key_salt"`
	S3RootUser     string         `json:"s3_root_user"`
	S3RootPassword string         `json:"s3_root_password"`
	S3Bucket       string         `json:"s3_bucket"`
	S3Region       string         `json:"s3_region"`
	S3BaseEndpoint string         `json:"s3_base_endpoint"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance. The file path comes from the -c or -config command-line
// flags; when neither is set, no JSON file is loaded. An unreadable or
// invalid file panics: a half-applied config is worse than no start.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	config.DatabaseDSN = c.DatabaseDSN
	config.RedisAddr = c.RedisAddr
	config.GrantSecret = c.GrantSecret
	config.GrantValidity = time.Duration(c.GrantValidity.Duration)
	config.MasterKeyHex = c.MasterKeyHex
	config.MasterKeySalt = c.MasterKeySalt
	config.S3RootUser = c.S3RootUser
	config.S3RootPassword = c.S3RootPassword
	config.S3Bucket = c.S3Bucket
	config.S3Region = c.S3Region
	config.S3BaseEndpoint = c.S3BaseEndpoint
}
