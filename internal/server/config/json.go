package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/authgate/internal/flagx"
	"github.com/dmitrijs2005/authgate/internal/timex"
)

// JsonConfig is the on-disk shape of the configuration file. Durations use
// timex.Duration so both "15m" and integer nanoseconds are accepted.
// Absent keys leave the current value untouched.
type JsonConfig struct {
	EndpointAddrHTTP             string         `json:"endpoint_addr_http"`
	DatabaseDSN                  string         `json:"database_dsn"`
	StoreBackend                 string         `json:"store_backend"`
	RedisAddr                    string         `json:"redis_addr"`
	SecretKey                    string         `json:"secret_key"`
	Issuer                       string         `json:"issuer"`
	AccessTokenValidityDuration  timex.Duration `json:"access_token_validity_duration"`
	RefreshTokenValidityDuration timex.Duration `json:"refresh_token_validity_duration"`
	StoreTimeout                 timex.Duration `json:"store_timeout"`
	StoreRetryAttempts           *int           `json:"store_retry_attempts"`
	StoreRetryBaseDelay          timex.Duration `json:"store_retry_base_delay"`
	SweepInterval                timex.Duration `json:"sweep_interval"`
	BcryptCost                   int            `json:"bcrypt_cost"`
	EventsBackend                string         `json:"events_backend"`
	KafkaBrokers                 []string       `json:"kafka_brokers"`
	KafkaTopic                   string         `json:"kafka_topic"`
	NATSURL                      string         `json:"nats_url"`
	NATSSubject                  string         `json:"nats_subject"`
	OTLPEndpoint                 string         `json:"otlp_endpoint"`
	GoogleClientID               string         `json:"google_client_id"`
	GoogleClientSecret           string         `json:"google_client_secret"`
	LogLevel                     string         `json:"log_level"`
}

// parseJson loads the file named by -c/-config (or $AUTHGATE_CONFIG) and
// overlays its non-empty values. An unreadable or invalid file panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	setString(&config.EndpointAddrHTTP, c.EndpointAddrHTTP)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.StoreBackend, c.StoreBackend)
	setString(&config.RedisAddr, c.RedisAddr)
	setString(&config.SecretKey, c.SecretKey)
	setString(&config.Issuer, c.Issuer)
	setDuration(&config.AccessTokenValidityDuration, c.AccessTokenValidityDuration)
	setDuration(&config.RefreshTokenValidityDuration, c.RefreshTokenValidityDuration)
	setDuration(&config.StoreTimeout, c.StoreTimeout)
	if c.StoreRetryAttempts != nil {
		config.StoreRetryAttempts = *c.StoreRetryAttempts
	}
	setDuration(&config.StoreRetryBaseDelay, c.StoreRetryBaseDelay)
	setDuration(&config.SweepInterval, c.SweepInterval)
	if c.BcryptCost != 0 {
		config.BcryptCost = c.BcryptCost
	}
	setString(&config.EventsBackend, c.EventsBackend)
	if c.KafkaBrokers != nil {
		config.KafkaBrokers = c.KafkaBrokers
	}
	setString(&config.KafkaTopic, c.KafkaTopic)
	setString(&config.NATSURL, c.NATSURL)
	setString(&config.NATSSubject, c.NATSSubject)
	setString(&config.OTLPEndpoint, c.OTLPEndpoint)
	setString(&config.GoogleClientID, c.GoogleClientID)
	setString(&config.GoogleClientSecret, c.GoogleClientSecret)
	setString(&config.LogLevel, c.LogLevel)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
