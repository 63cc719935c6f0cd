package main

import (
	"os"
	"strings"
	"time"

	gwconfig "github.com/readone97/Sol-Kart/gateway/config"
)

const (
	envEnvironment   = "SOLKART_ENV"
	envListen        = "SOLKART_LISTEN"
	envRPCEndpoint   = "SOLKART_RPC_ENDPOINT"
	envCommitment    = "SOLKART_COMMITMENT"
	envStoreDriver   = "SOLKART_STORE_DRIVER"
	envStoreDSN      = "SOLKART_STORE_DSN"
	envAuditDB       = "SOLKART_AUDIT_DB"
	envReceiptsPath  = "SOLKART_RECEIPTS_PATH"
	envMerchant      = "SOLKART_MERCHANT_PROFILE"
	envIntentTTL     = "SOLKART_INTENT_TTL"
	envAuthSecret    = "SOLKART_AUTH_SECRET"
	envLogLevel      = "SOLKART_LOG_LEVEL"
	envLogFile       = "SOLKART_LOG_FILE"
	envAllowedOrigin = "SOLKART_ALLOWED_ORIGINS"
)

// loadConfig reads the YAML file, if any, and applies environment overrides.
func loadConfig(path string) (gwconfig.Config, error) {
	cfg, err := gwconfig.Load(path)
	if err != nil {
		return gwconfig.Config{}, err
	}
	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return gwconfig.Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *gwconfig.Config) {
	cfg.ListenAddress = getenvDefault(envListen, cfg.ListenAddress)
	cfg.Settlement.Endpoint = getenvDefault(envRPCEndpoint, cfg.Settlement.Endpoint)
	cfg.Settlement.Commitment = getenvDefault(envCommitment, cfg.Settlement.Commitment)
	cfg.Store.Driver = getenvDefault(envStoreDriver, cfg.Store.Driver)
	cfg.Store.DSN = getenvDefault(envStoreDSN, cfg.Store.DSN)
	cfg.AuditDB = getenvDefault(envAuditDB, cfg.AuditDB)
	cfg.ReceiptsPath = getenvDefault(envReceiptsPath, cfg.ReceiptsPath)
	cfg.MerchantProfile = getenvDefault(envMerchant, cfg.MerchantProfile)
	cfg.Intents.TTL = parseDurationDefault(envIntentTTL, cfg.Intents.TTL)
	cfg.Logging.Level = getenvDefault(envLogLevel, cfg.Logging.Level)
	cfg.Logging.File = getenvDefault(envLogFile, cfg.Logging.File)
	if secret := strings.TrimSpace(os.Getenv(envAuthSecret)); secret != "" {
		cfg.Auth.HMACSecret = secret
		cfg.Auth.SetEnabled(true)
	}
	if raw := strings.TrimSpace(os.Getenv(envAllowedOrigin)); raw != "" {
		var origins []string
		for _, origin := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				origins = append(origins, trimmed)
			}
		}
		cfg.CORS.AllowedOrigins = origins
		cfg.Events.OriginPatterns = originHosts(origins)
	}
}

// originHosts strips the scheme, since websocket origin patterns match hosts.
func originHosts(origins []string) []string {
	hosts := make([]string, 0, len(origins))
	for _, origin := range origins {
		host := strings.TrimPrefix(strings.TrimPrefix(origin, "https://"), "http://")
		hosts = append(hosts, strings.TrimSuffix(host, "/"))
	}
	return hosts
}

func getenvDefault(key, def string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return def
}

func parseDurationDefault(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
