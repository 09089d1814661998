package config

import (
	"os"
	"strconv"
)

// parseEnv overlays MEDKEEPER_* environment variables onto config.
// Unset or unparsable variables leave the current value untouched.
func parseEnv(config *Config) {
	config.EndpointAddrHTTP = env("MEDKEEPER_ADDR", config.EndpointAddrHTTP)
	config.DatabaseDSN = env("MEDKEEPER_DATABASE_DSN", config.DatabaseDSN)
	config.SecretKey = env("MEDKEEPER_JWT_SECRET", config.SecretKey)
	config.EncryptionKey = env("MEDKEEPER_ENCRYPTION_KEY", config.EncryptionKey)
	config.DecryptMode = env("MEDKEEPER_DECRYPT_MODE", config.DecryptMode)
	config.CodeStoreBackend = env("MEDKEEPER_CODE_STORE", config.CodeStoreBackend)
	config.RedisAddr = env("MEDKEEPER_REDIS_ADDR", config.RedisAddr)
	config.DeliveryChannel = env("MEDKEEPER_DELIVERY", config.DeliveryChannel)
	config.SMTPHost = env("MEDKEEPER_SMTP_HOST", config.SMTPHost)
	config.SMTPPort = envInt("MEDKEEPER_SMTP_PORT", config.SMTPPort)
	config.SMTPFrom = env("MEDKEEPER_SMTP_FROM", config.SMTPFrom)
	config.TrustProxy = envBool("MEDKEEPER_TRUST_PROXY", config.TrustProxy)
}

func env(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return d
	}
	return n
}

func envBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return d
	}
	return b
}
