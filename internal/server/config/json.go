package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/medkeeper/internal/flagx"
	"github.com/dmitrijs2005/medkeeper/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON unmarshalling.
// It uses timex.Duration for interval fields, which allows parsing both
// string values such as "10m" and integer nanoseconds.
//
// This struct is an intermediate DTO used only for reading JSON configuration
// files. Pointer and zero-valued fields are treated as "not set", so a file
// only needs to mention the settings it overrides.
type JsonConfig struct {
	EndpointAddrHTTP             string         `json:"endpoint_addr_http"`
	DatabaseDSN                  string         `json:"database_dsn"`
	SecretKey                    string         `json:"secret_key"`
	SessionTokenValidityDuration timex.Duration `json:"session_token_validity_duration"`
	EncryptionKey                string         `json:"encryption_key"`
	DecryptMode                  string         `json:"decrypt_mode"`
	LoginCodeTTL                 timex.Duration `json:"login_code_ttl"`
	ResetCodeTTL                 timex.Duration `json:"reset_code_ttl"`
	PasswordMaxAge               timex.Duration `json:"password_max_age"`
	BcryptCost                   int            `json:"bcrypt_cost"`
	CodeStoreBackend             string         `json:"code_store_backend"`
	RedisAddr                    string         `json:"redis_addr"`
	AuditBufferSize              int            `json:"audit_buffer_size"`
	AuditWriteTimeout            timex.Duration `json:"audit_write_timeout"`
	DeliveryChannel              string         `json:"delivery_channel"`
	SMTPHost                     string         `json:"smtp_host"`
	SMTPPort                     int            `json:"smtp_port"`
	SMTPFrom                     string         `json:"smtp_from"`
	CORSAllowedOrigins           []string       `json:"cors_allowed_origins"`
	TrustProxy                   *bool          `json:"trust_proxy"`
	RevealUnknownResetEmail      *bool          `json:"reveal_unknown_reset_email"`
	S3RootUser                   string         `json:"s3_root_user"`
	S3RootPassword               string         `json:"s3_root_password"`
	S3Bucket                     string         `json:"s3_bucket"`
	S3Region                     string         `json:"s3_region"`
	S3BaseEndpoint               string         `json:"s3_base_endpoint"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance.
//
// The JSON file path comes from the -c or -config command-line flags. If
// neither is set, no JSON file is loaded. If the file cannot be read or
// contains invalid JSON, the function panics.
func parseJson(config *Config) {

	jsonConfigFile := flagx.ConfigPath(os.Args[1:])

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
	setString(&config.SecretKey, c.SecretKey)
	setDuration(&config.SessionTokenValidityDuration, c.SessionTokenValidityDuration)
	setString(&config.EncryptionKey, c.EncryptionKey)
	setString(&config.DecryptMode, c.DecryptMode)
	setDuration(&config.LoginCodeTTL, c.LoginCodeTTL)
	setDuration(&config.ResetCodeTTL, c.ResetCodeTTL)
	setDuration(&config.PasswordMaxAge, c.PasswordMaxAge)
	setInt(&config.BcryptCost, c.BcryptCost)
	setString(&config.CodeStoreBackend, c.CodeStoreBackend)
	setString(&config.RedisAddr, c.RedisAddr)
	setInt(&config.AuditBufferSize, c.AuditBufferSize)
	setDuration(&config.AuditWriteTimeout, c.AuditWriteTimeout)
	setString(&config.DeliveryChannel, c.DeliveryChannel)
	setString(&config.SMTPHost, c.SMTPHost)
	setInt(&config.SMTPPort, c.SMTPPort)
	setString(&config.SMTPFrom, c.SMTPFrom)
	if c.CORSAllowedOrigins != nil {
		config.CORSAllowedOrigins = c.CORSAllowedOrigins
	}
	if c.TrustProxy != nil {
		config.TrustProxy = *c.TrustProxy
	}
	if c.RevealUnknownResetEmail != nil {
		config.RevealUnknownResetEmail = *c.RevealUnknownResetEmail
	}
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
