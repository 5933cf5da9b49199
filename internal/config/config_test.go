package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_PORT", "")
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("KAFKA_BROKERS", " k1:9092, ,k2:9092")
	t.Setenv("DB_PASSWORD", "p@ss word")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.HTTPPort)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.KafkaEnabled())
	assert.Equal(t, 60, cfg.JWTTTLMinutes)
	assert.Contains(t, cfg.DatabaseURL(), "p%40ss+word")
	assert.NoError(t, cfg.Validate())
}

func TestLoad_InvalidInt(t *testing.T) {
	t.Setenv("BCRYPT_COST", "twelve")

	_, err := Load()
	assert.ErrorContains(t, err, "BCRYPT_COST")
}

func TestValidate_Production(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SECRET", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.ErrorContains(t, cfg.Validate(), "JWT_SECRET")

	cfg.JWTSecret = "s3cret"
	assert.NoError(t, cfg.Validate())
}
