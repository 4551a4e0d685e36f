package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", c.HTTPAddr)
	assert.Equal(t, ":50051", c.GRPCAddr)
	assert.Equal(t, 5*time.Second, c.OperationTimeout)
	assert.Equal(t, 24*time.Hour, c.IdempotencyTTL)
	assert.Empty(t, c.RedisAddr)
	assert.Empty(t, c.KafkaBrokers)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("WAREHOUSE_HTTP_ADDR", ":9090")
	t.Setenv("WAREHOUSE_OPERATION_TIMEOUT", "750ms")
	t.Setenv("WAREHOUSE_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("WAREHOUSE_REDIS_ADDR", "cache:6379")
	t.Setenv("WAREHOUSE_LOG_FORMAT", "text")

	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", c.HTTPAddr)
	assert.Equal(t, 750*time.Millisecond, c.OperationTimeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.KafkaBrokers)
	assert.Equal(t, "cache:6379", c.RedisAddr)
	assert.Equal(t, "text", c.LogFormat)
}

func TestLoad_Invalid(t *testing.T) {
	t.Setenv("WAREHOUSE_OPERATION_TIMEOUT", "0s")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("WAREHOUSE_OPERATION_TIMEOUT", "1s")
	t.Setenv("WAREHOUSE_LOG_FORMAT", "xml")
	_, err = Load()
	assert.Error(t, err)

	t.Setenv("WAREHOUSE_LOG_FORMAT", "json")
	t.Setenv("WAREHOUSE_MYSQL_MAX_OPEN_CONNS", "many")
	_, err = Load()
	assert.Error(t, err)
}
