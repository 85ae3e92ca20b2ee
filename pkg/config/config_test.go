package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	cfg := fromViper(v)

	assert.Equal(t, "/api/v1", cfg.APIPrefix)
	assert.Equal(t, LockBackendMemory, cfg.Lock.Backend)
	assert.Equal(t, 2*time.Second, cfg.Lock.Timeout)
	assert.Equal(t, int64(10*1024*1024), cfg.Attachments.MaxFileSizeBytes)
	assert.Equal(t, 5, cfg.Attachments.MaxPerEntry)
	assert.Contains(t, cfg.Attachments.AllowedMIMEs, "application/pdf")
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, 2, cfg.Notifications.Workers)
}

func TestOverrides(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("LOCK_BACKEND", " Redis ")
	v.Set("LOCK_TIMEOUT", "bogus")
	v.Set("ATTACHMENTS_MAX_FILE_SIZE", -1)
	v.Set("ALLOWED_ORIGINS", "http://a.test, ,http://b.test")
	cfg := fromViper(v)

	assert.Equal(t, LockBackendRedis, cfg.Lock.Backend)
	assert.Equal(t, 2*time.Second, cfg.Lock.Timeout)
	assert.Equal(t, int64(10*1024*1024), cfg.Attachments.MaxFileSizeBytes)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORS.AllowedOrigins)
}
