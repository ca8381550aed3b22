package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClientOptionsDefaults(t *testing.T) {
	options := ClientOptions{}
	options.InitDefaults()

	assert.Equal(t, 1.0, options.SampleRate)
	assert.Equal(t, 100, options.MaxBreadcrumbs)
	assert.Equal(t, 30, options.QueueSize)
	assert.Equal(t, 5*time.Second, options.Timeout)
	assert.True(t, options.Compression)
	assert.True(t, options.SSLVerify)
}

func TestClientOptionsDefaultsKeepExplicitValues(t *testing.T) {
	options := ClientOptions{
		SampleRate:     0.5,
		MaxBreadcrumbs: 10,
		QueueSize:      2,
		Timeout:        time.Second,
	}
	options.InitDefaults()

	assert.Equal(t, 0.5, options.SampleRate)
	assert.Equal(t, 10, options.MaxBreadcrumbs)
	assert.Equal(t, 2, options.QueueSize)
	assert.Equal(t, time.Second, options.Timeout)
}

func TestClientOptionsValidate(t *testing.T) {
	valid := ClientOptions{}
	valid.InitDefaults()
	assert.NoError(t, valid.Validate())

	assert.Error(t, (&ClientOptions{SampleRate: -0.1}).Validate())
	assert.Error(t, (&ClientOptions{SampleRate: 1.1}).Validate())
	assert.Error(t, (&ClientOptions{MaxBreadcrumbs: -1}).Validate())
	assert.Error(t, (&ClientOptions{QueueSize: -1}).Validate())
	assert.Error(t, (&ClientOptions{Timeout: -time.Second}).Validate())
}

func TestPluginConfigDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.InitDefaults()

	assert.True(t, cfg.Client.Compression)
	assert.True(t, cfg.Client.SSLVerify)
	assert.Equal(t, 30, cfg.Client.QueueSize)
	assert.NoError(t, cfg.Validate())
}
