package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDSN(t *testing.T) {
	dsn, err := ParseDSN("https://abc123@telemetry.example.com/42")
	require.NoError(t, err)

	assert.Equal(t, "https", dsn.Scheme)
	assert.Equal(t, "abc123", dsn.PublicKey)
	assert.Equal(t, "telemetry.example.com", dsn.Host)
	assert.Equal(t, 443, dsn.Port)
	assert.Equal(t, "42", dsn.ProjectID)
	assert.Equal(t, "https://telemetry.example.com/api/42/envelope/", dsn.EnvelopeURL())
}

func TestParseDSNWithPortAndPath(t *testing.T) {
	dsn, err := ParseDSN("http://key@localhost:8000/relay/7")
	require.NoError(t, err)

	assert.Equal(t, 8000, dsn.Port)
	assert.Equal(t, "/relay", dsn.Path)
	assert.Equal(t, "7", dsn.ProjectID)
	assert.Equal(t, "http://localhost:8000/relay/api/7/envelope/", dsn.EnvelopeURL())
}

func TestParseDSNDefaultHTTPPort(t *testing.T) {
	dsn, err := ParseDSN("http://key@example.com/1")
	require.NoError(t, err)

	assert.Equal(t, 80, dsn.Port)
	assert.Equal(t, "http://example.com/api/1/envelope/", dsn.EnvelopeURL())
}

func TestParseDSNErrors(t *testing.T) {
	cases := map[string]string{
		"empty":           "",
		"bad scheme":      "ftp://key@example.com/1",
		"missing host":    "https:///1",
		"missing key":     "https://example.com/1",
		"missing project": "https://key@example.com",
		"bad port":        "https://key@example.com:notaport/1",
	}

	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseDSN(raw)
			assert.Error(t, err)
		})
	}
}

func TestDSNAuthHeader(t *testing.T) {
	dsn, err := ParseDSN("https://abc123@example.com/42")
	require.NoError(t, err)

	header := dsn.AuthHeader()
	assert.Contains(t, header, "telemetry_version=7")
	assert.Contains(t, header, "telemetry_key=abc123")
	assert.Contains(t, header, "telemetry_client="+sdkIdentifier+"/"+Version)
	assert.Contains(t, header, "telemetry_timestamp=")
}
