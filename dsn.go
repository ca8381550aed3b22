package telemetry

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/roadrunner-server/errors"
)

// DSN is a parsed connection string of the form
// scheme://publicKey@host[:port]/[path/]projectID.
type DSN struct {
	raw       string
	Scheme    string
	PublicKey string
	Host      string
	Port      int
	Path      string
	ProjectID string
}

// ParseDSN parses and validates a DSN string. An invalid DSN is a
// construction error: nothing can be sent afterward, so it fails loudly.
func ParseDSN(raw string) (*DSN, error) {
	const op = errors.Op("dsn_parse")

	if raw == "" {
		return nil, errors.E(op, errors.Str("DSN is empty"))
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.E(op, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.E(op, errors.Errorf("DSN scheme must be http or https, got %q", u.Scheme))
	}
	if u.Host == "" {
		return nil, errors.E(op, errors.Str("DSN missing host"))
	}
	if u.User == nil || u.User.Username() == "" {
		return nil, errors.E(op, errors.Str("DSN missing public key"))
	}

	port := 80
	if u.Scheme == "https" {
		port = 443
	}
	if u.Port() != "" {
		p, err := strconv.Atoi(u.Port())
		if err != nil {
			return nil, errors.E(op, errors.Errorf("invalid DSN port %q", u.Port()))
		}
		port = p
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	projectID := segments[len(segments)-1]
	if projectID == "" {
		return nil, errors.E(op, errors.Str("DSN missing project ID"))
	}

	path := ""
	if len(segments) > 1 {
		path = "/" + strings.Join(segments[:len(segments)-1], "/")
	}

	return &DSN{
		raw:       raw,
		Scheme:    u.Scheme,
		PublicKey: u.User.Username(),
		Host:      u.Hostname(),
		Port:      port,
		Path:      path,
		ProjectID: projectID,
	}, nil
}

// String returns the DSN as originally supplied.
func (d *DSN) String() string {
	return d.raw
}

func (d *DSN) baseEndpoint() string {
	s := fmt.Sprintf("%s://%s", d.Scheme, d.Host)
	if (d.Scheme == "http" && d.Port != 80) || (d.Scheme == "https" && d.Port != 443) {
		s += fmt.Sprintf(":%d", d.Port)
	}
	return s + d.Path + "/api/" + d.ProjectID
}

// EnvelopeURL returns the envelope ingestion endpoint for this DSN.
func (d *DSN) EnvelopeURL() string {
	return d.baseEndpoint() + "/envelope/"
}

// AuthHeader builds the X-Telemetry-Auth header value carrying the protocol
// version, client identifier, and public key.
func (d *DSN) AuthHeader() string {
	return fmt.Sprintf(
		"Telemetry telemetry_version=7,telemetry_client=%s/%s,telemetry_timestamp=%d,telemetry_key=%s",
		sdkIdentifier, Version, time.Now().Unix(), d.PublicKey,
	)
}
