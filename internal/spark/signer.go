package spark

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Credentials identify the application to the inference service.
type Credentials struct {
	AppID     string
	APIKey    string
	APISecret string
}

func (c Credentials) validate() error {
	var missing []string
	if c.AppID == "" {
		missing = append(missing, "app id")
	}
	if c.APIKey == "" {
		missing = append(missing, "api key")
	}
	if c.APISecret == "" {
		missing = append(missing, "api secret")
	}
	if len(missing) > 0 {
		return newError(KindSigning, "missing "+strings.Join(missing, ", "), nil)
	}
	return nil
}

// Endpoint describes the websocket target and the chat domain it serves.
type Endpoint struct {
	Scheme string
	Host   string
	Path   string
	Domain string
}

// ParseEndpoint splits a ws:// or wss:// URL into an Endpoint.
func ParseEndpoint(rawURL, domain string) (Endpoint, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse spark url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return Endpoint{}, fmt.Errorf("spark url %q: scheme must be ws or wss", rawURL)
	}
	if u.Host == "" {
		return Endpoint{}, fmt.Errorf("spark url %q: missing host", rawURL)
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	return Endpoint{Scheme: u.Scheme, Host: u.Host, Path: path, Domain: domain}, nil
}

// URL returns the unsigned endpoint URL.
func (e Endpoint) URL() string {
	return e.Scheme + "://" + e.Host + e.Path
}

const (
	signAlgorithm = "hmac-sha256"
	signHeaders   = "host date request-line"
)

// Sign returns the endpoint URL carrying authorization, date and host query
// parameters. The signature covers the RFC 1123 form of now, so a URL is only
// valid for the instant it was signed at and must be regenerated per dial.
func Sign(ep Endpoint, creds Credentials, now time.Time) (string, error) {
	if err := creds.validate(); err != nil {
		return "", err
	}
	date := now.UTC().Format(http.TimeFormat)
	canonical := "host: " + ep.Host + "\n" +
		"date: " + date + "\n" +
		http.MethodGet + " " + ep.Path + " HTTP/1.1"

	mac := hmac.New(sha256.New, []byte(creds.APISecret))
	mac.Write([]byte(canonical))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	authorization := fmt.Sprintf(`api_key="%s", algorithm="%s", headers="%s", signature="%s"`,
		creds.APIKey, signAlgorithm, signHeaders, signature)

	q := url.Values{}
	q.Set("authorization", base64.StdEncoding.EncodeToString([]byte(authorization)))
	q.Set("date", date)
	q.Set("host", ep.Host)
	return ep.URL() + "?" + q.Encode(), nil
}
