package spark

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testCreds    = Credentials{AppID: "app-1", APIKey: "key-1", APISecret: "secret-1"}
	testEndpoint = Endpoint{Scheme: "wss", Host: "spark-api.xf-yun.com", Path: "/v4.0/chat", Domain: "4.0Ultra"}
	testNow      = time.Date(2024, time.May, 7, 8, 9, 10, 0, time.UTC)
)

func signatureOf(t *testing.T, signed string) string {
	t.Helper()
	u, err := url.Parse(signed)
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(u.Query().Get("authorization"))
	require.NoError(t, err)
	m := regexp.MustCompile(`signature="([^"]+)"`).FindStringSubmatch(string(raw))
	require.Len(t, m, 2, "authorization %q", raw)
	return m[1]
}

func TestSign_Deterministic(t *testing.T) {
	a, err := Sign(testEndpoint, testCreds, testNow)
	require.NoError(t, err)
	b, err := Sign(testEndpoint, testCreds, testNow)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSign_QueryParameters(t *testing.T) {
	signed, err := Sign(testEndpoint, testCreds, testNow)
	require.NoError(t, err)

	u, err := url.Parse(signed)
	require.NoError(t, err)
	assert.Equal(t, "wss", u.Scheme)
	assert.Equal(t, "spark-api.xf-yun.com", u.Host)
	assert.Equal(t, "/v4.0/chat", u.Path)

	q := u.Query()
	assert.Equal(t, "Tue, 07 May 2024 08:09:10 GMT", q.Get("date"))
	assert.Equal(t, "spark-api.xf-yun.com", q.Get("host"))

	raw, err := base64.StdEncoding.DecodeString(q.Get("authorization"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `api_key="key-1"`)
	assert.Contains(t, string(raw), `algorithm="hmac-sha256"`)
	assert.Contains(t, string(raw), `headers="host date request-line"`)

	mac := hmac.New(sha256.New, []byte("secret-1"))
	mac.Write([]byte("host: spark-api.xf-yun.com\ndate: Tue, 07 May 2024 08:09:10 GMT\nGET /v4.0/chat HTTP/1.1"))
	assert.Equal(t, base64.StdEncoding.EncodeToString(mac.Sum(nil)), signatureOf(t, signed))
}

func TestSign_NonUTCClock(t *testing.T) {
	local := testNow.In(time.FixedZone("CST", 8*3600))
	a, err := Sign(testEndpoint, testCreds, local)
	require.NoError(t, err)
	b, err := Sign(testEndpoint, testCreds, testNow)
	require.NoError(t, err)
	assert.Equal(t, b, a)
}

func TestSign_MutationChangesSignature(t *testing.T) {
	base := signatureOf(t, mustSign(t, testEndpoint, testCreds, testNow))

	tests := []struct {
		name  string
		ep    Endpoint
		creds Credentials
		now   time.Time
	}{
		{"secret", testEndpoint, Credentials{AppID: "app-1", APIKey: "key-1", APISecret: "secret-2"}, testNow},
		{"path", Endpoint{Scheme: "wss", Host: testEndpoint.Host, Path: "/v3.5/chat"}, testCreds, testNow},
		{"host", Endpoint{Scheme: "wss", Host: "other.example.com", Path: testEndpoint.Path}, testCreds, testNow},
		{"time", testEndpoint, testCreds, testNow.Add(time.Second)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := signatureOf(t, mustSign(t, tt.ep, tt.creds, tt.now))
			assert.NotEqual(t, base, got)
		})
	}

	t.Run("key", func(t *testing.T) {
		a := mustSign(t, testEndpoint, testCreds, testNow)
		b := mustSign(t, testEndpoint, Credentials{AppID: "app-1", APIKey: "key-2", APISecret: "secret-1"}, testNow)
		assert.NotEqual(t, a, b)
	})
}

func TestSign_MissingCredentials(t *testing.T) {
	for _, creds := range []Credentials{
		{},
		{AppID: "a", APIKey: "k"},
		{AppID: "a", APISecret: "s"},
		{APIKey: "k", APISecret: "s"},
	} {
		_, err := Sign(testEndpoint, creds, testNow)
		require.Error(t, err)
		assert.Equal(t, KindSigning, KindOf(err))
	}
}

func TestParseEndpoint(t *testing.T) {
	ep, err := ParseEndpoint("wss://spark-api.xf-yun.com/v4.0/chat", "4.0Ultra")
	require.NoError(t, err)
	assert.Equal(t, testEndpoint, ep)
	assert.Equal(t, "wss://spark-api.xf-yun.com/v4.0/chat", ep.URL())

	_, err = ParseEndpoint("https://spark-api.xf-yun.com/v4.0/chat", "")
	assert.Error(t, err)
	_, err = ParseEndpoint("wss:///v4.0/chat", "")
	assert.Error(t, err)
}

func mustSign(t *testing.T, ep Endpoint, creds Credentials, now time.Time) string {
	t.Helper()
	s, err := Sign(ep, creds, now)
	require.NoError(t, err)
	return s
}
