package qr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	g := NewGenerator("test-secret")

	encrypted, err := encryptAES([]byte(`{"event_id":"ev-1","issued_at":"2024-01-01T00:00:00Z"}`), g.secret)
	require.NoError(t, err)

	eventID, err := g.DecodeToken(encrypted)
	require.NoError(t, err)
	assert.Equal(t, "ev-1", eventID)
}

func TestDecodeTokenWrongSecret(t *testing.T) {
	issued := NewGenerator("secret-a")
	other := NewGenerator("secret-b")

	encrypted, err := encryptAES([]byte(`{"event_id":"ev-1"}`), issued.secret)
	require.NoError(t, err)

	_, err = other.DecodeToken(encrypted)
	assert.Error(t, err)
}

func TestDecodeTokenGarbage(t *testing.T) {
	g := NewGenerator("test-secret")

	_, err := g.DecodeToken("not-base64!!!")
	assert.Error(t, err)

	_, err = g.DecodeToken("c2hvcnQ=")
	assert.Error(t, err)
}

func TestGenerateCheckInQRProducesPNG(t *testing.T) {
	g := NewGenerator("test-secret")

	png, err := g.GenerateCheckInQR("https://example.org", "ev-1")
	require.NoError(t, err)
	require.NotEmpty(t, png)

	// PNG magic bytes.
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, png[:4])
}
