package crypto

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEncryptor_GeneratesIdentity(t *testing.T) {
	enc, err := NewEncryptor("")
	require.NoError(t, err)
	assert.NotNil(t, enc.identity)
	assert.NotNil(t, enc.recipient)
	assert.True(t, strings.HasPrefix(enc.PublicKey(), "age1"))
}

func TestNewEncryptor_InvalidKey(t *testing.T) {
	_, err := NewEncryptor("not-an-age-key")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "parsing identity")
}

func TestSealOpen_RoundTrip(t *testing.T) {
	enc, err := NewEncryptor("")
	require.NoError(t, err)

	sealed, err := enc.Seal([]byte("called, left voicemail"))
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "voicemail")

	opened, err := enc.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "called, left voicemail", string(opened))
}

func TestOpen_WrongKey(t *testing.T) {
	enc1, err := NewEncryptor("")
	require.NoError(t, err)
	enc2, err := NewEncryptor("")
	require.NoError(t, err)

	sealed, err := enc1.Seal([]byte("private"))
	require.NoError(t, err)

	_, err = enc2.Open(sealed)
	assert.Error(t, err)
}

func TestSealNote_SharedKey(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)

	writer, err := NewEncryptor(key)
	require.NoError(t, err)
	reader, err := NewEncryptor(key)
	require.NoError(t, err)

	stored, err := writer.SealNote("prefers a call after 6pm")
	require.NoError(t, err)
	assert.NotEqual(t, "prefers a call after 6pm", stored)

	note, err := reader.OpenNote(stored)
	require.NoError(t, err)
	assert.Equal(t, "prefers a call after 6pm", note)
}

func TestSealNote_Empty(t *testing.T) {
	enc, err := NewEncryptor("")
	require.NoError(t, err)

	stored, err := enc.SealNote("")
	require.NoError(t, err)
	assert.Empty(t, stored)

	note, err := enc.OpenNote("")
	require.NoError(t, err)
	assert.Empty(t, note)
}

func TestOpenNote_InvalidBase64(t *testing.T) {
	enc, err := NewEncryptor("")
	require.NoError(t, err)

	_, err = enc.OpenNote("not valid base64!!!")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding base64")
}

func TestGenerateCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code, err := GenerateCode(MinCodeBytes)
		require.NoError(t, err)

		raw, err := base64.RawURLEncoding.DecodeString(code)
		require.NoError(t, err)
		assert.Len(t, raw, MinCodeBytes)
		assert.False(t, seen[code], "codes must not repeat")
		seen[code] = true
	}
}

func TestGenerateCode_TooShort(t *testing.T) {
	_, err := GenerateCode(8)
	assert.ErrorIs(t, err, ErrShortCode)
}

func TestGenerateRandomBytes(t *testing.T) {
	a, err := GenerateRandomBytes(32)
	require.NoError(t, err)
	b, err := GenerateRandomBytes(32)
	require.NoError(t, err)
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, b)
}
