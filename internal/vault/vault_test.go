package vault_test

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtlprog/agentdeploy/internal/domain"
	"github.com/mtlprog/agentdeploy/internal/vault"
)

const testSecret = "test-app-secret-0123456789"

func newVault(t *testing.T, secret string) *vault.Vault {
	t.Helper()
	v, err := vault.New(secret)
	require.NoError(t, err)
	return v
}

func TestNew_RejectsShortSecret(t *testing.T) {
	_, err := vault.New("short")
	require.Error(t, err)
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	v := newVault(t, testSecret)

	cases := map[string]string{
		"empty":   "",
		"ascii":   "sk-proj-abc123",
		"unicode": "chave secreta: 秘密 🔑",
		"long":    strings.Repeat("0123456789abcdef", 4096),
	}
	for name, plaintext := range cases {
		t.Run(name, func(t *testing.T) {
			sealed, err := v.Encrypt(plaintext)
			require.NoError(t, err)
			assert.NotEqual(t, plaintext, sealed)

			opened, err := v.Decrypt(sealed)
			require.NoError(t, err)
			assert.Equal(t, plaintext, opened)
		})
	}
}

func TestEncrypt_LayoutAndFreshNonce(t *testing.T) {
	v := newVault(t, testSecret)

	a, err := v.Encrypt("same")
	require.NoError(t, err)
	b, err := v.Encrypt("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	raw, err := base64.StdEncoding.DecodeString(a)
	require.NoError(t, err)
	assert.Len(t, raw, 12+16+len("same"))
}

func TestDecrypt_FlippedByteFails(t *testing.T) {
	v := newVault(t, testSecret)

	sealed, err := v.Encrypt("telegram-bot-token")
	require.NoError(t, err)
	raw, err := base64.StdEncoding.DecodeString(sealed)
	require.NoError(t, err)

	for i := range raw {
		tampered := make([]byte, len(raw))
		copy(tampered, raw)
		tampered[i] ^= 0x01

		_, err := v.Decrypt(base64.StdEncoding.EncodeToString(tampered))
		require.ErrorIs(t, err, domain.ErrDecrypt, "byte %d", i)
	}
}

func TestDecrypt_ForeignKeyFails(t *testing.T) {
	sealed, err := newVault(t, testSecret).Encrypt("value")
	require.NoError(t, err)

	_, err = newVault(t, "another-app-secret-000").Decrypt(sealed)
	require.ErrorIs(t, err, domain.ErrDecrypt)
}

func TestDecrypt_MalformedInput(t *testing.T) {
	v := newVault(t, testSecret)

	_, err := v.Decrypt("not base64 !!")
	require.ErrorIs(t, err, domain.ErrDecrypt)

	_, err = v.Decrypt(base64.StdEncoding.EncodeToString([]byte("tiny")))
	require.ErrorIs(t, err, domain.ErrDecrypt)
}

func TestOptional(t *testing.T) {
	v := newVault(t, testSecret)

	sealed, err := v.EncryptOptional(nil)
	require.NoError(t, err)
	assert.Nil(t, sealed)

	chat := "-100123"
	sealed, err = v.EncryptOptional(&chat)
	require.NoError(t, err)
	opened, err := v.DecryptOptional(sealed)
	require.NoError(t, err)
	require.NotNil(t, opened)
	assert.Equal(t, chat, *opened)
}
