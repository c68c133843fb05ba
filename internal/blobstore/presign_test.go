package blobstore

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenOf(t *testing.T, raw string) string {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u.Query().Get("token")
}

func TestURLSigner_SignVerify(t *testing.T) {
	s, err := NewURLSigner("https://dl.example.com/", []byte("secret"))
	require.NoError(t, err)

	raw, err := s.Sign("merged/1/abc/report 1.pdf", time.Minute)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, "https://dl.example.com/merged/1/abc/report%201.pdf?token="), raw)

	key, err := s.Verify(tokenOf(t, raw))
	require.NoError(t, err)
	assert.Equal(t, "merged/1/abc/report 1.pdf", key)
}

func TestURLSigner_Expired(t *testing.T) {
	s, err := NewURLSigner("", []byte("secret"))
	require.NoError(t, err)
	issued := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	s.now = func() time.Time { return issued }

	raw, err := s.Sign("k", time.Minute)
	require.NoError(t, err)

	s.now = func() time.Time { return issued.Add(2 * time.Minute) }
	_, err = s.Verify(tokenOf(t, raw))
	assert.Error(t, err)
}

func TestURLSigner_WrongKey(t *testing.T) {
	a, err := NewURLSigner("", []byte("one"))
	require.NoError(t, err)
	b, err := NewURLSigner("", []byte("two"))
	require.NoError(t, err)

	raw, err := a.Sign("k", time.Minute)
	require.NoError(t, err)

	_, err = b.Verify(tokenOf(t, raw))
	assert.Error(t, err)
}

func TestURLSigner_Invalid(t *testing.T) {
	_, err := NewURLSigner("", nil)
	assert.Error(t, err)

	s, err := NewURLSigner("", []byte("k"))
	require.NoError(t, err)
	_, err = s.Sign("k", 0)
	assert.Error(t, err)
}
