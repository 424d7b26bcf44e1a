package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestOperatorToken(t *testing.T) {
	tok, err := NewOperatorToken("s3cret", "operator", RoleOperator, time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.Exp, 5*time.Second)

	claims, err := ParseOperatorToken("s3cret", tok.Token)
	require.NoError(t, err)
	assert.Equal(t, RoleOperator, claims.Role)
	assert.Equal(t, "operator", claims.Subject)

	_, err = ParseOperatorToken("other", tok.Token)
	assert.Error(t, err)

	expired, err := NewOperatorToken("s3cret", "operator", RoleOperator, -time.Minute)
	require.NoError(t, err)
	_, err = ParseOperatorToken("s3cret", expired.Token)
	assert.Error(t, err)
}

func TestDownloadToken(t *testing.T) {
	link, err := NewDownloadToken("s3cret", "cs_1", time.Hour)
	require.NoError(t, err)

	assert.NoError(t, VerifyDownloadToken("s3cret", link, "cs_1"))
	assert.ErrorIs(t, VerifyDownloadToken("s3cret", link, "cs_2"), ErrInvalidLink)
	assert.ErrorIs(t, VerifyDownloadToken("other", link, "cs_1"), ErrInvalidLink)

	_, err = ParseOperatorToken("s3cret", link)
	assert.Error(t, err, "a download link is not an operator session")

	op, err := NewOperatorToken("s3cret", "cs_1", RoleOperator, time.Hour)
	require.NoError(t, err)
	assert.ErrorIs(t, VerifyDownloadToken("s3cret", op.Token, "cs_1"), ErrInvalidLink)
}

func TestOperatorKey(t *testing.T) {
	key, hash, err := NewOperatorKey(bcrypt.MinCost)
	require.NoError(t, err)
	assert.Len(t, key, 48)
	assert.True(t, VerifyKey(hash, key))
	assert.False(t, VerifyKey(hash, key+"x"))
	assert.False(t, VerifyKey("", key))
	assert.False(t, VerifyKey(hash, ""))
}
