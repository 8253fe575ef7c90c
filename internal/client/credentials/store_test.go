package credentials

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dmitrijs2005/clipkeeper/internal/client/models"
	"github.com/dmitrijs2005/clipkeeper/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "credentials.bin")
	s := NewFileStore(path, "device-1")

	c, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, c)

	in := &models.Credentials{AccessToken: "secret-access", RefreshToken: "secret-refresh", UserInfo: models.UserInfo{Username: "bob"}}
	require.NoError(t, s.Save(ctx, in))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(raw), "secret-access"), "file must not hold plaintext tokens")

	out, err := NewFileStore(path, "device-1").Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	require.NoError(t, s.Clear(ctx))
	require.NoError(t, s.Clear(ctx))
	c, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestFileStore_OtherDeviceCannotRead(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "credentials.bin")
	require.NoError(t, NewFileStore(path, "device-1").Save(ctx, &models.Credentials{AccessToken: "a"}))

	_, err := NewFileStore(path, "device-2").Load(ctx)
	require.ErrorIs(t, err, common.ErrCrypto)
}
