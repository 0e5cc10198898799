package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diewo77/go-achats/internal/config"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	b, err := New(ctx, config.StorageConfig{Backend: "local", Dir: t.TempDir()})
	require.NoError(t, err)

	require.NoError(t, b.Put(ctx, "besoin/1/facture.pdf", strings.NewReader("%PDF"), 4, "application/pdf"))
	rc, err := b.Get(ctx, "besoin/1/facture.pdf")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(data))

	require.NoError(t, b.Delete(ctx, "besoin/1/facture.pdf"))
	_, err = b.Get(ctx, "besoin/1/facture.pdf")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, b.Delete(ctx, "besoin/1/facture.pdf"), "deleting twice is fine")
}

func TestLocalStoreRejectsTraversal(t *testing.T) {
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	assert.Error(t, s.Put(context.Background(), "../etc/passwd", strings.NewReader("x"), 1, ""))
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	_, err := New(context.Background(), config.StorageConfig{Backend: "ftp"})
	assert.Error(t, err)
	_, err = New(context.Background(), config.StorageConfig{Backend: "s3"})
	assert.Error(t, err, "bucket is required")
}
