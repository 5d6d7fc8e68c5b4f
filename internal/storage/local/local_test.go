package local

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenWriterPublishesOnClose(t *testing.T) {
	fs := afero.NewMemMapFs()
	s := New("local", "output", fs)

	w, loc, err := s.OpenWriter(context.Background(), "reports/compliance-report.xlsx")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("output", "reports", "compliance-report.xlsx"), loc)

	_, err = w.Write([]byte("PK"))
	require.NoError(t, err)

	exists, _ := afero.Exists(fs, loc)
	assert.False(t, exists, "final file must not appear before Close")

	require.NoError(t, w.Close())
	require.NoError(t, w.Close(), "second close is a no-op")

	got, err := afero.ReadFile(fs, loc)
	require.NoError(t, err)
	assert.Equal(t, "PK", string(got))

	tmp, _ := afero.Exists(fs, loc+".tmp")
	assert.False(t, tmp)
}

func TestOpenWriterCreatesDirectory(t *testing.T) {
	fs := afero.NewMemMapFs()

	w, _, err := New("local", "deep/output/dir", fs).OpenWriter(context.Background(), "r.xlsx")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	ok, err := afero.DirExists(fs, "deep/output/dir")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOpenWriterReadOnlyFs(t *testing.T) {
	fs := afero.NewReadOnlyFs(afero.NewMemMapFs())

	_, _, err := New("local", "output", fs).OpenWriter(context.Background(), "r.xlsx")
	require.Error(t, err)
}
