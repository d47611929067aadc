package generator

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yejikwon7/multi-agent/internal/domain"
)

func TestDir_Generate(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "flight.txt"), []byte(`{"best_flights":[]}`), 0o644))
	g := Dir{Path: dir}

	got, err := g.Generate(context.Background(), domain.StageFlight, nil)
	require.NoError(t, err)
	assert.Equal(t, `{"best_flights":[]}`, got)

	_, err = g.Generate(context.Background(), domain.StageGate, nil)
	assert.ErrorIs(t, err, ErrNoOutput)
}

func TestDir_GenerateCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Dir{Path: t.TempDir()}.Generate(ctx, domain.StageProfile, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDir_Begin(t *testing.T) {
	dir := t.TempDir()

	closer, err := Dir{Path: dir}.Begin(context.Background())
	require.NoError(t, err)
	assert.NoError(t, closer.Close())

	_, err = Dir{Path: filepath.Join(dir, "missing")}.Begin(context.Background())
	assert.Error(t, err)

	file := filepath.Join(dir, "profile.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	_, err = Dir{Path: file}.Begin(context.Background())
	assert.Error(t, err)
}

func TestStatic_Generate(t *testing.T) {
	s := Static{domain.StageProfile: "프로필"}

	got, err := s.Generate(context.Background(), domain.StageProfile, nil)
	require.NoError(t, err)
	assert.Equal(t, "프로필", got)

	_, err = s.Generate(context.Background(), domain.StageNotification, nil)
	assert.ErrorIs(t, err, ErrNoOutput)
}
