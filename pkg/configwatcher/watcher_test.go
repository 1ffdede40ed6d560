package configwatcher

import (
	"context"
	"eduai_backend/internal/config"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, path string, passing int) {
	t.Helper()
	body := []byte("quiz:\n  passing_score: " + strconv.Itoa(passing) + "\n  max_attempts: 3\n")
	require.NoError(t, os.WriteFile(path, body, 0o644))
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, 70)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *config.Config, 4)
	err := Watch(ctx, path, Options{Debounce: 20 * time.Millisecond}, func(cfg *config.Config) {
		reloaded <- cfg
	})
	require.NoError(t, err)

	writeConfig(t, path, 55)

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 55.0, cfg.Quiz.PassingScore)
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}
}

func TestWatch_MissingDirectory(t *testing.T) {
	err := Watch(context.Background(), filepath.Join(t.TempDir(), "nope", "config.yaml"), Options{}, func(*config.Config) {})
	assert.Error(t, err)
}
