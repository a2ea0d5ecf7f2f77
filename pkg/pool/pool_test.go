package pool_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/eric2788/shortrec/pkg/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBytesPoolRestoresLength(t *testing.T) {
	p := pool.NewBytesPool(16)
	buf := p.GetBytes()
	require.Len(t, buf, 16)

	p.PutBytes(buf[:3])
	assert.Len(t, p.GetBytes(), 16)

	// foreign slices are never handed out
	p.PutBytes(make([]byte, 4))
	assert.Len(t, p.GetBytes(), 16)
	assert.Equal(t, 16, p.Size())
}

func TestBufferPoolDropsOversized(t *testing.T) {
	p := pool.NewBufferPool(8, 32)
	buf := p.Get()
	buf.WriteString("hello")
	p.Put(buf)

	again := p.Get()
	assert.Zero(t, again.Len(), "pooled buffers come back reset")
	p.Put(nil)
}

func TestLimitReaderThrottles(t *testing.T) {
	data := bytes.Repeat([]byte{1}, 300)
	r := pool.NewLimitReader(context.Background(), bytes.NewReader(data), 1000, 100)

	start := time.Now()
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, data, out)
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond, "200 bytes over the burst at 1000 B/s")
}

func TestLimitReaderCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := pool.NewLimitReader(ctx, strings.NewReader(strings.Repeat("x", 100)), 1, 10)

	buf := make([]byte, 10)
	_, err := r.Read(buf)
	require.NoError(t, err)

	cancel()
	_, err = r.Read(buf)
	assert.Error(t, err)
}

func TestFileStreamWriterReplacesTarget(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.mp4")
	require.NoError(t, os.WriteFile(out, []byte("old"), 0644))

	w := pool.NewFileStreamWriter(context.Background(), pool.NewBytesPool(4))
	n, err := w.WriteToFile(io.NopCloser(strings.NewReader("new content")), out, 8)
	require.NoError(t, err)
	assert.Equal(t, int64(len("new content")), n)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "new content", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestFileStreamWriterCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := filepath.Join(t.TempDir(), "out.mp4")

	pr, pw := io.Pipe()
	defer pw.Close()
	w := pool.NewFileStreamWriter(ctx, pool.NewBytesPool(4))
	_, err := w.WriteToFile(pr, out, 8)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, out)
}
