package pool

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
)

// FileStreamWriter copies streams into files with pooled copy buffers.
type FileStreamWriter struct {
	ctx context.Context
	bp  *BytesPool
}

func NewFileStreamWriter(ctx context.Context, pool *BytesPool) *FileStreamWriter {
	return &FileStreamWriter{
		ctx: ctx,
		bp:  pool,
	}
}

// WriteToFile copies rc into outPath and reports the bytes written. The data
// lands in a temp file next to outPath that is renamed over it once synced,
// so outPath is either untouched or complete. rc is always closed.
func (f *FileStreamWriter) WriteToFile(rc io.ReadCloser, outPath string, writerBufferSize int) (int64, error) {
	defer rc.Close()

	tmp, err := os.CreateTemp(filepath.Dir(outPath), ".partial-*.tmp")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()

	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}

	writer := bufio.NewWriterSize(tmp, writerBufferSize)
	buf := f.bp.GetBytes()
	defer f.bp.PutBytes(buf)

	type result struct {
		n   int64
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := io.CopyBuffer(writer, rc, buf)
		if err == nil {
			if err = writer.Flush(); err == nil {
				err = tmp.Sync()
			}
		}
		done <- result{n, err}
	}()

	var written int64
	select {
	case <-f.ctx.Done():
		// closing rc unblocks the copy
		_ = rc.Close()
		<-done
		cleanup()
		return 0, f.ctx.Err()
	case res := <-done:
		if res.err != nil {
			cleanup()
			return 0, res.err
		}
		written = res.n
	}

	if err := tmp.Close(); err != nil {
		cleanup()
		return 0, err
	}
	// Windows refuses to rename over an existing file
	_ = os.Remove(outPath)
	if err := os.Rename(tmpName, outPath); err != nil {
		cleanup()
		return 0, err
	}
	return written, nil
}
