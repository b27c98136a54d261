// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package fifo

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsure_CreatesFIFOOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.fifo")

	require.NoError(t, Ensure(path))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.Mode()&os.ModeNamedPipe != 0)

	// Idempotent: calling again on an existing FIFO is a no-op.
	require.NoError(t, Ensure(path))
}

func TestOpenWriter_TimesOutWithoutReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.fifo")
	require.NoError(t, Ensure(path))

	start := time.Now()
	_, err := OpenWriter(context.Background(), path, 150*time.Millisecond)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestOpenWriter_SucceedsOnceReaderAttaches(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping real FIFO open in short mode")
	}
	path := filepath.Join(t.TempDir(), "input.fifo")
	require.NoError(t, Ensure(path))

	readerReady := make(chan struct{})
	readDone := make(chan []byte, 1)
	go func() {
		f, err := os.OpenFile(path, os.O_RDONLY, 0)
		if err != nil {
			close(readerReady)
			return
		}
		close(readerReady)
		buf := make([]byte, 64)
		n, _ := f.Read(buf)
		readDone <- buf[:n]
		f.Close()
	}()

	<-readerReady
	w, err := OpenWriter(context.Background(), path, DefaultOpenTimeout)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Write([]byte("hello\n")))

	select {
	case got := <-readDone:
		assert.Equal(t, "hello\n", string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reader to observe write")
	}
}
