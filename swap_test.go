package zarr_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	zarr "github.com/TuSKan/zarr-dechunk"
)

// swapFixture lays out an array directory and a Swapper whose staging,
// temp and journal paths all live under one temporary directory.
type swapFixture struct {
	work    string
	array   string
	swapper *zarr.Swapper
	meta    zarr.Metadata
}

func newSwapFixture(t *testing.T) *swapFixture {
	t.Helper()

	work := t.TempDir()
	f := &swapFixture{
		work:  work,
		array: filepath.Join(work, "array.zarr"),
		swapper: &zarr.Swapper{
			StagingDir:  filepath.Join(work, "staging.zarr"),
			TempDir:     filepath.Join(work, "tmp.zarr"),
			JournalPath: filepath.Join(work, "swap.journal"),
		},
	}
	writeArray(t, f.array, descriptor(10, 3, "<i1", "lz4", 5, 0), tenBytes, 1)

	meta, err := zarr.LoadMetadata(strings.NewReader(descriptor(10, 3, "<i1", "lz4", 5, 0)))
	require.NoError(t, err)
	f.meta = meta.SingleChunk()
	return f
}

// journal returns the journal Commit would write for chunk.
func (f *swapFixture) journal(chunk []byte) zarr.Journal {
	return zarr.Journal{
		ArrayPath:   f.array,
		StagingPath: f.swapper.StagingDir,
		TempPath:    f.swapper.TempDir,
		ChunkDigest: zarr.ChunkDigest(chunk),
	}
}

// stage writes a complete staging directory holding chunk.
func (f *swapFixture) stage(t *testing.T, chunk []byte) {
	t.Helper()

	data, err := f.meta.Marshal()
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(f.swapper.StagingDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(f.swapper.StagingDir, "0"), chunk, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(f.swapper.StagingDir, ".zarray"), data, 0o644))
}

func requireMissing(t *testing.T, path string) {
	t.Helper()
	_, err := os.Lstat(path)
	require.ErrorIs(t, err, os.ErrNotExist, "%s should not exist", path)
}

func TestSwapper_Commit(t *testing.T) {
	f := newSwapFixture(t)
	chunk := []byte("single chunk payload")

	require.NoError(t, f.swapper.Commit(f.array, chunk, f.meta))

	files := snapshot(t, f.array)
	require.Len(t, files, 2)
	require.Equal(t, chunk, files["0"])

	want, err := f.meta.Marshal()
	require.NoError(t, err)
	require.Equal(t, want, files[".zarray"])

	requireMissing(t, f.swapper.StagingDir)
	requireMissing(t, f.swapper.TempDir)
	requireMissing(t, f.swapper.JournalPath)
}

func TestSwapper_Commit_WithoutJournal(t *testing.T) {
	f := newSwapFixture(t)
	f.swapper.JournalPath = ""

	require.NoError(t, f.swapper.Commit(f.array, []byte{1, 2, 3}, f.meta))
	require.Equal(t, []byte{1, 2, 3}, snapshot(t, f.array)["0"])
	requireMissing(t, f.swapper.TempDir)
}

func TestSwapper_Commit_ReplacesStaleStaging(t *testing.T) {
	f := newSwapFixture(t)
	require.NoError(t, os.MkdirAll(f.swapper.StagingDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(f.swapper.StagingDir, "7"), []byte("stale"), 0o644))

	require.NoError(t, f.swapper.Commit(f.array, []byte{42}, f.meta))

	files := snapshot(t, f.array)
	require.Len(t, files, 2)
	require.NotContains(t, files, "7")
}

func TestSwapper_Commit_Refuses(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T, f *swapFixture)
		wantErr error
	}{
		{
			name: "journal left by an earlier swap",
			prepare: func(t *testing.T, f *swapFixture) {
				require.NoError(t, zarr.WriteJournal(f.swapper.JournalPath, f.journal(nil)))
			},
			wantErr: zarr.ErrSwapIncomplete,
		},
		{
			name: "temp directory exists",
			prepare: func(t *testing.T, f *swapFixture) {
				require.NoError(t, os.MkdirAll(f.swapper.TempDir, 0o755))
			},
		},
		{
			name: "staging equals array",
			prepare: func(t *testing.T, f *swapFixture) {
				f.swapper.StagingDir = f.array
			},
		},
		{
			name: "array does not exist",
			prepare: func(t *testing.T, f *swapFixture) {
				require.NoError(t, os.RemoveAll(f.array))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSwapFixture(t)
			tt.prepare(t, f)
			before := snapshot(t, f.work)

			err := f.swapper.Commit(f.array, []byte{1}, f.meta)
			require.Error(t, err)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			}
			require.Equal(t, before, snapshot(t, f.work))
		})
	}
}

func TestSwapper_Commit_DefaultPathsAreRelative(t *testing.T) {
	work := t.TempDir()
	t.Chdir(work)

	dir := filepath.Join(work, "data", "array.zarr")
	writeArray(t, dir, descriptor(10, 3, "<i1", "lz4", 5, 0), tenBytes, 1)

	meta, err := zarr.LoadMetadata(strings.NewReader(descriptor(10, 3, "<i1", "lz4", 5, 0)))
	require.NoError(t, err)

	require.NoError(t, zarr.DefaultSwapper().Commit(dir, []byte{7}, meta.SingleChunk()))
	require.Equal(t, []byte{7}, snapshot(t, dir)["0"])

	entries, err := os.ReadDir(work)
	require.NoError(t, err)
	require.Len(t, entries, 1, "only the data directory should remain in the working directory")
}

func TestJournal_WriteReadClear(t *testing.T) {
	f := newSwapFixture(t)
	want := f.journal([]byte("chunk"))

	require.NoError(t, zarr.WriteJournal(f.swapper.JournalPath, want))
	requireMissing(t, f.swapper.JournalPath+".tmp")

	got, err := zarr.ReadJournal(f.swapper.JournalPath)
	require.NoError(t, err)
	require.Equal(t, want, got)

	require.NoError(t, zarr.ClearJournal(f.swapper.JournalPath))
	requireMissing(t, f.swapper.JournalPath)
	require.NoError(t, zarr.ClearJournal(f.swapper.JournalPath))

	_, err = zarr.ReadJournal(f.swapper.JournalPath)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestJournal_ReadRejectsIncomplete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swap.journal")

	require.NoError(t, os.WriteFile(path, []byte(`{"array_path": "/a"}`), 0o600))
	_, err := zarr.ReadJournal(path)
	require.ErrorContains(t, err, "missing paths")

	require.NoError(t, os.WriteFile(path, []byte(`not json`), 0o600))
	_, err = zarr.ReadJournal(path)
	require.Error(t, err)
}

func TestChunkDigest(t *testing.T) {
	require.Len(t, zarr.ChunkDigest(nil), 64)
	require.Equal(t, zarr.ChunkDigest([]byte{1, 2}), zarr.ChunkDigest([]byte{1, 2}))
	require.NotEqual(t, zarr.ChunkDigest([]byte{1, 2}), zarr.ChunkDigest([]byte{2, 1}))
}

func TestRecover_NoJournal(t *testing.T) {
	action, err := zarr.Recover(filepath.Join(t.TempDir(), "missing.journal"))
	require.NoError(t, err)
	require.Equal(t, zarr.RecoveryNone, action)
}

func TestRecover(t *testing.T) {
	chunk := []byte("new single chunk")

	tests := []struct {
		name string
		// interrupt reproduces the state a swap left behind.
		interrupt func(t *testing.T, f *swapFixture)
		want      zarr.RecoveryAction
		// wantNew is true when the array path must hold the staged chunk
		// afterwards, false when it must hold the original chunks.
		wantNew bool
	}{
		{
			name: "interrupted before the original moved",
			interrupt: func(t *testing.T, f *swapFixture) {
				f.stage(t, chunk)
			},
			want: zarr.RecoveryRolledBack,
		},
		{
			name: "interrupted between the renames",
			interrupt: func(t *testing.T, f *swapFixture) {
				f.stage(t, chunk)
				require.NoError(t, os.Rename(f.array, f.swapper.TempDir))
			},
			want:    zarr.RecoveryCompleted,
			wantNew: true,
		},
		{
			name: "interrupted between the renames with a damaged staging chunk",
			interrupt: func(t *testing.T, f *swapFixture) {
				f.stage(t, []byte("truncated"))
				require.NoError(t, os.Rename(f.array, f.swapper.TempDir))
			},
			want: zarr.RecoveryRolledBack,
		},
		{
			name: "interrupted between the renames without a staged descriptor",
			interrupt: func(t *testing.T, f *swapFixture) {
				f.stage(t, chunk)
				require.NoError(t, os.Remove(filepath.Join(f.swapper.StagingDir, ".zarray")))
				require.NoError(t, os.Rename(f.array, f.swapper.TempDir))
			},
			want: zarr.RecoveryRolledBack,
		},
		{
			name: "interrupted before the original was deleted",
			interrupt: func(t *testing.T, f *swapFixture) {
				f.stage(t, chunk)
				require.NoError(t, os.Rename(f.array, f.swapper.TempDir))
				require.NoError(t, os.Rename(f.swapper.StagingDir, f.array))
			},
			want:    zarr.RecoveryCompleted,
			wantNew: true,
		},
		{
			name: "interrupted after the original was deleted",
			interrupt: func(t *testing.T, f *swapFixture) {
				require.NoError(t, os.RemoveAll(f.array))
				f.stage(t, chunk)
				require.NoError(t, os.Rename(f.swapper.StagingDir, f.array))
			},
			want:    zarr.RecoveryCompleted,
			wantNew: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSwapFixture(t)
			original := snapshot(t, f.array)
			require.NoError(t, zarr.WriteJournal(f.swapper.JournalPath, f.journal(chunk)))
			tt.interrupt(t, f)

			action, err := zarr.Recover(f.swapper.JournalPath)
			require.NoError(t, err)
			require.Equal(t, tt.want, action)

			if tt.wantNew {
				files := snapshot(t, f.array)
				require.Len(t, files, 2)
				require.Equal(t, chunk, files["0"])
			} else {
				require.Equal(t, original, snapshot(t, f.array))
			}
			requireMissing(t, f.swapper.StagingDir)
			requireMissing(t, f.swapper.TempDir)
			requireMissing(t, f.swapper.JournalPath)
		})
	}
}

func TestRecover_NothingLeft(t *testing.T) {
	f := newSwapFixture(t)
	require.NoError(t, zarr.WriteJournal(f.swapper.JournalPath, f.journal(nil)))
	require.NoError(t, os.RemoveAll(f.array))

	_, err := zarr.Recover(f.swapper.JournalPath)
	require.ErrorIs(t, err, zarr.ErrSwapIncomplete)

	_, err = os.Stat(f.swapper.JournalPath)
	require.NoError(t, err, "journal must survive a failed recovery")
}
