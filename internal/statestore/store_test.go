package statestore

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testState struct {
	Version int       `json:"version"`
	Scores  []float64 `json:"scores"`
	Label   string    `json:"label"`
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStore_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := New[testState](dir, "rounds", testLogger(), nil)

	got := s.Load(testState{Version: 1, Label: "default"})
	assert.Equal(t, "default", got.Label, "empty dir loads default")

	s.Set(testState{Version: 1, Label: "committed", Scores: []float64{0.5, 0.8}})
	require.NoError(t, s.Flush())

	s2 := New[testState](dir, "rounds", testLogger(), nil)
	got = s2.Load(testState{})
	assert.Equal(t, "committed", got.Label)
	assert.Equal(t, []float64{0.5, 0.8}, got.Scores)
}

func TestStore_FlushIdempotent(t *testing.T) {
	dir := t.TempDir()
	s := New[testState](dir, "rep", testLogger(), nil)
	s.Load(testState{})
	s.Set(testState{Label: "x"})

	require.NoError(t, s.Flush())
	assert.False(t, s.Dirty())

	// Second flush with no changes must not rewrite the file.
	info1, err := os.Stat(filepath.Join(dir, "rep.json"))
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.Flush())
	info2, err := os.Stat(filepath.Join(dir, "rep.json"))
	require.NoError(t, err)
	assert.Equal(t, info1.ModTime(), info2.ModTime())
}

func TestStore_CrashMidWriteRecoversCommittedState(t *testing.T) {
	dir := t.TempDir()
	s := New[testState](dir, "rep", testLogger(), nil)
	s.Load(testState{})
	s.Set(testState{Label: "committed"})
	require.NoError(t, s.Flush())

	// Simulate a crash mid-write: a truncated temp file left behind. The
	// primary was installed atomically, so it must still read back intact.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rep.json.tmp"), []byte(`{"lab`), 0o600))

	s2 := New[testState](dir, "rep", testLogger(), nil)
	got := s2.Load(testState{Label: "default"})
	assert.Equal(t, "committed", got.Label)
}

func TestStore_CorruptPrimaryFallsBackToBackup(t *testing.T) {
	dir := t.TempDir()
	s := New[testState](dir, "rep", testLogger(), nil)
	s.Load(testState{})
	s.Set(testState{Label: "good"})
	require.NoError(t, s.Flush())

	// A successful load refreshes the backup copy.
	s2 := New[testState](dir, "rep", testLogger(), nil)
	assert.Equal(t, "good", s2.Load(testState{}).Label)
	_, err := os.Stat(filepath.Join(dir, "rep.json.bak"))
	require.NoError(t, err, "backup written on successful load")

	// Corrupt the primary; the next load must recover from the backup.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rep.json"), []byte("{truncated"), 0o600))
	s3 := New[testState](dir, "rep", testLogger(), nil)
	assert.Equal(t, "good", s3.Load(testState{Label: "default"}).Label)
}

func TestStore_CorruptPrimaryAndBackupFallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rep.json"), []byte("nope"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rep.json.bak"), []byte("also nope"), 0o600))

	s := New[testState](dir, "rep", testLogger(), nil)
	got := s.Load(testState{Label: "default"})
	assert.Equal(t, "default", got.Label)
}

func TestStore_ValidatorRunsOnLoad(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rep.json"),
		[]byte(`{"scores":[5.0,-1.0],"label":"edited"}`), 0o600))

	s := New[testState](dir, "rep", testLogger(), func(v *testState) {
		for i, sc := range v.Scores {
			if sc > 1 {
				v.Scores[i] = 1
			}
			if sc < 0 {
				v.Scores[i] = 0
			}
		}
	})
	got := s.Load(testState{})
	assert.Equal(t, []float64{1, 0}, got.Scores)
}

func TestStore_MissingVersionTreatedAsV1(t *testing.T) {
	dir := t.TempDir()
	// Older blob: no version field, plus an unknown field that must be ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rep.json"),
		[]byte(`{"label":"legacy","unknown_field":42}`), 0o600))

	s := New[testState](dir, "rep", testLogger(), func(v *testState) {
		if v.Version == 0 {
			v.Version = 1
		}
	})
	got := s.Load(testState{})
	assert.Equal(t, 1, got.Version)
	assert.Equal(t, "legacy", got.Label)
}

func TestManager_FlushLoopAndStop(t *testing.T) {
	dir := t.TempDir()
	s := New[testState](dir, "rounds", testLogger(), nil)
	s.Load(testState{})

	m := NewManager(testLogger(), 10*time.Millisecond)
	m.Register(s)
	m.Start(t.Context())

	s.Set(testState{Label: "debounced"})
	assert.Eventually(t, func() bool { return !s.Dirty() }, time.Second, 5*time.Millisecond,
		"flush loop should pick up the dirty store")

	s.Set(testState{Label: "at-shutdown"})
	m.Stop()
	assert.False(t, s.Dirty(), "Stop runs a final FlushAll")

	got := New[testState](dir, "rounds", testLogger(), nil).Load(testState{})
	assert.Equal(t, "at-shutdown", got.Label)
}

func TestManager_DirtyCount(t *testing.T) {
	dir := t.TempDir()
	a := New[testState](dir, "a", testLogger(), nil)
	b := New[testState](dir, "b", testLogger(), nil)
	a.Load(testState{})
	b.Load(testState{})

	m := NewManager(testLogger(), time.Minute)
	m.Register(a)
	m.Register(b)

	assert.Equal(t, 0, m.DirtyCount())
	a.Set(testState{Label: "x"})
	assert.Equal(t, 1, m.DirtyCount())
	m.FlushAll()
	assert.Equal(t, 0, m.DirtyCount())
}
