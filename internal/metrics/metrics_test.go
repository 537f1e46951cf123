package metrics

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/uow/internal/mapping"
	"github.com/roach88/uow/internal/testutil"
	"github.com/roach88/uow/internal/unitofwork"
)

func registry(t *testing.T) *mapping.Registry {
	t.Helper()
	reg := mapping.NewRegistry()
	require.NoError(t, reg.RegisterObject(mapping.TypeMeta{
		Name:       "Author",
		Fields:     []mapping.Field{{Name: "id", Kind: mapping.KindInt}, {Name: "name", Kind: mapping.KindString}},
		Identifier: []string{"id"},
		Strategy:   mapping.IDSequence,
	}))
	return reg
}

func newObserved(t *testing.T) (*Observer, *prometheus.Registry, *unitofwork.UnitOfWork, *testutil.RecordingPersister) {
	t.Helper()
	promReg := prometheus.NewRegistry()
	obs, err := New(promReg)
	require.NoError(t, err)
	reg := registry(t)
	rec := testutil.NewRecordingPersister(reg)
	u := unitofwork.New(reg, unitofwork.Shared(rec),
		unitofwork.WithObserver(obs),
		unitofwork.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	return obs, promReg, u, rec
}

func TestObserver_CountsWritesAndCommits(t *testing.T) {
	obs, _, u, _ := newObserved(t)
	ctx := context.Background()

	a := mapping.NewObject("Author")
	a.Set("name", "Le Guin")
	require.NoError(t, u.Save(ctx, a))
	require.NoError(t, u.Commit(ctx))

	a.Set("name", "Ursula K. Le Guin")
	require.NoError(t, u.Commit(ctx))

	assert.Equal(t, 1.0, promtest.ToFloat64(obs.writes.WithLabelValues("insert", "Author")))
	assert.Equal(t, 1.0, promtest.ToFloat64(obs.writes.WithLabelValues("update", "Author")))
	assert.Equal(t, 2.0, promtest.ToFloat64(obs.commits.WithLabelValues("success", "")))
	assert.Equal(t, 1, promtest.CollectAndCount(obs.durations))
}

func TestObserver_NoOpCommitIsNotObserved(t *testing.T) {
	obs, _, u, _ := newObserved(t)

	require.NoError(t, u.Commit(context.Background()))

	assert.Equal(t, 0, promtest.CollectAndCount(obs.commits))
}

func TestObserver_FailedCommitCarriesCode(t *testing.T) {
	obs, _, u, rec := newObserved(t)
	ctx := context.Background()
	rec.FailOn("insert", "Author", errors.New("disk full"))

	require.NoError(t, u.Save(ctx, mapping.NewObject("Author")))
	require.Error(t, u.Commit(ctx))

	assert.Equal(t, 1.0, promtest.ToFloat64(obs.commits.WithLabelValues("error", "STORE_FAILURE")))
	assert.Equal(t, 0.0, promtest.ToFloat64(obs.writes.WithLabelValues("insert", "Author")))
}

func TestObserver_Exposition(t *testing.T) {
	obs, promReg, _, _ := newObserved(t)
	obs.WriteApplied(unitofwork.OpDelete, "Author")

	expected := `
# HELP uow_writes_total Writes applied to the store during commit, by operation and entity type.
# TYPE uow_writes_total counter
uow_writes_total{op="delete",type="Author"} 1
`
	require.NoError(t, promtest.GatherAndCompare(promReg, strings.NewReader(expected), "uow_writes_total"))
}

func TestObserver_BatchSize(t *testing.T) {
	obs, _, _, _ := newObserved(t)

	obs.CommitFinished(time.Millisecond, unitofwork.Stats{Inserts: 3, Deletes: 1}, nil)

	assert.Equal(t, 1, promtest.CollectAndCount(obs.batch))
}

func TestNew_DuplicateRegistration(t *testing.T) {
	promReg := prometheus.NewRegistry()
	_, err := New(promReg)
	require.NoError(t, err)

	_, err = New(promReg)
	assert.ErrorContains(t, err, "register metrics")

	_, err = New(promReg, WithNamespace("other"), WithDurationBuckets([]float64{0.1, 1}))
	assert.NoError(t, err)
}
