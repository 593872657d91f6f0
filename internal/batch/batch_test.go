package batch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RSGInc/bts-populationsim/internal/engine"
	"github.com/RSGInc/bts-populationsim/internal/prepare"
	"github.com/RSGInc/bts-populationsim/internal/store"
)

func TestName(t *testing.T) {
	assert.Equal(t, "CA", Name([]string{"CA"}))
	assert.Equal(t, "CA-OR-WA", Name([]string{"CA", "OR", "WA"}))

	long := strings.Fields("AL AK AZ AR CA CO CT DE DC FL GA HI ID")
	assert.Equal(t, "13_states_AL-ID", Name(long))
	assert.Equal(t, "AL-AK-AZ-AR-CA-CO-CT-DE-DC-FL-GA-HI", Name(long[:12]))
}

func TestPlan(t *testing.T) {
	b := Plan([]string{"CA", "OR", "WA"}, 2)
	require.Len(t, b, 2)
	assert.Equal(t, Batch{Name: "CA-OR", States: []string{"CA", "OR"}}, b[0])
	assert.Equal(t, Batch{Name: "WA", States: []string{"WA"}}, b[1])

	assert.Len(t, Plan([]string{"CA", "OR"}, 0), 2)
	assert.Empty(t, Plan(nil, 3))
}

type fakePrep struct {
	calls []string
	fail  map[string]bool
}

func (f *fakePrep) Prepare(_ context.Context, paths prepare.Paths, abbrs []string, _ bool) (*prepare.Result, error) {
	name := Name(abbrs)
	f.calls = append(f.calls, name)
	if f.fail[name] {
		return nil, errors.New("census unavailable")
	}
	for _, p := range paths.Inputs() {
		if err := touch(p, "x\n"); err != nil {
			return nil, err
		}
	}
	return &prepare.Result{}, nil
}

type fakeRunner struct {
	jobs []engine.Job
	fail map[string]bool
}

func (f *fakeRunner) Run(_ context.Context, job engine.Job) error {
	f.jobs = append(f.jobs, job)
	if f.fail[job.Name] {
		return errors.New("engine: synthesizer failed")
	}
	return touch(job.Expect, "hh_id\n1\n")
}

func touch(path, body string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(body), 0o644)
}

func newLedger(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func testOptions(t *testing.T) Options {
	root := t.TempDir()
	return Options{
		Size:       1,
		DataRoot:   filepath.Join(root, "data"),
		OutputRoot: filepath.Join(root, "output"),
		ConfigDirs: []string{"configs"},
	}
}

func TestDriver_ContinuesAfterFailure(t *testing.T) {
	ctx := context.Background()
	prep := &fakePrep{fail: map[string]bool{"OR": true}}
	runner := &fakeRunner{fail: map[string]bool{"WA": true}}
	var validated []string
	validate := ValidatorFunc(func(_ context.Context, p prepare.Paths) error {
		validated = append(validated, filepath.Base(p.Output))
		return nil
	})
	ledger := newLedger(t)

	d := NewDriver(prep, runner, validate, ledger, testOptions(t))
	out, err := d.Run(ctx, []string{"CA", "OR", "WA"})
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.NoError(t, out[0].Err)
	assert.Equal(t, store.StageDone, out[0].Stage)
	assert.ErrorContains(t, out[1].Err, "census unavailable")
	assert.Equal(t, store.StagePrepare, out[1].Stage)
	assert.ErrorContains(t, out[2].Err, "synthesizer failed")
	assert.Equal(t, store.StageEngine, out[2].Stage)

	assert.Equal(t, []string{"CA", "OR", "WA"}, prep.calls)
	require.Len(t, runner.jobs, 2)
	assert.Equal(t, []string{"configs"}, runner.jobs[0].ConfigDirs)
	assert.Equal(t, []string{"CA"}, validated)

	failed, err := ledger.ListRuns(ctx, store.RunFilter{Status: store.StatusFailed})
	require.NoError(t, err)
	assert.Len(t, failed, 2)

	run, err := ledger.GetRun(ctx, out[2].RunID)
	require.NoError(t, err)
	assert.Equal(t, store.StageEngine, run.Stage)
	assert.Contains(t, run.Error, "synthesizer failed")
}

func TestDriver_SkipsExistingArtifacts(t *testing.T) {
	ctx := context.Background()
	opts := testOptions(t)
	paths := opts.Paths(Batch{Name: "CA"})
	for _, p := range append(paths.Inputs(), paths.Expanded()) {
		require.NoError(t, touch(p, "x\n"))
	}

	prep, runner := &fakePrep{}, &fakeRunner{}
	out, err := NewDriver(prep, runner, nil, nil, opts).Run(ctx, []string{"CA"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.NoError(t, out[0].Err)
	assert.Empty(t, prep.calls)
	assert.Empty(t, runner.jobs)

	opts.Replace = true
	_, err = NewDriver(prep, runner, nil, nil, opts).Run(ctx, []string{"CA"})
	require.NoError(t, err)
	assert.Len(t, prep.calls, 1)
	assert.Len(t, runner.jobs, 1)
}

func TestDriver_ValidationFailure(t *testing.T) {
	validate := ValidatorFunc(func(context.Context, prepare.Paths) error { return errors.New("validate: no summaries") })
	out, err := NewDriver(&fakePrep{}, &fakeRunner{}, validate, newLedger(t), testOptions(t)).Run(context.Background(), []string{"CA"})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, store.StageValidate, out[0].Stage)
	assert.ErrorContains(t, out[0].Err, "no summaries")
}

func TestDriver_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := NewDriver(&fakePrep{}, &fakeRunner{}, nil, nil, testOptions(t)).Run(ctx, []string{"CA"})
	assert.Error(t, err)
	assert.Empty(t, out)
}

func TestCombine(t *testing.T) {
	opts := testOptions(t)
	batches := Plan([]string{"CA", "OR", "WA"}, 1)

	ca, or := opts.Paths(batches[0]), opts.Paths(batches[1])
	require.NoError(t, touch(ca.Expanded(), "hh_id,TRACT\n1,6001\n2,6001\n"))
	require.NoError(t, touch(or.Expanded(), "TRACT,hh_id,extra\n41001,7,z\n"))
	require.NoError(t, touch(ca.SeedHouseholds(), "hh_id,WGTP\n1,10\n"))
	require.NoError(t, touch(or.SeedHouseholds(), "hh_id\n7\n"))
	require.NoError(t, touch(or.SeedPersons(), "hh_id,SPORDER\n"))

	outDir := filepath.Join(t.TempDir(), "combined")
	counts, err := Combine(context.Background(), opts, batches, outDir)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts[prepare.ExpandedFile])
	assert.Equal(t, int64(2), counts[prepare.SeedHouseholdsFile])
	assert.Equal(t, int64(0), counts[prepare.SeedPersonsFile])

	got, err := os.ReadFile(filepath.Join(outDir, prepare.ExpandedFile))
	require.NoError(t, err)
	assert.Equal(t, "hh_id,TRACT\n1,6001\n2,6001\n7,41001\n", string(got))

	got, err = os.ReadFile(filepath.Join(outDir, prepare.SeedHouseholdsFile))
	require.NoError(t, err)
	assert.Equal(t, "hh_id,WGTP\n1,10\n7,\n", string(got))

	got, err = os.ReadFile(filepath.Join(outDir, prepare.SeedPersonsFile))
	require.NoError(t, err)
	assert.Equal(t, "hh_id,SPORDER\n", string(got))
}
