// Package batch drives preparation, synthesis and validation over groups of
// states, one engine subprocess per group.
package batch

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/RSGInc/bts-populationsim/internal/engine"
	"github.com/RSGInc/bts-populationsim/internal/prepare"
	"github.com/RSGInc/bts-populationsim/internal/store"
)

// DefaultSize is the number of states per batch.
const DefaultSize = 1

// longBatch is the state count above which names are abbreviated.
const longBatch = 12

// Batch is a group of states synthesized together.
type Batch struct {
	Name   string
	States []string
}

// Name joins the states of a batch with dashes, or abbreviates long batches
// as <N>_states_<first>-<last>.
func Name(states []string) string {
	if len(states) > longBatch {
		return strconv.Itoa(len(states)) + "_states_" + states[0] + "-" + states[len(states)-1]
	}
	return strings.Join(states, "-")
}

// Plan splits states into batches of size, keeping their order.
func Plan(states []string, size int) []Batch {
	if size <= 0 {
		size = DefaultSize
	}
	var out []Batch
	for i := 0; i < len(states); i += size {
		group := append([]string(nil), states[i:min(i+size, len(states))]...)
		out = append(out, Batch{Name: Name(group), States: group})
	}
	return out
}

// Preparer writes the engine inputs of a batch.
type Preparer interface {
	Prepare(ctx context.Context, paths prepare.Paths, abbrs []string, replace bool) (*prepare.Result, error)
}

// Validator checks the engine output of a batch.
type Validator interface {
	Validate(ctx context.Context, paths prepare.Paths) error
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(ctx context.Context, paths prepare.Paths) error

func (f ValidatorFunc) Validate(ctx context.Context, paths prepare.Paths) error { return f(ctx, paths) }

// Options configure a Driver.
type Options struct {
	Size       int
	Replace    bool
	DataRoot   string
	OutputRoot string
	ConfigDirs []string
}

// Paths returns the artifact layout of a batch.
func (o Options) Paths(b Batch) prepare.Paths {
	return prepare.Paths{Data: filepath.Join(o.DataRoot, b.Name), Output: filepath.Join(o.OutputRoot, b.Name)}
}

// Driver runs batches in sequence. A failing batch is recorded and the
// driver moves on.
type Driver struct {
	prep     Preparer
	runner   engine.Runner
	validate Validator
	ledger   store.Store
	opts     Options
	log      *zap.Logger
}

// NewDriver wires the stages. validate and ledger may be nil.
func NewDriver(prep Preparer, runner engine.Runner, validate Validator, ledger store.Store, opts Options) *Driver {
	return &Driver{
		prep:     prep,
		runner:   runner,
		validate: validate,
		ledger:   ledger,
		opts:     opts,
		log:      zap.L().With(zap.String("component", "batch")),
	}
}

// Outcome is the result of one batch.
type Outcome struct {
	Batch Batch
	RunID string
	Stage store.Stage
	Err   error
}

// Run processes every batch of states. It only returns an error when ctx is
// done; per-batch failures are reported in the outcomes.
func (d *Driver) Run(ctx context.Context, states []string) ([]Outcome, error) {
	batches := Plan(states, d.opts.Size)
	d.log.Info("starting batches", zap.Int("batches", len(batches)), zap.Int("states", len(states)))

	var out []Outcome
	failed := 0
	for _, b := range batches {
		if err := ctx.Err(); err != nil {
			return out, eris.Wrap(err, "batch: interrupted")
		}
		o := d.runBatch(ctx, b)
		if o.Err != nil {
			failed++
			d.log.Error("batch failed, continuing",
				zap.String("batch", b.Name),
				zap.String("stage", string(o.Stage)),
				zap.Error(o.Err),
			)
		}
		out = append(out, o)
	}
	d.log.Info("batches finished", zap.Int("succeeded", len(out)-failed), zap.Int("failed", failed))
	return out, nil
}

func (d *Driver) runBatch(ctx context.Context, b Batch) Outcome {
	log := d.log.With(zap.String("batch", b.Name))
	start := time.Now()
	o := Outcome{Batch: b, Stage: store.StagePrepare}

	if d.ledger != nil {
		run, err := d.ledger.CreateRun(ctx, b.Name, b.States)
		if err != nil {
			log.Warn("ledger unavailable", zap.Error(err))
		} else {
			o.RunID = run.ID
		}
	}

	paths := d.opts.Paths(b)
	o.Err = d.stages(ctx, b, paths, &o, log)

	status := store.StatusComplete
	if o.Err != nil {
		status = store.StatusFailed
	} else {
		o.Stage = store.StageDone
	}
	d.record(ctx, o, status)
	log.Info("batch finished", zap.String("status", string(status)), zap.Duration("elapsed", time.Since(start)))
	return o
}

func (d *Driver) stages(ctx context.Context, b Batch, paths prepare.Paths, o *Outcome, log *zap.Logger) error {
	if missing := prepare.Missing(paths.Inputs()); d.opts.Replace || len(missing) > 0 {
		log.Info("preparing inputs", zap.Int("missing", len(missing)), zap.Bool("replace", d.opts.Replace))
		if _, err := d.prep.Prepare(ctx, paths, b.States, d.opts.Replace); err != nil {
			return err
		}
	} else {
		log.Info("inputs present, skipping preparation")
	}

	o.Stage = store.StageEngine
	d.record(ctx, *o, store.StatusRunning)
	if _, err := os.Stat(paths.Expanded()); d.opts.Replace || err != nil {
		job := engine.Job{
			Name:       b.Name,
			ConfigDirs: d.opts.ConfigDirs,
			DataDir:    paths.Data,
			OutputDir:  paths.Output,
			Expect:     paths.Expanded(),
		}
		if err := d.runner.Run(ctx, job); err != nil {
			return err
		}
	} else {
		log.Info("output present, skipping synthesis")
	}

	if d.validate == nil {
		return nil
	}
	o.Stage = store.StageValidate
	d.record(ctx, *o, store.StatusRunning)
	return d.validate.Validate(ctx, paths)
}

// record updates the ledger. Ledger errors are logged only.
func (d *Driver) record(ctx context.Context, o Outcome, status store.Status) {
	if d.ledger == nil || o.RunID == "" {
		return
	}
	msg := ""
	if o.Err != nil {
		msg = o.Err.Error()
	}
	if err := d.ledger.UpdateRun(ctx, o.RunID, o.Stage, status, msg); err != nil {
		d.log.Warn("ledger update failed", zap.String("run", o.RunID), zap.Error(err))
	}
}
