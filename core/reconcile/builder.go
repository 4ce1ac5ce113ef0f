package reconcile

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/any-listen/any-listen-extension-store/core/extension"
	"github.com/any-listen/any-listen-extension-store/core/i18n"
	"github.com/any-listen/any-listen-extension-store/core/index"
	"github.com/any-listen/any-listen-extension-store/core/infra/logging"
	"github.com/any-listen/any-listen-extension-store/core/infra/metrics"
	"github.com/any-listen/any-listen-extension-store/core/source"
)

// Failure is an extension source that could not be reconciled. Its prior
// index state was retained.
type Failure struct {
	ID  string
	Dir string
	Err error
}

// Report summarizes a build.
type Report struct {
	Outcomes []*Outcome
	Failures []Failure
	Snapshot *index.Snapshot
}

// Changed returns the outcomes that produced a new record.
func (r *Report) Changed() []*Outcome {
	var out []*Outcome
	for _, o := range r.Outcomes {
		if o.Action != ActionUnchanged {
			out = append(out, o)
		}
	}
	return out
}

// Builder rebuilds the index under DataDir from the sources under
// ExtensionsDir.
type Builder struct {
	ExtensionsDir string
	DataDir       string
	BaseI18nDir   string
	Concurrency   int

	Verifier     Verifier
	Fetcher      Fetcher
	AssetBaseURL string
	Metrics      metrics.Metrics
}

type result struct {
	outcome *Outcome
	err     error
}

// Run reconciles every source and writes the new index. Per-extension errors
// are reported in the Report; only loading or writing the index fails the run.
func (b *Builder) Run(ctx context.Context) (*Report, error) {
	prior, err := index.Load(b.DataDir)
	if err != nil {
		return nil, fmt.Errorf("load index: %w", err)
	}
	var base i18n.Messages
	if b.BaseI18nDir != "" {
		if base, err = i18n.LoadDir(b.BaseI18nDir); err != nil {
			return nil, fmt.Errorf("load base messages: %w", err)
		}
	}

	report := &Report{}
	sources, failures, err := b.sources()
	if err != nil {
		return nil, err
	}
	report.Failures = append(report.Failures, failures...)

	rec := &Reconciler{
		Prior:        prior,
		Verifier:     b.Verifier,
		Fetcher:      b.Fetcher,
		AssetBaseURL: b.AssetBaseURL,
		Metrics:      b.metrics(),
	}
	results := make([]result, len(sources))
	var g errgroup.Group
	g.SetLimit(max(1, b.Concurrency))
	for i, src := range sources {
		g.Go(func() error {
			o, err := rec.Reconcile(ctx, src)
			results[i] = result{outcome: o, err: err}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	acc := NewAccumulator(prior, base)
	for i, res := range results {
		src := sources[i]
		if res.err != nil {
			logging.Error("reconcile", "extension failed", "id", src.ID, "dir", src.Dir, "kind", extension.KindOf(res.err), "error", res.err)
			b.metrics().IncFailures(extension.KindOf(res.err))
			acc.Retain(src.ID)
			report.Failures = append(report.Failures, Failure{ID: src.ID, Dir: src.Dir, Err: res.err})
			continue
		}
		acc.Apply(res.outcome)
		b.metrics().IncExtensions(string(res.outcome.Action))
		report.Outcomes = append(report.Outcomes, res.outcome)
	}

	snap := acc.Snapshot()
	if err := index.Write(b.DataDir, snap); err != nil {
		return nil, fmt.Errorf("write index: %w", err)
	}
	b.metrics().SetIndexEntries(len(snap.List))
	report.Snapshot = snap
	logging.Info("reconcile", "index written",
		"entries", len(snap.List),
		"changed", len(report.Changed()),
		"failed", len(report.Failures),
	)
	return report, nil
}

// sources loads the descriptors under ExtensionsDir. Directories without a
// usable descriptor are skipped with a warning; invalid descriptors and
// duplicate ids are reported as failures.
func (b *Builder) sources() ([]source.Descriptor, []Failure, error) {
	dirs, err := source.Scan(b.ExtensionsDir)
	if err != nil {
		return nil, nil, err
	}
	var (
		out      []source.Descriptor
		failures []Failure
		seen     = map[string]string{}
	)
	for _, dir := range dirs {
		d, err := source.Load(dir)
		switch {
		case errors.Is(err, source.ErrNoDescriptor):
			logging.Warn("reconcile", "no descriptor found", "dir", dir)
			continue
		case errors.Is(err, source.ErrNoRoute):
			logging.Warn("reconcile", "no version source found", "id", d.ID, "dir", dir)
			continue
		case err != nil:
			logging.Error("reconcile", "invalid descriptor", "dir", dir, "error", err)
			b.metrics().IncFailures(extension.KindOf(err))
			failures = append(failures, Failure{Dir: dir, Err: err})
			continue
		}
		if first, dup := seen[d.ID]; dup {
			err := fmt.Errorf("duplicate id [%s], already declared in %s", d.ID, first)
			logging.Error("reconcile", "duplicate descriptor", "id", d.ID, "dir", dir)
			b.metrics().IncFailures(extension.KindOf(err))
			failures = append(failures, Failure{ID: d.ID, Dir: dir, Err: err})
			continue
		}
		seen[d.ID] = dir
		out = append(out, d)
	}
	return out, failures, nil
}

func (b *Builder) metrics() metrics.Metrics {
	if b.Metrics == nil {
		return metrics.Noop{}
	}
	return b.Metrics
}
