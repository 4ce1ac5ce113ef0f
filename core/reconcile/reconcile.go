// Package reconcile decides, per extension source, how a freshly verified
// package relates to the previously published index and folds the results
// into the next index.
package reconcile

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/any-listen/any-listen-extension-store/core/extension"
	"github.com/any-listen/any-listen-extension-store/core/i18n"
	"github.com/any-listen/any-listen-extension-store/core/index"
	"github.com/any-listen/any-listen-extension-store/core/infra/fetch"
	"github.com/any-listen/any-listen-extension-store/core/infra/logging"
	"github.com/any-listen/any-listen-extension-store/core/infra/metrics"
	"github.com/any-listen/any-listen-extension-store/core/source"
	"github.com/any-listen/any-listen-extension-store/core/verify"
)

// Action is what reconciliation did with an extension.
type Action string

const (
	ActionInsert    Action = "insert"
	ActionUnchanged Action = "unchanged"
	ActionRefresh   Action = "refresh"
	ActionUpdate    Action = "update"
)

// Outcome is the reconciled state of one extension.
type Outcome struct {
	ID       string
	Action   Action
	Record   *extension.Record
	Fragment i18n.Fragment
	// Carry copies the prior messages of ID into the next index.
	Carry        bool
	PriorVersion string
}

// Verifier runs the verification pipeline on one package.
type Verifier interface {
	Run(ctx context.Context, loc verify.Location, expect verify.Expectation) (*verify.Result, error)
}

// Fetcher resolves version info documents and probes download URLs.
type Fetcher interface {
	VersionInfo(ctx context.Context, url string) (fetch.VersionInfo, error)
	Reachable(ctx context.Context, url string) bool
}

// Reconciler computes outcomes against a read-only prior snapshot. It is safe
// for concurrent use as long as its collaborators are.
type Reconciler struct {
	Prior        *index.Snapshot
	Verifier     Verifier
	Fetcher      Fetcher
	AssetBaseURL string
	Metrics      metrics.Metrics
}

// Reconcile decides the outcome for the extension described by src.
func (r *Reconciler) Reconcile(ctx context.Context, src source.Descriptor) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if src.Remote() {
		return r.remote(ctx, src)
	}
	return r.local(ctx, src)
}

func (r *Reconciler) remote(ctx context.Context, src source.Descriptor) (*Outcome, error) {
	if r.Fetcher == nil {
		return nil, extension.Errorf(extension.ErrAcquisition, "no fetcher configured for %s", src.ID)
	}
	info, err := r.Fetcher.VersionInfo(ctx, src.VersionInfoURL)
	if err != nil {
		return nil, fmt.Errorf("version info for [%s] at %s: %w", src.ID, src.VersionInfoURL, err)
	}

	prior, listed := r.prior().Entry(src.ID)
	if !listed {
		logging.Info("reconcile", "extension not in list, adding", "id", src.ID, "version", info.Version)
		res, err := r.verify(ctx, verify.Remote(info.DownloadURL), verify.Expectation{ID: src.ID})
		if err != nil {
			return nil, err
		}
		res.Record.DownloadURL = info.DownloadURL
		return &Outcome{ID: src.ID, Action: ActionInsert, Record: res.Record, Fragment: res.Fragment}, nil
	}

	expect := verify.Expectation{ID: src.ID, PublicKey: prior.PublicKey}
	if prior.Version == info.Version {
		if rec, ok := r.prior().Record(src.ID); ok && r.Fetcher.Reachable(ctx, rec.DownloadURL) {
			return &Outcome{ID: src.ID, Action: ActionUnchanged, Record: rec, Carry: true, PriorVersion: prior.Version}, nil
		}
		logging.Warn("reconcile", "published package unreachable, re-verifying", "id", src.ID, "version", info.Version)
		res, err := r.verify(ctx, verify.Remote(info.DownloadURL), expect)
		if err != nil {
			return nil, err
		}
		res.Record.DownloadURL = info.DownloadURL
		return &Outcome{
			ID:           src.ID,
			Action:       ActionRefresh,
			Record:       res.Record,
			Fragment:     res.Fragment,
			Carry:        true,
			PriorVersion: prior.Version,
		}, nil
	}

	logging.Info("reconcile", "extension version updated", "id", src.ID, "name", prior.Name, "from", prior.Version, "to", info.Version)
	res, err := r.verify(ctx, verify.Remote(info.DownloadURL), expect)
	if err != nil {
		return nil, err
	}
	res.Record.DownloadURL = info.DownloadURL
	return &Outcome{ID: src.ID, Action: ActionUpdate, Record: res.Record, Fragment: res.Fragment, PriorVersion: prior.Version}, nil
}

func (r *Reconciler) local(ctx context.Context, src source.Descriptor) (*Outcome, error) {
	pkg, err := src.PackagePath()
	if err != nil {
		return nil, fmt.Errorf("package for [%s]: %w", src.ID, err)
	}

	prior, listed := r.prior().Entry(src.ID)
	expect := verify.Expectation{ID: src.ID}
	if listed {
		expect.PublicKey = prior.PublicKey
	}
	res, err := r.verify(ctx, verify.Local(pkg), expect)
	if err != nil {
		return nil, err
	}

	if listed && prior.Version == res.Record.Version {
		if rec, ok := r.prior().Record(src.ID); ok {
			return &Outcome{ID: src.ID, Action: ActionUnchanged, Record: rec, Carry: true, PriorVersion: prior.Version}, nil
		}
	}

	res.Record.DownloadURL = extension.AssetURL(r.AssetBaseURL, src.ID, filepath.Base(pkg))
	if !listed {
		logging.Info("reconcile", "extension not in list, adding", "id", src.ID, "version", res.Record.Version)
		return &Outcome{ID: src.ID, Action: ActionInsert, Record: res.Record, Fragment: res.Fragment}, nil
	}
	logging.Info("reconcile", "extension version updated", "id", src.ID, "name", prior.Name, "from", prior.Version, "to", res.Record.Version)
	return &Outcome{ID: src.ID, Action: ActionUpdate, Record: res.Record, Fragment: res.Fragment, PriorVersion: prior.Version}, nil
}

func (r *Reconciler) verify(ctx context.Context, loc verify.Location, expect verify.Expectation) (*verify.Result, error) {
	if r.Verifier == nil {
		return nil, fmt.Errorf("no verifier configured")
	}
	start := time.Now()
	res, err := r.Verifier.Run(ctx, loc, expect)
	r.metrics().ObserveVerify(time.Since(start).Seconds())
	return res, err
}

func (r *Reconciler) prior() *index.Snapshot {
	if r.Prior == nil {
		return index.Empty()
	}
	return r.Prior
}

func (r *Reconciler) metrics() metrics.Metrics {
	if r.Metrics == nil {
		return metrics.Noop{}
	}
	return r.Metrics
}
