package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/any-listen/any-listen-extension-store/core/archive"
	"github.com/any-listen/any-listen-extension-store/core/infra/buildinfo"
	"github.com/any-listen/any-listen-extension-store/core/infra/bus"
	"github.com/any-listen/any-listen-extension-store/core/infra/config"
	"github.com/any-listen/any-listen-extension-store/core/infra/fetch"
	"github.com/any-listen/any-listen-extension-store/core/infra/locks"
	"github.com/any-listen/any-listen-extension-store/core/infra/logging"
	"github.com/any-listen/any-listen-extension-store/core/infra/metrics"
	"github.com/any-listen/any-listen-extension-store/core/infra/mirror"
	"github.com/any-listen/any-listen-extension-store/core/infra/redisutil"
	"github.com/any-listen/any-listen-extension-store/core/infra/secrets"
	"github.com/any-listen/any-listen-extension-store/core/reconcile"
	"github.com/any-listen/any-listen-extension-store/core/verify"
)

const indexLockResource = "index"

func newBuildCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Reconcile every extension source and rewrite the index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, opts)
			if err != nil {
				return err
			}
			return runBuild(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.String("extensions-dir", "", "directory holding one source directory per extension")
	f.String("data-dir", "", "directory the index is written to")
	f.String("i18n-dir", "", "directory with the base localized messages")
	f.String("scratch-dir", "", "directory for downloaded and unpacked packages")
	f.String("asset-base-url", "", "public base URL of the extensions directory")
	f.Int("concurrency", 0, "extensions verified in parallel")
	f.Bool("keep-scratch", false, "keep scratch files after verification")
	f.String("redis-url", "", "redis URL for the build lock and index mirror")
	f.String("nats-url", "", "NATS URL for change events")
	f.String("metrics-textfile", "", "write build metrics to this textfile")
	f.String("pushgateway-url", "", "push build metrics to this Pushgateway")
	return cmd
}

func newPipeline(cfg *config.Config, extensionsDir string) (*fetch.Client, *verify.Pipeline) {
	redirects := cfg.MaxRedirects
	if redirects == 0 {
		redirects = -1
	}
	client := fetch.New(fetch.Options{
		Timeout:      cfg.HTTPTimeout,
		MaxRedirects: redirects,
		Retries:      cfg.HTTPRetries,
		UserAgent:    cfg.UserAgent,
	})
	return client, &verify.Pipeline{
		ScratchDir: cfg.ScratchDir,
		Downloader: client,
		Limits: archive.Limits{
			MaxFiles:      cfg.Archive.MaxFiles,
			MaxFileBytes:  cfg.Archive.MaxFileBytes,
			MaxTotalBytes: cfg.Archive.MaxTotalBytes,
		},
		ExtensionsDir: extensionsDir,
		AssetBaseURL:  cfg.AssetBaseURL,
		KeepScratch:   cfg.KeepScratch,
	}
}

func runBuild(ctx context.Context, cfg *config.Config, out io.Writer) error {
	buildinfo.Log("extstore")
	logging.Info("extstore", "build starting",
		"extensions_dir", cfg.ExtensionsDir,
		"data_dir", cfg.DataDir,
		"concurrency", cfg.Concurrency,
		"redis", secrets.RedactURL(cfg.RedisURL),
		"nats", secrets.RedactURL(cfg.NatsURL),
		"pushgateway", secrets.RedactURL(cfg.PushgatewayURL),
	)

	var m metrics.Metrics = metrics.Noop{}
	if cfg.MetricsTextfile != "" || cfg.PushgatewayURL != "" {
		m = metrics.NewProm("extstore")
	}

	var idx *mirror.Mirror
	if cfg.RedisURL != "" {
		client, err := redisutil.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()

		held, err := locks.Hold(ctx, locks.NewRedisStore(client), indexLockResource, cfg.LockTTL)
		if err != nil {
			return err
		}
		defer func() {
			if held.Lost() {
				logging.Warn("extstore", "build lock was lost before release", "owner", held.Owner())
			}
			if err := held.Release(context.WithoutCancel(ctx)); err != nil {
				logging.Warn("extstore", "release build lock", "error", err)
			}
		}()
		idx = mirror.New(client)
	}

	fetcher, pipeline := newPipeline(cfg, cfg.ExtensionsDir)
	b := &reconcile.Builder{
		ExtensionsDir: cfg.ExtensionsDir,
		DataDir:       cfg.DataDir,
		BaseI18nDir:   cfg.BaseI18nDir,
		Concurrency:   cfg.Concurrency,
		Verifier:      pipeline,
		Fetcher:       fetcher,
		AssetBaseURL:  cfg.AssetBaseURL,
		Metrics:       m,
	}
	report, err := b.Run(ctx)
	if err != nil {
		return err
	}

	var generation int64
	if idx != nil {
		if generation, err = idx.Publish(ctx, report.Snapshot); err != nil {
			logging.Error("extstore", "mirror index", "error", err)
		}
	}
	if cfg.NatsURL != "" {
		notifyChanges(cfg, report)
	}
	if cfg.MetricsTextfile != "" {
		if err := metrics.WriteTextfile(cfg.MetricsTextfile); err != nil {
			logging.Error("extstore", "metrics textfile", "error", err)
		}
	}
	if cfg.PushgatewayURL != "" {
		if err := metrics.Push(ctx, cfg.PushgatewayURL, cfg.MetricsJob); err != nil {
			logging.Error("extstore", "metrics push", "error", err)
		}
	}

	printReport(out, report)
	if generation > 0 {
		fmt.Fprintf(out, "mirrored index generation %d\n", generation)
	}
	return nil
}

func notifyChanges(cfg *config.Config, report *reconcile.Report) {
	changed := report.Changed()
	if len(changed) == 0 {
		return
	}
	nb, err := bus.NewNatsBus(cfg.NatsURL, cfg.EventSubject)
	if err != nil {
		logging.Error("extstore", "connect event bus", "error", err)
		return
	}
	defer nb.Close()
	n := bus.NewNotifier(nb, cfg.EventSubject)
	for _, o := range changed {
		if _, err := n.Notify(string(o.Action), o.Record); err != nil {
			logging.Error("extstore", "publish change event", "id", o.ID, "error", err)
		}
	}
}

func printReport(out io.Writer, report *reconcile.Report) {
	counts := map[reconcile.Action]int{}
	for _, o := range report.Outcomes {
		counts[o.Action]++
	}
	fmt.Fprintf(out, "indexed %d extensions: %d inserted, %d updated, %d refreshed, %d unchanged, %d failed\n",
		len(report.Snapshot.List),
		counts[reconcile.ActionInsert],
		counts[reconcile.ActionUpdate],
		counts[reconcile.ActionRefresh],
		counts[reconcile.ActionUnchanged],
		len(report.Failures),
	)
	for _, f := range report.Failures {
		name := f.ID
		if name == "" {
			name = f.Dir
		}
		fmt.Fprintf(out, "  failed %s: %v\n", name, f.Err)
	}
}
