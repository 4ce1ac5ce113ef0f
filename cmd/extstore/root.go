package main

import (
	"github.com/spf13/cobra"

	"github.com/any-listen/any-listen-extension-store/core/infra/config"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "extstore",
		Short:         "Build and maintain the extension store index",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default $"+config.EnvConfigPath+")")

	root.AddCommand(
		newBuildCmd(opts),
		newVerifyCmd(opts),
		newPackCmd(),
		newKeygenCmd(),
		newVersionCmd(),
	)
	return root
}

// loadConfig resolves the configuration and applies any flags set on cmd on
// top of it.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	str := func(name string, dst *string) {
		if flags.Lookup(name) != nil && flags.Changed(name) {
			*dst, _ = flags.GetString(name)
		}
	}
	str("extensions-dir", &cfg.ExtensionsDir)
	str("data-dir", &cfg.DataDir)
	str("i18n-dir", &cfg.BaseI18nDir)
	str("scratch-dir", &cfg.ScratchDir)
	str("asset-base-url", &cfg.AssetBaseURL)
	str("redis-url", &cfg.RedisURL)
	str("nats-url", &cfg.NatsURL)
	str("metrics-textfile", &cfg.MetricsTextfile)
	str("pushgateway-url", &cfg.PushgatewayURL)
	if flags.Lookup("concurrency") != nil && flags.Changed("concurrency") {
		cfg.Concurrency, _ = flags.GetInt("concurrency")
	}
	if flags.Lookup("keep-scratch") != nil && flags.Changed("keep-scratch") {
		cfg.KeepScratch, _ = flags.GetBool("keep-scratch")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
