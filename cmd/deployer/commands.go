package main

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"

	"github.com/axetrading/evm-deployer/internal/config"
	"github.com/axetrading/evm-deployer/internal/deployer"
	"github.com/axetrading/evm-deployer/internal/logging"
	"github.com/axetrading/evm-deployer/internal/record"
)

type rootOptions struct {
	configFile string
	logLevel   string
	network    string
	logger     *logging.Logger
}

func newRootCmd() *cobra.Command {
	return buildRootCmd(&rootOptions{})
}

func buildRootCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "deployer",
		Short:         "Deploy compiled contracts to EVM networks.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := logging.New(opts.logLevel)
			if err != nil {
				return err
			}
			opts.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.logger != nil {
				opts.logger.Sync()
			}
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default is ./deployer.yaml)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVarP(&opts.network, "network", "n", "", "network to use (default is the configured defaultNetwork)")

	cmd.AddCommand(newDeployCmd(opts))
	cmd.AddCommand(newCallCmd(opts))
	cmd.AddCommand(newNetworksCmd(opts))
	return cmd
}

func (o *rootOptions) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	return config.Load(cmd, o.configFile)
}

func addArtifactFlags(cmd *cobra.Command, src *deployer.ArtifactSource) {
	cmd.Flags().StringVar(&src.Dir, "artifacts", "artifacts", "hardhat artifacts directory")
	cmd.Flags().StringVar(&src.Bundle, "artifact-bundle", "", "zipped artifacts bundle at s3://bucket/key")
	cmd.Flags().StringVar(&src.Source, "compile", "", "compile this solidity file with solc instead of reading artifacts")
	cmd.Flags().StringVar(&src.Solc, "solc", "", "solc binary (default is solc on PATH)")
}

func newDeployCmd(opts *rootOptions) *cobra.Command {
	inputs := &deployer.Inputs{}
	cmd := &cobra.Command{
		Use:   "deploy [contract]",
		Short: "Deploy a contract and print its address",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs.Contract = deployer.DefaultContract
			if len(args) == 1 {
				inputs.Contract = args[0]
			}
			inputs.Network = opts.network
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			return deployer.Main(cmd.Context(), inputs, cfg, opts.logger, cmd.OutOrStdout())
		},
	}
	addArtifactFlags(cmd, &inputs.ArtifactSource)
	cmd.Flags().StringArrayVar(&inputs.Args, "arg", nil, "constructor argument, repeat in order")
	cmd.Flags().DurationVar(&inputs.Timeout, "timeout", 5*time.Minute, "give up waiting for the deployment after this long")
	cmd.Flags().StringVar(&inputs.Records, "records", "deployments", "directory or s3://bucket/prefix for deployment records, empty to disable")
	cmd.Flags().StringVar(&inputs.ReportURL, "report-url", "", "webhook receiving the deployment record")
	cmd.Flags().IntVar(&inputs.ReportAttempts, "report-attempts", deployer.DefaultReportAttempts, "give up reporting after this many attempts")
	return cmd
}

func newCallCmd(opts *rootOptions) *cobra.Command {
	var (
		src     deployer.ArtifactSource
		address string
		records string
	)
	cmd := &cobra.Command{
		Use:   "call <contract> <method> [args...]",
		Short: "Call a read-only method of a deployed contract",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			contract, method := args[0], args[1]
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			network, err := cfg.Network(opts.network)
			if err != nil {
				return err
			}
			a, err := deployer.LoadArtifact(ctx, src, contract, cfg.Solidity, opts.logger)
			if err != nil {
				return err
			}

			var target common.Address
			if address != "" {
				if !common.IsHexAddress(address) {
					return fmt.Errorf("invalid address %q", address)
				}
				target = common.HexToAddress(address)
			} else {
				store, err := record.OpenStore(ctx, records)
				if err != nil {
					return err
				}
				d, err := store.Get(ctx, network.Name, contract)
				if err != nil {
					return fmt.Errorf("no --address given and %w", err)
				}
				target = d.Address
			}

			client, err := ethclient.DialContext(ctx, network.URL)
			if err != nil {
				return fmt.Errorf("failed to connect to %s: %w", network.Name, err)
			}
			defer client.Close()

			opts.logger.Debug("calling contract", "contract", contract, "method", method, "address", target.Hex(), "network", network.Name)
			out, err := deployer.Call(ctx, client, a, target, method, args[2:])
			if err != nil {
				return err
			}
			for _, v := range out {
				fmt.Fprintln(cmd.OutOrStdout(), deployer.FormatValue(v))
			}
			return nil
		},
	}
	addArtifactFlags(cmd, &src)
	cmd.Flags().StringVar(&address, "address", "", "contract address (default is the recorded deployment)")
	cmd.Flags().StringVar(&records, "records", "deployments", "directory or s3://bucket/prefix with deployment records")
	return cmd
}

func newNetworksCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "networks",
		Short: "List configured networks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig(cmd)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, name := range cfg.NetworkNames() {
				n := cfg.Networks[name]
				marker := " "
				if name == cfg.DefaultNetwork {
					marker = "*"
				}
				url := n.URL
				if url == "" {
					url = "-"
				}
				fmt.Fprintf(w, "%s %-12s chain=%-10d accounts=%d %s\n", marker, name, n.ChainID, len(n.Accounts), url)
			}
			return nil
		},
	}
}
