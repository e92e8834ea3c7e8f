package main

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/PiotrGNN/kraken/internal/api"
	"github.com/PiotrGNN/kraken/internal/environment"
	"github.com/PiotrGNN/kraken/pkg/config"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "kraken",
		Short:         "Crypto futures trading agent with exchange failover and testnet promotion",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			config.ConfigureLogging(cfg.LogLevel, cfg.LogFormat)
			cmd.SetContext(withConfig(cmd.Context(), cfg))
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), configFrom(cmd.Context()))
		},
	}
	root.AddCommand(newServeCmd(), newEnvCmd(), newTokenCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the trading agent, scheduler and API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), configFrom(cmd.Context()))
		},
	}
}

func newEnvCmd() *cobra.Command {
	env := &cobra.Command{
		Use:   "env",
		Short: "Inspect or change the persisted trading environment",
	}
	env.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the environment state",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := environment.New(envSettings(configFrom(cmd.Context())))
			out, err := json.MarshalIndent(mgr.GetStatus(), "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	})
	env.AddCommand(&cobra.Command{
		Use:   "switch [testnet|mainnet]",
		Short: "Switch the persisted environment; toggles without an argument",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var target environment.Environment
			if len(args) == 1 {
				env, err := environment.Parse(args[0])
				if err != nil {
					return err
				}
				target = env
			}
			mgr := environment.New(envSettings(configFrom(cmd.Context())))
			if !mgr.SwitchEnvironment(target) {
				fmt.Fprintf(cmd.OutOrStdout(), "no change, environment is %s\n", mgr.Current())
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "environment switched to %s\n", mgr.Current())
			return nil
		},
	})
	return env
}

func newTokenCmd() *cobra.Command {
	var ttl time.Duration
	var operator string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an operator bearer token for the mutating API routes",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := api.GenerateToken(operator, configFrom(cmd.Context()).JWTSecret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	cmd.Flags().StringVar(&operator, "operator", "operator", "operator name embedded in the token")
	return cmd
}
