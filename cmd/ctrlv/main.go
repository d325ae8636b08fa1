package main

import (
	"ctrlv/cfg"
	"ctrlv/svc/util"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	envFile string
	conf    *cfg.Cfg
)

var rootCmd = &cobra.Command{
	Use:           "ctrlv",
	Short:         "paste store service",
	Long:          `ctrlv stores text pastes with expiry, custom URLs and search. Run without a subcommand to serve the HTTP API.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initialize(cmd)
	},
	RunE: runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
}
func initialize(cmd *cobra.Command) error {
	if err := godotenv.Load(envFile); err != nil {
		if cmd.Flags().Changed("env-file") || !errors.Is(err, os.ErrNotExist) {
			return errors.Wrapf(err, "load %s", envFile)
		}
	}
	c, err := cfg.Load()
	if err != nil {
		return errors.Wrap(err, "load configuration")
	}
	if err := cfg.Validate(c); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	conf = c
	util.InitLog(c.LogLevel, c.Environment == "development")
	return nil
}
func main() {
	err := rootCmd.Execute()
	if conf != nil {
		conf.Wipe()
	}
	if err != nil {
		util.Error().Err(err).Msg("ctrlv exited with error")
		fmt.Fprintln(os.Stderr, "ctrlv:", err)
		os.Exit(1)
	}
}
