package main

import (
	"github.com/spf13/cobra"

	"github.com/sebdeveloper6952/gobuffet/config"
)

func newAnnounceCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "announce",
		Short: "Publish the service offerings once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}

			var cl closers
			defer cl.close()

			reg, err := newRegistry(cfg.Services, newHTTPClient())
			if err != nil {
				return err
			}
			announcer, err := newAnnouncer(cfg, reg, logger, &cl)
			if err != nil {
				return err
			}
			if err := announcer.Announce(cmd.Context()); err != nil {
				return err
			}
			cmd.Printf("announced %d services as %s\n", len(reg.Services()), announcer.PublicKey())
			return nil
		},
	}
}
