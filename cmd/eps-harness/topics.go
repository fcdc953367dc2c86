package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/drfirst/go-eps/internal/config"
	"github.com/drfirst/go-eps/internal/infrastructure/redpanda"
)

func topicsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "topics",
		Short: "Manage broker topics",
	}

	ensureCmd := &cobra.Command{
		Use:   "ensure",
		Short: "Create the outbound, inbound and dead letter topics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			admin, err := redpanda.NewAdmin(cfg.KafkaBrokers, logger)
			if err != nil {
				return err
			}
			defer admin.Close()

			if err := admin.EnsureTopics(ctx, redpanda.TopicConfigs(cfg.OutboundTopic, cfg.InboundTopic)); err != nil {
				return err
			}
			topics, err := admin.ListTopics(ctx)
			if err != nil {
				return err
			}
			for _, t := range topics {
				fmt.Fprintln(cmd.OutOrStdout(), t)
			}
			return nil
		},
	}

	var group string
	lagCmd := &cobra.Command{
		Use:   "lag",
		Short: "Show the inbound consumer group lag per topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			if group == "" {
				group = cfg.ConsumerGroup
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			admin, err := redpanda.NewAdmin(cfg.KafkaBrokers, logger)
			if err != nil {
				return err
			}
			defer admin.Close()

			lag, err := admin.GroupLag(ctx, group)
			if err != nil {
				return err
			}
			topics := make([]string, 0, len(lag))
			for t := range lag {
				topics = append(topics, t)
			}
			sort.Strings(topics)
			for _, t := range topics {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d\n", group, t, lag[t])
			}
			return nil
		},
	}
	lagCmd.Flags().StringVar(&group, "group", "", "consumer group (default CONSUMER_GROUP)")

	cmd.AddCommand(ensureCmd, lagCmd)
	return cmd
}
