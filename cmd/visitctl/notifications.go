package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/drfirst/visitdesk/internal/infrastructure/redpanda"
)

func notificationsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "Tail toast notifications published by visit views",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fromStart, _ := cmd.Flags().GetBool("from-beginning")
			staff, _ := cmd.Flags().GetString("staff")

			ccfg := redpanda.DefaultConsumerConfig()
			ccfg.Brokers = a.cfg.KafkaBrokers
			if fromStart {
				ccfg.StartOffset = "earliest"
			}

			consumer, err := redpanda.NewConsumer(ccfg, printNotification(cmd.OutOrStdout(), staff), a.logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			consumer.Start()
			<-ctx.Done()
			err = consumer.Stop()
			stats := consumer.Stats()
			a.logger.Debug("notification consumer stopped",
				zap.Int64("read", stats.MessagesRead),
				zap.Int64("errors", stats.ErrorCount))
			return err
		},
	}
	cmd.Flags().Bool("from-beginning", false, "Replay retained notifications")
	cmd.Flags().String("staff", "", "Only show notifications for this staff id")
	return cmd
}

// printNotification writes one line per notice, skipping other staff when filtered
func printNotification(w io.Writer, staff string) redpanda.MessageHandler {
	return func(_ context.Context, msg *redpanda.ConsumedMessage) error {
		n, err := redpanda.DecodeNotification(msg)
		if err != nil {
			return err
		}
		if staff != "" && n.StaffID != staff {
			return nil
		}
		who := n.StaffID
		if who == "" {
			who = "-"
		}
		_, err = fmt.Fprintf(w, "%s  %-5s  %-12s  %s\n", n.At.Format("2006-01-02 15:04:05"), n.Level, who, n.Message)
		return err
	}
}
