package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/agentworkforce/courierlink/internal/intent"
	"github.com/agentworkforce/courierlink/internal/intentstore"
	"github.com/agentworkforce/courierlink/internal/kvstore"
	"github.com/spf13/cobra"
)

var allPurposes = []intent.Purpose{intent.PurposeGeneric, intent.PurposePostAuthorization}

func newPendingCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Inspect or clear pending navigation records",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "Show pending records; expired records are removed",
			RunE: func(cmd *cobra.Command, args []string) error {
				return c.withPendingStore(func(store *intentstore.Store) error {
					return c.listPending(cmd.Context(), store)
				})
			},
		},
		&cobra.Command{
			Use:   "clear [generic|post-authorization|all]",
			Short: "Remove pending records",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				purposes := allPurposes
				if len(args) == 1 && args[0] != "all" {
					purpose, ok := intent.ParsePurpose(args[0])
					if !ok {
						return fmt.Errorf("unknown purpose %q", args[0])
					}
					purposes = []intent.Purpose{purpose}
				}
				return c.withPendingStore(func(store *intentstore.Store) error {
					var errs []error
					for _, purpose := range purposes {
						if err := store.Clear(cmd.Context(), purpose); err != nil {
							errs = append(errs, err)
							continue
						}
						c.printf("cleared %s\n", purpose)
					}
					return errors.Join(errs...)
				})
			},
		},
	)
	return cmd
}

func (c *cli) withPendingStore(fn func(*intentstore.Store) error) error {
	kv, err := kvstore.BuildFromDSN(c.cfg.Storage.DSN)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer kv.Close()
	store, err := intentstore.New(kv, intentstore.WithTTL(c.cfg.Navigation.PendingTTL), intentstore.WithLogger(c.logger))
	if err != nil {
		return err
	}
	return fn(store)
}

func (c *cli) listPending(ctx context.Context, store *intentstore.Store) error {
	for _, purpose := range allPurposes {
		record, err := store.Load(ctx, purpose)
		if err != nil {
			return err
		}
		if record == nil {
			c.printf("%-20s -\n", purpose)
			continue
		}
		age := time.Since(record.CapturedTime()).Truncate(time.Second)
		c.printf("%-20s %s captured %s ago via %s\n", purpose, record.TargetID, age, record.Source)
	}
	return nil
}
