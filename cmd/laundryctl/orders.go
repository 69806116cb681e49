package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newOrdersCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "orders",
		Short: "List your laundry orders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			orders, err := client.ListOrders(cmd.Context())
			if err != nil {
				return err
			}
			a.log.Debug("orders listed", zap.Int("count", len(orders)))

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tMACHINE\tSERVICE\tSTATUS\tSTARTED\tREADY")
			for _, o := range orders {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					o.ID, o.MachineID, o.ServiceType, o.Status,
					o.StartedAt.Local().Format(time.DateTime),
					o.EstimatedCompletion.Local().Format(time.Kitchen))
			}
			return tw.Flush()
		},
	}
}

func newQRCmd(a *app) *cobra.Command {
	var (
		output string
		size   int
	)
	cmd := &cobra.Command{
		Use:   "qr MACHINE_ID",
		Short: "Download a machine's printable QR code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.adminClient()
			if err != nil {
				return err
			}
			png, err := client.MachineQRCode(cmd.Context(), args[0], size)
			if err != nil {
				return err
			}
			if output == "" {
				output = args[0] + ".png"
			}
			if err := os.WriteFile(output, png, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", output, err)
			}
			a.log.Info("qr code written", zap.String("path", output))
			fmt.Fprintln(cmd.OutOrStdout(), output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default MACHINE_ID.png)")
	cmd.Flags().IntVar(&size, "size", 256, "image size in pixels")
	return cmd
}
