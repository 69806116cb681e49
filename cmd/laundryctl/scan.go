package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tphummel/laundry_scan/internal/models"
	"github.com/tphummel/laundry_scan/internal/qr"
	"github.com/tphummel/laundry_scan/internal/scanner"
	"go.uber.org/zap"
)

var errNoSelection = errors.New("no machine selected")

type scanOptions struct {
	images      []string
	serviceType string
	timeout     time.Duration
	interval    time.Duration
	yes         bool
}

func newScanCmd(a *app) *cobra.Command {
	var opts scanOptions
	cmd := &cobra.Command{
		Use:   "scan --image FILE...",
		Short: "Scan a machine QR code and start a laundry order",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			return runScan(cmd.Context(), opts, client, a.slogger(cmd), a.log, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringSliceVar(&opts.images, "image", nil, "image file(s) used as camera frames")
	cmd.Flags().StringVar(&opts.serviceType, "service", models.DefaultServiceType, "service type")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "how long to wait for a QR code")
	cmd.Flags().DurationVar(&opts.interval, "interval", qr.DefaultInterval, "pause between decode attempts")
	cmd.Flags().BoolVarP(&opts.yes, "yes", "y", false, "start the order without prompting")
	cmd.MarkFlagRequired("image") //nolint:errcheck
	return cmd
}

// runScan drives one scanner session: scan until a machine is selected,
// then confirm or cancel.
func runScan(ctx context.Context, opts scanOptions, backend scanner.Backend, slogger *slog.Logger, log *zap.Logger, in io.Reader, out io.Writer) error {
	notes := make(chan scanner.Notification, 4)
	sess := scanner.New(scanner.Config{
		NewDecoder: func() scanner.Decoder {
			return qr.NewFrameDecoder(qr.NewFileCamera(opts.images...), opts.interval, slogger)
		},
		Backend:     backend,
		Notifier:    scanner.NotifierFunc(func(n scanner.Notification) { notes <- n }),
		ServiceType: opts.serviceType,
		Logger:      slogger,
	})
	defer sess.Close()

	log.Debug("scanning", zap.Strings("images", opts.images))
	if err := sess.StartScanning(ctx); err != nil {
		drain(out, notes)
		return err
	}

	select {
	case n := <-notes:
		printNotification(out, n)
	case <-time.After(opts.timeout):
		return fmt.Errorf("no QR code found within %s", opts.timeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	st := sess.Snapshot()
	if st.View != scanner.ViewConfirm {
		return errNoSelection
	}
	m := st.Machine
	log.Debug("machine selected", zap.String("machine_id", m.ID), zap.String("name", m.Name))

	if !opts.yes && !prompt(in, out, fmt.Sprintf("Start %s on %s (%s)? [y/N] ", opts.serviceType, m.Name, m.Type)) {
		if err := sess.Cancel(); err != nil {
			return err
		}
		fmt.Fprintln(out, "Cancelled.")
		return nil
	}

	o, err := sess.Confirm(ctx)
	drain(out, notes)
	if err != nil {
		return err
	}
	log.Info("order started", zap.String("order_id", o.ID), zap.String("machine_id", o.MachineID))
	fmt.Fprintf(out, "Order %s\n", o.ID)
	return nil
}

func prompt(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprint(out, question)
	line, _ := bufio.NewReader(in).ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

// drain prints notifications already delivered. Session operations notify
// before they return, so nothing is pending afterwards.
func drain(w io.Writer, notes <-chan scanner.Notification) {
	for {
		select {
		case n := <-notes:
			printNotification(w, n)
		default:
			return
		}
	}
}

func printNotification(w io.Writer, n scanner.Notification) {
	prefix := ""
	if n.Variant == scanner.VariantDestructive {
		prefix = "! "
	}
	fmt.Fprintf(w, "%s%s\n  %s\n", prefix, n.Title, n.Description)
}
