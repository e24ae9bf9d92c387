package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"incidentwatch/internal/config"
	"incidentwatch/internal/crypto"
	"incidentwatch/internal/diagnosis"
	"incidentwatch/internal/fleet"
	"incidentwatch/internal/incidents"
)

const timeLayout = "2006-01-02 15:04:05"

func newScanCmd(opts *options) *cobra.Command {
	var (
		device      string
		threshold   float64
		minDuration string
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List incidents over one or all devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, svc, err := opts.open(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			q := cfg.DefaultQuery()
			q.DeviceID = device
			if cmd.Flags().Changed("threshold") {
				q.Threshold = threshold
			}
			if minDuration != "" {
				d, err := config.ParseDuration(minDuration)
				if err != nil {
					return fmt.Errorf("--min-duration: %w", err)
				}
				q.MinDuration = d
			}
			found, err := svc.ListIncidents(cmd.Context(), q)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return printJSON(out, found)
			}
			if len(found) == 0 {
				fmt.Fprintln(out, "no incidents")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DEVICE\tSTART\tEND\tDURATION\tMAX\tSENSORS\tEVENTS")
			for _, inc := range found {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.2f\t%d\t%d\n",
					inc.DeviceID,
					inc.Start.Format(timeLayout),
					inc.End.Format(timeLayout),
					inc.Duration,
					inc.MaxScore,
					len(inc.SensorAnomalies),
					len(inc.Events),
				)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&device, "device", "", "Device id; empty scans every device")
	cmd.Flags().Float64Var(&threshold, "threshold", 1.0, "Strict lower bound on the aggregate score")
	cmd.Flags().StringVar(&minDuration, "min-duration", "", "Minimum incident duration (4m, PT4M or minutes)")
	return cmd
}

func newDiagnoseCmd(opts *options) *cobra.Command {
	var device, start, end string
	cmd := &cobra.Command{
		Use:   "diagnose",
		Short: "Diagnose one device over a time window",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := incidents.WindowQuery{DeviceID: device}
			var err error
			if q.Start, err = fleet.ParseTimestamp(start); err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			if q.End, err = fleet.ParseTimestamp(end); err != nil {
				return fmt.Errorf("--end: %w", err)
			}
			_, svc, err := opts.open(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			report, err := svc.DiagnoseWindow(cmd.Context(), q)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if report == nil {
				fmt.Fprintln(out, "no score points in window")
				return nil
			}
			if opts.jsonOutput {
				return printJSON(out, report)
			}
			fmt.Fprintf(out, "%s  %s .. %s\n\n", report.DeviceID, report.Start.Format(timeLayout), report.End.Format(timeLayout))
			fmt.Fprintln(out, strings.Join(diagnosis.Render(report.Diagnosis), "\n"))
			return nil
		},
	}
	cmd.Flags().StringVar(&device, "device", "", "Device id")
	cmd.Flags().StringVar(&start, "start", "", "Window start")
	cmd.Flags().StringVar(&end, "end", "", "Window end")
	_ = cmd.MarkFlagRequired("device")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func newSummaryCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Show what the configured source contains",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, svc, err := opts.open(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			summary := svc.Summary()
			devices := svc.Devices()
			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return printJSON(out, map[string]any{"summary": summary, "devices": devices})
			}
			fmt.Fprintf(out, "records: %d  devices: %d  events: %d  actions: %d\n", summary.Records, summary.Devices, summary.Events, summary.Actions)
			if summary.Records > 0 {
				fmt.Fprintf(out, "range:   %s .. %s\n", summary.Start.Format(timeLayout), summary.End.Format(timeLayout))
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DEVICE\tPOINTS\tEVENTS\tFIRST\tLAST")
			for _, d := range devices {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n", d.DeviceID, d.Points, d.Events, d.First.Format(timeLayout), d.Last.Format(timeLayout))
			}
			return tw.Flush()
		},
	}
}

// newSealCmd encrypts a source password for source.encryptedPassword.
func newSealCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seal-password",
		Short: "Encrypt a database password with ENCRYPTION_KEY (read from stdin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			key := os.Getenv("ENCRYPTION_KEY")
			box, err := crypto.NewSecretBox([]byte(key))
			if err != nil {
				return fmt.Errorf("ENCRYPTION_KEY: %w", err)
			}
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			password := strings.TrimRight(line, "\r\n")
			if password == "" {
				if err != nil {
					return fmt.Errorf("read password: %w", err)
				}
				return errors.New("empty password")
			}
			sealed, err := box.Seal(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sealed)
			return nil
		},
	}
}
