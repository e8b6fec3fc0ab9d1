package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/deskctl/scanner"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for nearby desks",
	Long: `Scan for motorized desks advertising over Bluetooth LE.

Desks are recognized by the Linak control service in their advertisement or
by the factory-default "Desk" name prefix. Use --all to list every BLE
advertiser instead.`,
	RunE: runScan,
}

var (
	scanDuration  time.Duration
	scanFormat    string
	scanAllowList []string
	scanBlockList []string
	scanAll       bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration (0 for indefinite)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().StringSliceVar(&scanAllowList, "allow", nil, "Only show desks with these addresses")
	scanCmd.Flags().StringSliceVar(&scanBlockList, "block", nil, "Hide desks with these addresses")
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "Show every BLE advertiser, not just desks")
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be table or json", scanFormat)
	}

	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	s, err := scanner.NewScanner(logger)
	if err != nil {
		return fmt.Errorf("failed to create scanner: %w", err)
	}

	scanOpts := &scanner.ScanOptions{
		Duration:   scanDuration,
		AllowList:  scanAllowList,
		BlockList:  scanBlockList,
		AllDevices: scanAll,
	}

	ctx, stop := signalContext()
	defer stop()

	progress := NewCountdownProgressPrinter("Scanning for desks", "Scanning", scanDuration, "Processing results")
	progress.Start()
	defer progress.Stop()

	desks, err := s.Scan(ctx, scanOpts, progress.Callback())
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	progress.Stop()

	return displayDesks(desks)
}

func displayDesks(desks map[string]scanner.DeskInfo) error {
	if len(desks) == 0 {
		fmt.Println("No desks discovered")
		return nil
	}

	list := make([]scanner.DeskInfo, 0, len(desks))
	for _, d := range desks {
		list = append(list, d)
	}
	// Nearest first
	sort.Slice(list, func(i, j int) bool {
		return list[i].RSSI > list[j].RSSI
	})

	if scanFormat == "json" {
		return displayDesksJSON(os.Stdout, list)
	}
	return displayDesksTable(os.Stdout, list)
}

func displayDesksTable(out io.Writer, desks []scanner.DeskInfo) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tLAST SEEN")
	fmt.Fprintln(w, strings.Repeat("-", 60))

	for _, d := range desks {
		name := d.Name
		if name == "" {
			name = "(unnamed)"
		}
		lastSeen := time.Since(d.LastSeen).Truncate(time.Second)
		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%s ago\n", name, d.Address, d.RSSI, lastSeen)
	}

	return w.Flush()
}

func displayDesksJSON(out io.Writer, desks []scanner.DeskInfo) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(desks)
}
