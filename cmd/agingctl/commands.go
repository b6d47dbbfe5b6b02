package main

import (
	"bytes"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/devghori1264/agingwms/internal/gateway"
	"github.com/devghori1264/agingwms/internal/models"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newStartCmd(d dialFunc) *cobra.Command {
	var file, batch string
	cmd := &cobra.Command{
		Use:   "start <slot> -f job.yaml",
		Short: "Start an aging job described by a YAML job file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := loadJob(file)
			if err != nil {
				return err
			}
			spec.SlotID = args[0]
			if batch != "" {
				spec.BatchID = batch
			}
			return invoke(cmd, d, gateway.CmdStartJob, spec)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "job file with a steps list")
	cmd.Flags().StringVar(&batch, "batch", "", "batch id override")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func slotCmd(d dialFunc, use, short, command string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return invoke(cmd, d, command, gateway.SlotRequest{SlotID: args[0]})
		},
	}
}

func newStopCmd(d dialFunc) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "stop <slot>",
		Short: "Stop the job on a slot and fault it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return invoke(cmd, d, gateway.CmdStopJob, gateway.StopRequest{SlotID: args[0], Reason: reason})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded on the fault event")
	return cmd
}

func newWriteCmd(d dialFunc) *cobra.Command {
	var (
		tray  string
		file  string
		cells []string
	)
	cmd := &cobra.Command{
		Use:   "write <slot>",
		Short: "Load a tray and its cells into a slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := gateway.WriteRequest{SlotID: args[0], TrayBarcode: tray}
			if file != "" {
				tf, err := loadTray(file)
				if err != nil {
					return err
				}
				if req.TrayBarcode == "" {
					req.TrayBarcode = tf.TrayBarcode
				}
				req.Cells = tf.Cells
			}
			for _, s := range cells {
				c, err := parseCell(s)
				if err != nil {
					return err
				}
				req.Cells = append(req.Cells, c)
			}
			return invoke(cmd, d, gateway.CmdWriteSlot, req)
		},
	}
	cmd.Flags().StringVar(&tray, "tray", "", "tray barcode")
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML file with tray_barcode and cells")
	cmd.Flags().StringArrayVar(&cells, "cell", nil, "cell as BARCODE:CHANNEL[:reject], repeatable")
	return cmd
}

func newMoveCmd(d dialFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "move <source> <target>",
		Short: "Move a tray and its cells to an empty slot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return invoke(cmd, d, gateway.CmdMoveSlot, gateway.MoveRequest{SourceID: args[0], TargetID: args[1]})
		},
	}
}

func newClearCmd(d dialFunc) *cobra.Command {
	var purge bool
	cmd := &cobra.Command{
		Use:   "clear <slot>",
		Short: "Empty a slot, aborting any job on it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return invoke(cmd, d, gateway.CmdClearSlot, gateway.ClearRequest{SlotID: args[0], Purge: purge})
		},
	}
	cmd.Flags().BoolVar(&purge, "purge", false, "delete the slot record as well")
	return cmd
}

func newListCmd(d dialFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every slot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return invoke(cmd, d, gateway.CmdListSlots, nil)
		},
	}
}

func newWatchCmd(d dialFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [slot]",
		Short: "Stream telemetry and step-state events until interrupted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			t, err := d(ctx)
			if err != nil {
				return err
			}
			defer t.Close()
			slot := ""
			if len(args) == 1 {
				slot = args[0]
			}
			out := cmd.OutOrStdout()
			return t.Watch(ctx, slot, func(kind string, data []byte) {
				fmt.Fprintf(out, "%s %s\n", kind, bytes.TrimSpace(data))
			})
		},
	}
}

func loadJob(path string) (models.JobSpec, error) {
	var spec models.JobSpec
	b, err := os.ReadFile(path)
	if err != nil {
		return spec, err
	}
	if err := yaml.Unmarshal(b, &spec); err != nil {
		return spec, fmt.Errorf("%s: %w", path, err)
	}
	if len(spec.Steps) == 0 {
		return spec, fmt.Errorf("%s: no steps", path)
	}
	return spec, nil
}

type trayFile struct {
	TrayBarcode string              `yaml:"tray_barcode"`
	Cells       []gateway.CellInput `yaml:"cells"`
}

func loadTray(path string) (trayFile, error) {
	var tf trayFile
	b, err := os.ReadFile(path)
	if err != nil {
		return tf, err
	}
	if err := yaml.Unmarshal(b, &tf); err != nil {
		return tf, fmt.Errorf("%s: %w", path, err)
	}
	return tf, nil
}

// parseCell reads BARCODE:CHANNEL with an optional :reject suffix.
func parseCell(s string) (gateway.CellInput, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" {
		return gateway.CellInput{}, fmt.Errorf("cell %q: want BARCODE:CHANNEL[:reject]", s)
	}
	ch, err := strconv.Atoi(parts[1])
	if err != nil {
		return gateway.CellInput{}, fmt.Errorf("cell %q: channel: %w", s, err)
	}
	c := gateway.CellInput{Barcode: parts[0], ChannelIndex: ch}
	if len(parts) == 3 {
		if parts[2] != "reject" {
			return gateway.CellInput{}, fmt.Errorf("cell %q: unknown flag %q", s, parts[2])
		}
		c.Reject = true
	}
	return c, nil
}
