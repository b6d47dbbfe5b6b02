package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/devghori1264/agingwms/internal/gateway"
	"github.com/spf13/cobra"
)

var (
	natsURL  = "nats://localhost:4222"
	grpcAddr string
	timeout  = 15 * time.Second
)

func main() {
	if err := newRootCmd(dial).Execute(); err != nil {
		os.Exit(1)
	}
}

// dialFunc opens the transport selected by the global flags.
type dialFunc func(ctx context.Context) (transport, error)

func newRootCmd(d dialFunc) *cobra.Command {
	root := &cobra.Command{
		Use:          "agingctl",
		Short:        "Operate aging jobs and slot inventory",
		SilenceUsage: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&natsURL, "nats", natsURL, "NATS server URL")
	pf.StringVar(&grpcAddr, "grpc", "", "talk gRPC to this agingd address instead of NATS")
	pf.DurationVar(&timeout, "timeout", timeout, "request timeout")

	root.AddCommand(
		newStartCmd(d),
		slotCmd(d, "pause <slot>", "Pause the job running on a slot", gateway.CmdPauseJob),
		slotCmd(d, "resume <slot>", "Resume a paused job", gateway.CmdResumeJob),
		slotCmd(d, "get <slot>", "Show a slot", gateway.CmdGetSlot),
		newStopCmd(d),
		newWriteCmd(d),
		newMoveCmd(d),
		newClearCmd(d),
		newListCmd(d),
		newWatchCmd(d),
	)
	return root
}

// invoke runs one command and prints its result as JSON. A failed result
// makes the process exit non-zero.
func invoke(cmd *cobra.Command, d dialFunc, command string, payload any) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	t, err := d(ctx)
	if err != nil {
		return err
	}
	defer t.Close()

	res, err := t.Call(ctx, command, payload)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("%s failed: %w", command, res.Err())
	}
	return nil
}
