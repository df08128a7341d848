package main

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newStatusCommand().cmd)
}

type statusCommand struct {
	cmd     *cobra.Command
	socket  string
	timeout time.Duration
}

func newStatusCommand() *statusCommand {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the state of a running mixsync daemon",
		Args:  cobra.NoArgs,
	}
	out := &statusCommand{cmd: cmd}
	cmd.Flags().StringVar(&out.socket, "status-socket", "", "status socket of the running daemon")
	cmd.Flags().DurationVar(&out.timeout, "timeout", 2*time.Second, "connect and read timeout")
	_ = cmd.MarkFlagRequired("status-socket")
	cmd.RunE = out.run
	return out
}

func (cmd *statusCommand) run(c *cobra.Command, _ []string) error {
	snap, err := QueryStatus(ExpandPath(cmd.socket), cmd.timeout)
	if err != nil {
		return errors.Wrap(err, "error querying daemon")
	}
	enc := json.NewEncoder(c.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}
