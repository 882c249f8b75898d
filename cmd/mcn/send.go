package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/motor-control/mcn/internal/drive"
	"github.com/motor-control/mcn/internal/transport"
)

var sendCmd = &cobra.Command{
	Use:   "send <command> [speed]",
	Short: "Send one command to a node",
	Long: `Sends a single command line, for example "mcn send forward 150" or
"mcn send stop". Keywords are case-insensitive here and sent upper-case.

The acknowledgment reports the duty the node applied, which can differ from
the requested speed: turns may run at the node's fixed turn speed.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	addClientFlags(sendCmd)
	sendCmd.Flags().Duration("ack-timeout", time.Second, "how long to wait for an acknowledgment (0 disables)")
}

// addClientFlags registers the connection flags shared by send and drive.
func addClientFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("transport", "t", transport.NameUDP, "transport: udp, tcp or ws")
	cmd.Flags().StringP("addr", "a", "", "node address (default depends on transport)")
	cmd.Flags().Duration("dial-timeout", 3*time.Second, "connection timeout")
}

// defaultAddr returns the node's default listen address for kind.
func defaultAddr(kind string) string {
	switch kind {
	case transport.NameTCP:
		return "127.0.0.1:8023"
	case transport.NameWS:
		return "127.0.0.1:8080"
	default:
		return "127.0.0.1:4210"
	}
}

// dialFromFlags connects with the shared client flags.
func dialFromFlags(cmd *cobra.Command) (*transport.Client, error) {
	kind, _ := cmd.Flags().GetString("transport")
	addr, _ := cmd.Flags().GetString("addr")
	timeout, _ := cmd.Flags().GetDuration("dial-timeout")
	if addr == "" {
		addr = defaultAddr(kind)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	return transport.Dial(ctx, kind, addr)
}

// commandLine validates a keyword and optional speed and renders the wire line.
func commandLine(args []string) (string, error) {
	if len(args) == 0 {
		return "", errors.New("missing command")
	}
	keyword := strings.ToUpper(args[0])
	if _, ok := drive.ParseDirection(keyword); !ok {
		return "", fmt.Errorf("unknown command %q (want one of forward, backward, left, right, stop)", args[0])
	}
	if len(args) == 1 {
		return keyword, nil
	}

	speed, err := strconv.Atoi(args[1])
	if err != nil || speed < 0 || speed > drive.MaxDuty {
		return "", fmt.Errorf("speed must be an integer between 0 and %d", drive.MaxDuty)
	}
	return fmt.Sprintf("%s %d", keyword, speed), nil
}

func runSend(cmd *cobra.Command, args []string) error {
	line, err := commandLine(args)
	if err != nil {
		return err
	}

	c, err := dialFromFlags(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Send(line); err != nil {
		return fmt.Errorf("send %q: %w", line, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Sent %q over %s\n", line, c.Transport())

	ackTimeout, _ := cmd.Flags().GetDuration("ack-timeout")
	if ackTimeout <= 0 {
		return nil
	}
	ack, err := c.Ack(ackTimeout)
	switch {
	case errors.Is(err, transport.ErrNoAck):
		fmt.Fprintln(cmd.OutOrStdout(), "No acknowledgment received")
	case err != nil:
		return err
	default:
		fmt.Fprintln(cmd.OutOrStdout(), ack)
		if note := ackNote(line, ack); note != "" {
			fmt.Fprintln(cmd.OutOrStdout(), note)
		}
	}
	return nil
}

// ackNote explains an ack whose applied duty differs from the requested speed.
func ackNote(line, ack string) string {
	fields := strings.Fields(line)
	if len(fields) != 2 || fields[0] == drive.Stop.String() {
		return ""
	}
	requested, err := strconv.Atoi(fields[1])
	if err != nil {
		return ""
	}
	applied, ok := drive.AckSpeed(ack)
	if !ok || int(applied) == requested {
		return ""
	}
	return fmt.Sprintf("Note: node applied duty %d, requested speed was %d", applied, requested)
}
