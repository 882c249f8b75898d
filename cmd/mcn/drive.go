package main

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/abiosoft/ishell/v2"
	"github.com/spf13/cobra"

	"github.com/motor-control/mcn/internal/drive"
	"github.com/motor-control/mcn/internal/transport"
)

var driveCmd = &cobra.Command{
	Use:   "drive",
	Short: "Drive a node from an interactive shell",
	Long: `Opens a shell with forward, backward, left, right and stop commands.
With --keepalive the last motion command is resent periodically so the node's
watchdog does not stop the motors between keystrokes.`,
	Args: cobra.NoArgs,
	RunE: runDrive,
}

func init() {
	rootCmd.AddCommand(driveCmd)
	addClientFlags(driveCmd)
	driveCmd.Flags().Duration("ack-timeout", 300*time.Millisecond, "how long to wait for an acknowledgment (0 disables)")
	driveCmd.Flags().Duration("keepalive", 0, "resend the last command at this interval (0 disables)")
}

// sender is the client surface a drive session needs.
type sender interface {
	Send(line string) error
	Ack(timeout time.Duration) (string, error)
	DrainAcks()
}

// session tracks the last command and an optional keep-alive repeater.
type session struct {
	client     sender
	ackTimeout time.Duration

	mu       sync.Mutex
	last     string
	interval time.Duration
	stop     chan struct{}
	wg       sync.WaitGroup
}

func newSession(client sender, ackTimeout time.Duration) *session {
	return &session{client: client, ackTimeout: ackTimeout}
}

// command sends keyword [speed] and returns the acknowledgment, if any.
func (s *session) command(args []string) (string, error) {
	line, err := commandLine(args)
	if err != nil {
		return "", err
	}

	s.client.DrainAcks()
	if err := s.client.Send(line); err != nil {
		return "", err
	}

	s.mu.Lock()
	s.last = line
	if strings.HasPrefix(line, drive.Stop.String()) {
		// Repeating STOP is pointless; the watchdog stops anyway.
		s.last = ""
	}
	s.mu.Unlock()

	if s.ackTimeout <= 0 {
		return "", nil
	}
	ack, err := s.client.Ack(s.ackTimeout)
	if errors.Is(err, transport.ErrNoAck) {
		return "", nil
	}
	return ack, err
}

// lastCommand returns the line the keep-alive repeats.
func (s *session) lastCommand() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// setKeepAlive restarts the repeater at interval; 0 stops it.
func (s *session) setKeepAlive(interval time.Duration) {
	s.mu.Lock()
	if s.stop != nil {
		close(s.stop)
		s.stop = nil
	}
	s.interval = interval
	s.mu.Unlock()
	s.wg.Wait()

	if interval <= 0 {
		return
	}

	stop := make(chan struct{})
	s.mu.Lock()
	s.stop = stop
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if line := s.lastCommand(); line != "" {
					_ = s.client.Send(line)
				}
			}
		}
	}()
}

// keepAlive returns the current repeat interval.
func (s *session) keepAlive() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// close stops the repeater and sends a final STOP.
func (s *session) close() error {
	s.setKeepAlive(0)
	return s.client.Send(drive.Stop.String())
}

func runDrive(cmd *cobra.Command, args []string) error {
	c, err := dialFromFlags(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	ackTimeout, _ := cmd.Flags().GetDuration("ack-timeout")
	keepalive, _ := cmd.Flags().GetDuration("keepalive")

	s := newSession(c, ackTimeout)
	s.setKeepAlive(keepalive)
	defer s.close()

	shell := ishell.New()
	shell.SetPrompt("mcn> ")
	shell.Printf("Connected over %s. Type help for commands.\n", c.Transport())

	for _, d := range drive.Directions() {
		name := strings.ToLower(d.String())
		shell.AddCmd(&ishell.Cmd{
			Name: name,
			Help: name + " [speed 0-255]",
			Func: func(ctx *ishell.Context) {
				ack, err := s.command(append([]string{name}, ctx.Args...))
				if err != nil {
					ctx.Err(err)
					return
				}
				if ack != "" {
					ctx.Println(ack)
				}
			},
		})
	}

	shell.AddCmd(&ishell.Cmd{
		Name: "keepalive",
		Help: "keepalive [interval, e.g. 200ms | off]",
		Func: func(ctx *ishell.Context) {
			if len(ctx.Args) == 0 {
				ctx.Printf("keepalive: %v\n", s.keepAlive())
				return
			}
			if ctx.Args[0] == "off" {
				s.setKeepAlive(0)
				ctx.Println("keepalive off")
				return
			}
			d, err := time.ParseDuration(ctx.Args[0])
			if err != nil {
				ctx.Err(fmt.Errorf("invalid interval: %w", err))
				return
			}
			s.setKeepAlive(d)
			ctx.Printf("keepalive every %v\n", d)
		},
	})

	shell.Run()
	shell.Close()
	return nil
}
