// Package interactive provides the lanlight command console.
package interactive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/chzyer/readline"

	"github.com/lanlight/lanlight-go/pkg/light"
	"github.com/lanlight/lanlight-go/pkg/service"
	"github.com/lanlight/lanlight-go/pkg/wire"
)

// Service is the part of the light service the console drives.
type Service interface {
	State() service.ServiceState
	SourceID() uint32
	LocalAddr() netip.AddrPort
	Stats() service.Stats
	Discover() bool
	Send(wire.Outbound) bool
	Light(wire.Target) (*light.Light, bool)
	Lights() []*light.Light
}

// Console handles interactive mode for lanlight.
type Console struct {
	rl  *readline.Instance
	out io.Writer
	svc Service
}

// New creates a console reading from the terminal. Log output should be
// sent to Stdout so it does not clobber the prompt.
func New() (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "lanlight> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("help"),
			readline.PcItem("list"),
			readline.PcItem("discover"),
			readline.PcItem("send"),
			readline.PcItem("power", readline.PcItem("all")),
			readline.PcItem("status"),
			readline.PcItem("quit"),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Console{rl: rl, out: rl.Stdout()}, nil
}

// Stdout returns a writer that coordinates with the readline prompt.
func (c *Console) Stdout() io.Writer {
	return c.out
}

// Run reads commands until quit, EOF or ctx is done. cancel is called when
// the user exits.
func (c *Console) Run(ctx context.Context, cancel context.CancelFunc, svc Service) {
	defer c.rl.Close()
	c.svc = svc

	c.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := c.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}

		if !c.exec(line) {
			fmt.Fprintln(c.out, "Exiting...")
			cancel()
			return
		}
	}
}

// exec runs one command line. It returns false when the console should exit.
func (c *Console) exec(line string) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return true
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		c.printHelp()
	case "list", "ls", "lights":
		c.cmdList()
	case "discover", "d":
		c.cmdDiscover()
	case "send", "s":
		c.cmdSend(args)
	case "power", "p":
		c.cmdPower(args)
	case "status":
		c.cmdStatus()
	case "quit", "exit", "q":
		return false
	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return true
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `
lanlight Commands:
  Discovery:
    discover                      - Broadcast a discovery request now
    list                          - List discovered lights

  Messaging:
    send <target|all> <type>      - Send a message (e.g. send d073d5010203 GetLabel)
    power <target|all> <on|off>   - Switch power

  General:
    status                        - Show service status
    help                          - Show this help
    quit                          - Exit`)
}

func (c *Console) cmdList() {
	lights := c.svc.Lights()
	if len(lights) == 0 {
		fmt.Fprintln(c.out, "No lights discovered")
		return
	}

	fmt.Fprintf(c.out, "\nLights (%d):\n", len(lights))
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TARGET\tADDRESS\tLABEL\tPOWER\tREACHABLE\tRECEIVED\tLAST SEEN")
	for _, l := range lights {
		s := l.Snapshot()
		power := "off"
		if s.Power > 0 {
			power = "on"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%d\t%s\n",
			s.Target, s.Addr, labelOrDash(s.Label), power, s.Reachable, s.Received, s.LastSeen.Format(time.TimeOnly))
	}
	tw.Flush()
}

func labelOrDash(label string) string {
	if label == "" {
		return "-"
	}
	return label
}

func (c *Console) cmdDiscover() {
	if !c.svc.Discover() {
		fmt.Fprintln(c.out, "Discovery broadcast failed")
		return
	}
	fmt.Fprintln(c.out, "Discovery broadcast sent")
}

func (c *Console) cmdSend(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(c.out, "Usage: send <target|all> <type>")
		return
	}
	target, err := parseTarget(args[0])
	if err != nil {
		fmt.Fprintf(c.out, "Invalid target: %v\n", err)
		return
	}
	typ, err := wire.ParseMessageType(args[1])
	if err != nil {
		fmt.Fprintf(c.out, "Invalid type: %v\n", err)
		return
	}

	msg := wire.NewMessage(typ, nil)
	msg.Header.ResRequired = true
	c.report(c.svc.Send(wire.Outbound{Target: target, Message: msg}), typ, target)
}

func (c *Console) cmdPower(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(c.out, "Usage: power <target|all> <on|off>")
		return
	}
	target, err := parseTarget(args[0])
	if err != nil {
		fmt.Fprintf(c.out, "Invalid target: %v\n", err)
		return
	}
	var on bool
	switch strings.ToLower(args[1]) {
	case "on", "1", "true":
		on = true
	case "off", "0", "false":
	default:
		fmt.Fprintf(c.out, "Invalid power state: %s (use on or off)\n", args[1])
		return
	}

	if l, ok := c.svc.Light(target); ok {
		c.report(l.SetPower(on), wire.TypeSetPower, target)
		return
	}
	msg := wire.NewMessage(wire.TypeSetPower, wire.EncodePower(on))
	c.report(c.svc.Send(wire.Outbound{Target: target, Message: msg}), wire.TypeSetPower, target)
}

func (c *Console) report(ok bool, typ wire.MessageType, target wire.Target) {
	dest := target.String()
	if target.IsBroadcast() {
		dest = "all"
	}
	if !ok {
		fmt.Fprintf(c.out, "Failed to send %s to %s\n", typ, dest)
		return
	}
	fmt.Fprintf(c.out, "Sent %s to %s\n", typ, dest)
}

func (c *Console) cmdStatus() {
	st := c.svc.Stats()
	fmt.Fprintln(c.out, "\nService Status:")
	fmt.Fprintf(c.out, "  State:      %s\n", c.svc.State())
	fmt.Fprintf(c.out, "  Source ID:  %d\n", c.svc.SourceID())
	fmt.Fprintf(c.out, "  Local addr: %s\n", c.svc.LocalAddr())
	fmt.Fprintf(c.out, "  Lights:     %d\n", st.Lights)
	fmt.Fprintf(c.out, "  Broadcasts: %d\n", st.Broadcasts)
	fmt.Fprintf(c.out, "  Routed:     %d\n", st.Routed)
	fmt.Fprintf(c.out, "  Filtered:   %d\n", st.Filtered)
	fmt.Fprintf(c.out, "  Restarts:   %d\n", st.Restarts)
}

func parseTarget(s string) (wire.Target, error) {
	if strings.EqualFold(s, "all") || s == "*" {
		return wire.BroadcastTarget, nil
	}
	return wire.ParseTarget(strings.ToLower(s))
}
