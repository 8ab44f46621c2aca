package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/codefionn/signalqueue/internal/consts"
	"github.com/codefionn/signalqueue/internal/signal"
	"github.com/codefionn/signalqueue/internal/signalclient"
)

type cliOptions struct {
	addr string
	cmd  signal.Command
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	opts, err := parseCLIArgs(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), consts.DialTimeout)
	defer cancel()

	client, err := signalclient.DialWriter(ctx, opts.addr)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Send(opts.cmd); err != nil {
		return err
	}
	fmt.Printf("sent 0x%02x (%s) to %s\n", byte(opts.cmd), opts.cmd, opts.addr)
	return nil
}

func parseCLIArgs(args []string) (*cliOptions, error) {
	fs := flag.NewFlagSet("signalctl", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		addr     string
		raw      string
		showHelp bool
		state    signal.State
	)

	defaultAddr := net.JoinHostPort("127.0.0.1", strconv.Itoa(consts.DefaultPort))
	fs.StringVar(&addr, "addr", defaultAddr, "Dispatcher address")
	fs.BoolVar(&state.Blink, "blink", false, "Set the blink bit")
	fs.BoolVar(&state.Red, "red", false, "Set the red bit")
	fs.BoolVar(&state.Yellow, "yellow", false, "Set the yellow bit")
	fs.BoolVar(&state.Green, "green", false, "Set the green bit")
	fs.BoolVar(&state.LampOn, "on", false, "Set the lamp-on bit")
	fs.BoolVar(&state.LampOff, "off", false, "Set the lamp-off bit")
	fs.StringVar(&raw, "raw", "", "Send this byte as is (decimal, 0x hex or 0b binary); overrides the bit flags")
	fs.BoolVar(&showHelp, "help", false, "Show usage information")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: %s [options]\n\n", fs.Name())
		fmt.Fprintln(fs.Output(), "Sends one command byte to a signalqueue dispatcher.")
		fmt.Fprintln(fs.Output(), "\nOptions:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if showHelp {
		fs.Usage()
		return nil, flag.ErrHelp
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	opts := &cliOptions{addr: addr, cmd: state.Encode()}
	if raw != "" {
		v, err := strconv.ParseUint(raw, 0, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid -raw value %q: %w", raw, err)
		}
		opts.cmd = signal.Command(v)
	}
	return opts, nil
}
