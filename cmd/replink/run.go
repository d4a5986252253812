package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/silwitch/replink/internal/firmware"
	"github.com/silwitch/replink/internal/ptyio"
	"github.com/silwitch/replink/internal/sd/sdsim"
	"github.com/silwitch/replink/internal/transport"
	"github.com/silwitch/replink/pkg/config"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Boot the simulated device and bridge its console",
	Long: `Boots the device against a simulated Bluetooth stack, connects a
central to it, negotiates the MTU and bridges the console stream.

By default the console appears on a new PTY; point any serial terminal
at the printed path:

  replink run
  picocom /dev/pts/3

With --stdio the console takes over this terminal in raw mode instead.
Press Ctrl-] to detach (Ctrl-C and Ctrl-D belong to the device).`,
	Args: cobra.NoArgs,
	RunE: runDevice,
}

var (
	runConfigPath string
	runStdio      bool
	runMTU        uint16
	runNoColor    bool
)

func init() {
	runCmd.Flags().StringVar(&runConfigPath, "config", "", "YAML configuration file")
	runCmd.Flags().BoolVar(&runStdio, "stdio", false, "Attach the console to this terminal instead of a PTY")
	runCmd.Flags().Uint16Var(&runMTU, "mtu", 128, "ATT MTU the central requests")
	runCmd.Flags().BoolVar(&runNoColor, "no-color", false, "Disable colored status output")
}

// parseAddress reads the configured 32-bit hardware address. Empty picks
// a random one.
func parseAddress(s string) (uint32, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid device address %q: %w", s, err)
	}
	return uint32(v), nil
}

func runDevice(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(runConfigPath)
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg, runConfigPath != "")
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	if runNoColor {
		color.NoColor = true
	}

	addr, err := parseAddress(cfg.Device.Address)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Received interrupt signal, shutting down...")
		cancel()
	}()

	stack := sdsim.New(sdsim.Options{
		DeviceAddress: addr,
		HVNDepth:      cfg.Link.HVNQueueDepth,
		ConnInterval:  cfg.Link.ConnInterval,
		Logger:        logger,
	})
	defer stack.Close()

	dev := firmware.New(firmware.Options{
		Stack: stack,
		Transport: transport.Config{
			MaxMTU:             cfg.Device.MaxMTU,
			RingCapacity:       cfg.Device.RingCapacity,
			NamePrefix:         cfg.Device.NamePrefix,
			AdvInterval:        cfg.Link.AdvInterval,
			ConnInterval:       cfg.Link.ConnInterval,
			SlaveLatency:       cfg.Link.SlaveLatency,
			SupervisionTimeout: cfg.Link.SupervisionTimeout,
		},
		Logger: logger,
	})
	if err := dev.Boot(); err != nil {
		return err
	}
	go dev.Run(ctx)

	central, err := stack.Connect()
	if err != nil {
		return fmt.Errorf("central connect: %w", err)
	}
	serverMTU := central.ExchangeMTU(runMTU)

	green := color.New(color.FgGreen)
	fmt.Printf("Device:  %s\n", green.Sprint(stack.DeviceName()))
	fmt.Printf("MTU:     requested %d, device %d\n", runMTU, serverMTU)

	if runStdio {
		return bridgeStdio(ctx, cancel, central)
	}
	return bridgePTY(ctx, central, cfg, logger)
}

// bridgePTY exposes the console on a fresh PTY and pumps both directions
// until the context ends.
func bridgePTY(ctx context.Context, central *sdsim.Central, cfg *config.Config, logger *logrus.Logger) error {
	port, err := ptyio.Open(ptyio.Options{
		ReadCap:  cfg.Terminal.ReadCap,
		WriteCap: cfg.Terminal.WriteCap,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("open pty: %w", err)
	}
	defer port.Close()

	cyan := color.New(color.FgCyan)
	fmt.Printf("Console: %s\n", cyan.Sprint(port.TTYName()))
	fmt.Println("Connect a serial terminal to the console path. Ctrl+C here to stop.")

	port.OnInput(func(data []byte) {
		if err := central.WriteAlias(transport.RXAlias, data); err != nil {
			logger.WithError(err).Warn("console write dropped")
		}
	})

	notes := central.Notifications()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk := <-notes:
			if _, err := port.Write(chunk); err != nil {
				return fmt.Errorf("pty write: %w", err)
			}
		}
	}
}

// detachByte ends a --stdio session: Ctrl-], as terminals have always
// done it.
const detachByte = 0x1D

// bridgeStdio puts the invoking terminal into raw mode and splices it to
// the console stream.
func bridgeStdio(ctx context.Context, cancel context.CancelFunc, central *sdsim.Central) error {
	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	go func() {
		buf := make([]byte, 256)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil {
				cancel()
				return
			}
			for _, b := range buf[:n] {
				if b == detachByte {
					cancel()
					return
				}
			}
			if err := central.WriteAlias(transport.RXAlias, append([]byte(nil), buf[:n]...)); err != nil {
				cancel()
				return
			}
		}
	}()

	notes := central.Notifications()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk := <-notes:
			if _, err := os.Stdout.Write(chunk); err != nil {
				return fmt.Errorf("stdout write: %w", err)
			}
		}
	}
}
