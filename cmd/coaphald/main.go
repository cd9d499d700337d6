// Command coaphald serves the robotics HAL resource tree over CoAP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	coapnet "github.com/plgd-dev/go-coap/v2/net"
	"github.com/plgd-dev/go-coap/v2/udp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rodaine/table"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jasta/coaphald/examplehal"
	"github.com/jasta/coaphald/hal"
	"github.com/jasta/coaphald/observe"
	"github.com/jasta/coaphald/resources"
	"github.com/jasta/coaphald/router"
	"github.com/jasta/coaphald/transport"
)

var log = logrus.WithField("component", "cmd")

// rootFlags holds the flags shared by every subcommand, per spec §6's CLI
// surface (--address, --port).
type rootFlags struct {
	address string
	port    uint16
}

func main() {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:   "coaphald",
		Short: "CoAP resource server exposing a robotics HAL device tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(flags)
		},
	}
	root.PersistentFlags().StringVar(&flags.address, "address", "0.0.0.0", "address to bind")
	root.PersistentFlags().Uint16Var(&flags.port, "port", 5683, "UDP port to bind")

	root.AddCommand(serveCmd(flags))
	root.AddCommand(devicesCmd())
	root.SetArgs(os.Args[1:])

	if err := root.Execute(); err != nil {
		log.WithError(err).Error("fatal error")
		os.Exit(1)
	}
}

// serveCmd is the same server the root command runs by default, also
// reachable explicitly as "coaphald serve".
func serveCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the CoAP server (default command)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(flags)
		},
	}
}

func runServe(flags *rootFlags) error {
	scratchDir, err := os.MkdirTemp("", "coaphald-hal-*")
	if err != nil {
		return fmt.Errorf("create HAL scratch dir: %w", err)
	}
	defer os.RemoveAll(scratchDir)

	mockHAL, err := examplehal.NewMockHAL(scratchDir)
	if err != nil {
		return fmt.Errorf("start mock HAL: %w", err)
	}
	defer mockHAL.Close()

	engine := observe.NewEngine(observe.DefaultWatchThreadBudget)
	notifier := transport.NewNotifier()

	deviceResource := &resources.Device{Hal: mockHAL, Sender: notifier}

	registry := prometheus.NewRegistry()
	server := router.NewBuilder().
		WithMetrics(router.NewMetrics(registry)).
		AddResource(resources.Echo{}).
		AddResource(&resources.Time{}).
		AddResource(&resources.Devices{Hal: mockHAL}).
		AddResource(deviceResource).
		Build()

	handler := transport.NewHandler(server, notifier, server, engine)

	addr := fmt.Sprintf("%s:%d", flags.address, flags.port)
	listener, err := coapnet.NewListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("bind %s: %w", addr, err)
	}
	defer listener.Close()

	udpServer := udp.NewServer(udp.WithMux(handler))
	defer udpServer.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.WithField("address", addr).Info("serving CoAP")
		if err := udpServer.Serve(listener); err != nil {
			return fmt.Errorf("udp serve: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutting down")
		udpServer.Stop()
		return nil
	})

	return group.Wait()
}

// devicesCmd renders the mock HAL's device inventory as a colorized
// table, a read-only debug aid that never touches the request path.
func devicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List the mock HAL's device inventory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDevices()
		},
	}
}

func runDevices() error {
	scratchDir, err := os.MkdirTemp("", "coaphald-hal-*")
	if err != nil {
		return fmt.Errorf("create HAL scratch dir: %w", err)
	}
	defer os.RemoveAll(scratchDir)

	mockHAL, err := examplehal.NewMockHAL(scratchDir)
	if err != nil {
		return fmt.Errorf("start mock HAL: %w", err)
	}
	defer mockHAL.Close()

	devices, err := mockHAL.ListDevices()
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}

	headerFmt := color.New(color.FgCyan, color.Underline).SprintfFunc()
	tbl := table.New("Address", "Driver", "Type", "Attributes")
	tbl.WithHeaderFormatter(headerFmt)
	for _, d := range devices {
		tbl.AddRow(d.Address(), d.DriverName(), d.Type().String(), attributeSummary(d))
	}
	tbl.Print()
	return nil
}

func attributeSummary(d hal.Device) string {
	attrs, err := d.ApplicableAttributes()
	if err != nil {
		return color.RedString(err.Error())
	}
	names := ""
	for i, a := range attrs {
		if i > 0 {
			names += ", "
		}
		names += a.Name
	}
	return names
}
