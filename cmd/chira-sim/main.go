// Command chira-sim publishes a simulated ChiRa arm to an MQTT broker, or
// to its own embedded broker with -embedded-broker.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"

	"github.com/lcalzada-xor/chira/internal/adapters/feed/mqtt"
	"github.com/lcalzada-xor/chira/internal/mock"
	"github.com/lcalzada-xor/chira/internal/telemetry"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:])
	cancel()
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		slog.Error("Simulator failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("chira-sim", flag.ContinueOnError)
	brokerURL := fs.String("broker", "mqtt://localhost:1883", "MQTT broker URL")
	clientID := fs.String("client-id", "chira-sim", "MQTT client identifier")
	qos := fs.Int("qos", 1, "Publish QoS (0-2)")
	scenario := fs.String("scenario", "basic", "Scenario: basic, faulty or flaky")
	interval := fs.Duration("interval", time.Second, "Step interval")
	backfill := fs.Bool("backfill", true, "Publish invented history before starting")
	embedded := fs.String("embedded-broker", "", "Listen address for an embedded broker (e.g. :1883); empty to use -broker")
	logFormat := fs.String("log-format", "text", "Log format: json or text")
	debug := fs.Bool("debug", false, "Enable verbose debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger := telemetry.NewLogger(os.Stdout, *logFormat, *debug)
	slog.SetDefault(logger)

	if *embedded != "" {
		broker, err := startBroker(*embedded, logger)
		if err != nil {
			return fmt.Errorf("start embedded broker: %w", err)
		}
		defer broker.Close()
		*brokerURL = "mqtt://" + loopback(*embedded)
	}

	feed, err := mqtt.Dial(ctx, mqtt.Config{
		BrokerURL:      *brokerURL,
		ClientID:       *clientID,
		QoS:            byte(*qos),
		KeepAlive:      30,
		ConnectTimeout: 10 * time.Second,
	}, logger)
	if err != nil {
		return fmt.Errorf("create mqtt client: %w", err)
	}
	defer feed.Close()

	connectCtx, connectCancel := context.WithTimeout(ctx, 30*time.Second)
	err = feed.AwaitConnection(connectCtx)
	connectCancel()
	if err != nil {
		return fmt.Errorf("broker %s unreachable: %w", *brokerURL, err)
	}

	sim := mock.NewRobotSimulator(feed, mock.ParseScenario(*scenario), logger)
	if *backfill {
		if err := sim.Backfill(ctx); err != nil {
			slog.Warn("Backfill failed", "error", err)
		}
	}

	slog.Info("Simulator running", "broker", *brokerURL, "scenario", *scenario, "interval", *interval)
	sim.Run(ctx, *interval)

	picked, attempts := sim.Totals()
	slog.Info("Simulator stopped", "picked", picked, "attempts", attempts)
	return nil
}

func startBroker(addr string, logger *slog.Logger) (*mochi.Server, error) {
	broker := mochi.New(&mochi.Options{
		Logger: logger.With("component", "broker"),
	})
	if err := broker.AddHook(new(auth.AllowHook), nil); err != nil {
		return nil, err
	}
	if err := broker.AddListener(listeners.NewTCP(listeners.Config{
		Type:    "tcp",
		ID:      "chira-sim",
		Address: addr,
	})); err != nil {
		return nil, err
	}
	if err := broker.Serve(); err != nil {
		return nil, err
	}
	slog.Info("Embedded MQTT broker listening", "addr", addr)
	return broker, nil
}

// loopback turns ":1883" into "127.0.0.1:1883".
func loopback(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "127.0.0.1" + addr
	}
	return addr
}
