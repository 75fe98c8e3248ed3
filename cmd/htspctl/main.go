/*
htspctl is an interactive CLI demonstrating the HTSP client, in the
same spirit as the retrieved bhclient: urfave/cli/v2 for argument
parsing, a bufio.Scanner REPL for commands typed at a terminal.
*/
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"github.com/htsp-go/htsp/auth"
	"github.com/htsp-go/htsp/config"
	"github.com/htsp-go/htsp/connection"
	"github.com/htsp-go/htsp/message"
	"github.com/htsp-go/htsp/metrics"
	"github.com/htsp-go/htsp/subscription"
	"github.com/htsp-go/htsp/supervisor"
)

func main() {
	app := &cli.App{
		Name:                   "htspctl",
		Usage:                  "Interactive client for a TVHeadend HTSP server",
		Action:                 run,
		UseShortOptionHandling: true,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "server", Aliases: []string{"s"}, Usage: "Connect to the HTSP server at `HOSTNAME`.", Required: true},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Usage: "Connect to the given `PORT`.", Value: 9982},
			&cli.StringFlag{Name: "username", Aliases: []string{"u"}},
			&cli.StringFlag{Name: "password"},
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "Load connection profile from a JSON/YAML `FILE`; flags override it."},
			&cli.StringFlag{Name: "metrics-addr", Usage: "Serve Prometheus metrics on `ADDR` (empty disables).", Value: ""},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.LoadFile(path)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		cfg = *loaded
	}
	cfg.Hostname = c.String("server")
	if c.IsSet("port") {
		cfg.Port = c.Int("port")
	}
	if c.IsSet("username") {
		cfg.Username = c.String("username")
	}
	if c.IsSet("password") {
		cfg.Password = c.String("password")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	var m *metrics.Metrics
	if addr := c.String("metrics-addr"); addr != "" {
		reg := prometheus.NewRegistry()
		m = metrics.New(reg)
		go serveMetrics(addr, reg, logger)
	} else {
		m = metrics.NoOp()
	}

	sup := supervisor.New(cfg, logger, m)

	// Composition pattern from the Java source's MainActivity: register
	// connection-state and auth-state listeners before Start, with an
	// inline (unposted) handler since a CLI has no UI thread to marshal
	// onto.
	sup.AddConnectionListener("htspctl-print", func(sc connection.StateChange) {
		fmt.Printf("[connection] %s -> %s\n", sc.Old, sc.New)
	}, nil)

	var authed atomic.Bool
	sup.AddAuthStateListener("htspctl-print", func(sc auth.StateChange) {
		fmt.Printf("[auth] %s -> %s\n", sc.Old, sc.New)
		authed.Store(sc.New == auth.Authenticated)
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup.Start(ctx)
	defer sup.Stop()

	printHelp()
	repl(sup, &authed, logger)
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	logger.Info("serving metrics", "component", "htspctl", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server exited", "component", "htspctl", "error", err)
	}
}

func printHelp() {
	log.Println("Interactive Help:")
	log.Println(" sub <channelId> [profile] [timeshiftSeconds]")
	log.Println("\t- Subscribe to a channel")
	log.Println(" unsub <subscriptionId>")
	log.Println(" speed <subscriptionId> <percent>")
	log.Println(" pause <subscriptionId>")
	log.Println(" resume <subscriptionId>")
	log.Println(" skip <subscriptionId> <seconds>")
	log.Println(" live <subscriptionId>")
	log.Println(" quit")
}

// session tracks the subscribers this REPL invocation has created, so
// unsub/speed/pause/etc. can look one up by id.
type session struct {
	subs map[int64]*subscription.Subscriber
	next int64
}

func repl(sup *supervisor.Supervisor, authed *atomic.Bool, logger *slog.Logger) {
	sess := &session{subs: make(map[int64]*subscription.Subscriber)}
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print(">")
		if !scanner.Scan() {
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "sub":
			handleSub(sess, sup, authed, logger, fields[1:])
		case "unsub":
			handleByID(sess, fields[1:], func(s *subscription.Subscriber) { s.Unsubscribe() })
		case "speed":
			handleSpeed(sess, fields[1:])
		case "pause":
			handleByID(sess, fields[1:], func(s *subscription.Subscriber) { s.Pause() })
		case "resume":
			handleByID(sess, fields[1:], func(s *subscription.Subscriber) { s.Resume() })
		case "skip":
			handleSkip(sess, fields[1:])
		case "live":
			handleByID(sess, fields[1:], func(s *subscription.Subscriber) { s.Live() })
		case "quit":
			return
		default:
			log.Printf("Unrecognised command %q\n", fields[0])
		}
	}
}

func handleSub(sess *session, sup *supervisor.Supervisor, authed *atomic.Bool, logger *slog.Logger, args []string) {
	if len(args) == 0 {
		log.Println("usage: sub <channelId> [profile] [timeshiftSeconds]")
		return
	}
	channelID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		log.Printf("bad channelId: %v", err)
		return
	}
	profile := ""
	if len(args) > 1 {
		profile = args[1]
	}
	var timeshift int64
	if len(args) > 2 {
		timeshift, _ = strconv.ParseInt(args[2], 10, 64)
	}

	disp := sup.Dispatcher()
	if disp == nil || !authed.Load() {
		log.Println("not connected yet")
		return
	}

	sess.next++
	id := sess.next
	handlers := subscription.Handlers{
		OnSubscriptionStart: func(m message.Message) { fmt.Printf("[sub %d] start\n", id) },
		OnSignalStatus:      func(m message.Message) { fmt.Printf("[sub %d] signal: %s\n", id, m.String("status", "")) },
		OnSubscriptionStop:  func(m message.Message) { fmt.Printf("[sub %d] stop: %s\n", id, m.String("reason", "")) },
	}
	sub := subscription.New(id, disp, handlers, logger, 5*time.Second, sup.Metrics())
	sup.AddAuthStateListener(fmt.Sprintf("htspctl-resub-%d", id), sub.OnAuthStateChanged, nil)

	if err := sub.Subscribe(context.Background(), channelID, profile, timeshift); err != nil {
		log.Printf("subscribe failed: %v", err)
		return
	}
	sess.subs[id] = sub
	fmt.Printf("subscribed as %d\n", id)
}

func handleByID(sess *session, args []string, fn func(*subscription.Subscriber)) {
	sub, ok := lookup(sess, args)
	if !ok {
		return
	}
	fn(sub)
}

func handleSpeed(sess *session, args []string) {
	if len(args) < 2 {
		log.Println("usage: speed <subscriptionId> <percent>")
		return
	}
	sub, ok := lookup(sess, args[:1])
	if !ok {
		return
	}
	percent, err := strconv.Atoi(args[1])
	if err != nil {
		log.Printf("bad percent: %v", err)
		return
	}
	sub.SetSpeed(percent)
}

func handleSkip(sess *session, args []string) {
	if len(args) < 2 {
		log.Println("usage: skip <subscriptionId> <seconds>")
		return
	}
	sub, ok := lookup(sess, args[:1])
	if !ok {
		return
	}
	seconds, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		log.Printf("bad seconds: %v", err)
		return
	}
	sub.Skip(seconds)
}

func lookup(sess *session, args []string) (*subscription.Subscriber, bool) {
	if len(args) == 0 {
		log.Println("usage: <cmd> <subscriptionId>")
		return nil, false
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		log.Printf("bad subscriptionId: %v", err)
		return nil, false
	}
	sub, ok := sess.subs[id]
	if !ok {
		log.Printf("no such subscription %d", id)
		return nil, false
	}
	return sub, true
}
