package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chatd/chatd/accesslist"
	"github.com/chatd/chatd/api"
	"github.com/chatd/chatd/config"
	"github.com/chatd/chatd/eventloop"
	"github.com/chatd/chatd/resolver"
	"github.com/chatd/chatd/server"
	"github.com/semihalev/zlog/v2"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const version = "1.0.0"

var cfgPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "chatd:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "chatd",
		Short:         "chatd chat daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := setup(cfgPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg)
		},
	}

	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "chatd.conf",
		"location of the config file, if config file not found, a config will generate")

	root.AddCommand(newLookupCmd(), newVersionCmd())

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "chatd v"+version)
		},
	}
}

func newLookupCmd() *cobra.Command {
	var (
		ipv6    bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "lookup <name|address>",
		Short: "Resolve a name or the verified name of an address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(cfgPath)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			return lookup(ctx, cfg, args[0], ipv6, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVarP(&ipv6, "ipv6", "6", false, "look up IPv6 addresses")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", time.Minute, "give up after this long")

	return cmd
}

func setup(path string) (*config.Config, error) {
	cfg, err := config.Load(path, version)
	if err != nil {
		return nil, err
	}

	setupLogger(cfg.LogLevel)

	return cfg, nil
}

func setupLogger(level string) {
	logger := zlog.NewStructured()
	logger.SetWriter(zlog.StdoutTerminal())

	switch strings.ToLower(level) {
	case "debug":
		logger.SetLevel(zlog.LevelDebug)
	case "warn":
		logger.SetLevel(zlog.LevelWarn)
	case "error", "crit":
		logger.SetLevel(zlog.LevelError)
	default:
		logger.SetLevel(zlog.LevelInfo)
	}

	zlog.SetDefault(logger)
}

func run(ctx context.Context, cfg *config.Config) error {
	zlog.Info("Starting chatd...", "version", version)

	loop, err := eventloop.New(cfg, nil)
	if err != nil {
		return fmt.Errorf("resolver socket: %w", err)
	}

	access := accesslist.New(cfg)

	watcher, err := config.NewWatcher(cfg, func(ns *config.NameServers) {
		if err := loop.Post(func(r *resolver.Resolver) { r.SetNameServers(ns) }); err != nil {
			zlog.Warn("Nameserver reload dropped", "error", err.Error())
		}
	})
	if err != nil {
		zlog.Warn("Resolver configuration watch disabled", "path", cfg.ResolvConf, "error", err.Error())
	} else {
		defer watcher.Stop()
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return loop.Run(ctx) })
	g.Go(func() error { return server.New(cfg, loop, access).Run(ctx) })
	g.Go(func() error { return api.New(cfg, loop, access).Run(ctx) })

	err = g.Wait()

	zlog.Info("Stopping chatd...")

	return err
}

type answer struct {
	res *resolver.Result
	err error
}

type waiter chan answer

func (w waiter) Resolved(res *resolver.Result) { w <- answer{res: res} }
func (w waiter) Failed(err error)              { w <- answer{err: err} }

func (w waiter) Suspect(err error) {
	zlog.Warn("Suspect DNS answer", "error", err.Error())
}

func lookup(ctx context.Context, cfg *config.Config, target string, ipv6 bool, out io.Writer) error {
	loop, err := eventloop.New(cfg, nil)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	fin := make(chan error, 1)
	go func() { fin <- loop.Run(ctx) }()

	w := make(waiter, 1)

	var start func(r *resolver.Resolver)
	if addr, err := netip.ParseAddr(target); err == nil {
		start = func(r *resolver.Resolver) { r.ResolveReverse(addr, w) }
	} else if ipv6 {
		start = func(r *resolver.Resolver) { r.ResolveForward6(target, w) }
	} else {
		start = func(r *resolver.Resolver) { r.ResolveForward(target, w) }
	}

	if err := loop.Post(start); err != nil {
		return err
	}

	var a answer
	select {
	case a = <-w:
	case <-ctx.Done():
		a.err = ctx.Err()
	}

	cancel()
	if err := <-fin; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if a.err != nil {
		return a.err
	}

	fmt.Fprintf(out, "%s\n", a.res.Name)
	for _, alias := range a.res.Aliases {
		fmt.Fprintf(out, "alias\t%s\n", alias)
	}
	for _, addr := range a.res.Addrs {
		fmt.Fprintf(out, "address\t%s\n", addr)
	}

	return nil
}
