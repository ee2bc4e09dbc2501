package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	cli "github.com/jawher/mow.cli"
	"golang.org/x/sync/errgroup"

	"github.com/geniass/searchwatch/pkg/config"
	dataio "github.com/geniass/searchwatch/pkg/io"
	"github.com/geniass/searchwatch/pkg/web"
)

const shutdownTimeout = 10 * time.Second

func main() {
	app := cli.App("scraper", "Watch listing searches for new records and price changes")
	configPath := app.StringOpt("c config", "", "YAML config file; settings can also be given as SEARCHWATCH_* environment variables")

	app.Command("run", "Run all tracked searches once and send the reports", func(cmd *cli.Cmd) {
		dryRun := cmd.BoolOpt("dry-run", false, "log mail instead of sending it")
		cmd.Action = func() {
			a := mustApplication(*configPath, *dryRun)
			defer a.Close()
			if err := a.scheduler.RunNow(context.Background()); err != nil {
				a.log.Error("run failed", "error", err)
				a.Close()
				cli.Exit(1)
			}
		}
	})

	app.Command("schedule", "Run all tracked searches every day at a fixed time", func(cmd *cli.Cmd) {
		at := cmd.StringOpt("at", "", "time of day, HH:MM or HH:MM:SS (default from config)")
		addr := cmd.StringOpt("web", "", "also serve the viewer on this address, e.g. :8080")
		dryRun := cmd.BoolOpt("dry-run", false, "log mail instead of sending it")
		cmd.Action = func() {
			a := mustApplication(*configPath, *dryRun)
			defer a.Close()
			if *at == "" {
				*at = a.config.Schedule.At
			}
			if *addr == "" {
				*addr = a.config.Web.Addr
			}
			if err := a.schedule(*at, *addr); err != nil {
				a.log.Error("scheduler exited", "error", err)
				a.Close()
				cli.Exit(1)
			}
		}
	})

	app.Command("serve", "Serve the viewer and accept on-demand runs", func(cmd *cli.Cmd) {
		addr := cmd.StringOpt("addr", ":8080", "listen address")
		dryRun := cmd.BoolOpt("dry-run", false, "log mail instead of sending it")
		cmd.Action = func() {
			a := mustApplication(*configPath, *dryRun)
			defer a.Close()
			if err := a.serve(*addr); err != nil {
				a.log.Error("server exited", "error", err)
				a.Close()
				cli.Exit(1)
			}
		}
	})

	app.Command("searches", "List the tracked searches and their subscribers", func(cmd *cli.Cmd) {
		cmd.Action = func() {
			cfg, err := config.Load(*configPath)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				cli.Exit(1)
			}
			if err := listSearches(cfg.Searches); err != nil {
				fmt.Fprintln(os.Stderr, err)
				cli.Exit(1)
			}
		}
	})

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func mustApplication(configPath string, dryRun bool) *application {
	a, err := newApplication(configPath, dryRun)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		cli.Exit(1)
	}
	return a
}

// schedule starts the daily trigger and blocks until SIGINT or SIGTERM. A run
// in progress finishes before it returns.
func (a *application) schedule(at, addr string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.scheduler.Start(at); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		a.log.Info("shutting down, waiting for any run in progress")
		a.scheduler.Close()
		return nil
	})
	if addr != "" {
		a.listen(ctx, g, addr, web.NewHandler(a.handler(true)))
	}
	return g.Wait()
}

func (a *application) serve(addr string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	a.listen(ctx, g, addr, web.NewHandler(a.handler(true)))
	g.Go(func() error {
		<-ctx.Done()
		a.scheduler.Close()
		return nil
	})
	return g.Wait()
}

func (a *application) listen(ctx context.Context, g *errgroup.Group, addr string, h http.Handler) {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 10 * time.Second}
	g.Go(func() error {
		a.log.Info("viewer listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
}

func listSearches(path string) error {
	searches, err := dataio.LoadSearches(path)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tFILE\tSUBSCRIBERS\tURL")
	for _, s := range searches {
		file, _ := dataio.FileName(s.Name)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Name, file, strings.Join(s.Subscribers, ";"), s.URL)
	}
	return w.Flush()
}
