package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/mattn/go-isatty"
	"github.com/temoto/envagent/hardware/dht"
	"github.com/temoto/envagent/internal/state"
	"github.com/temoto/envagent/log2"
	"github.com/temoto/envagent/tele"
)

var BuildVersion string = "unknown" // set by ldflags -X

var log = log2.NewStderr(log2.LDebug)

func main() {
	flagConfig := flag.String("config", "envagent.hcl", "")
	flag.Parse()

	if sdnotify("STATUS=start") {
		// under systemd, journal adds timestamp
		log.SetFlags(log2.LServiceFlags)
	} else if isatty.IsTerminal(os.Stderr.Fd()) {
		log.SetFlags(log2.LInteractiveFlags)
	}
	log.Infof("envagent version=%s", BuildVersion)

	ctx, g := state.NewContext(log)
	g.BuildVersion = BuildVersion
	config := state.MustReadConfig(log, state.NewOsFullReader(), *flagConfig)
	g.MustInit(ctx, config)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	loop, err := g.Loop()
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	m, err := g.Link()
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	if err = m.Start(ctx); err != nil {
		// event registration failed, nothing can work without link
		log.Fatal(errors.ErrorStack(err))
	}
	go func() {
		if m.AwaitReady(ctx) == nil {
			sdnotify(daemon.SdNotifyReady)
		}
	}()
	loop.OnReport = func(r dht.Reading, o tele.Outcome) {
		s := loop.Stat()
		sdnotify(fmt.Sprintf("STATUS=last %s delivered=%t status=%d cycles=%d errors=%d",
			r.String(), o.Delivered, o.StatusCode, s.Cycles, g.ErrorCount()))
	}

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigch
		log.Infof("signal=%v, stopping", sig)
		sdnotify(daemon.SdNotifyStopping)
		g.Alive.Stop()
		cancel()
	}()

	err = loop.Run(ctx)
	log.Debugf("loop stopped: %v", err)
	g.Alive.Stop()
	g.Alive.Wait()
	g.Error(g.Close(), "close")
}

func sdnotify(s string) bool {
	ok, err := daemon.SdNotify(false, s)
	if err != nil {
		log.Fatal("sdnotify: ", errors.ErrorStack(err))
	}
	return ok
}
