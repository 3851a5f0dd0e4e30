// envagent-sink receives readings from envagent devices.
package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/mattn/go-isatty"
	"github.com/temoto/alive/v2"
	"github.com/temoto/envagent/internal/sink"
	"github.com/temoto/envagent/internal/state"
	"github.com/temoto/envagent/log2"
)

var log = log2.NewStderr(log2.LInfo)

func main() {
	flagConfig := flag.String("config", "envagent.hcl", "")
	flag.Parse()

	if underSystemd() {
		log.SetFlags(log2.LServiceFlags)
	} else if isatty.IsTerminal(os.Stderr.Fd()) {
		log.SetFlags(log2.LInteractiveFlags)
	}

	config, err := state.ReadConfig(log, state.NewOsFullReader(), *flagConfig)
	if errors.IsNotFound(err) {
		log.Infof("config %s not found, using defaults", *flagConfig)
		config, err = &state.Config{}, nil
	}
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}

	a := alive.NewAlive()
	s := sink.NewServer(config.SinkHistory(), a, log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigch
		log.Infof("signal=%v, stopping", sig)
		cancel()
	}()

	ln, err := net.Listen("tcp", config.SinkListen())
	if err != nil {
		log.Fatal(errors.ErrorStack(errors.Annotatef(err, "listen=%s", config.SinkListen())))
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	if err = s.Serve(ctx, ln); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	a.Stop()
	a.Wait()
}

func underSystemd() bool {
	ok, err := daemon.SdNotify(false, "STATUS=start")
	return ok && err == nil
}
