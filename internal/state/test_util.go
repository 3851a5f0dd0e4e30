package state

import (
	"context"
	"testing"

	"github.com/temoto/envagent/log2"
)

func NewTestContext(t testing.TB, confString string) (context.Context, *Global) {
	fs := NewMockFullReader(map[string]string{
		"test-inline": confString,
	})

	log := log2.NewTest(t, log2.LDebug)
	// log := log2.NewStderr(log2.LDebug) // useful with panics
	log.SetFlags(log2.LTestFlags)
	ctx, g := NewContext(log)
	g.MustInit(ctx, MustReadConfig(log, fs, "test-inline"))
	t.Cleanup(func() {
		g.Alive.Stop()
		g.Alive.Wait()
	})
	return ctx, g
}

func NewTestContextLog(t testing.TB) *log2.Log {
	log := log2.NewTest(t, log2.LDebug)
	log.SetFlags(log2.LTestFlags)
	return log
}
