package state

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/envagent/internal/agent"
	"github.com/temoto/envagent/log2"
	"github.com/temoto/envagent/tele"
)

type Global struct {
	Alive        *alive.Alive
	BuildVersion string
	Config       *Config
	Hardware     hardware // hardware.go
	Log          *log2.Log
	Tele         teleState // tele.go

	errorCount uint32
	lk         sync.Mutex
	loop       *agent.Loop

	_copy_guard sync.Mutex //nolint:unused
}

const ContextKey = "run/state-global"

func NewContext(log *log2.Log) (context.Context, *Global) {
	if log == nil {
		panic("code error NewContext() log=nil")
	}

	g := &Global{
		Alive: alive.NewAlive(),
		Log:   log,
	}
	ctx := context.Background()
	ctx = context.WithValue(ctx, ContextKey, g)

	return ctx, g
}

func GetGlobal(ctx context.Context) *Global {
	v := ctx.Value(ContextKey)
	if v == nil {
		panic(fmt.Sprintf("context['%s'] is nil", ContextKey))
	}
	if g, ok := v.(*Global); ok {
		return g
	}
	panic(fmt.Sprintf("context['%s'] expected type *Global actual=%#v", ContextKey, v))
}

// If `Init` fails, consider `Global` is in broken state.
func (g *Global) Init(ctx context.Context, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return errors.Annotate(err, "config")
	}
	g.Config = cfg
	g.Log.SetErrorFunc(func(error) { atomic.AddUint32(&g.errorCount, 1) })
	g.Log.Debugf("config: link=%s sensor=%s/%s tele=%s endpoint=%s",
		cfg.Link.Driver, cfg.Sensor.Driver, cfg.Sensor.Type, cfg.Tele.Transport, cfg.Tele.Endpoint)
	return nil
}

func (g *Global) MustInit(ctx context.Context, cfg *Config) {
	err := g.Init(ctx, cfg)
	if err != nil {
		g.Log.Fatal(errors.ErrorStack(err))
	}
}

func (g *Global) Error(err error, args ...interface{}) {
	if err != nil {
		if len(args) != 0 {
			msg := args[0].(string)
			args = args[1:]
			err = errors.Annotatef(err, msg, args...)
		}
		g.Log.Errorf("%s", errors.ErrorStack(err))
	}
}

// ErrorCount is number of errors logged since Init.
func (g *Global) ErrorCount() uint32 { return atomic.LoadUint32(&g.errorCount) }

// Loop builds sample-report loop and everything it needs. Link manager is created, not started.
func (g *Global) Loop() (*agent.Loop, error) {
	g.lk.Lock()
	defer g.lk.Unlock()
	if g.loop != nil {
		return g.loop, nil
	}

	m, err := g.linkLocked()
	if err != nil {
		return nil, errors.Annotate(err, "link")
	}
	sampler, err := g.samplerLocked()
	if err != nil {
		return nil, errors.Annotate(err, "sensor")
	}
	reporter, err := g.reporterLocked()
	if err != nil {
		return nil, errors.Annotate(err, "tele")
	}
	g.loop = agent.NewLoop(g.Config.AgentConfig(), m, sampler, reporter, g.Log)
	return g.loop, nil
}

func (g *Global) Reporter() (*tele.Reporter, error) {
	g.lk.Lock()
	defer g.lk.Unlock()
	return g.reporterLocked()
}
