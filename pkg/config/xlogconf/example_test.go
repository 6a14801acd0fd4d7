package xlogconf_test

import (
	"context"
	"fmt"
	"io"

	"github.com/omeyang/xlogkit/pkg/config/xlogconf"
	"github.com/omeyang/xlogkit/pkg/observability/xlog"
	"github.com/omeyang/xlogkit/pkg/observability/xregistry"
)

func ExampleConfig_Update() {
	reg, err := xregistry.New(xregistry.WithHandleOptions(xlog.WithConsole(io.Discard)))
	if err != nil {
		panic(err)
	}
	defer func() { _ = reg.Shutdown(context.Background()) }()

	cfg, err := xlogconf.New(reg, xlogconf.WithPreset("daily"))
	if err != nil {
		panic(err)
	}
	handles, err := cfg.ApplyTo("api", "worker")
	if err != nil {
		panic(err)
	}

	if err := cfg.Update(xlogconf.WithLevel(xlog.LevelDebug)); err != nil {
		panic(err)
	}
	for _, h := range handles {
		fmt.Println(h.Name(), h.Level(), h == reg.Get(h.Name()))
	}
	// Output:
	// api DEBUG true
	// worker DEBUG true
}
