package watcher

import (
	"context"
	"fmt"
	"log"
	"os"

	kservice "github.com/kardianos/service"
)

// daemon adapts a Watcher to kardianos/service's Interface, grounded on the teacher's
// internal/cli/service.go program type: Start launches async work in a goroutine and returns
// immediately, Stop cancels it.
type daemon struct {
	w      *Watcher
	cancel context.CancelFunc
}

func (d *daemon) Start(s kservice.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	go func() {
		if err := d.w.Start(ctx); err != nil {
			log.Printf("watcher failed to start: %v", err)
		}
	}()
	return nil
}

func (d *daemon) Stop(s kservice.Service) error {
	if d.cancel != nil {
		d.cancel()
	}
	return d.w.Stop()
}

// ServiceConfig names the installed OS service, mirroring getServiceConfig's shape.
func ServiceConfig(configPath string) (*kservice.Config, error) {
	ex, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable path: %w", err)
	}
	args := []string{"watch", "run"}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	return &kservice.Config{
		Name:        "amanu-watcher",
		DisplayName: "amanu Watcher Service",
		Description: "Watches a directory and processes dropped audio files through the amanu pipeline.",
		Executable:  ex,
		Arguments:   args,
	}, nil
}

// NewService wraps w as an installable/runnable OS service.
func NewService(w *Watcher, configPath string) (kservice.Service, error) {
	cfg, err := ServiceConfig(configPath)
	if err != nil {
		return nil, err
	}
	return kservice.New(&daemon{w: w}, cfg)
}
