package cmd

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/intunectl/intunectl/internal/graph"
	"github.com/intunectl/intunectl/internal/server/handlers"
)

func TestReloadResetsPacer(t *testing.T) {
	pacer := graph.NewPacer(graph.PacerConfig{Initial: 200 * time.Millisecond, Min: 100 * time.Millisecond, Max: 5 * time.Second})
	pacer.Penalize()
	pacer.Penalize()
	if pacer.Current() != 800*time.Millisecond {
		t.Fatalf("expected penalized delay, got %s", pacer.Current())
	}

	api := &handlers.PolicyAPI{Pacer: pacer}
	reset, err := reloadServeConfig(func() error { return nil }, servePacer(api))
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !reset {
		t.Fatal("expected the pacer to be reset")
	}
	if got := pacer.Current(); got != 200*time.Millisecond {
		t.Fatalf("expected initial delay after reload, got %s", got)
	}
}

func TestReloadToleratesMissingConfigFile(t *testing.T) {
	pacer := graph.NewPacer(graph.DefaultPacerConfig)
	pacer.Penalize()

	missing := func() error {
		return fmt.Errorf("read: %w", viper.ConfigFileNotFoundError{})
	}
	reset, err := reloadServeConfig(missing, pacer)
	if err != nil || !reset {
		t.Fatalf("missing config file must not block reload: reset=%v err=%v", reset, err)
	}
	if pacer.Current() != graph.DefaultPacerConfig.Initial {
		t.Fatalf("expected reset pacer, got %s", pacer.Current())
	}
}

func TestReloadKeepsPacerOnBadConfig(t *testing.T) {
	pacer := graph.NewPacer(graph.DefaultPacerConfig)
	penalized := pacer.Penalize()

	reset, err := reloadServeConfig(func() error { return errors.New("yaml: bad indent") }, pacer)
	if err == nil || reset {
		t.Fatalf("expected reload failure without reset: reset=%v err=%v", reset, err)
	}
	if pacer.Current() != penalized {
		t.Fatalf("pacer changed on failed reload: %s", pacer.Current())
	}
}

func TestServePacerWithoutGraph(t *testing.T) {
	if servePacer(nil) != nil {
		t.Fatal("nil api has no pacer")
	}
	if servePacer(&handlers.PolicyAPI{}) != nil {
		t.Fatal("api without Graph has no pacer")
	}
	reset, err := reloadServeConfig(func() error { return nil }, nil)
	if err != nil || reset {
		t.Fatalf("reload without pacer: reset=%v err=%v", reset, err)
	}
}
