package config_test

import (
	"testing"

	"github.com/llcevict/core/cachegeom"
	"github.com/llcevict/core/config"
)

func TestParseAppliesFlagsOverDefaults(t *testing.T) {
	cli, err := config.Parse([]string{"llcevict", "-v", "2", "-threads", "4", "-level", "L2", "-vtop"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cli.Verbose != 2 {
		t.Fatalf("Verbose = %d, want 2", cli.Verbose)
	}

	if cli.NumThreads != 4 {
		t.Fatalf("NumThreads = %d, want 4", cli.NumThreads)
	}

	if cli.TargetLevel != cachegeom.L2 {
		t.Fatalf("TargetLevel = %v, want L2", cli.TargetLevel)
	}

	if !cli.TopologyAware {
		t.Fatalf("TopologyAware = false, want true (-vtop passed)")
	}
}

func TestValidateRejectsOddThreadCount(t *testing.T) {
	_, err := config.Parse([]string{"llcevict", "-threads", "3"})
	if err == nil {
		t.Fatalf("expected an error for an odd thread count")
	}
}

func TestValidateRejectsL1Target(t *testing.T) {
	_, err := config.Parse([]string{"llcevict", "-level", "L1"})
	if err == nil {
		t.Fatalf("expected an error for target level L1")
	}
}

func TestEnvOverridesDefaultButNotFlag(t *testing.T) {
	t.Setenv("LLCEVICT_THREADS", "6")

	cli, err := config.Parse([]string{"llcevict"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cli.NumThreads != 6 {
		t.Fatalf("NumThreads = %d, want 6 from env", cli.NumThreads)
	}

	cli, err = config.Parse([]string{"llcevict", "-threads", "2"})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cli.NumThreads != 2 {
		t.Fatalf("NumThreads = %d, want 2 (flag overrides env)", cli.NumThreads)
	}
}
