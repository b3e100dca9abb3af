package main

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/signalsfoundry/wan-balancer-sim/internal/config"
	"github.com/signalsfoundry/wan-balancer-sim/internal/logging"
	"github.com/signalsfoundry/wan-balancer-sim/internal/nbi"
	"github.com/signalsfoundry/wan-balancer-sim/kb"
)

// isolate keeps a developer's wansim.yaml out of the test.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunPrintsPerLinkTable(t *testing.T) {
	isolate(t)

	out, err := execute(t, "run",
		"--algorithm", "wrr",
		"--total-packets", "40",
		"--generation-rate", "1000",
		"--seed", "7",
		"--log-level", "error",
	)
	if err != nil {
		t.Fatalf("run error: %v\n%s", err, out)
	}
	for _, want := range []string{"budget-reached", "wanlink-0", "wanlink-1", "generated: 40", "EXPECTED"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRunRequiresAnEnd(t *testing.T) {
	isolate(t)

	_, err := execute(t, "run", "--log-level", "error")
	if err == nil || !strings.Contains(err.Error(), "--total-packets or --duration") {
		t.Fatalf("run without budget error = %v", err)
	}
}

func TestRunRejectsInvalidFlags(t *testing.T) {
	isolate(t)

	if _, err := execute(t, "run", "--total-packets", "5", "--algorithm", "random"); err == nil {
		t.Fatalf("run with unknown algorithm succeeded")
	}
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version error: %v", err)
	}
	if !strings.Contains(out, "wansim "+version) {
		t.Fatalf("version output = %q", out)
	}
}

func TestServeSmoke(t *testing.T) {
	isolate(t)
	gin.SetMode(gin.TestMode)

	cfg, err := config.Load("", nil)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	grpcLis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen grpc: %v", err)
	}
	httpLis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen http: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, cfg, logging.Noop(), grpcLis, httpLis) }()

	client, err := nbi.Dial(grpcLis.Addr().String())
	if err != nil {
		t.Fatalf("nbi.Dial: %v", err)
	}
	defer client.Close()

	rpcCtx, rpcCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer rpcCancel()
	if ok, err := client.Healthy(rpcCtx); err != nil || !ok {
		t.Fatalf("Healthy = %v, %v", ok, err)
	}
	snap, err := client.Topology(rpcCtx)
	if err != nil {
		t.Fatalf("Topology: %v", err)
	}
	if len(snap.Sites) != 3 || len(snap.Links) != 2 {
		t.Fatalf("default topology = %d sites, %d links, want 3/2", len(snap.Sites), len(snap.Links))
	}

	resp, err := http.Get("http://" + httpLis.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/healthz status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("serve did not return after cancel")
	}
}

func TestShippedScenarioApplies(t *testing.T) {
	sc, err := loadScenario("../../configs/scenario.yaml")
	if err != nil {
		t.Fatalf("loadScenario: %v", err)
	}
	summary, err := sc.Apply(kb.New())
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if summary.NumSites != 4 || len(summary.LinkIDs) != 5 {
		t.Fatalf("summary = %+v, want 4 sites and 5 links", summary)
	}

	if _, err := loadScenario("does-not-exist.yaml"); err == nil {
		t.Fatalf("loadScenario of a missing file succeeded")
	}
}

func TestShippedConfigLoads(t *testing.T) {
	cfg, err := config.Load("../../configs/wansim.yaml", nil)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	if cfg.Algorithm != "wrr" || cfg.ScenarioPath != "configs/scenario.yaml" {
		t.Fatalf("config = %+v", cfg)
	}
}
