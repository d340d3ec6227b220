// Command pulsed runs the perception-action feedback loop as a
// standalone daemon: it wires the monitors, event loop core, cycle
// orchestrator, and feedback processor together via internal/corectx,
// then exposes the result over an MCP tool server and a websocket
// dashboard feed. Grounded on cmd/bud/main.go's explicit wiring,
// pid-file, and signal-handling shape.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/vthunder/pulseloop/internal/config"
	"github.com/vthunder/pulseloop/internal/corectx"
	"github.com/vthunder/pulseloop/internal/introspect"
	"github.com/vthunder/pulseloop/internal/logging"

	"github.com/mark3labs/mcp-go/server"
)

const Version = "1.0.0"

func main() {
	log.Printf("pulsed - perception-action feedback loop daemon [%s]", Version)

	secrets := config.LoadSecrets()
	if secrets.StatePath == "" {
		secrets.StatePath = "state"
	}
	if err := os.MkdirAll(secrets.StatePath, 0o755); err != nil {
		log.Fatalf("failed to create state directory: %v", err)
	}

	cleanupPidFile := checkPidFile(secrets.StatePath)
	defer cleanupPidFile()

	rulesPath := os.Getenv("PULSELOOP_RULES_PATH")
	if rulesPath == "" {
		rulesPath = filepath.Join(secrets.StatePath, "pulseloop.yaml")
	}
	rules, err := config.LoadRules(rulesPath)
	if err != nil {
		logging.Warn("main", "failed to load rules from %s, using defaults: %v", rulesPath, err)
		rules = config.DefaultRules()
	}

	pulseCtx, err := corectx.New(secrets, rules)
	if err != nil {
		log.Fatalf("failed to wire perception-action loop: %v", err)
	}

	broadcaster := introspect.NewBroadcaster()
	broadcaster.Wire(pulseCtx.Orchestrator)

	mcpServer := introspect.NewMCPServer(pulseCtx)
	httpServer := server.NewStreamableHTTPServer(mcpServer)

	mux := http.NewServeMux()
	mux.Handle("/mcp", httpServer)
	mux.Handle("/ws", broadcaster)

	httpAddr := os.Getenv("PULSELOOP_HTTP_ADDR")
	if httpAddr == "" {
		httpAddr = "127.0.0.1:8077"
	}

	go func() {
		logging.Info("main", "serving MCP at http://%s/mcp and websocket at ws://%s/ws", httpAddr, httpAddr)
		if err := http.ListenAndServe(httpAddr, mux); err != nil {
			log.Fatalf("introspection server error: %v", err)
		}
	}()

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pulseCtx.Start(runCtx)

	logging.Info("main", "all subsystems started, press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logging.Info("main", "shutting down")
	cancel()
	pulseCtx.Shutdown()
	logging.Info("main", "goodbye")
}

// checkPidFile detects a stale or live prior pulsed process, kills it
// if it is still running, and writes the current pid. Returns a
// cleanup function that removes the pid file on exit.
func checkPidFile(statePath string) func() {
	pidFile := filepath.Join(statePath, "pulsed.pid")

	if data, err := os.ReadFile(pidFile); err == nil {
		pidStr := strings.TrimSpace(string(data))
		if pid, err := strconv.Atoi(pidStr); err == nil {
			if proc, err := process.NewProcess(int32(pid)); err == nil {
				if running, _ := proc.IsRunning(); running {
					name, _ := proc.Name()
					cmdline, _ := proc.Cmdline()
					if strings.Contains(name, "pulsed") || strings.Contains(cmdline, "pulsed") {
						logging.Warn("main", "killing existing pulsed process (pid %d)", pid)
						proc.Kill()
						time.Sleep(500 * time.Millisecond)
					}
				}
			}
		}
		os.Remove(pidFile)
	}

	myPid := os.Getpid()
	if err := os.WriteFile(pidFile, []byte(strconv.Itoa(myPid)), 0o644); err != nil {
		logging.Warn("main", "failed to write pid file: %v", err)
	}

	return func() {
		os.Remove(pidFile)
	}
}

