// Command pulsectl inspects a pulseloop daemon's persisted state:
// feedback history, completed-cycle history, and ad-hoc jq-style queries
// over both. Grounded on cmd/bud-state/main.go's subcommand dispatch and
// plain-text report idiom.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/itchyny/gojq"
)

func main() {
	statePath := os.Getenv("PULSELOOP_STATE_PATH")
	if statePath == "" {
		statePath = "state"
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "summary", "":
		handleSummary(statePath)
	case "cycles":
		handleCycles(statePath, args)
	case "recommendations":
		handleRecommendations(statePath, args)
	case "query":
		handleQuery(statePath, args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`pulsectl - Inspect a pulseloop daemon's persisted state

Usage: pulsectl <command> [options]

Commands:
  summary                  Feedback + cycle counters (default)
  cycles                   List recent completed cycles
  cycles -n 20             Limit to last N cycles (default 10)
  cycles --failed          Only cycles that never reached completed
  recommendations          Underperforming action kinds from feedback history
  query '<jq expr>'        Run a jq expression against feedback_history.json
  query --cycles '<expr>'  Run a jq expression against each cycle_history.jsonl line

Environment:
  PULSELOOP_STATE_PATH     State directory (default: "state")`)
}

func feedbackHistoryPath(statePath string) string {
	return filepath.Join(statePath, "feedback_history.json")
}

func cycleHistoryPath(statePath string) string {
	return filepath.Join(statePath, "cycle_history.jsonl")
}

func loadFeedbackHistory(statePath string) (map[string]any, error) {
	data, err := os.ReadFile(feedbackHistoryPath(statePath))
	if os.IsNotExist(err) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse feedback history: %w", err)
	}
	return doc, nil
}

func loadCycleRecords(statePath string) ([]map[string]any, error) {
	f, err := os.Open(cycleHistoryPath(statePath))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []map[string]any
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec map[string]any
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, scanner.Err()
}

func handleSummary(statePath string) {
	doc, err := loadFeedbackHistory(statePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	cycles, err := loadCycleRecords(statePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	completed, failed := 0, 0
	for _, c := range cycles {
		if c["state"] == "completed" {
			completed++
		} else {
			failed++
		}
	}

	fmt.Println("Pulseloop Summary")
	fmt.Println("=================")
	history, _ := doc["feedback_history"].(map[string]any)
	fmt.Printf("Action kinds tracked: %d\n", len(history))
	if metrics, ok := doc["metrics"].(map[string]any); ok {
		fmt.Println("\nFeedback metrics:")
		for k, v := range metrics {
			fmt.Printf("  %s: %v\n", k, v)
		}
	}
	fmt.Println("\nCycle history:")
	fmt.Printf("  completed: %d\n", completed)
	fmt.Printf("  failed:    %d\n", failed)
	fmt.Printf("  total:     %d\n", len(cycles))
}

func handleCycles(statePath string, args []string) {
	limit := 10
	onlyFailed := false
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "--failed":
			onlyFailed = true
		case strings.HasPrefix(a, "-n"):
			rest := strings.TrimPrefix(a, "-n")
			rest = strings.TrimSpace(rest)
			if rest == "" && i+1 < len(args) {
				i++
				rest = args[i]
			}
			if rest == "" {
				continue
			}
			fmt.Sscanf(rest, "%d", &limit)
		}
	}

	cycles, err := loadCycleRecords(statePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if onlyFailed {
		var filtered []map[string]any
		for _, c := range cycles {
			if c["state"] != "completed" {
				filtered = append(filtered, c)
			}
		}
		cycles = filtered
	}
	if len(cycles) > limit {
		cycles = cycles[len(cycles)-limit:]
	}

	for _, c := range cycles {
		data, _ := json.Marshal(c)
		fmt.Println(string(data))
	}
}

func handleRecommendations(statePath string, args []string) {
	threshold := 0.7
	for _, a := range args {
		if strings.HasPrefix(a, "--threshold=") {
			fmt.Sscanf(strings.TrimPrefix(a, "--threshold="), "%f", &threshold)
		}
	}

	doc, err := loadFeedbackHistory(statePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	history, _ := doc["feedback_history"].(map[string]any)
	if len(history) == 0 {
		fmt.Println("No feedback history recorded yet.")
		return
	}

	found := false
	for kind, v := range history {
		entry, ok := v.(map[string]any)
		if !ok {
			continue
		}
		score, _ := entry["average_score"].(float64)
		if score < threshold {
			found = true
			fmt.Printf("%-24s average_score=%.3f feedback_count=%v\n", kind, score, entry["feedback_count"])
		}
	}
	if !found {
		fmt.Println("No action kind falls below the threshold.")
	}
}

// handleQuery runs a jq expression against either the feedback history
// document (default) or each completed-cycle record (--cycles).
func handleQuery(statePath string, args []string) {
	var exprStr string
	queryCycles := false
	for _, a := range args {
		if a == "--cycles" {
			queryCycles = true
			continue
		}
		exprStr = a
	}
	if exprStr == "" {
		fmt.Fprintln(os.Stderr, "query requires a jq expression")
		os.Exit(1)
	}

	expr, err := gojq.Parse(exprStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid jq expression: %v\n", err)
		os.Exit(1)
	}

	var inputs []any
	if queryCycles {
		cycles, err := loadCycleRecords(statePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		for _, c := range cycles {
			inputs = append(inputs, c)
		}
	} else {
		doc, err := loadFeedbackHistory(statePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		inputs = append(inputs, doc)
	}

	for _, input := range inputs {
		iter := expr.Run(input)
		for {
			v, ok := iter.Next()
			if !ok {
				break
			}
			if err, ok := v.(error); ok {
				fmt.Fprintf(os.Stderr, "query error: %v\n", err)
				continue
			}
			out, err := json.Marshal(v)
			if err != nil {
				fmt.Fprintf(os.Stderr, "marshal error: %v\n", err)
				continue
			}
			fmt.Println(string(out))
		}
	}
}
