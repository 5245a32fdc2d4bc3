package engine

import (
	"bufio"
	"bytes"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// streamResultEvent is the final "result" line of a stream-json NDJSON run.
// The claude and gemini CLIs share this envelope.
type streamResultEvent struct {
	Type         string  `json:"type"`
	Subtype      string  `json:"subtype,omitempty"`
	TotalCostUSD float64 `json:"total_cost_usd"`
	NumTurns     int     `json:"num_turns"`
	IsError      bool    `json:"is_error,omitempty"`
}

// parseStreamJSON scans NDJSON output for the trailing result event and
// returns the cost and turn count it reports. Unparseable lines are skipped;
// when several result events appear the last one wins.
func parseStreamJSON(stdout string) (float64, int) {
	cost, turns := 0.0, 0
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var ev streamResultEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		if ev.Type != "result" {
			continue
		}
		cost = ev.TotalCostUSD
		turns = ev.NumTurns
	}
	return cost, turns
}

// codexEvent covers the JSONL shapes codex exec --json emits that carry
// accounting data.
type codexEvent struct {
	Type         string  `json:"type"`
	TotalCostUSD float64 `json:"total_cost_usd,omitempty"`
}

var costLineRe = regexp.MustCompile(`Cost:\s*\$([0-9.]+)`)

// parseCodexOutput extracts cost and turns from codex JSONL. Turn count is
// the number of completed turns observed. When no structured cost appears,
// a plain "Cost: $x.yz" line is accepted as a fallback.
func parseCodexOutput(stdout string) (float64, int) {
	cost, turns := 0.0, 0
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var ev codexEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		if ev.TotalCostUSD > 0 {
			cost = ev.TotalCostUSD
		}
		if ev.Type == "turn.completed" {
			turns++
		}
	}
	if cost == 0 {
		if m := costLineRe.FindStringSubmatch(stdout); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				cost = v
			}
		}
	}
	return cost, turns
}
