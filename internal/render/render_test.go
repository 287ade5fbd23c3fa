package render

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/rawblock/utxo-provenance/pkg/models"
)

func sampleResult() *models.TraceResult {
	return &models.TraceResult{
		StartTxid: "ROOT",
		Direction: models.DirectionForward,
		Nodes: []models.TraceNode{
			{Txid: "ROOT", Vout: 0, ValueSats: 5_000_000, Status: models.StatusCoinbase, Depth: 0, BlockTime: 1000},
			{Txid: "CJ", Vout: 0, ValueSats: 1_000_000, Status: models.StatusSpent, Depth: 1, BlockTime: 2000},
			{Txid: "CJ", Vout: 1, ValueSats: 1_000_000, Status: models.StatusUnspent, Depth: 1, BlockTime: 2000},
			{Txid: "LEAF", Vout: 0, ValueSats: 900_000, Status: models.StatusUnspent, Depth: 2},
		},
		Edges: []models.TraceEdge{
			{FromTxid: "ROOT", FromVout: 0, ToTxid: "CJ", ToVin: 0, ValueSats: 5_000_000},
			{FromTxid: "CJ", FromVout: 0, ToTxid: "LEAF", ToVin: 0, ValueSats: 900_000},
		},
		CoinjoinTxids: []string{"CJ"},
	}
}

func TestBuildGraph_ColorsByStatusAndCoinjoin(t *testing.T) {
	g := BuildGraph(sampleResult())
	colors := make(map[string]Color)
	for _, n := range g.Nodes {
		colors[n.ID] = n.Color
	}
	if colors["ROOT:0"] != ColorPurple {
		t.Fatalf("coinbase node = %v, want purple", colors["ROOT:0"])
	}
	if colors["CJ:0"] != ColorRed || colors["CJ:1"] != ColorRed {
		t.Fatalf("coinjoin nodes should be red regardless of status, got %v / %v", colors["CJ:0"], colors["CJ:1"])
	}
	if colors["LEAF:0"] != ColorGreen {
		t.Fatalf("unspent leaf = %v, want green", colors["LEAF:0"])
	}
}

func TestBuildGraph_EdgeFansOutToEveryOutputOfSpendingTx(t *testing.T) {
	g := BuildGraph(sampleResult())
	var toCJ int
	for _, e := range g.Edges {
		if e.From == "ROOT:0" {
			toCJ++
		}
	}
	if toCJ != 2 {
		t.Fatalf("expected the ROOT edge to fan out to both CJ outputs, got %d edges", toCJ)
	}
}

func TestJSON_RoundTrips(t *testing.T) {
	out, err := JSON(sampleResult())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var g Graph
	if err := json.Unmarshal([]byte(out), &g); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if len(g.Nodes) != 4 {
		t.Fatalf("expected 4 nodes, got %d", len(g.Nodes))
	}
}

func TestASCII_SortsByBlockTimeAndScalesBars(t *testing.T) {
	out := ASCII(sampleResult())
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 timed rows (LEAF has no block time), got %d: %q", len(lines), out)
	}
	if !strings.HasPrefix(lines[0], "1970-01-01") {
		t.Fatalf("expected the earliest block time first, got %q", lines[0])
	}
	// ROOT carries the max value in the trace, so its bar must be the full width.
	if !strings.Contains(lines[0], strings.Repeat("█", asciiBarWidth)) {
		t.Fatalf("expected the max-value row to use the full bar width, got %q", lines[0])
	}
}

func TestBarLength_NeverZero(t *testing.T) {
	if got := barLength(0, 100); got != 1 {
		t.Fatalf("barLength(0, 100) = %d, want 1", got)
	}
	if got := barLength(1, 1_000_000); got != 1 {
		t.Fatalf("barLength(1, 1_000_000) = %d, want 1", got)
	}
	if got := barLength(0, 0); got != 1 {
		t.Fatalf("barLength(0, 0) = %d, want 1", got)
	}
}

func TestMermaid_EmitsFlowchartWithStyledNodes(t *testing.T) {
	out := Mermaid(sampleResult())
	if !strings.HasPrefix(out, "flowchart LR\n") {
		t.Fatalf("expected a flowchart header, got %q", out[:20])
	}
	if !strings.Contains(out, "fill:red") {
		t.Fatalf("expected the coinjoin node to be styled red, got %q", out)
	}
	if !strings.Contains(out, "-->") {
		t.Fatalf("expected at least one edge, got %q", out)
	}
}

func TestHTML_EscapesAndColorsNodes(t *testing.T) {
	result := sampleResult()
	result.StartTxid = "<script>"
	out := HTML(result)
	if strings.Contains(out, "<script>ROOT") {
		t.Fatalf("expected the start txid to be HTML-escaped, got %q", out)
	}
	if !strings.Contains(out, "class=\"node purple\"") {
		t.Fatalf("expected the coinbase node to carry the purple class, got %q", out)
	}
}
