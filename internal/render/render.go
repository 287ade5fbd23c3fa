// Package render turns a TraceResult into presentation formats: ASCII
// timeline, JSON graph, Mermaid flowchart, and HTML. Every function here is
// a pure, allocation-light transformation of already-computed trace data —
// no network calls, no state.
package render

import (
	"encoding/json"
	"fmt"
	"html"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rawblock/utxo-provenance/pkg/models"
)

// Color names the fixed palette the colouring rule maps a node onto.
type Color string

const (
	ColorRed    Color = "red"    // CoinJoin hop
	ColorGreen  Color = "green"  // unspent endpoint
	ColorPurple Color = "purple" // coinbase origin
	ColorBlue   Color = "blue"   // everything else
)

func colorFor(node models.TraceNode, coinjoinTxids map[string]bool) Color {
	if coinjoinTxids[node.Txid] {
		return ColorRed
	}
	switch node.Status {
	case models.StatusUnspent:
		return ColorGreen
	case models.StatusCoinbase:
		return ColorPurple
	default:
		return ColorBlue
	}
}

func coinjoinSet(result *models.TraceResult) map[string]bool {
	set := make(map[string]bool, len(result.CoinjoinTxids))
	for _, txid := range result.CoinjoinTxids {
		set[txid] = true
	}
	return set
}

func nodeID(n models.TraceNode) string {
	return fmt.Sprintf("%s:%d", n.Txid, n.Vout)
}

// GraphNode is one vertex of the JSON/Mermaid graph representations.
type GraphNode struct {
	ID            string            `json:"id"`
	Txid          string            `json:"txid"`
	Vout          uint32            `json:"vout"`
	ValueSats     int64             `json:"valueSats"`
	Address       string            `json:"address,omitempty"`
	Status        models.UTXOStatus `json:"status"`
	Depth         int               `json:"depth"`
	CoinjoinScore float64           `json:"coinjoinScore"`
	Color         Color             `json:"color"`
}

// GraphEdge is one directed edge of the JSON/Mermaid graph representations.
type GraphEdge struct {
	From      string `json:"from"`
	To        string `json:"to"`
	ValueSats int64  `json:"valueSats"`
}

// Graph is the full node/edge structure the JSON and Mermaid renderers
// serialize.
type Graph struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// BuildGraph converts a TraceResult into the shared node/edge structure.
// A forward trace's edges name only the spending txid, not which of its
// possibly several outputs the trace continued on, so an edge fans out to
// every graph node sharing that txid — representing every output the
// spending transaction produced, not just the one branch any single path
// happened to follow.
func BuildGraph(result *models.TraceResult) Graph {
	cj := coinjoinSet(result)
	g := Graph{Nodes: make([]GraphNode, 0, len(result.Nodes))}

	byTxid := make(map[string][]string)
	for _, n := range result.Nodes {
		id := nodeID(n)
		byTxid[n.Txid] = append(byTxid[n.Txid], id)
		g.Nodes = append(g.Nodes, GraphNode{
			ID: id, Txid: n.Txid, Vout: n.Vout, ValueSats: n.ValueSats,
			Address: n.Address, Status: n.Status, Depth: n.Depth,
			CoinjoinScore: n.CoinjoinScore, Color: colorFor(n, cj),
		})
	}

	for _, e := range result.Edges {
		fromID := fmt.Sprintf("%s:%d", e.FromTxid, e.FromVout)
		targets := byTxid[e.ToTxid]
		if len(targets) == 0 {
			targets = []string{fmt.Sprintf("%s:0", e.ToTxid)}
		}
		for _, to := range targets {
			g.Edges = append(g.Edges, GraphEdge{From: fromID, To: to, ValueSats: e.ValueSats})
		}
	}
	return g
}

// JSON renders the graph structure as indented JSON.
func JSON(result *models.TraceResult) (string, error) {
	data, err := json.MarshalIndent(BuildGraph(result), "", "  ")
	if err != nil {
		return "", fmt.Errorf("render: encoding graph: %w", err)
	}
	return string(data), nil
}

var statusGlyph = map[models.UTXOStatus]string{
	models.StatusUnspent:  "●",
	models.StatusSpent:    "○",
	models.StatusCoinbase: "★",
	models.StatusUnknown:  "?",
}

const asciiBarWidth = 30

// ASCII renders a timeline: one row per node with a known block time,
// sorted ascending, with a bar proportional to value relative to the
// largest value in the trace.
func ASCII(result *models.TraceResult) string {
	timed := make([]models.TraceNode, 0, len(result.Nodes))
	for _, n := range result.Nodes {
		if n.BlockTime > 0 {
			timed = append(timed, n)
		}
	}
	sort.Slice(timed, func(i, j int) bool { return timed[i].BlockTime < timed[j].BlockTime })

	var maxValue int64
	for _, n := range timed {
		if n.ValueSats > maxValue {
			maxValue = n.ValueSats
		}
	}

	var b strings.Builder
	for _, n := range timed {
		date := time.Unix(n.BlockTime, 0).UTC().Format("2006-01-02")
		bar := strings.Repeat("█", barLength(n.ValueSats, maxValue))
		glyph := statusGlyph[n.Status]
		if glyph == "" {
			glyph = "?"
		}
		fmt.Fprintf(&b, "%s │ %s %.8f %s\n", date, bar, models.ValueBTC(n.ValueSats), glyph)
	}
	return b.String()
}

func barLength(value, maxValue int64) int {
	if maxValue <= 0 {
		return 1
	}
	length := int(math.Round(asciiBarWidth * float64(value) / float64(maxValue)))
	if length < 1 {
		return 1
	}
	return length
}

func mermaidID(id string) string {
	r := strings.NewReplacer(":", "_", ".", "_")
	return "n" + r.Replace(id)
}

// Mermaid renders a flowchart with per-node colour styling matching the
// shared colouring rule.
func Mermaid(result *models.TraceResult) string {
	graph := BuildGraph(result)
	var b strings.Builder
	b.WriteString("flowchart LR\n")
	for _, n := range graph.Nodes {
		label := fmt.Sprintf("%s:%d<br/>%.8f BTC", shortTxid(n.Txid), n.Vout, models.ValueBTC(n.ValueSats))
		fmt.Fprintf(&b, "  %s[\"%s\"]\n", mermaidID(n.ID), label)
		fmt.Fprintf(&b, "  style %s fill:%s\n", mermaidID(n.ID), string(n.Color))
	}
	for _, e := range graph.Edges {
		fmt.Fprintf(&b, "  %s --> %s\n", mermaidID(e.From), mermaidID(e.To))
	}
	return b.String()
}

func shortTxid(txid string) string {
	if len(txid) <= 10 {
		return txid
	}
	return txid[:10] + "…"
}

// HTML renders a minimal standalone page listing nodes and edges with
// colour-coded rows, for manual inspection without any client-side
// dependency.
func HTML(result *models.TraceResult) string {
	graph := BuildGraph(result)
	var b strings.Builder
	b.WriteString("<!DOCTYPE html><html><head><meta charset=\"utf-8\"><title>UTXO trace</title>")
	b.WriteString("<style>body{font-family:monospace}.node{padding:2px 6px;margin:2px;display:inline-block;color:#fff}" +
		".red{background:#c0392b}.green{background:#27ae60}.purple{background:#8e44ad}.blue{background:#2980b9}</style></head><body>")
	fmt.Fprintf(&b, "<h1>%s trace of %s</h1>", html.EscapeString(string(result.Direction)), html.EscapeString(result.StartTxid))
	b.WriteString("<h2>Nodes</h2><ul>")
	for _, n := range graph.Nodes {
		fmt.Fprintf(&b, "<li><span class=\"node %s\">%s</span> %.8f BTC depth %d status %s</li>\n",
			n.Color, html.EscapeString(n.ID), models.ValueBTC(n.ValueSats), n.Depth, n.Status)
	}
	b.WriteString("</ul><h2>Edges</h2><ul>")
	for _, e := range graph.Edges {
		fmt.Fprintf(&b, "<li>%s &rarr; %s (%.8f BTC)</li>\n", html.EscapeString(e.From), html.EscapeString(e.To), models.ValueBTC(e.ValueSats))
	}
	b.WriteString("</ul></body></html>")
	return b.String()
}
