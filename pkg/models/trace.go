package models

// Direction is the traversal direction of a trace: forward follows spends
// (where did the coins go), backward follows prevouts (where did they
// come from).
type Direction string

const (
	DirectionForward  Direction = "forward"
	DirectionBackward Direction = "backward"
)

// TraceNode records one visit to a UTXO (forward traces) or to a whole
// transaction (backward traces, where Vout is unused).
type TraceNode struct {
	Txid          string     `json:"txid"`
	Vout          uint32     `json:"vout"`
	ValueSats     int64      `json:"valueSats"`
	Address       string     `json:"address,omitempty"`
	ScriptType    ScriptType `json:"scriptType,omitempty"`
	Status        UTXOStatus `json:"status"`
	BlockHeight   int        `json:"blockHeight,omitempty"`
	BlockTime     int64      `json:"blockTime,omitempty"`
	SpentByTxid   string     `json:"spentByTxid,omitempty"`
	SpentByVin    int        `json:"spentByVin,omitempty"`
	Depth         int        `json:"depth"`
	CoinjoinScore float64    `json:"coinjoinScore"`
}

// ValueBTCView is the presentation-only BTC view of ValueSats.
func (n TraceNode) ValueBTCView() float64 { return ValueBTC(n.ValueSats) }

// TraceEdge is a directed spend link between two trace nodes.
type TraceEdge struct {
	FromTxid  string `json:"fromTxid"`
	FromVout  uint32 `json:"fromVout"`
	ToTxid    string `json:"toTxid"`
	ToVin     int    `json:"toVin"`
	ValueSats int64  `json:"valueSats"`
}

// TraceResult is the complete output of a forward or backward traversal.
type TraceResult struct {
	StartTxid       string      `json:"startTxid"`
	StartVout       uint32      `json:"startVout"`
	Direction       Direction   `json:"direction"`
	MaxDepth        int         `json:"maxDepth"`
	Nodes           []TraceNode `json:"nodes"`
	Edges           []TraceEdge `json:"edges"`
	UnspentEndpoints []TraceNode `json:"unspentEndpoints"`
	CoinbaseOrigins []TraceNode `json:"coinbaseOrigins,omitempty"`
	CoinjoinTxids   []string    `json:"coinjoinTxids"`
	TotalTransactions int       `json:"totalTransactions"`
	TotalValueTracedSats int64  `json:"totalValueTracedSats"`
	ExecutionTimeMs int64       `json:"executionTimeMs"`
	Warnings        []string    `json:"warnings"`
	HitLimit        bool        `json:"hitLimit"`
	ElectrsEnabled  bool        `json:"electrsEnabled"`
}

// VisitedKey is the (txid, vout) dedup key forward and KYC traces use.
// Backward traces do not use it; they dedup on a plain set of txids.
type VisitedKey struct {
	Txid string
	Vout uint32
}

// KYCPathNode extends TraceNode with the per-path bookkeeping the KYC
// analyser needs to decide termination and compute confidence.
type KYCPathNode struct {
	TraceNode
	IsCoinjoin           bool    `json:"isCoinjoin"`
	CoinjoinCountInPath  int     `json:"coinjoinCountInPath"`
	IsChange             bool    `json:"isChange"`
	ChangeProbability    float64 `json:"changeProbability"`
}

// TrailStatus is why a KYC path stopped being followed.
type TrailStatus string

const (
	TrailActive     TrailStatus = "active"
	TrailCold       TrailStatus = "cold"
	TrailDeadEnd    TrailStatus = "dead_end"
	TrailDepthLimit TrailStatus = "depth_limit"
	TrailLost       TrailStatus = "lost"
)

// ConfidenceLevel buckets a ProbableDestination's numeric confidence.
type ConfidenceLevel string

const (
	ConfidenceHigh       ConfidenceLevel = "high"
	ConfidenceMedium     ConfidenceLevel = "medium"
	ConfidenceLow        ConfidenceLevel = "low"
	ConfidenceNegligible ConfidenceLevel = "negligible"
)

// ConfidenceLevelFor maps a numeric confidence score to its bucket per
// the thresholds high>=0.7, medium>=0.4, low>=0.2, else negligible.
func ConfidenceLevelFor(score float64) ConfidenceLevel {
	switch {
	case score >= 0.7:
		return ConfidenceHigh
	case score >= 0.4:
		return ConfidenceMedium
	case score >= 0.2:
		return ConfidenceLow
	default:
		return ConfidenceNegligible
	}
}

// ProbableDestination is one ranked terminal of a KYC trace.
type ProbableDestination struct {
	Address         string          `json:"address"`
	ValueSats       int64           `json:"valueSats"`
	ConfidenceScore float64         `json:"confidenceScore"`
	ConfidenceLevel ConfidenceLevel `json:"confidenceLevel"`
	PathLength      int             `json:"pathLength"`
	CoinjoinsPassed int             `json:"coinjoinsPassed"`
	TrailStatus     TrailStatus     `json:"trailStatus"`
	Reasoning       []string        `json:"reasoning"`
	Path            []KYCPathNode   `json:"path"`
}

// PrivacyRating buckets the 0-100 overall privacy score.
type PrivacyRating string

const (
	RatingExcellent PrivacyRating = "excellent"
	RatingGood      PrivacyRating = "good"
	RatingModerate  PrivacyRating = "moderate"
	RatingPoor      PrivacyRating = "poor"
	RatingVeryPoor  PrivacyRating = "very_poor"
)

// PrivacyRatingFor maps a 0-100 score to its band.
func PrivacyRatingFor(score float64) PrivacyRating {
	switch {
	case score >= 80:
		return RatingExcellent
	case score >= 60:
		return RatingGood
	case score >= 40:
		return RatingModerate
	case score >= 20:
		return RatingPoor
	default:
		return RatingVeryPoor
	}
}

// KYCResult is the synthesised output of TraceKYCWithdrawal.
type KYCResult struct {
	ExchangeTxid        string                 `json:"exchangeTxid"`
	DestinationAddress  string                 `json:"destinationAddress"`
	StartVout           uint32                 `json:"startVout"`
	StartValueSats      int64                  `json:"startValueSats"`
	MaxDepth            int                    `json:"maxDepth"`
	Destinations        []ProbableDestination  `json:"destinations"`
	CoinjoinsEncountered int                   `json:"coinjoinsEncountered"`
	OverallPrivacyScore float64                `json:"overallPrivacyScore"`
	Rating              PrivacyRating          `json:"rating"`
	Recommendations     []string               `json:"recommendations"`
	Warnings            []string               `json:"warnings"`
	ElectrsEnabled      bool                   `json:"electrsEnabled"`
	ExecutionTimeMs     int64                  `json:"executionTimeMs"`
}

// DepthPreset names the four canned KYC trace depths.
type DepthPreset string

const (
	PresetQuick    DepthPreset = "quick"
	PresetStandard DepthPreset = "standard"
	PresetDeep     DepthPreset = "deep"
	PresetThorough DepthPreset = "thorough"
)

// DepthForPreset resolves a preset name to its max-depth value; every
// preset's value lies in [1, 15]. Unknown names fall back to the standard
// preset.
func DepthForPreset(p DepthPreset) int {
	switch p {
	case PresetQuick:
		return 3
	case PresetDeep:
		return 10
	case PresetThorough:
		return 15
	case PresetStandard:
		return 6
	default:
		return 6
	}
}
