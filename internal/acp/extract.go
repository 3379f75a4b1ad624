package acp

import (
	"encoding/json"
	"math"

	"github.com/alphahunt-ai/alphahunt/internal/model"
)

// fallbackConfidence is assigned when nothing in an agent's response yields a
// usable confidence.
const fallbackConfidence = 0.25

// draft is a vote before weighting: what COLLECT extracts, before CONSENSUS
// derives effective stake and weight.
type draft struct {
	key           string
	direction     model.Direction
	confidence    float64
	declaredStake float64
	fromHeader    bool
}

// collectVote extracts one vote from an agent response. Protocol metadata
// wins when it carries a parseable direction; otherwise the per-kind
// heuristic runs against the raw payload; the typed opinion and finally a
// neutral low-confidence vote are the last resorts. Never fails: a malformed
// response degrades, it does not exclude the agent from the round.
func collectVote(resp *model.AgentResponse) draft {
	d := draft{key: resp.AgentKey, direction: model.DirectionNeutral, confidence: fallbackConfidence}

	if meta := resp.Meta; meta != nil {
		if dir, err := model.ParseDirection(meta.Direction); err == nil {
			d.direction = dir
			d.fromHeader = true
			if meta.Confidence != nil {
				d.confidence = model.ClampConfidence(*meta.Confidence)
			} else if resp.Opinion != nil {
				d.confidence = model.ClampConfidence(resp.Opinion.Confidence)
			}
			d.declaredStake = declaredStake(meta.Stake, resp.Opinion, d.confidence)
			return d
		}
	}

	if dir, conf, ok := extractHeuristic(resp.Kind, resp.Payload); ok {
		d.direction = dir
		d.confidence = conf
		d.declaredStake = declaredStake(nil, resp.Opinion, conf)
		return d
	}

	if op := resp.Opinion; op != nil {
		if dir, err := model.ParseDirection(string(op.Direction)); err == nil {
			d.direction = dir
			d.confidence = model.ClampConfidence(op.Confidence)
		}
	}
	d.declaredStake = declaredStake(nil, resp.Opinion, d.confidence)
	return d
}

// declaredStake resolves the stake an agent puts behind its vote: protocol
// header first, then the opinion's declared stake, then the notional default
// scaled by confidence.
func declaredStake(metaStake *float64, op *model.Opinion, confidence float64) float64 {
	if metaStake != nil && *metaStake > 0 {
		return *metaStake
	}
	if op != nil && op.DeclaredStake != nil && *op.DeclaredStake > 0 {
		return *op.DeclaredStake
	}
	return model.BaseStake * confidence
}

// Per-kind payload shapes for the heuristic extractor.

type marketPayload struct {
	PriceChange24h float64 `json:"price_change_24h"`
	VolumeChange   float64 `json:"volume_change"`
}

type newsPayload struct {
	SentimentScore float64 `json:"sentiment_score"` // [-1, 1]
	ArticleCount   int     `json:"article_count"`
}

type onchainPayload struct {
	NetExchangeFlow  float64 `json:"net_exchange_flow"` // positive = onto exchanges
	ActiveAddrChange float64 `json:"active_addresses_change"`
}

type sentimentPayload struct {
	BullishPct float64 `json:"bullish_pct"`
	BearishPct float64 `json:"bearish_pct"`
}

type externalPayload struct {
	Direction  string  `json:"direction"`
	Confidence float64 `json:"confidence"`
}

// extractHeuristic derives a direction and confidence from an agent's
// domain-specific payload shape. One extractor per agent kind, matched
// exhaustively; unknown kinds use the generic external shape.
func extractHeuristic(kind model.AgentKind, payload json.RawMessage) (model.Direction, float64, bool) {
	if len(payload) == 0 {
		return model.DirectionNeutral, 0, false
	}
	switch kind {
	case model.KindMarket:
		return extractMarket(payload)
	case model.KindNews:
		return extractNews(payload)
	case model.KindOnchain:
		return extractOnchain(payload)
	case model.KindSentiment:
		return extractSentiment(payload)
	case model.KindExternal:
		return extractExternal(payload)
	default:
		return extractExternal(payload)
	}
}

func extractMarket(payload json.RawMessage) (model.Direction, float64, bool) {
	var p marketPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return model.DirectionNeutral, 0, false
	}
	if p.PriceChange24h == 0 && p.VolumeChange == 0 {
		return model.DirectionNeutral, 0, false
	}
	dir := model.DirectionNeutral
	switch {
	case p.PriceChange24h > 2:
		dir = model.DirectionBullish
	case p.PriceChange24h < -2:
		dir = model.DirectionBearish
	}
	conf := model.ClampConfidence(math.Abs(p.PriceChange24h) / 10)
	if conf < fallbackConfidence {
		conf = fallbackConfidence
	}
	return dir, conf, true
}

func extractNews(payload json.RawMessage) (model.Direction, float64, bool) {
	var p newsPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return model.DirectionNeutral, 0, false
	}
	if p.SentimentScore == 0 && p.ArticleCount == 0 {
		return model.DirectionNeutral, 0, false
	}
	dir := model.DirectionNeutral
	switch {
	case p.SentimentScore > 0.2:
		dir = model.DirectionBullish
	case p.SentimentScore < -0.2:
		dir = model.DirectionBearish
	}
	conf := model.ClampConfidence(math.Abs(p.SentimentScore))
	if conf < fallbackConfidence {
		conf = fallbackConfidence
	}
	return dir, conf, true
}

func extractOnchain(payload json.RawMessage) (model.Direction, float64, bool) {
	var p onchainPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return model.DirectionNeutral, 0, false
	}
	if p.NetExchangeFlow == 0 && p.ActiveAddrChange == 0 {
		return model.DirectionNeutral, 0, false
	}
	// Coins moving off exchanges read as accumulation.
	dir := model.DirectionNeutral
	switch {
	case p.NetExchangeFlow < 0:
		dir = model.DirectionBullish
	case p.NetExchangeFlow > 0:
		dir = model.DirectionBearish
	}
	conf := model.ClampConfidence(math.Abs(p.NetExchangeFlow) / 1000)
	if conf < fallbackConfidence {
		conf = fallbackConfidence
	}
	return dir, conf, true
}

func extractSentiment(payload json.RawMessage) (model.Direction, float64, bool) {
	var p sentimentPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return model.DirectionNeutral, 0, false
	}
	if p.BullishPct == 0 && p.BearishPct == 0 {
		return model.DirectionNeutral, 0, false
	}
	dir := model.DirectionNeutral
	diff := p.BullishPct - p.BearishPct
	switch {
	case diff > 10:
		dir = model.DirectionBullish
	case diff < -10:
		dir = model.DirectionBearish
	}
	conf := model.ClampConfidence(math.Abs(diff) / 100)
	if conf < fallbackConfidence {
		conf = fallbackConfidence
	}
	return dir, conf, true
}

func extractExternal(payload json.RawMessage) (model.Direction, float64, bool) {
	var p externalPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return model.DirectionNeutral, 0, false
	}
	dir, err := model.ParseDirection(p.Direction)
	if err != nil {
		return model.DirectionNeutral, 0, false
	}
	conf := model.ClampConfidence(p.Confidence)
	if conf == 0 {
		conf = fallbackConfidence
	}
	return dir, conf, true
}
