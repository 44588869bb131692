package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"tradeengine/internal/pkg/jsonutil"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

// ErrMalformedReply marks a reply that is not a usable boost object.
var ErrMalformedReply = errors.New("malformed ai reply")

const boostSchema = `{
  "type": "object",
  "required": ["boost"],
  "properties": {
    "boost":  {"type": "number", "minimum": 0, "maximum": 1},
    "reason": {"type": "string"}
  }
}`

const boostSystemPrompt = `You review multi-timeframe technical confluence for a crypto futures signal.
Reply with a single JSON object: {"boost": <number 0..1>, "reason": "<one sentence>"}.
boost is extra confidence in the proposed trade; use 0 when you see no reason to add any.`

type TimeframeView struct {
	Timeframe  string  `json:"timeframe"`
	Direction  string  `json:"direction"`
	Confidence float64 `json:"confidence"`
}

type BoostRequest struct {
	Symbol       string          `json:"symbol"`
	Side         string          `json:"side"`
	Dominant     string          `json:"dominant"`
	Strength     float64         `json:"strength"`
	Confirmation string          `json:"confirmation"`
	Timeframes   []TimeframeView `json:"timeframes"`
}

type Boost struct {
	Value  float64
	Reason string
	Model  string
}

// Booster asks a Completer for extra confidence and bounds the answer by MaxBoost.
type Booster struct {
	completer Completer
	maxBoost  float64
	schema    *jsonschema.Schema
}

func NewBooster(c Completer, maxBoost float64) (*Booster, error) {
	if c == nil {
		return nil, fmt.Errorf("booster: completer is nil")
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("boost.json", strings.NewReader(boostSchema)); err != nil {
		return nil, err
	}
	schema, err := compiler.Compile("boost.json")
	if err != nil {
		return nil, err
	}
	return &Booster{completer: c, maxBoost: math.Max(0, maxBoost), schema: schema}, nil
}

func (b *Booster) MaxBoost() float64 { return b.maxBoost }

func (b *Booster) Boost(ctx context.Context, req BoostRequest) (Boost, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return Boost{}, err
	}
	reply, err := b.completer.Complete(ctx, boostSystemPrompt, string(payload))
	if err != nil {
		return Boost{}, err
	}
	out, err := b.parse(reply)
	if err != nil {
		return Boost{}, err
	}
	out.Model = b.completer.ID()
	return out, nil
}

func (b *Booster) parse(reply string) (Boost, error) {
	obj, ok := jsonutil.ExtractObject(reply)
	if !ok {
		return Boost{}, fmt.Errorf("%w: no json object", ErrMalformedReply)
	}
	var doc any
	if err := json.Unmarshal([]byte(obj), &doc); err != nil {
		return Boost{}, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	if err := b.schema.Validate(doc); err != nil {
		return Boost{}, fmt.Errorf("%w: %v", ErrMalformedReply, err)
	}
	v := gjson.Get(obj, "boost").Float()
	return Boost{
		Value:  math.Min(v, b.maxBoost),
		Reason: strings.TrimSpace(gjson.Get(obj, "reason").String()),
	}, nil
}
