// Package tools defines the structured query tools the assistant can invoke
// during a conversation. Each tool satisfies Eino's tool.InvokableTool interface
// so it can be registered directly with the chat model.
//
// The four crop query tools are one parametrized implementation: they differ
// only in which numeric column of the crops table they filter and sort by.
package tools

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/cropsage/cropsage/internal/crops"
	"github.com/cropsage/cropsage/internal/logging"
)

// Querier is the slice of the crops store the tools depend on.
// *crops.Store satisfies it; tests inject a fake.
type Querier interface {
	// Query returns the records matching the filter on the metric's column.
	Query(ctx context.Context, metric crops.Metric, f crops.Filter) ([]crops.Record, error)
}

// toolSpec fixes the identity of one member of the crop query family.
type toolSpec struct {
	// name is the tool name declared to the model.
	name string
	// metric is the numeric column this tool filters and sorts by.
	metric crops.Metric
	// metricLabel names the column in LLM-facing parameter descriptions.
	metricLabel string
	// description is the LLM-facing tool description.
	description string
}

// CropQueryTool is one member of the crop query family. Its data-layer
// contract never raises toward the router: filter or query problems produce
// the "no matching crops found." sentinel so the final synthesis call always
// has usable tool output.
type CropQueryTool struct {
	// spec fixes the tool's name, metric column, and descriptions.
	spec toolSpec
	// store answers the parametrized crop queries.
	store Querier
}

// NewSellPriceTool queries crops by base sell price.
func NewSellPriceTool(store Querier) *CropQueryTool {
	return &CropQueryTool{store: store, spec: toolSpec{
		name:        "get_crops_by_sellprice",
		metric:      crops.MetricSellPrice,
		metricLabel: "sell price in gold",
		description: "Look up crops by season, sell price range, harvest type, and sort order. " +
			"Use this for questions about how much crops sell for.",
	}}
}

// NewDailyRevenueTool queries crops by average daily revenue.
func NewDailyRevenueTool(store Querier) *CropQueryTool {
	return &CropQueryTool{store: store, spec: toolSpec{
		name:        "get_crops_by_dailyrevenue",
		metric:      crops.MetricDailyRevenue,
		metricLabel: "average daily revenue in gold",
		description: "Look up crops by season, daily revenue range, harvest type, and sort order. " +
			"Use this for questions about which crops are the most profitable per day.",
	}}
}

// NewSeedPriceTool queries crops by seed shop price.
func NewSeedPriceTool(store Querier) *CropQueryTool {
	return &CropQueryTool{store: store, spec: toolSpec{
		name:        "get_crops_by_seedprice",
		metric:      crops.MetricSeedPrice,
		metricLabel: "seed price in gold",
		description: "Look up crops by season, seed price range, harvest type, and sort order. " +
			"Use this for questions about how much seeds cost.",
	}}
}

// NewGrowTimeTool queries crops by days to first harvest.
func NewGrowTimeTool(store Querier) *CropQueryTool {
	return &CropQueryTool{store: store, spec: toolSpec{
		name:        "get_crops_by_growtime",
		metric:      crops.MetricGrowTime,
		metricLabel: "days from planting to first harvest",
		description: "Look up crops by season, grow time range, harvest type, and sort order. " +
			"Use this for questions about how long crops take to grow.",
	}}
}

// All returns the full crop query tool family backed by store.
func All(store Querier) []tool.InvokableTool {
	return []tool.InvokableTool{
		NewSellPriceTool(store),
		NewDailyRevenueTool(store),
		NewSeedPriceTool(store),
		NewGrowTimeTool(store),
	}
}

// Name returns the tool name declared to the model.
func (t *CropQueryTool) Name() string { return t.spec.name }

// Description returns the LLM-facing description of this tool.
func (t *CropQueryTool) Description() string { return t.spec.description }

// Info returns the Eino tool metadata including the parameter schema.
// All parameters are optional; an unconstrained call lists every crop.
func (t *CropQueryTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: t.spec.name,
		Desc: t.spec.description,
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"season": {
				Type: schema.String,
				Desc: "Season to filter by, e.g. 'spring'. Matches multi-season crops like 'spring+summer'. Omit for all seasons.",
			},
			"min": {
				Type: schema.Number,
				Desc: "Inclusive lower bound on the " + t.spec.metricLabel + ". Omit for no lower bound.",
			},
			"max": {
				Type: schema.Number,
				Desc: "Inclusive upper bound on the " + t.spec.metricLabel + ". Omit for no upper bound.",
			},
			"grow_type": {
				Type: schema.String,
				Enum: []string{string(crops.GrowTypeSingle), string(crops.GrowTypeContinuous)},
				Desc: "Harvest type: 'single' for one harvest per planting, 'continuous' for regrowing crops. Omit for both.",
			},
			"sort_by": {
				Type: schema.String,
				Enum: []string{"asc", "desc"},
				Desc: "Sort direction on the " + t.spec.metricLabel + ". Omit for the table's natural order.",
			},
			"top_n": {
				Type: schema.Integer,
				Desc: "Return at most this many records. Omit or non-positive for all matches.",
			},
		}),
	}, nil
}

// cropQueryInput is the JSON-serialisable input shared by the tool family.
type cropQueryInput struct {
	// Season filters by substring match on the season field.
	Season string `json:"season,omitempty"`
	// Min is the inclusive lower bound on the tool's metric column.
	Min *float64 `json:"min,omitempty"`
	// Max is the inclusive upper bound on the tool's metric column.
	Max *float64 `json:"max,omitempty"`
	// GrowType filters by exact harvest type.
	GrowType string `json:"grow_type,omitempty"`
	// SortBy orders results on the metric column: asc or desc.
	SortBy string `json:"sort_by,omitempty"`
	// TopN caps the result count.
	TopN int `json:"top_n,omitempty"`
}

// knownArgs is the declared parameter schema; anything else the model
// invents is dropped before dispatch.
var knownArgs = map[string]bool{
	"season":    true,
	"min":       true,
	"max":       true,
	"grow_type": true,
	"sort_by":   true,
	"top_n":     true,
}

// InvokableRun executes the tool given a JSON-encoded argument string.
// Unrecognised argument names are dropped, not passed through. Malformed
// arguments and data-layer failures yield the sentinel text rather than an
// error, so the router still performs the final synthesis call either way.
func (t *CropQueryTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	log := logging.FromContext(ctx)

	input, ok := t.parseArgs(ctx, argumentsInJSON)
	if !ok {
		return crops.NoMatchSentinel, nil
	}

	filter := crops.Filter{
		Season:   input.Season,
		Min:      input.Min,
		Max:      input.Max,
		GrowType: crops.GrowType(input.GrowType),
		Sort:     input.SortBy,
		Limit:    input.TopN,
	}

	records, err := t.store.Query(ctx, t.spec.metric, filter)
	if err != nil {
		log.Warn("crop query failed, returning sentinel",
			slog.String("tool", t.spec.name),
			slog.Any("error", err),
		)
		return crops.NoMatchSentinel, nil
	}

	return crops.Format(records), nil
}

// parseArgs decodes the model-supplied arguments, dropping unknown names.
// Returns ok=false when the arguments are not usable at all.
func (t *CropQueryTool) parseArgs(ctx context.Context, argumentsInJSON string) (cropQueryInput, bool) {
	log := logging.FromContext(ctx)

	var input cropQueryInput
	if argumentsInJSON == "" {
		return input, true
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(argumentsInJSON), &raw); err != nil {
		log.Warn("malformed tool arguments",
			slog.String("tool", t.spec.name),
			slog.Any("error", err),
		)
		return input, false
	}

	for name := range raw {
		if !knownArgs[name] {
			log.Warn("dropping unknown tool argument",
				slog.String("tool", t.spec.name),
				slog.String("argument", name),
			)
			delete(raw, name)
		}
	}

	filtered, err := json.Marshal(raw)
	if err != nil {
		return input, false
	}
	if err := json.Unmarshal(filtered, &input); err != nil {
		log.Warn("tool arguments failed schema decode",
			slog.String("tool", t.spec.name),
			slog.Any("error", err),
		)
		return input, false
	}

	return input, true
}
