package filter

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Params are the adaptive cutoff parameters for one index
type Params struct {
	MinCutoff float64
	Beta      float64
}

// parseOverrides converts a raw index -> params table into typed overrides.
//
// Accepted values per index:
//
//	[min_cutoff, beta]          either element may be null
//	[min_cutoff]
//	{min_cutoff: x, beta: y}    either key may be missing
//	x                           min_cutoff only
//
// Missing components fall back to def. Entries that fail to parse are logged
// and dropped.
func parseOverrides(channel string, raw map[string]any, def Params, logger *slog.Logger) map[int]Params {
	out := make(map[int]Params, len(raw))

	// Sorted keys keep warnings deterministic
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := raw[key]

		idx, err := strconv.Atoi(strings.TrimSpace(key))
		if err == nil && idx < 0 {
			err = fmt.Errorf("negative index %d", idx)
		}
		if err != nil {
			logger.Warn("filter: invalid override index, using defaults",
				"channel", channel, "index", key, "error", err)
			continue
		}

		p, err := parseParams(value, def)
		if err != nil {
			logger.Warn("filter: invalid override entry, using defaults",
				"channel", channel, "index", idx, "value", value, "error", err)
			continue
		}
		out[idx] = p
	}

	return out
}

func parseParams(value any, def Params) (Params, error) {
	p := def

	switch v := value.(type) {
	case nil:
		return p, nil

	case []any:
		if len(v) == 0 || len(v) > 2 {
			return Params{}, fmt.Errorf("expected [min_cutoff, beta], got %d elements", len(v))
		}
		if v[0] != nil {
			f, err := toFloat(v[0])
			if err != nil {
				return Params{}, fmt.Errorf("min_cutoff: %w", err)
			}
			p.MinCutoff = f
		}
		if len(v) == 2 && v[1] != nil {
			f, err := toFloat(v[1])
			if err != nil {
				return Params{}, fmt.Errorf("beta: %w", err)
			}
			p.Beta = f
		}

	case []float64:
		return parseParams(floatsToAny(v), def)

	case map[string]any:
		for k, raw := range v {
			if raw == nil {
				continue
			}
			f, err := toFloat(raw)
			if err != nil {
				return Params{}, fmt.Errorf("%s: %w", k, err)
			}
			switch k {
			case "min_cutoff":
				p.MinCutoff = f
			case "beta":
				p.Beta = f
			default:
				return Params{}, fmt.Errorf("unknown key %q", k)
			}
		}

	default:
		f, err := toFloat(v)
		if err != nil {
			return Params{}, err
		}
		p.MinCutoff = f
	}

	if err := p.validate(); err != nil {
		return Params{}, err
	}
	return p, nil
}

func (p Params) validate() error {
	if math.IsNaN(p.MinCutoff) || math.IsInf(p.MinCutoff, 0) || p.MinCutoff < 0 {
		return fmt.Errorf("min_cutoff must be a finite non-negative number, got %v", p.MinCutoff)
	}
	if math.IsNaN(p.Beta) || math.IsInf(p.Beta, 0) || p.Beta < 0 {
		return fmt.Errorf("beta must be a finite non-negative number, got %v", p.Beta)
	}
	return nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, fmt.Errorf("not a number: %q", n)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

func floatsToAny(v []float64) []any {
	out := make([]any, len(v))
	for i, f := range v {
		out[i] = f
	}
	return out
}
