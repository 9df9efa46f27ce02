package httpserver

import (
	"net/http"
	"time"
)

// health reports liveness, mirroring the teacher's status/uptime shape.
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(serverStartTime).String(),
	})
}

type catalogEndpoint struct {
	Path         string                  `json:"path"`
	Method       string                  `json:"method"`
	PriceType    string                  `json:"price_type"`
	PriceSats    int64                   `json:"price_sats,omitempty"`
	PriceUSD     float64                 `json:"price_usd,omitempty"`
	Models       map[string]modelCatalog `json:"models,omitempty"`
	Description  string                  `json:"description,omitempty"`
	Streamable   bool                    `json:"streamable"`
	DailyCallCap int                     `json:"daily_call_cap,omitempty"`
}

type modelCatalog struct {
	PriceSats       int64   `json:"price_sats"`
	PriceUSD        float64 `json:"price_usd,omitempty"`
	MaxOutputTokens int     `json:"max_output_tokens,omitempty"`
}

// catalog lists every configured API and its pricing. The USD conversion is
// a read-through cache lookup purely for human-readable display — spec.md
// is explicit that settlement math never touches it.
func (h *handlers) catalog(w http.ResponseWriter, r *http.Request) {
	usdPerBTC := 0.0
	if h.btcPrice != nil {
		if price, err := h.btcPrice.USD(r.Context()); err == nil {
			usdPerBTC = price
		}
	}
	toUSD := func(sats int64) float64 {
		if usdPerBTC == 0 {
			return 0
		}
		return float64(sats) / 100_000_000 * usdPerBTC
	}

	apis := make(map[string][]catalogEndpoint, len(h.cfg.APIs))
	for apiName, api := range h.cfg.APIs {
		endpoints := make([]catalogEndpoint, 0, len(api.Endpoints))
		for path, ep := range api.Endpoints {
			entry := catalogEndpoint{
				Path:         path,
				Method:       ep.Method,
				PriceType:    string(ep.PriceType),
				Description:  ep.Description,
				Streamable:   ep.Streamable,
				DailyCallCap: ep.DailyCallCap,
			}
			if ep.PriceType == "flat" {
				entry.PriceSats = ep.PriceSats
				entry.PriceUSD = toUSD(ep.PriceSats)
			} else if len(ep.Models) > 0 {
				entry.Models = make(map[string]modelCatalog, len(ep.Models))
				for model, mp := range ep.Models {
					entry.Models[model] = modelCatalog{
						PriceSats:       mp.PriceSats,
						PriceUSD:        toUSD(mp.PriceSats),
						MaxOutputTokens: mp.MaxOutputTokens,
					}
				}
			}
			endpoints = append(endpoints, entry)
		}
		apis[apiName] = endpoints
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"apis": apis,
		"hire": map[string]interface{}{
			"task_posting_fee_sats": h.cfg.Hire.TaskPostingFeeSats,
			"quote_fee_sats":        h.cfg.Hire.QuoteFeeSats,
		},
		"btc_usd": usdPerBTC,
	})
}
