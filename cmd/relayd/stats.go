package main

import (
	"context"
	"time"

	"github.com/matst80/tcprelay/internal/endpoint"
	"github.com/matst80/tcprelay/internal/obs"
)

type mappingView struct {
	Listen string `json:"listen"`
	Dest   string `json:"dest"`
}

// Stats represents current relay stats for dashboards & API.
type Stats struct {
	counters
	Uptime   string             `json:"uptime"`
	Mappings []mappingView      `json:"mappings"`
	Peers    []instanceCounters `json:"peers,omitempty"`
	Now      string             `json:"now"`
}

func collectStats(ctx context.Context, s StateStore, table *endpoint.Table, started time.Time) Stats {
	st := Stats{
		counters: s.getStats(),
		Uptime:   time.Since(started).Round(time.Second).String(),
		Now:      time.Now().UTC().Format(time.RFC3339),
	}
	for _, e := range table.Entries() {
		st.Mappings = append(st.Mappings, mappingView{Listen: e.Listen.String(), Dest: e.Dest.String()})
	}
	peers, err := s.peers(ctx)
	if err != nil {
		obs.Error("state.peers", obs.Fields{"err": err.Error()})
	}
	st.Peers = peers
	return st
}

// ToTemplateMap returns a map suited for html/template rendering with expected capitalized keys.
func (s Stats) ToTemplateMap() map[string]any {
	return map[string]any{
		"Active":          s.Active,
		"Accepted":        s.Accepted,
		"Closed":          s.Closed,
		"RoutingFailures": s.RoutingFailures,
		"Rejected":        s.Rejected,
		"IdleTimeouts":    s.IdleTimeouts,
		"ConnectFailures": s.ConnectFailures,
		"Errors":          s.Errors,
		"BytesUp":         s.BytesUp,
		"BytesDown":       s.BytesDown,
		"Uptime":          s.Uptime,
		"Mappings":        s.Mappings,
		"Peers":           s.Peers,
	}
}
