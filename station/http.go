package station

import (
	"encoding/json"
	"net/http"
	"strconv"

	"goji.io"
	"goji.io/pat"

	"github.com/solderctl/station/channel"
)

// ChannelSnapshot is the read-only view a diagnostic client receives;
// it never exposes setters, matching the "read-only diagnostic" scope
// this mux is limited to (mutation stays on the line-oriented command
// surface).
type ChannelSnapshot struct {
	Enabled    bool    `json:"enabled"`
	SetpointC  float64 `json:"setpoint_c"`
	MeasuredC  float64 `json:"measured_c"`
	MeasuredUV float64 `json:"measured_uv"`
	Output     float64 `json:"output"`
	Asleep     bool    `json:"asleep"`
}

// DiagnosticMux builds a read-only HTTP mux exposing a JSON snapshot of
// every channel, grounded on this codebase's goji-based instrument
// servers: one route per concern, bound directly rather than through a
// generic route-table type, since there is nothing here to set.
func (s *Station) DiagnosticMux() *goji.Mux {
	mux := goji.NewMux()

	mux.HandleFunc(pat.Get("/channels"), func(w http.ResponseWriter, r *http.Request) {
		snaps := make([]ChannelSnapshot, len(s.Channels))
		for i, ch := range s.Channels {
			snaps[i] = SnapshotOf(ch)
		}
		writeJSON(w, snaps)
	})

	mux.HandleFunc(pat.Get("/channels/:id"), func(w http.ResponseWriter, r *http.Request) {
		idText := pat.Param(r, "id")
		id, err := strconv.Atoi(idText)
		if err != nil || id < 0 || id >= len(s.Channels) {
			http.Error(w, "invalid channel id", http.StatusNotFound)
			return
		}
		writeJSON(w, SnapshotOf(s.Channels[id]))
	})

	mux.HandleFunc(pat.Get("/heartbeat"), func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]bool{"alive": s.Heartbeat.Alive()})
	})

	return mux
}

// SnapshotOf builds the read-only diagnostic view of ch, for callers
// that want it outside of an HTTP response (the status CLI subcommand's
// text-mode output, for instance).
func SnapshotOf(ch *channel.Channel) ChannelSnapshot {
	return ChannelSnapshot{
		Enabled:    ch.Enabled(),
		SetpointC:  float64(ch.SetpointC()),
		MeasuredC:  float64(ch.MeasuredC()),
		MeasuredUV: ch.MeasuredUV(),
		Output:     ch.Output(),
		Asleep:     ch.SleepActive(),
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
