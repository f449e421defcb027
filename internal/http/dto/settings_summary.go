package dto

import "github.com/edirooss/playout-server/internal/domain/channel"

// SettingsSummary is the API model for GET /api/player/settings/summary.
// Settings are flattened; the flags report what is on disk right now.
//   - unit_present: the supervisor unit of engine_service exists.
//   - config_present: playout_config exists.
//   - error is set when the record cannot be checked (e.g. a malformed engine_service).
type SettingsSummary struct {
	channel.Settings
	UnitPresent   bool   `json:"unit_present"`
	ConfigPresent bool   `json:"config_present"`
	Error         string `json:"error,omitempty"`
}

// Drifted reports whether a reconcile pass would touch this channel.
func (s SettingsSummary) Drifted() bool {
	return !s.UnitPresent || !s.ConfigPresent
}
