package dto

import "github.com/edirooss/playout-server/internal/domain/channel"

// SettingsModify is the DTO for PATCH /api/player/settings/{id}.
// Partial-update semantics (RFC 7386): omitted fields stay unchanged.
type SettingsModify struct {
	Channel       W[string] `json:"channel"`        // optional; string | null
	PlayerURL     W[string] `json:"player_url"`     // optional; string | null
	EngineService W[string] `json:"engine_service"` // optional; string
	PlayoutConfig W[string] `json:"playout_config"` // optional; string
	NetInterface  W[string] `json:"net_interface"`  // optional; string | null
	MediaDisk     W[string] `json:"media_disk"`     // optional; string | null
}

// ToPatch maps SettingsModify → channel.SettingsPatch.
// Disallows explicit null assignment to non-nullable fields.
func (req *SettingsModify) ToPatch() (channel.SettingsPatch, error) {
	svc, err := nonNull("engine_service", req.EngineService)
	if err != nil {
		return channel.SettingsPatch{}, err
	}
	cfg, err := nonNull("playout_config", req.PlayoutConfig)
	if err != nil {
		return channel.SettingsPatch{}, err
	}
	return channel.SettingsPatch{
		Channel:       nullable(req.Channel),
		PlayerURL:     nullable(req.PlayerURL),
		EngineService: svc,
		PlayoutConfig: cfg,
		NetInterface:  nullable(req.NetInterface),
		MediaDisk:     nullable(req.MediaDisk),
	}, nil
}
