package dto

import "github.com/edirooss/playout-server/internal/domain/channel"

// SettingsCreate is the DTO for provisioning a channel via
// POST /api/player/settings.
type SettingsCreate struct {
	Channel       W[string] `json:"channel"`        // optional; string | null (default: "")
	PlayerURL     W[string] `json:"player_url"`     // optional; string | null (default: "")
	EngineService W[string] `json:"engine_service"` // required; string
	PlayoutConfig W[string] `json:"playout_config"` // required; string
	NetInterface  W[string] `json:"net_interface"`  // optional; string | null (default: "")
	MediaDisk     W[string] `json:"media_disk"`     // optional; string | null (default: "")
}

// ToPatch maps SettingsCreate → channel.SettingsPatch with every field supplied.
func (req *SettingsCreate) ToPatch() (channel.SettingsPatch, error) {
	svc, err := required("engine_service", req.EngineService)
	if err != nil {
		return channel.SettingsPatch{}, err
	}
	cfg, err := required("playout_config", req.PlayoutConfig)
	if err != nil {
		return channel.SettingsPatch{}, err
	}
	return channel.SettingsPatch{
		Channel:       orEmpty(req.Channel),
		PlayerURL:     orEmpty(req.PlayerURL),
		EngineService: svc,
		PlayoutConfig: cfg,
		NetInterface:  orEmpty(req.NetInterface),
		MediaDisk:     orEmpty(req.MediaDisk),
	}, nil
}
