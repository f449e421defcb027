package dto

import "github.com/edirooss/playout-server/internal/domain/channel"

// SettingsReplace is the DTO for PUT /api/player/settings/{id}.
// Same shape and defaults as SettingsCreate; every stored field is overwritten.
type SettingsReplace SettingsCreate

// ToPatch maps SettingsReplace → channel.SettingsPatch with every field supplied.
func (req *SettingsReplace) ToPatch() (channel.SettingsPatch, error) {
	return (*SettingsCreate)(req).ToPatch()
}
