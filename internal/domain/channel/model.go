package channel

import (
	"fmt"
	"net/url"
	"path/filepath"

	"github.com/edirooss/playout-server/pkg/hostutil"
)

// Settings is the persisted record of one playout channel. Values are
// immutable once returned from the store; changes go through SettingsPatch.
type Settings struct {
	ID            int64  `json:"id"`             //
	Channel       string `json:"channel"`        // display name / number
	PlayerURL     string `json:"player_url"`     //
	EngineService string `json:"engine_service"` // "<base>-<suffix>"
	PlayoutConfig string `json:"playout_config"` // absolute path to the channel YAML
	NetInterface  string `json:"net_interface"`  //
	MediaDisk     string `json:"media_disk"`     //
}

// SettingsPatch carries the fields supplied by a caller; nil means "leave unchanged".
type SettingsPatch struct {
	Channel       *string
	PlayerURL     *string
	EngineService *string
	PlayoutConfig *string
	NetInterface  *string
	MediaDisk     *string
}

// Apply returns prev with every supplied field replaced. prev is not modified.
func (p SettingsPatch) Apply(prev Settings) Settings {
	next := prev
	if p.Channel != nil {
		next.Channel = *p.Channel
	}
	if p.PlayerURL != nil {
		next.PlayerURL = *p.PlayerURL
	}
	if p.EngineService != nil {
		next.EngineService = *p.EngineService
	}
	if p.PlayoutConfig != nil {
		next.PlayoutConfig = *p.PlayoutConfig
	}
	if p.NetInterface != nil {
		next.NetInterface = *p.NetInterface
	}
	if p.MediaDisk != nil {
		next.MediaDisk = *p.MediaDisk
	}
	return next
}

// IsEmpty reports whether no field was supplied.
func (p SettingsPatch) IsEmpty() bool {
	return p == SettingsPatch{}
}

// Validate checks the fields provisioning depends on.
func (s Settings) Validate() error {
	if len(s.Channel) > 255 {
		return fmt.Errorf("%w: channel must be at most 255 characters", ErrParse)
	}
	if s.PlayerURL != "" {
		if err := validatePlayerURL(s.PlayerURL); err != nil {
			return fmt.Errorf("%w: player_url: %w", ErrParse, err)
		}
	}
	if s.NetInterface != "" {
		if err := hostutil.ValidateInterfaceName(s.NetInterface); err != nil {
			return fmt.Errorf("%w: net_interface: %w", ErrParse, err)
		}
	}
	if _, err := ParseServiceRef(s.EngineService); err != nil {
		return fmt.Errorf("invalid engine_service: %w", err)
	}
	if s.PlayoutConfig == "" {
		return fmt.Errorf("%w: playout_config is required", ErrParse)
	}
	if !filepath.IsAbs(s.PlayoutConfig) {
		return fmt.Errorf("%w: playout_config must be an absolute path", ErrParse)
	}
	if _, err := SuffixFromStem(ConfigStem(s.PlayoutConfig)); err != nil {
		return fmt.Errorf("invalid playout_config: %w", err)
	}
	return nil
}

func validatePlayerURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	return hostutil.ValidateHost(u.Hostname())
}

// ServiceRef parses the record's engine service.
func (s Settings) ServiceRef() (ServiceRef, error) {
	return ParseServiceRef(s.EngineService)
}

// ConfigStem returns the file name of path without its extension.
func ConfigStem(path string) string {
	base := filepath.Base(path)
	return base[:len(base)-len(filepath.Ext(base))]
}
