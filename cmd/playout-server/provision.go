package main

import (
	"encoding/json"
	"errors"

	"github.com/edirooss/playout-server/internal/domain/channel"
	"github.com/spf13/cobra"
)

type provisionFlags struct {
	service      string
	config       string
	channel      string
	playerURL    string
	netInterface string
	mediaDisk    string
	update       bool
	id           int64
}

func newProvisionCmd(configPath *string) *cobra.Command {
	var f provisionFlags

	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Provision one channel without the HTTP API",
		Example: `  playout-server provision --service engine-007 --playout-config /etc/ffplayout/ffplayout-007.yml --channel 7
  playout-server provision --update --id 3 --player-url http://player/3`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			patch, err := f.patch(cmd)
			if err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			var rec channel.Settings
			if f.update {
				rec, err = a.prov.Update(cmd.Context(), f.id, patch)
			} else {
				rec, err = a.prov.Create(cmd.Context(), patch)
			}
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.service, "service", "", "engine service, <base>-<suffix>")
	fl.StringVar(&f.config, "playout-config", "", "absolute path of the channel config file")
	fl.StringVar(&f.channel, "channel", "", "channel name or number")
	fl.StringVar(&f.playerURL, "player-url", "", "player URL")
	fl.StringVar(&f.netInterface, "net-interface", "", "network interface")
	fl.StringVar(&f.mediaDisk, "media-disk", "", "media disk")
	fl.BoolVar(&f.update, "update", false, "reprovision an existing record instead of creating one")
	fl.Int64Var(&f.id, "id", 0, "record id (with --update)")
	return cmd
}

// patch supplies only the flags given on the command line.
func (f *provisionFlags) patch(cmd *cobra.Command) (channel.SettingsPatch, error) {
	if f.update && f.id <= 0 {
		return channel.SettingsPatch{}, errors.New("--update requires --id")
	}
	if !f.update && (f.service == "" || f.config == "") {
		return channel.SettingsPatch{}, errors.New("--service and --playout-config are required")
	}

	var p channel.SettingsPatch
	set := func(name string, dst **string, v string) {
		if cmd.Flags().Changed(name) {
			*dst = &v
		}
	}
	set("service", &p.EngineService, f.service)
	set("playout-config", &p.PlayoutConfig, f.config)
	set("channel", &p.Channel, f.channel)
	set("player-url", &p.PlayerURL, f.playerURL)
	set("net-interface", &p.NetInterface, f.netInterface)
	set("media-disk", &p.MediaDisk, f.mediaDisk)
	return p, nil
}
