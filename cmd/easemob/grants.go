package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/alexjbarnes/easemob-go/agora"
	apierrors "github.com/alexjbarnes/easemob-go/internal/errors"
	"gopkg.in/yaml.v3"
)

// grant is one service entry in a grants file:
//
//	- service: rtc
//	  channel: lobby
//	  uid: "42"
//	  privileges:
//	    join_channel: 3600
//	    publish_audio_stream: 3600
//	- service: chat
//	  user_id: alice
//	  privileges: {user: 3600}
//
// Privilege values are expiries in seconds after issue; 0 never expires.
type grant struct {
	Service    string            `yaml:"service"`
	Channel    string            `yaml:"channel"`
	UID        string            `yaml:"uid"`
	UserID     string            `yaml:"user_id"`
	Privileges map[string]uint32 `yaml:"privileges"`
}

func loadGrants(path string) ([]agora.Service, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading grants: %w", err)
	}

	return parseGrants(data)
}

// parseGrants turns a YAML grant list into services, in file order.
func parseGrants(data []byte) ([]agora.Service, error) {
	var grants []grant
	if err := yaml.Unmarshal(data, &grants); err != nil {
		return nil, fmt.Errorf("%w: parsing grants: %v", apierrors.ErrValidation, err)
	}

	if len(grants) == 0 {
		return nil, apierrors.Invalid("grants", "must list at least one service")
	}

	services := make([]agora.Service, 0, len(grants))

	for i, g := range grants {
		s, err := g.service()
		if err != nil {
			return nil, fmt.Errorf("grant %d: %w", i+1, err)
		}

		services = append(services, s)
	}

	return services, nil
}

func (g grant) service() (agora.Service, error) {
	typ, ok := agora.ServiceType(g.Service)
	if !ok {
		return nil, fmt.Errorf("%w: %q", apierrors.ErrUnknownService, g.Service)
	}

	var s agora.Service

	switch typ {
	case agora.ServiceTypeRtc:
		s = agora.NewRtcService(g.Channel, g.UID)
	case agora.ServiceTypeRtm:
		s = agora.NewRtmService(g.UserID)
	case agora.ServiceTypeStreaming:
		s = agora.NewStreamingService(g.Channel, g.UID)
	case agora.ServiceTypeFpa:
		s = agora.NewFpaService()
	case agora.ServiceTypeChat:
		s = agora.NewChatService(g.UserID)
	}

	if len(g.Privileges) == 0 {
		return nil, apierrors.Invalid("privileges", "must not be empty")
	}

	names := make([]string, 0, len(g.Privileges))
	for name := range g.Privileges {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		id, ok := agora.PrivilegeID(typ, name)
		if !ok {
			return nil, apierrors.Invalid("privilege", fmt.Sprintf("%q is not valid for %s", name, g.Service))
		}

		s.AddPrivilege(id, g.Privileges[name])
	}

	return s, nil
}
