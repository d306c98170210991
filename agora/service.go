package agora

import (
	"fmt"

	apierrors "github.com/alexjbarnes/easemob-go/internal/errors"
)

// Service type discriminants.
const (
	ServiceTypeRtc       uint16 = 1
	ServiceTypeRtm       uint16 = 2
	ServiceTypeStreaming uint16 = 3
	ServiceTypeFpa       uint16 = 4
	ServiceTypeChat      uint16 = 5
)

// RTC privileges.
const (
	PrivilegeJoinChannel        uint16 = 1
	PrivilegePublishAudioStream uint16 = 2
	PrivilegePublishVideoStream uint16 = 3
	PrivilegePublishDataStream  uint16 = 4
)

// RTM and FPA privileges.
const (
	PrivilegeLogin uint16 = 1
)

// Streaming privileges.
const (
	PrivilegePublishMixStream uint16 = 1
	PrivilegePublishRawStream uint16 = 2
)

// Chat privileges.
const (
	PrivilegeChatUser uint16 = 1
	PrivilegeChatApp  uint16 = 2
)

// Service is one grant packed into an access token: a type discriminant,
// a set of privileges each with its own expiry, and type-specific fields.
type Service interface {
	Type() uint16

	// Privileges maps privilege id to expiry in seconds after the
	// token's issue time. Zero means the privilege does not expire.
	Privileges() map[uint16]uint32
	AddPrivilege(privilege uint16, expire uint32)

	pack(w *writer)
	unpack(r *reader)
}

type service struct {
	typ        uint16
	privileges map[uint16]uint32
}

func newService(typ uint16) service {
	return service{typ: typ, privileges: make(map[uint16]uint32)}
}

func (s *service) Type() uint16 { return s.typ }

func (s *service) Privileges() map[uint16]uint32 { return s.privileges }

func (s *service) AddPrivilege(privilege uint16, expire uint32) {
	s.privileges[privilege] = expire
}

func (s *service) pack(w *writer) {
	w.uint16(s.typ)
	w.privileges(s.privileges)
}

// unpack reads the privileges; the type was consumed by the caller to
// pick the concrete service.
func (s *service) unpack(r *reader) {
	s.privileges = r.privileges()
}

// RtcService grants access to an RTC channel.
type RtcService struct {
	service
	ChannelName string
	UID         string
}

func NewRtcService(channelName, uid string) *RtcService {
	return &RtcService{service: newService(ServiceTypeRtc), ChannelName: channelName, UID: uid}
}

func (s *RtcService) pack(w *writer) {
	s.service.pack(w)
	w.string(s.ChannelName)
	w.string(s.UID)
}

func (s *RtcService) unpack(r *reader) {
	s.service.unpack(r)
	s.ChannelName = r.string()
	s.UID = r.string()
}

// RtmService grants RTM login for a user.
type RtmService struct {
	service
	UserID string
}

func NewRtmService(userID string) *RtmService {
	return &RtmService{service: newService(ServiceTypeRtm), UserID: userID}
}

func (s *RtmService) pack(w *writer) {
	s.service.pack(w)
	w.string(s.UserID)
}

func (s *RtmService) unpack(r *reader) {
	s.service.unpack(r)
	s.UserID = r.string()
}

// StreamingService grants publishing to a streaming channel.
type StreamingService struct {
	service
	ChannelName string
	UID         string
}

func NewStreamingService(channelName, uid string) *StreamingService {
	return &StreamingService{service: newService(ServiceTypeStreaming), ChannelName: channelName, UID: uid}
}

func (s *StreamingService) pack(w *writer) {
	s.service.pack(w)
	w.string(s.ChannelName)
	w.string(s.UID)
}

func (s *StreamingService) unpack(r *reader) {
	s.service.unpack(r)
	s.ChannelName = r.string()
	s.UID = r.string()
}

// FpaService grants FPA login. It has no fields beyond its privileges.
type FpaService struct {
	service
}

func NewFpaService() *FpaService {
	return &FpaService{service: newService(ServiceTypeFpa)}
}

// ChatService grants chat access for a user, or app-wide access when
// UserID is empty.
type ChatService struct {
	service
	UserID string
}

func NewChatService(userID string) *ChatService {
	return &ChatService{service: newService(ServiceTypeChat), UserID: userID}
}

func (s *ChatService) pack(w *writer) {
	s.service.pack(w)
	w.string(s.UserID)
}

func (s *ChatService) unpack(r *reader) {
	s.service.unpack(r)
	s.UserID = r.string()
}

// newServiceOfType returns an empty service for a packed discriminant.
func newServiceOfType(typ uint16) (Service, error) {
	switch typ {
	case ServiceTypeRtc:
		return NewRtcService("", ""), nil
	case ServiceTypeRtm:
		return NewRtmService(""), nil
	case ServiceTypeStreaming:
		return NewStreamingService("", ""), nil
	case ServiceTypeFpa:
		return NewFpaService(), nil
	case ServiceTypeChat:
		return NewChatService(""), nil
	}

	return nil, fmt.Errorf("%w: %d", apierrors.ErrUnknownService, typ)
}

var serviceNames = map[uint16]string{
	ServiceTypeRtc:       "rtc",
	ServiceTypeRtm:       "rtm",
	ServiceTypeStreaming: "streaming",
	ServiceTypeFpa:       "fpa",
	ServiceTypeChat:      "chat",
}

var privilegeNames = map[uint16]map[string]uint16{
	ServiceTypeRtc: {
		"join_channel":         PrivilegeJoinChannel,
		"publish_audio_stream": PrivilegePublishAudioStream,
		"publish_video_stream": PrivilegePublishVideoStream,
		"publish_data_stream":  PrivilegePublishDataStream,
	},
	ServiceTypeRtm:       {"login": PrivilegeLogin},
	ServiceTypeStreaming: {"publish_mix_stream": PrivilegePublishMixStream, "publish_raw_stream": PrivilegePublishRawStream},
	ServiceTypeFpa:       {"login": PrivilegeLogin},
	ServiceTypeChat:      {"user": PrivilegeChatUser, "app": PrivilegeChatApp},
}

// ServiceName returns the lower-case name of a service type, or "" when
// unknown.
func ServiceName(typ uint16) string {
	return serviceNames[typ]
}

// ServiceType looks up a service type by name.
func ServiceType(name string) (uint16, bool) {
	for typ, n := range serviceNames {
		if n == name {
			return typ, true
		}
	}

	return 0, false
}

// PrivilegeID looks up a privilege of a service type by name, such as
// "join_channel" for RTC.
func PrivilegeID(typ uint16, name string) (uint16, bool) {
	id, ok := privilegeNames[typ][name]
	return id, ok
}

// PrivilegeName is the inverse of PrivilegeID.
func PrivilegeName(typ uint16, id uint16) string {
	for n, v := range privilegeNames[typ] {
		if v == id {
			return n
		}
	}

	return fmt.Sprintf("%d", id)
}
