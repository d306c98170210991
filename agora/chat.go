package agora

import (
	apierrors "github.com/alexjbarnes/easemob-go/internal/errors"
)

// BuildAppToken builds an app-wide chat token with no subject, valid for
// expire seconds.
func BuildAppToken(appID, appCertificate string, expire uint32) (string, error) {
	token := NewAccessToken(appID, appCertificate, expire)

	chat := NewChatService("")
	chat.AddPrivilege(PrivilegeChatApp, expire)
	token.AddService(chat)

	return token.Build()
}

// BuildUserToken builds a chat token for one user, valid for expire
// seconds.
func BuildUserToken(appID, appCertificate, userID string, expire uint32) (string, error) {
	if userID == "" {
		return "", apierrors.Invalid("user id", "is required")
	}

	token := NewAccessToken(appID, appCertificate, expire)

	chat := NewChatService(userID)
	chat.AddPrivilege(PrivilegeChatUser, expire)
	token.AddService(chat)

	return token.Build()
}
