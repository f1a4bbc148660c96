package user

import (
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// User is a registered account with its webauthn credentials.
type User struct {
	Name        string
	DisplayName string
	Credentials []webauthn.Credential
	CheckedIn   bool
}

// WebAuthnID provides the user handle of the user account. A user handle is an opaque byte sequence with a maximum
// size of 64 bytes, and is not meant to be displayed to the user.
//
// We use the raw username bytes: usernames are the primary key of the store
// and the handle must be stable across registration and login.
//
// Specification: §5.4.3. User Account Parameters for Credential Generation (https://w3c.github.io/webauthn/#dom-publickeycredentialuserentity-id)
func (u *User) WebAuthnID() []byte {
	return []byte(u.Name)
}

// WebAuthnName provides the name attribute of the user account during registration and is a human-palatable name for the user
// account, intended only for display.
//
// Specification: §5.4.3. User Account Parameters for Credential Generation (https://w3c.github.io/webauthn/#dictdef-publickeycredentialuserentity)
func (u *User) WebAuthnName() string {
	return u.Name
}

// WebAuthnDisplayName provides the display name attribute of the user account during registration, intended only
// for display.
//
// Specification: §5.4.3. User Account Parameters for Credential Generation (https://www.w3.org/TR/webauthn/#dom-publickeycredentialuserentity-displayname)
func (u *User) WebAuthnDisplayName() string {
	return u.DisplayName
}

// WebAuthnCredentials provides the list of Credential objects owned by the user.
func (u *User) WebAuthnCredentials() []webauthn.Credential {
	return u.Credentials
}

// WebAuthnIcon is a deprecated option.
// Deprecated: this has been removed from the specification recommendation. Suggest a blank string.
func (u *User) WebAuthnIcon() string {
	return ""
}

// ExcludeCredentialDescriptorList provides a list of credentials already registered.
func (u *User) ExcludeCredentialDescriptorList() []protocol.CredentialDescriptor {
	credentialExcludeList := []protocol.CredentialDescriptor{}
	for _, cred := range u.Credentials {
		descriptor := protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: cred.ID,
		}
		credentialExcludeList = append(credentialExcludeList, descriptor)
	}

	return credentialExcludeList
}

// HasCredential reports whether the user owns a credential with the given ID.
func (u *User) HasCredential(credentialID []byte) bool {
	for _, cred := range u.Credentials {
		if string(cred.ID) == string(credentialID) {
			return true
		}
	}
	return false
}
