package webauthn

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"gopkg.in/yaml.v3"
)

// CounterPolicy decides what a verified assertion whose signature counter
// did not advance (while nonzero) means. Authenticators that always report
// zero never trip the check and are accepted under either policy.
type CounterPolicy string

const (
	// CounterPolicyStrict rejects the login as a possible cloned authenticator.
	CounterPolicyStrict CounterPolicy = "strict"
	// CounterPolicyLenient logs the clone warning and accepts the login.
	CounterPolicyLenient CounterPolicy = "lenient"
)

// Config is the relying-party configuration of the ceremony service.
type Config struct {
	RPID          string        `yaml:"rpID"`
	RPDisplayName string        `yaml:"rpDisplayName"`
	RPOrigins     []string      `yaml:"rpOrigins"`
	CounterPolicy CounterPolicy `yaml:"counterPolicy"`
}

// ParseConfigFile loads a Config from a yaml file.
func ParseConfigFile(path string) (Config, error) {
	var config Config
	data, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("failed to read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("failed to parse config %q: %w", path, err)
	}
	return config, nil
}

// Validate checks the required relying-party fields.
func (c Config) Validate() error {
	if c.RPID == "" {
		return errors.New("rpID is required")
	}
	if c.RPDisplayName == "" {
		return errors.New("rpDisplayName is required")
	}
	if len(c.RPOrigins) == 0 {
		return errors.New("at least one rpOrigin is required")
	}
	switch c.CounterPolicy {
	case CounterPolicyStrict, CounterPolicyLenient:
	case "": // defaults to strict
	default:
		return fmt.Errorf("unknown counter policy %q", c.CounterPolicy)
	}
	return nil
}

// WebAuthn builds the ceremony engine. Attachment is cross-platform and user
// verification preferred, matching roaming authenticators used at a
// check-in desk; attestation conveyance is not requested.
func (c Config) WebAuthn() (*webauthn.WebAuthn, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return webauthn.New(&webauthn.Config{
		RPID:                  c.RPID,
		RPDisplayName:         c.RPDisplayName,
		RPOrigins:             c.RPOrigins,
		AttestationPreference: protocol.PreferNoAttestation,
		AuthenticatorSelection: protocol.AuthenticatorSelection{
			AuthenticatorAttachment: protocol.CrossPlatform,
			ResidentKey:             protocol.ResidentKeyRequirementDiscouraged,
			UserVerification:        protocol.VerificationPreferred,
		},
	})
}
