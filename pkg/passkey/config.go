// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package passkey

import (
	"fmt"
	"time"
)

// Config configures the passkey service. There is deliberately no static
// RPID or origin list here: the relying party context is resolved from each
// inbound request, which is what makes multi-hostname deployments work.
type Config struct {
	// RPDisplayName is the human-readable name of the relying party shown
	// by authenticators during ceremonies.
	RPDisplayName string `yaml:"display_name" json:"display_name"`

	// ChallengeTTL is how long an issued challenge stays redeemable.
	// Default: 5 minutes.
	ChallengeTTL time.Duration `yaml:"challenge_ttl" json:"challenge_ttl"`

	// UsedRetention is how long redeemed challenges are kept before the
	// sweep reclaims them. Default: 24 hours.
	UsedRetention time.Duration `yaml:"used_retention" json:"used_retention"`

	// CeremonyTimeout is the client-side timeout advertised in ceremony
	// options. Default: 60 seconds.
	CeremonyTimeout time.Duration `yaml:"ceremony_timeout" json:"ceremony_timeout"`

	// UserVerification specifies the user verification requirement.
	// Options: "required", "preferred", "discouraged". Default: "preferred".
	UserVerification string `yaml:"user_verification" json:"user_verification"`

	// AttestationPreference specifies the attestation conveyance preference.
	// Options: "none", "indirect", "direct", "enterprise". Default: "none".
	AttestationPreference string `yaml:"attestation" json:"attestation"`

	// ResidentKeyRequirement specifies whether to require resident keys.
	// Options: "required", "preferred", "discouraged". Default: "preferred".
	ResidentKeyRequirement string `yaml:"resident_key" json:"resident_key"`

	// AuthenticatorAttachment limits the type of authenticators allowed.
	// Options: "platform", "cross-platform", "" (any). Default: "" (any).
	AuthenticatorAttachment string `yaml:"authenticator_attachment" json:"authenticator_attachment"`

	// Debug enables debug logging in the verifier.
	Debug bool `yaml:"debug" json:"debug"`
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	if c.RPDisplayName == "" {
		return fmt.Errorf("RPDisplayName is required")
	}
	if c.ChallengeTTL < 0 {
		return fmt.Errorf("ChallengeTTL must not be negative")
	}
	if c.UsedRetention < 0 {
		return fmt.Errorf("UsedRetention must not be negative")
	}

	switch c.UserVerification {
	case "", "required", "preferred", "discouraged":
	default:
		return fmt.Errorf("invalid user verification: %s", c.UserVerification)
	}

	switch c.AttestationPreference {
	case "", "none", "indirect", "direct", "enterprise":
	default:
		return fmt.Errorf("invalid attestation preference: %s", c.AttestationPreference)
	}

	switch c.ResidentKeyRequirement {
	case "", "required", "preferred", "discouraged":
	default:
		return fmt.Errorf("invalid resident key requirement: %s", c.ResidentKeyRequirement)
	}

	switch c.AuthenticatorAttachment {
	case "", "platform", "cross-platform":
	default:
		return fmt.Errorf("invalid authenticator attachment: %s", c.AuthenticatorAttachment)
	}

	return nil
}

// SetDefaults sets default values for unset configuration fields.
func (c *Config) SetDefaults() {
	if c.ChallengeTTL == 0 {
		c.ChallengeTTL = 5 * time.Minute
	}
	if c.UsedRetention == 0 {
		c.UsedRetention = 24 * time.Hour
	}
	if c.CeremonyTimeout == 0 {
		c.CeremonyTimeout = 60 * time.Second
	}
	if c.UserVerification == "" {
		c.UserVerification = "preferred"
	}
	if c.AttestationPreference == "" {
		c.AttestationPreference = "none"
	}
	if c.ResidentKeyRequirement == "" {
		c.ResidentKeyRequirement = "preferred"
	}
}
