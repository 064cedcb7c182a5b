// Package config implements Config.get(key) (spec §6): the single
// source of every protocol tunable, the way lunfardo314/proxima wires
// spf13/viper through its peering layer instead of hardcoding
// consensus/network constants.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SecurityProfile bundles the tunables the exchange state machine and
// scheduler draw from spec §4.5/§4.6 ("the active security profile").
type SecurityProfile struct {
	Name             string
	TrustEnabled     bool
	MinSharedFriends int
	MaxMessages      int
	IncludePseudonym bool
	IncludeLatLong   bool
}

// Source is the narrow interface the rest of the engine depends on,
// so tests can substitute an in-memory map instead of a real viper tree.
type Source interface {
	GetDuration(key string) time.Duration
	GetInt(key string) int
	GetBool(key string) bool
	GetString(key string) string
	Profile() SecurityProfile
}

type viperSource struct {
	v *viper.Viper
}

// Keys for every tunable named in spec §4.5-§4.7 and §6.
const (
	KeyCooldown          = "exchange.cooldown"
	KeySessionTimeout    = "exchange.session_timeout"
	KeyCycleDeadline     = "scheduler.cycle_deadline"
	KeyInboundGrace      = "scheduler.inbound_grace"
	KeyBackoffBase       = "scheduler.backoff_base"
	KeyBackoffMax        = "scheduler.backoff_max"
	KeyRoleSwapThreshold = "scheduler.role_swap_failures"
	KeyStaleThreshold    = "registry.stale_threshold"
	KeyMaxMessages       = "profile.max_messages"
	KeyMinShared         = "profile.min_shared_friends"
	KeyTrustEnabled      = "profile.trust_enabled"
	KeyProfileName       = "profile.name"
	KeyIncludePseudonym  = "profile.include_pseudonym"
	KeyIncludeLatLong    = "profile.include_latlong"
)

// New loads configuration from path (YAML), falling back to defaults for
// anything unset, and allows MURMUR_-prefixed environment overrides the
// way proxima layers env vars over its viper config.
func New(path string) (Source, error) {
	v := viper.New()
	registerDefaults(v)
	v.SetEnvPrefix("MURMUR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, err
			}
		}
	}
	return &viperSource{v: v}, nil
}

func registerDefaults(v *viper.Viper) {
	v.SetDefault(KeyCooldown, 5*time.Minute)
	v.SetDefault(KeySessionTimeout, 60*time.Second)
	v.SetDefault(KeyCycleDeadline, 45*time.Second)
	v.SetDefault(KeyInboundGrace, 10*time.Second)
	v.SetDefault(KeyBackoffBase, time.Second)
	v.SetDefault(KeyBackoffMax, 60*time.Second)
	v.SetDefault(KeyRoleSwapThreshold, 3)
	v.SetDefault(KeyStaleThreshold, 30*time.Second)
	v.SetDefault(KeyMaxMessages, 32)
	v.SetDefault(KeyMinShared, 0)
	v.SetDefault(KeyTrustEnabled, true)
	v.SetDefault(KeyProfileName, "default")
	v.SetDefault(KeyIncludePseudonym, true)
	v.SetDefault(KeyIncludeLatLong, false)
}

func (s *viperSource) GetDuration(key string) time.Duration { return s.v.GetDuration(key) }
func (s *viperSource) GetInt(key string) int                { return s.v.GetInt(key) }
func (s *viperSource) GetBool(key string) bool              { return s.v.GetBool(key) }
func (s *viperSource) GetString(key string) string          { return s.v.GetString(key) }

func (s *viperSource) Profile() SecurityProfile {
	return SecurityProfile{
		Name:             s.v.GetString(KeyProfileName),
		TrustEnabled:     s.v.GetBool(KeyTrustEnabled),
		MinSharedFriends: s.v.GetInt(KeyMinShared),
		MaxMessages:      s.v.GetInt(KeyMaxMessages),
		IncludePseudonym: s.v.GetBool(KeyIncludePseudonym),
		IncludeLatLong:   s.v.GetBool(KeyIncludeLatLong),
	}
}

// Static is an in-memory Source for tests, avoiding a viper dependency
// in unit tests that only need fixed tunables.
type Static struct {
	Durations map[string]time.Duration
	Ints      map[string]int
	Bools     map[string]bool
	Strings   map[string]string
	Prof      SecurityProfile
}

func (s *Static) GetDuration(key string) time.Duration { return s.Durations[key] }
func (s *Static) GetInt(key string) int                { return s.Ints[key] }
func (s *Static) GetBool(key string) bool              { return s.Bools[key] }
func (s *Static) GetString(key string) string          { return s.Strings[key] }
func (s *Static) Profile() SecurityProfile              { return s.Prof }
