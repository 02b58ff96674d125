// SPDX-FileCopyrightText: © 2025 The edgli authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package config implements the edge client configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/hoprnet/edgli/onion/geo"
	"github.com/hoprnet/edgli/path"
)

const (
	defaultLogLevel = "NOTICE"

	defaultHopCount          = 3
	defaultMaxSessions       = 64
	defaultEstablishRetries  = 3
	defaultMaxPacketRetries  = 3
	defaultRetransmitTimeout = 3000
	defaultDrainTimeout      = 10000
)

var defaultLogging = Logging{
	Disable: false,
	File:    "",
	Level:   defaultLogLevel,
}

// Logging is the logging configuration.
type Logging struct {
	// Disable disables logging entirely.
	Disable bool

	// File specifies the log file, if omitted stdout will be used.
	File string

	// Level specifies the log level.
	Level string
}

func (lCfg *Logging) validate() error {
	lvl := strings.ToUpper(lCfg.Level)
	switch lvl {
	case "ERROR", "WARNING", "NOTICE", "INFO", "DEBUG":
	case "":
		lvl = defaultLogLevel
	default:
		return fmt.Errorf("config: Logging: Level '%v' is invalid", lCfg.Level)
	}
	lCfg.Level = lvl // Force uppercase.
	return nil
}

// Session is the session tuning configuration.
type Session struct {
	// HopCount is the number of hops in a selected path, destination
	// included.
	HopCount int

	// MaxSessions is the maximum number of concurrent sessions; opening
	// more fails rather than queuing.
	MaxSessions int

	// EstablishRetries is the number of establish probe transmissions
	// before a session is declared Failed.
	EstablishRetries int

	// MaxPacketRetries is the number of retransmissions of one packet
	// before the whole session is declared Failed.
	MaxPacketRetries int

	// RetransmitTimeout is the per-packet acknowledgement timeout in
	// milliseconds.
	RetransmitTimeout int

	// DrainTimeout is the number of milliseconds a closing session waits
	// for outstanding acknowledgements.
	DrainTimeout int
}

func (sCfg *Session) fixup() {
	if sCfg.HopCount == 0 {
		sCfg.HopCount = defaultHopCount
	}
	if sCfg.MaxSessions == 0 {
		sCfg.MaxSessions = defaultMaxSessions
	}
	if sCfg.EstablishRetries == 0 {
		sCfg.EstablishRetries = defaultEstablishRetries
	}
	if sCfg.MaxPacketRetries == 0 {
		sCfg.MaxPacketRetries = defaultMaxPacketRetries
	}
	if sCfg.RetransmitTimeout == 0 {
		sCfg.RetransmitTimeout = defaultRetransmitTimeout
	}
	if sCfg.DrainTimeout == 0 {
		sCfg.DrainTimeout = defaultDrainTimeout
	}
}

func (sCfg *Session) validate() error {
	if sCfg.HopCount < path.MinHops || sCfg.HopCount > path.MaxHops {
		return fmt.Errorf("config: Session: HopCount %d out of bounds", sCfg.HopCount)
	}
	if sCfg.MaxSessions < 1 {
		return fmt.Errorf("config: Session: MaxSessions %d is invalid", sCfg.MaxSessions)
	}
	if sCfg.EstablishRetries < 1 || sCfg.MaxPacketRetries < 1 {
		return errors.New("config: Session: retry budgets must be at least 1")
	}
	if sCfg.RetransmitTimeout < 1 || sCfg.DrainTimeout < 1 {
		return errors.New("config: Session: timeouts must be positive")
	}
	return nil
}

// Geometry overrides the default packet geometry.
type Geometry struct {
	// MaxHops is the number of routing slots in the packet header.
	MaxHops int

	// ForwardPayloadLength is the plaintext payload capacity in bytes.
	ForwardPayloadLength int
}

// Config is the top level configuration.
type Config struct {
	Logging  *Logging
	Session  *Session
	Geometry *Geometry

	// Directory is the filesystem path of the relay directory document.
	Directory string
}

// PacketGeometry returns the packet geometry derived from the
// configuration, falling back to the defaults.
func (c *Config) PacketGeometry() *geo.Geometry {
	if c.Geometry == nil {
		return geo.Default()
	}
	return geo.New(c.Geometry.MaxHops, c.Geometry.ForwardPayloadLength)
}

// FixupAndValidate applies defaults and validates the configuration.
func (c *Config) FixupAndValidate() error {
	if c.Logging == nil {
		c.Logging = &defaultLogging
	}
	if err := c.Logging.validate(); err != nil {
		return err
	}

	if c.Session == nil {
		c.Session = new(Session)
	}
	c.Session.fixup()
	if err := c.Session.validate(); err != nil {
		return err
	}

	if err := c.PacketGeometry().Validate(); err != nil {
		return err
	}
	if c.Session.HopCount > c.PacketGeometry().MaxHops {
		return fmt.Errorf("config: Session: HopCount %d exceeds geometry hop bound", c.Session.HopCount)
	}
	return nil
}

// Load parses and validates b as the TOML encoded configuration, and
// applies defaults for omitted values.
func Load(b []byte) (*Config, error) {
	cfg := new(Config)
	md, err := toml.Decode(string(b), cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) != 0 {
		return nil, fmt.Errorf("config: Undecoded keys in config file: %v", undecoded)
	}
	if err := cfg.FixupAndValidate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads, parses and validates the configuration at f.
func LoadFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		return nil, err
	}
	return Load(b)
}
