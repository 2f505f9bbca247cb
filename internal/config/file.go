package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML shape of an optional config file. Every field maps
// onto the same setting as its env var; env vars and flags take precedence.
// ${VAR} references in string values are expanded from the environment.
type fileConfig struct {
	ListenAddr      string `yaml:"listen_addr"`
	Mode            string `yaml:"mode"`
	LogFormat       string `yaml:"log_format"`
	LogLevel        string `yaml:"log_level"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`

	AllowedOrigins []string `yaml:"allowed_origins"`
	StaticDir      string   `yaml:"static_dir"`

	WSIdleTimeout  string `yaml:"ws_idle_timeout"`
	WSPingInterval string `yaml:"ws_ping_interval"`

	MaxSignalingMessageBytes      *int64 `yaml:"max_signaling_message_bytes"`
	MaxSignalingMessagesPerSecond *int   `yaml:"max_signaling_messages_per_second"`
	SendQueueSize                 *int   `yaml:"send_queue_size"`

	ICEServersJSON string   `yaml:"ice_servers_json"`
	StunURLs       []string `yaml:"stun_urls"`
	TurnURLs       []string `yaml:"turn_urls"`
	TurnUsername   string   `yaml:"turn_username"`
	TurnCredential string   `yaml:"turn_credential"`
}

// loadFileValues reads the YAML config file at path, if any, and flattens it
// into a map keyed by env var name so the loader can layer it under the
// environment. A path from the environment that does not exist is an error; no
// path at all is not.
func loadFileValues(readFile func(string) ([]byte, error), path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := readFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file %q does not exist", path)
		}
		return nil, fmt.Errorf("read config file %q: %w", path, err)
	}

	var fc fileConfig
	dec := yaml.NewDecoder(strings.NewReader(os.ExpandEnv(string(raw))))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil {
		return nil, fmt.Errorf("parse config file %q: %w", path, err)
	}

	vals := map[string]string{}
	setStr := func(key, v string) {
		if strings.TrimSpace(v) != "" {
			vals[key] = strings.TrimSpace(v)
		}
	}
	setStr(envVarListenAddr, fc.ListenAddr)
	setStr(envVarMode, fc.Mode)
	setStr(envVarLogFormat, fc.LogFormat)
	setStr(envVarLogLevel, fc.LogLevel)
	setStr(envVarShutdownTimeout, fc.ShutdownTimeout)
	setStr(envVarAllowedOrigins, strings.Join(fc.AllowedOrigins, ","))
	setStr(envVarStaticDir, fc.StaticDir)
	setStr(envVarWSIdleTimeout, fc.WSIdleTimeout)
	setStr(envVarWSPingInterval, fc.WSPingInterval)
	if fc.MaxSignalingMessageBytes != nil {
		vals[envVarMaxSignalingMessageBytes] = fmt.Sprintf("%d", *fc.MaxSignalingMessageBytes)
	}
	if fc.MaxSignalingMessagesPerSecond != nil {
		vals[envVarMaxSignalingMessagesPerSecond] = fmt.Sprintf("%d", *fc.MaxSignalingMessagesPerSecond)
	}
	if fc.SendQueueSize != nil {
		vals[envVarSendQueueSize] = fmt.Sprintf("%d", *fc.SendQueueSize)
	}
	setStr(envICEServersJSON, fc.ICEServersJSON)
	setStr(envStunURLs, strings.Join(fc.StunURLs, ","))
	setStr(envTurnURLs, strings.Join(fc.TurnURLs, ","))
	setStr(envTurnUsername, fc.TurnUsername)
	setStr(envTurnCredential, fc.TurnCredential)

	// Durations are validated here so the error names the file rather than an
	// env var the operator never set.
	for _, key := range []string{envVarShutdownTimeout, envVarWSIdleTimeout, envVarWSPingInterval} {
		if v, ok := vals[key]; ok {
			if _, err := time.ParseDuration(v); err != nil {
				return nil, fmt.Errorf("config file %q: invalid duration %q: %w", path, v, err)
			}
		}
	}

	return vals, nil
}
