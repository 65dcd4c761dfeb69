package main

import (
	"log/slog"
	"strings"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling/internal/config"
)

func logStartupWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Mode == config.ModeProd && cfg.MaxConnections <= 0 {
		logger.Warn("startup security warning: MAX_CONNECTIONS is unset/0 (unlimited) while --mode=prod",
			"warning_code", "max_connections_unlimited_in_prod",
			"max_connections", cfg.MaxConnections,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.SignalingMode == config.SignalingModePublic {
		logger.Warn("startup security warning: SIGNALING_MODE=public lets any connection message any other while --mode=prod",
			"warning_code", "public_signaling_in_prod",
			"signaling_mode", cfg.SignalingMode,
			"mode", cfg.Mode,
		)
	}

	// Session descriptions are a few KiB; anything much larger only buys
	// per-message allocation risk.
	if cfg.MaxSignalingMessageBytes > 1<<20 { // 1MiB
		logger.Warn("startup security warning: MAX_SIGNALING_MESSAGE_BYTES is very large (increases per-message allocation risk)",
			"warning_code", "max_signaling_message_bytes_large",
			"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
			"mode", cfg.Mode,
		)
	}

	if len(cfg.ICEServers) == 0 {
		logger.Warn("startup warning: no ICE servers configured; peers behind NAT may fail to connect",
			"warning_code", "no_ice_servers",
			"mode", cfg.Mode,
		)
	}

	for _, server := range cfg.ICEServers {
		if !iceServerHasTURNURL(server.URLs) {
			continue
		}
		if strings.TrimSpace(server.Username) == "" {
			logger.Warn("startup warning: TURN server configured without a username",
				"warning_code", "turn_missing_username",
				"urls", server.URLs,
			)
		}
	}
}

func iceServerHasTURNURL(urls []string) bool {
	for _, u := range urls {
		u = strings.ToLower(strings.TrimSpace(u))
		if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
			return true
		}
	}
	return false
}
