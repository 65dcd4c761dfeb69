package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

const (
	envVarListenAddr      = "AERO_WEBRTC_SIGNALING_LISTEN_ADDR"
	envVarLogFormat       = "AERO_WEBRTC_SIGNALING_LOG_FORMAT"
	envVarLogLevel        = "AERO_WEBRTC_SIGNALING_LOG_LEVEL"
	envVarShutdownTimeout = "AERO_WEBRTC_SIGNALING_SHUTDOWN_TIMEOUT"
	envVarMode            = "AERO_WEBRTC_SIGNALING_MODE"

	// Relay core.
	envVarSignalingMode       = "SIGNALING_MODE"
	envVarSignalingTransport  = "SIGNALING_TRANSPORT"
	envVarPollLivenessTimeout = "POLL_LIVENESS_TIMEOUT"
	envVarReapInterval        = "REAP_INTERVAL"
	envVarMaxConnections      = "MAX_CONNECTIONS"
	envVarMaxMailboxMessages  = "MAX_MAILBOX_MESSAGES"

	// Transport hardening.
	envVarSignalingWSIdleTimeout        = "SIGNALING_WS_IDLE_TIMEOUT"
	envVarSignalingWSPingInterval       = "SIGNALING_WS_PING_INTERVAL"
	envVarMaxSignalingMessageBytes      = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingMessagesPerSecond = "MAX_SIGNALING_MESSAGES_PER_SECOND"

	DefaultListenAddr          = "127.0.0.1:8080"
	DefaultShutdown            = 15 * time.Second
	DefaultPollLivenessTimeout = 30 * time.Second
	DefaultMaxMailboxMessages  = 256

	DefaultSignalingWSIdleTimeout        = 60 * time.Second
	DefaultSignalingWSPingInterval       = 20 * time.Second
	DefaultMaxSignalingMessageBytes      = int64(64 * 1024)
	DefaultMaxSignalingMessagesPerSecond = 50

	DefaultMode               Mode               = ModeDev
	DefaultSignalingMode      SignalingMode      = SignalingModePublic
	DefaultSignalingTransport SignalingTransport = SignalingTransportWebSocket
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// SignalingMode selects how connections may address each other.
type SignalingMode string

const (
	SignalingModePublic  SignalingMode = "public"
	SignalingModePrivate SignalingMode = "private"
)

// SignalingTransport selects the single transport mounted at /signaling.
type SignalingTransport string

const (
	SignalingTransportWebSocket SignalingTransport = "websocket"
	SignalingTransportHTTP      SignalingTransport = "http"
)

type Config struct {
	ListenAddr      string
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration
	Mode            Mode

	SignalingMode      SignalingMode
	SignalingTransport SignalingTransport

	// PollLivenessTimeout is how long an HTTP-transport connection may go
	// without polling before it is reaped.
	PollLivenessTimeout time.Duration
	// ReapInterval is how often the reaper sweeps. Derived from
	// PollLivenessTimeout when unset.
	ReapInterval time.Duration

	// MaxConnections caps registered connections. A value <= 0 means
	// unlimited.
	MaxConnections     int
	MaxMailboxMessages int

	SignalingWSIdleTimeout  time.Duration
	SignalingWSPingInterval time.Duration

	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int

	// ICEServers is handed to clients through GET /config. The relay never
	// uses it itself.
	ICEServers []webrtc.ICEServer
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	envMode, _ := lookup(envVarMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	envLogFormat, envLogFormatOK := lookup(envVarLogFormat)
	envLogFormatSet := envLogFormatOK && envLogFormat != ""
	logFormatDefault := envLogFormat
	if !envLogFormatSet {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel, envLogLevelOK := lookup(envVarLogLevel)
	envLogLevelSet := envLogLevelOK && envLogLevel != ""
	logLevelDefault := envLogLevel
	if !envLogLevelSet {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	signalingModeStr := envOrDefault(lookup, envVarSignalingMode, string(DefaultSignalingMode))
	signalingTransportStr := envOrDefault(lookup, envVarSignalingTransport, string(DefaultSignalingTransport))

	iceServersJSON := envOrDefault(lookup, envICEServersJSON, "")
	stunURLs := envOrDefault(lookup, envStunURLs, "")
	turnURLs := envOrDefault(lookup, envTurnURLs, "")
	turnUsername := envOrDefault(lookup, envTurnUsername, "")
	turnCredential := envOrDefault(lookup, envTurnCredential, "")

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdown)
	if err != nil {
		return Config{}, err
	}
	pollLivenessTimeout, err := envDurationOrDefault(lookup, envVarPollLivenessTimeout, DefaultPollLivenessTimeout)
	if err != nil {
		return Config{}, err
	}
	reapInterval, err := envDurationOrDefault(lookup, envVarReapInterval, 0)
	if err != nil {
		return Config{}, err
	}
	signalingWSIdleTimeout, err := envDurationOrDefault(lookup, envVarSignalingWSIdleTimeout, DefaultSignalingWSIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	signalingWSPingInterval, err := envDurationOrDefault(lookup, envVarSignalingWSPingInterval, DefaultSignalingWSPingInterval)
	if err != nil {
		return Config{}, err
	}

	maxConnections, err := envIntOrDefault(lookup, envVarMaxConnections, 0)
	if err != nil {
		return Config{}, err
	}
	maxMailboxMessages, err := envIntOrDefault(lookup, envVarMaxMailboxMessages, DefaultMaxMailboxMessages)
	if err != nil {
		return Config{}, err
	}
	maxSignalingMessagesPerSecond, err := envIntOrDefault(lookup, envVarMaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}
	maxSignalingMessageBytes := DefaultMaxSignalingMessageBytes
	if raw, ok := lookup(envVarMaxSignalingMessageBytes); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarMaxSignalingMessageBytes, raw, err)
		}
		maxSignalingMessageBytes = n
	}

	fs := flag.NewFlagSet("aero-webrtc-signaling", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		logFormatStr string
		logLevelStr  string
		modeStr      string
	)

	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (env "+envVarListenAddr+")")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json (env "+envVarLogFormat+")")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error (env "+envVarLogLevel+")")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (env "+envVarShutdownTimeout+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Runtime mode: dev or prod (env "+envVarMode+")")

	fs.StringVar(&signalingModeStr, "signaling-mode", signalingModeStr, "Signaling mode: public or private (env "+envVarSignalingMode+")")
	fs.StringVar(&signalingTransportStr, "signaling-transport", signalingTransportStr, "Signaling transport: websocket or http (env "+envVarSignalingTransport+")")
	fs.DurationVar(&pollLivenessTimeout, "poll-liveness-timeout", pollLivenessTimeout, "Reap HTTP-transport connections that have not polled for this long (env "+envVarPollLivenessTimeout+")")
	fs.DurationVar(&reapInterval, "reap-interval", reapInterval, "How often to sweep idle HTTP-transport connections (default: half the poll liveness timeout; env "+envVarReapInterval+")")
	fs.IntVar(&maxConnections, "max-connections", maxConnections, "Maximum registered signaling connections (0 = unlimited; env "+envVarMaxConnections+")")
	fs.IntVar(&maxMailboxMessages, "max-mailbox-messages", maxMailboxMessages, "Maximum undelivered messages queued per connection (env "+envVarMaxMailboxMessages+")")

	fs.DurationVar(&signalingWSIdleTimeout, "signaling-ws-idle-timeout", signalingWSIdleTimeout, "Close idle signaling WebSocket connections after this duration (env "+envVarSignalingWSIdleTimeout+")")
	fs.DurationVar(&signalingWSPingInterval, "signaling-ws-ping-interval", signalingWSPingInterval, "Send ping frames on signaling WebSocket connections at this interval (must be < --signaling-ws-idle-timeout; env "+envVarSignalingWSPingInterval+")")
	fs.Int64Var(&maxSignalingMessageBytes, "max-signaling-message-bytes", maxSignalingMessageBytes, "Max inbound signaling message size in bytes (env "+envVarMaxSignalingMessageBytes+")")
	fs.IntVar(&maxSignalingMessagesPerSecond, "max-signaling-messages-per-second", maxSignalingMessagesPerSecond, "Max inbound signaling messages per second per connection (env "+envVarMaxSignalingMessagesPerSecond+")")

	fs.StringVar(&iceServersJSON, "ice-servers-json", iceServersJSON, "ICE servers advertised to clients as JSON (env "+envICEServersJSON+")")
	fs.StringVar(&stunURLs, "stun-urls", stunURLs, "Comma-separated STUN URLs advertised to clients (env "+envStunURLs+")")
	fs.StringVar(&turnURLs, "turn-urls", turnURLs, "Comma-separated TURN URLs advertised to clients (env "+envTurnURLs+")")
	fs.StringVar(&turnUsername, "turn-username", turnUsername, "TURN username (env "+envTurnUsername+")")
	fs.StringVar(&turnCredential, "turn-credential", turnCredential, "TURN credential (env "+envTurnCredential+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}

	// If the log format/level wasn't explicitly set, adjust defaults based on the
	// final mode.
	setFlags := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})
	if !envLogFormatSet && !setFlags["log-format"] {
		logFormatStr = defaultLogFormatForMode(string(mode))
	}
	if !envLogLevelSet && !setFlags["log-level"] {
		logLevelStr = defaultLogLevelForMode(string(mode))
	}

	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}
	signalingMode, err := parseSignalingMode(signalingModeStr)
	if err != nil {
		return Config{}, fmt.Errorf("%s/--signaling-mode: %w", envVarSignalingMode, err)
	}
	signalingTransport, err := parseSignalingTransport(signalingTransportStr)
	if err != nil {
		return Config{}, fmt.Errorf("%s/--signaling-transport: %w", envVarSignalingTransport, err)
	}

	if strings.TrimSpace(listenAddr) == "" {
		return Config{}, fmt.Errorf("%s/--listen-addr must not be empty", envVarListenAddr)
	}
	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--shutdown-timeout must be > 0", envVarShutdownTimeout)
	}
	if pollLivenessTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--poll-liveness-timeout must be > 0", envVarPollLivenessTimeout)
	}
	if reapInterval < 0 {
		return Config{}, fmt.Errorf("%s/--reap-interval must be >= 0", envVarReapInterval)
	}
	if reapInterval == 0 {
		reapInterval = pollLivenessTimeout / 2
	}
	if reapInterval > pollLivenessTimeout {
		return Config{}, fmt.Errorf("%s/--reap-interval must be <= %s/--poll-liveness-timeout", envVarReapInterval, envVarPollLivenessTimeout)
	}
	if maxConnections < 0 {
		return Config{}, fmt.Errorf("%s/--max-connections must be >= 0", envVarMaxConnections)
	}
	if maxMailboxMessages <= 0 {
		return Config{}, fmt.Errorf("%s/--max-mailbox-messages must be > 0", envVarMaxMailboxMessages)
	}
	if signalingWSIdleTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--signaling-ws-idle-timeout must be > 0", envVarSignalingWSIdleTimeout)
	}
	if signalingWSPingInterval <= 0 {
		return Config{}, fmt.Errorf("%s/--signaling-ws-ping-interval must be > 0", envVarSignalingWSPingInterval)
	}
	if signalingWSPingInterval >= signalingWSIdleTimeout {
		return Config{}, fmt.Errorf("%s/--signaling-ws-ping-interval must be < %s/--signaling-ws-idle-timeout", envVarSignalingWSPingInterval, envVarSignalingWSIdleTimeout)
	}
	if maxSignalingMessageBytes <= 0 {
		return Config{}, fmt.Errorf("%s/--max-signaling-message-bytes must be > 0", envVarMaxSignalingMessageBytes)
	}
	if maxSignalingMessagesPerSecond <= 0 {
		return Config{}, fmt.Errorf("%s/--max-signaling-messages-per-second must be > 0", envVarMaxSignalingMessagesPerSecond)
	}

	iceServers, err := parseICEServersFromValues(iceServersJSON, stunURLs, turnURLs, turnUsername, turnCredential)
	if err != nil {
		return Config{}, err
	}

	return Config{
		ListenAddr:      listenAddr,
		LogFormat:       logFormat,
		LogLevel:        level,
		ShutdownTimeout: shutdownTimeout,
		Mode:            mode,

		SignalingMode:       signalingMode,
		SignalingTransport:  signalingTransport,
		PollLivenessTimeout: pollLivenessTimeout,
		ReapInterval:        reapInterval,
		MaxConnections:      maxConnections,
		MaxMailboxMessages:  maxMailboxMessages,

		SignalingWSIdleTimeout:        signalingWSIdleTimeout,
		SignalingWSPingInterval:       signalingWSPingInterval,
		MaxSignalingMessageBytes:      maxSignalingMessageBytes,
		MaxSignalingMessagesPerSecond: maxSignalingMessagesPerSecond,

		ICEServers: iceServers,
	}, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func parseSignalingMode(raw string) (SignalingMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(SignalingModePublic):
		return SignalingModePublic, nil
	case string(SignalingModePrivate):
		return SignalingModePrivate, nil
	default:
		return "", fmt.Errorf("invalid signaling mode %q (expected public or private)", raw)
	}
}

func parseSignalingTransport(raw string) (SignalingTransport, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(SignalingTransportWebSocket), "socket", "ws":
		return SignalingTransportWebSocket, nil
	case string(SignalingTransportHTTP), "poll":
		return SignalingTransportHTTP, nil
	default:
		return "", fmt.Errorf("invalid signaling transport %q (expected websocket or http)", raw)
	}
}
