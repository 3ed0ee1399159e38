package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	bind    string
	port    int
	prefix  string
	profile bool
	tlsCert string
	tlsKey  string
	verbose bool
	version bool

	roomTTL        time.Duration
	maxRoomPlayers int
	minRoomPlayers int
	answerCooldown time.Duration

	msgRate      string
	joinIPRate   string
	joinRoomRate string
	answerRate   string

	incidentLimit   int
	analyticsLimit  int
	complianceLimit int
	logRetention    time.Duration
	reaperInterval  time.Duration

	testAPI   bool
	testToken string

	// parsed forms of the *-rate flags, filled in by validate()
	msgLimit      rateSpec
	joinIPLimit   rateSpec
	joinRoomLimit rateSpec
	answerLimit   rateSpec
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.maxRoomPlayers < 1 {
		return fmt.Errorf("invalid max room players: %d", c.maxRoomPlayers)
	}
	if c.minRoomPlayers < 1 || c.minRoomPlayers > c.maxRoomPlayers {
		return fmt.Errorf("invalid min room players: %d", c.minRoomPlayers)
	}
	if c.roomTTL <= 0 {
		return fmt.Errorf("invalid room TTL: %s", c.roomTTL)
	}
	if c.reaperInterval <= 0 {
		return fmt.Errorf("invalid reaper interval: %s", c.reaperInterval)
	}

	for _, limit := range []struct {
		flag string
		raw  string
		dst  *rateSpec
	}{
		{"msg-rate", c.msgRate, &c.msgLimit},
		{"join-ip-rate", c.joinIPRate, &c.joinIPLimit},
		{"join-room-rate", c.joinRoomRate, &c.joinRoomLimit},
		{"answer-rate", c.answerRate, &c.answerLimit},
	} {
		parsed, err := parseRateSpec(limit.raw)
		if err != nil {
			return fmt.Errorf("invalid --%s: %w", limit.flag, err)
		}
		*limit.dst = parsed
	}

	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("QUIZBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "quizbox",
		Short:         "A real-time multiplayer quiz session server.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: QUIZBOX_BIND)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: QUIZBOX_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: QUIZBOX_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: QUIZBOX_PROFILE)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: QUIZBOX_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: QUIZBOX_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: QUIZBOX_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: QUIZBOX_VERSION)")

	fs.DurationVar(&cfg.roomTTL, "room-ttl", 2*time.Hour, "time before inactive rooms are reaped (env: QUIZBOX_ROOM_TTL)")
	fs.IntVar(&cfg.maxRoomPlayers, "max-room-players", 12, "maximum players per room (env: QUIZBOX_MAX_ROOM_PLAYERS)")
	fs.IntVar(&cfg.minRoomPlayers, "min-room-players", 3, "minimum players required to start a round (env: QUIZBOX_MIN_ROOM_PLAYERS)")
	fs.DurationVar(&cfg.answerCooldown, "answer-cooldown", 700*time.Millisecond, "minimum delay between answers from one player (env: QUIZBOX_ANSWER_COOLDOWN)")

	fs.StringVar(&cfg.msgRate, "msg-rate", "2s:12:20", "per-ip message limit as window:soft:hard (env: QUIZBOX_MSG_RATE)")
	fs.StringVar(&cfg.joinIPRate, "join-ip-rate", "10s:5:10", "per-ip join limit as window:soft:hard (env: QUIZBOX_JOIN_IP_RATE)")
	fs.StringVar(&cfg.joinRoomRate, "join-room-rate", "5s:6:12", "per-room join burst limit as window:soft:hard (env: QUIZBOX_JOIN_ROOM_RATE)")
	fs.StringVar(&cfg.answerRate, "answer-rate", "2s:5:10", "per-player answer limit as window:soft:hard (env: QUIZBOX_ANSWER_RATE)")

	fs.IntVar(&cfg.incidentLimit, "incident-limit", 500, "maximum retained incidents (env: QUIZBOX_INCIDENT_LIMIT)")
	fs.IntVar(&cfg.analyticsLimit, "analytics-limit", 2000, "maximum retained analytics events (env: QUIZBOX_ANALYTICS_LIMIT)")
	fs.IntVar(&cfg.complianceLimit, "compliance-limit", 1000, "maximum retained compliance events (env: QUIZBOX_COMPLIANCE_LIMIT)")
	fs.DurationVar(&cfg.logRetention, "log-retention", 30*24*time.Hour, "retention window for analytics/compliance events (env: QUIZBOX_LOG_RETENTION)")
	fs.DurationVar(&cfg.reaperInterval, "reaper-interval", 5*time.Minute, "interval between expiry sweeps (env: QUIZBOX_REAPER_INTERVAL)")

	fs.BoolVar(&cfg.testAPI, "test-api", false, "register test-control endpoints under /test (env: QUIZBOX_TEST_API)")
	fs.StringVar(&cfg.testToken, "test-token", "", "bearer token required by the test-control endpoints (env: QUIZBOX_TEST_TOKEN)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("quizbox v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
