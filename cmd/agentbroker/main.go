package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/robfig/cron/v3"

	"github.com/relistly/agentbroker/internal/browser"
	"github.com/relistly/agentbroker/internal/config"
	brokerhttp "github.com/relistly/agentbroker/internal/http"
	. "github.com/relistly/agentbroker/internal/logging"
	"github.com/relistly/agentbroker/internal/session"
	"github.com/relistly/agentbroker/internal/token"
)

const version = "0.1.0"

type cli struct {
	Config string `help:"Path to config file." type:"path" short:"c"`

	Serve   serveCmd   `cmd:"" default:"1" help:"Run the broker."`
	Mint    mintCmd    `cmd:"" help:"Mint a single-use session token."`
	Version versionCmd `cmd:"" help:"Print version."`
}

type versionCmd struct{}

func (v *versionCmd) Run() error {
	fmt.Printf("agentbroker %s\n", version)
	return nil
}

type serveCmd struct{}

func (s *serveCmd) Run(c *cli) error {
	Init(&Config{ShowCaller: true})
	L_info("agentbroker %s starting", version)

	cfg, err := config.Load(c.Config)
	if err != nil {
		L_fatal("failed to load config: %v", err)
	}
	SetLevel(cfg.LogLevelValue())

	sessions := session.NewManager(cfg.Policy, cfg.SessionTTL.Std())

	launcher := browser.NewLauncher(cfg.Browser)
	defer launcher.Close()

	ctrl := browser.NewController(launcher, cfg.Policy, cfg.Browser)
	sessions.SetPages(ctrl)
	defer ctrl.CloseAll()

	// Periodic sweep for sessions past their expiry.
	sweeper := cron.New()
	if _, err := sweeper.AddFunc("@every 30s", sessions.ClearExpired); err != nil {
		L_fatal("failed to schedule expiry sweep: %v", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	server := brokerhttp.NewServer(cfg.Listen, cfg.Secret, sessions, ctrl)
	if err := server.Start(); err != nil {
		L_fatal("failed to start server: %v", err)
	}

	L_info("agentbroker ready", "listen", cfg.Listen)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	L_info("agentbroker shutting down")
	return server.Stop()
}

type mintCmd struct {
	User   string        `help:"User id (sub claim)." required:""`
	Domain string        `help:"Marketplace hostname the token is bound to." required:""`
	TTL    time.Duration `help:"Token lifetime." default:"10m"`
}

func (m *mintCmd) Run(c *cli) error {
	Init(DefaultConfig())

	cfg, err := config.Load(c.Config)
	if err != nil {
		return err
	}

	signed, jti, expiresAt, err := token.Mint([]byte(cfg.Secret), m.User, m.Domain, m.TTL)
	if err != nil {
		return err
	}

	fmt.Println(signed)
	L_info("token minted", "jti", jti, "domain", m.Domain, "expiresAt", expiresAt.Format(time.RFC3339))
	return nil
}

func main() {
	var c cli
	ctx := kong.Parse(&c,
		kong.Name("agentbroker"),
		kong.Description("Consent-gated browser automation broker."),
		kong.UsageOnError(),
	)
	if err := ctx.Run(&c); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
