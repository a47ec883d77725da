// imtail follows an IM channel and prints every inbound event, or streams a single agent answer
// with --ask.
package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/sonirico/libim"
)

type options struct {
	configPath  string
	baseURL     string
	cookie      string
	ask         string
	chatID      string
	logLevel    string
	maxRetries  int
	showVersion bool
}

var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var opts options

	flagSet := pflag.NewFlagSet("imtail", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	flagSet.StringVar(&opts.baseURL, "base-url", "", "backend origin, overrides base_url")
	flagSet.StringVar(&opts.cookie, "cookie", os.Getenv("IMTAIL_COOKIE"), "Cookie header carrying the session (default $IMTAIL_COOKIE)")
	flagSet.StringVar(&opts.ask, "ask", "", "stream the agent's answer to this question and exit")
	flagSet.StringVar(&opts.chatID, "chat-id", "", "with --ask, continue this chat instead of searching")
	flagSet.StringVar(&opts.logLevel, "log-level", "info", "debug, info, warn or error")
	flagSet.IntVar(&opts.maxRetries, "max-retries", -1, "consecutive reconnect attempts before giving up, 0 retries forever")
	flagSet.BoolVar(&opts.showVersion, "version", false, "print the version and exit")

	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	if opts.showVersion {
		fmt.Println("imtail", version)
		return nil
	}

	level, err := zerolog.ParseLevel(opts.logLevel)
	if err != nil {
		return errors.Wrapf(err, "invalid --log-level %q", opts.logLevel)
	}
	log := libim.NewConsoleLogger(os.Stderr, level)

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.ask != "" {
		return ask(ctx, log, cfg, opts)
	}
	return follow(ctx, log, cfg)
}

func loadConfig(opts options) (libim.Config, error) {
	cfg := libim.DefaultConfig()
	if opts.configPath != "" {
		var err error
		if cfg, err = libim.LoadConfig(opts.configPath); err != nil {
			return libim.Config{}, err
		}
	}

	if opts.baseURL != "" {
		cfg.BaseURL = opts.baseURL
	}
	if opts.cookie != "" {
		cfg.Cookie = opts.cookie
	}
	if opts.maxRetries >= 0 {
		cfg.Session.MaxReconnectAttempts = opts.maxRetries
	}

	return cfg, cfg.Validate()
}

func follow(ctx context.Context, log libim.Logger, cfg libim.Config) error {
	ticketURL, err := cfg.TicketURL()
	if err != nil {
		return err
	}
	endpoint, err := cfg.Endpoint()
	if err != nil {
		return err
	}

	cookie := func() string { return cfg.Cookie }
	acquirer := libim.NewHTTPTicketAcquirer(log, nil, ticketURL, cookie, cfg.Session.HandshakeTimeout)

	params, err := libim.NewOpenConnectionParamsRepo(log, endpoint, nil, acquirer)
	if err != nil {
		return err
	}

	newClient := libim.NewSessionFactory(
		log,
		cfg.SessionConfig(func() bool { return cookie() != "" }),
		params,
		libim.NewWebsocketFactory(log, nil, libim.ErrorAdapters{}),
	)

	client := newClient()
	unsubscribe := client.Subscribe(func(ev libim.Event) {
		if msg, err := ev.Msg(); err == nil && msg.ID != "" {
			fmt.Printf("%s\tconv=%d\tsender=%d\t%s\n", ev.Type, msg.ConversationID, msg.SenderID, msg.Content)
			return
		}
		fmt.Printf("%s\t%s\n", ev.Type, ev.Raw)
	})
	defer unsubscribe()

	client.Connect(ctx)
	<-ctx.Done()

	log.Infoln("shutting down")
	client.Disconnect()
	return nil
}

func ask(ctx context.Context, log libim.Logger, cfg libim.Config, opts options) error {
	base, err := cfg.HTTPBase()
	if err != nil {
		return err
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return err
	}
	if cfg.Cookie != "" {
		cookies, err := http.ParseCookie(cfg.Cookie)
		if err != nil {
			return errors.Wrap(err, "invalid cookie")
		}
		jar.SetCookies(&base, cookies)
	}

	streams := libim.NewStreamClient(log, &http.Client{Jar: jar, Timeout: 5 * time.Minute}, base)

	var streamErr error
	cb := libim.StreamCallbacks{
		OnMessage: func(data string) { fmt.Println(data) },
		OnError:   func(err error) { streamErr = err },
		OnFinish:  func() { log.Debugln("stream finished") },
	}

	if opts.chatID != "" {
		streams.AgentConverse(ctx, libim.AgentConverseRequest{Question: opts.ask, ChatID: opts.chatID}, cb)
	} else {
		streams.AgentSearch(ctx, opts.ask, cb)
	}
	return streamErr
}
