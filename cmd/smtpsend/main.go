// Command smtpsend submits a single message through an SMTP server using
// the smtpconn package. It exists as a runnable demonstration of the full
// public Client API — connect, authenticate, stream a message body, and
// shut down — rather than as a production mail tool.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/docopt/docopt-go"

	"github.com/mailstream/smtpsubmit"
	"github.com/mailstream/smtpsubmit/smtpconn"
)

const usage = `smtpsend submits one message over SMTP.

Usage:
  smtpsend [options] --from=<addr> --to=<addr>... <message-file>
  smtpsend -h | --help

Arguments:
  <message-file>    Path to the message body, or "-" for stdin.

Options:
  --host=<host>       SMTP server hostname [default: localhost]
  --port=<port>       SMTP server port [default: 25]
  --ssl               Connect with an immediate TLS handshake
  --name=<name>       EHLO/LHLO argument [default: localhost]
  --lmtp              Send LHLO instead of EHLO
  --user=<user>       AUTH username
  --pass=<pass>       AUTH password (used with --user, PLAIN/LOGIN)
  --xoauth2=<token>   OAuth2 bearer token (used with --user, XOAUTH2)
  -v, --verbose       Print the wire-level conversation log on exit
  -h, --help          Show this screen
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "smtpsend:", err)
		os.Exit(1)
	}
}

func run(argv []string) error {
	opts, err := docopt.ParseArgs(usage, argv, "smtpsend 1.0")
	if err != nil {
		return err
	}

	cfg, err := configFromOpts(opts)
	if err != nil {
		return err
	}

	body, err := readMessage(cfg.messagePath)
	if err != nil {
		return fmt.Errorf("reading message: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	clientOpts := []smtpconn.Option{
		smtpconn.WithName(cfg.name),
		smtpconn.WithSSL(cfg.ssl),
		smtpconn.WithLMTP(cfg.lmtp),
		smtpconn.WithLogger(logger),
	}
	if cfg.ssl {
		clientOpts = append(clientOpts, smtpconn.WithTLSConfig(&tls.Config{ServerName: cfg.host}))
	}
	if cfg.xoauth2Token != nil {
		clientOpts = append(clientOpts, smtpconn.WithXOAuth2(cfg.user, cfg.xoauth2Token))
	} else if cfg.user != "" {
		clientOpts = append(clientOpts, smtpconn.WithAuth(cfg.user, cfg.pass))
	}
	if cfg.verbose {
		clientOpts = append(clientOpts, smtpconn.WithLogLength(256))
	}

	return sendMessage(cfg, body, clientOpts)
}

type config struct {
	host, name         string
	port               int
	ssl, lmtp, verbose bool
	user, pass         string
	xoauth2Token       []byte
	from               smtp.Mailbox
	to                 []smtp.Mailbox
	messagePath        string
}

func configFromOpts(opts docopt.Opts) (config, error) {
	var cfg config
	var err error

	cfg.host, err = opts.String("--host")
	if err != nil {
		return cfg, err
	}
	port, err := opts.Int("--port")
	if err != nil {
		return cfg, err
	}
	cfg.port = port

	cfg.name, err = opts.String("--name")
	if err != nil {
		return cfg, err
	}
	cfg.ssl, err = opts.Bool("--ssl")
	if err != nil {
		return cfg, err
	}
	cfg.lmtp, err = opts.Bool("--lmtp")
	if err != nil {
		return cfg, err
	}
	cfg.verbose, err = opts.Bool("--verbose")
	if err != nil {
		return cfg, err
	}

	from, err := opts.String("--from")
	if err != nil {
		return cfg, err
	}
	cfg.from, err = parseMailbox(from)
	if err != nil {
		return cfg, fmt.Errorf("--from: %w", err)
	}

	toRaw := opts["--to"].([]string)
	for _, addr := range toRaw {
		m, err := parseMailbox(addr)
		if err != nil {
			return cfg, fmt.Errorf("--to %q: %w", addr, err)
		}
		cfg.to = append(cfg.to, m)
	}

	if user, uerr := opts.String("--user"); uerr == nil {
		cfg.user = user
	}
	if pass, perr := opts.String("--pass"); perr == nil {
		cfg.pass = pass
	}
	if tok, terr := opts.String("--xoauth2"); terr == nil && tok != "" {
		cfg.xoauth2Token = []byte(tok)
	}

	cfg.messagePath = opts["<message-file>"].(string)
	return cfg, nil
}

func parseMailbox(addr string) (smtp.Mailbox, error) {
	local, domain, ok := strings.Cut(addr, "@")
	if !ok || local == "" || domain == "" {
		return smtp.Mailbox{}, fmt.Errorf("invalid address %q, want local@domain", addr)
	}
	return smtp.Mailbox{LocalPart: local, Domain: domain}, nil
}

func readMessage(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}

// sendMessage drives one Client through its full session lifecycle,
// reporting rejected recipients (and, with --verbose, the wire log) on
// stderr and returning a non-nil error on any failure the caller should
// see reflected in the exit code.
func sendMessage(cfg config, body []byte, clientOpts []smtpconn.Option) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	c := smtpconn.NewClient(cfg.host, cfg.port, clientOpts...)

	result := make(chan error, 1)
	firstIdle := true

	c.OnIdle(func() {
		if !firstIdle {
			return
		}
		firstIdle = false
		if err := c.UseEnvelope(cfg.from, cfg.to); err != nil {
			result <- err
		}
	})
	c.OnReady(func(failed []smtp.Mailbox) {
		for _, m := range failed {
			fmt.Fprintf(os.Stderr, "smtpsend: recipient rejected: %s\n", m)
		}
		if err := c.Send(body); err != nil {
			result <- err
			return
		}
		if err := c.End(); err != nil {
			result <- err
		}
	})
	c.OnDone(func(success bool) {
		if success {
			result <- nil
		} else {
			result <- fmt.Errorf("message rejected by server")
		}
		c.Quit()
	})
	c.OnError(func(err error) {
		select {
		case result <- err:
		default:
		}
	})

	if err := c.Connect(ctx); err != nil {
		return err
	}

	go c.Serve(ctx)

	err := <-result
	if cfg.verbose {
		for _, e := range c.LogEntries() {
			fmt.Fprintf(os.Stderr, "%s: %s", e.Direction, e.Bytes)
		}
	}
	c.Close()
	return err
}
