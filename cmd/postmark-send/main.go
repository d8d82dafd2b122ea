// Package main is the entry point for the postmark-send command.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/shineum/postmark-mailer/internal/config"
	"github.com/shineum/postmark-mailer/internal/credential"
	"github.com/shineum/postmark-mailer/internal/email"
	"github.com/shineum/postmark-mailer/internal/parser"
	"github.com/shineum/postmark-mailer/internal/provider"
	"github.com/shineum/postmark-mailer/internal/provider/postmark"
	"github.com/shineum/postmark-mailer/internal/provider/stdout"
)

func main() {
	app := kingpin.New("postmark-send", "Send RFC 5322 messages through the Postmark API")
	configPath := app.Flag("config", "path to YAML configuration file (optional)").Envar("POSTMARK_CONFIG").Short('c').String()

	send := app.Command("send", "Send a message file (use - for stdin)")
	sendFile := send.Arg("file", "message file in RFC 5322 format").Default("-").String()
	sendTags := send.Flag("tag", "tag to attach to the message; the last one wins").Short('t').Strings()
	sendAttach := send.Flag("attach", "file to add as a regular attachment").Short('a').Strings()
	sendEmbed := send.Flag("embed", "file to embed inline, as FILE or CID=FILE; the cid reference is logged").Strings()
	dryRun := send.Flag("dry-run", "print the message instead of sending it").Bool()

	token := app.Command("token", "Manage the server token stored in the system keyring")
	tokenSet := token.Command("set", "Store a server token read from stdin")
	tokenDelete := token.Command("delete", "Remove the stored server token")

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Logging.Level)

	switch command {
	case send.FullCommand():
		err = runSend(cfg, *sendFile, *sendTags, *sendAttach, *sendEmbed, *dryRun)
	case tokenSet.FullCommand():
		err = runTokenSet(os.Stdin)
	case tokenDelete.FullCommand():
		err = runTokenDelete()
	}
	if err != nil {
		slog.Error("command failed", "command", command, "error", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level.
func setupLogger(level string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

func runSend(cfg *config.Config, path string, tags, attach, embed []string, dryRun bool) error {
	raw, err := readInput(path)
	if err != nil {
		return err
	}

	msg, err := parser.Parse(raw)
	if err != nil {
		return err
	}
	for _, tag := range tags {
		msg.Header.Add(email.TagHeader, tag)
	}
	if _, err := addFiles(msg, attach, embed); err != nil {
		return err
	}

	prov, err := selectProvider(cfg, dryRun)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	count, err := prov.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("%s send failed: %w", prov.Name(), err)
	}

	slog.Info("message sent",
		"provider", prov.Name(),
		"recipients", count,
		"message_id", msg.Header.Get(postmark.MessageIDHeader),
	)
	fmt.Printf("sent to %d recipient(s)", count)
	if id := msg.Header.Get(postmark.MessageIDHeader); id != "" {
		fmt.Printf(", message id %s", id)
	}
	fmt.Println()
	return nil
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read message file: %w", err)
	}
	return data, nil
}

// addFiles attaches each attach path and embeds each embed spec, returning
// the cid references of the embedded files in order. An embed spec is either
// a path or CID=path; a content id is generated when none is given.
func addFiles(msg *email.Message, attach, embed []string) ([]string, error) {
	for _, path := range attach {
		att, err := loadAttachment(path)
		if err != nil {
			return nil, err
		}
		msg.Attach(att)
		slog.Debug("attached file", "filename", att.Filename, "content_type", att.ContentType)
	}

	refs := make([]string, 0, len(embed))
	for _, spec := range embed {
		contentID, path, ok := strings.Cut(spec, "=")
		if !ok {
			contentID, path = "", spec
		}
		att, err := loadAttachment(path)
		if err != nil {
			return nil, err
		}
		att.ContentID = contentID
		ref := msg.Embed(att)
		slog.Info("embedded file", "filename", att.Filename, "reference", ref)
		refs = append(refs, ref)
	}
	return refs, nil
}

// loadAttachment reads a file and derives its content type from the
// extension.
func loadAttachment(path string) (*email.Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment: %w", err)
	}
	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &email.Attachment{
		Leaf:     email.Leaf{ContentType: contentType, Body: data},
		Filename: filepath.Base(path),
	}, nil
}

// selectProvider chooses the delivery backend. Dry runs and an explicit
// "stdout" provider print the message; otherwise a server token is required.
func selectProvider(cfg *config.Config, dryRun bool) (provider.Provider, error) {
	if dryRun {
		return stdout.New(), nil
	}

	switch cfg.Provider {
	case "stdout":
		slog.Info("using stdout provider")
		return stdout.New(), nil

	case "postmark", "":
		token, err := resolveToken(cfg)
		if err != nil {
			if cfg.Provider == "" {
				slog.Info("no server token configured, using stdout provider")
				return stdout.New(), nil
			}
			return nil, err
		}
		slog.Info("using Postmark provider", "endpoint", cfg.Postmark.Endpoint)
		return postmark.New(token,
			postmark.WithEndpoint(cfg.Postmark.Endpoint),
			postmark.WithHTTPClient(&http.Client{Timeout: cfg.Postmark.Timeout}),
			postmark.WithBeforeSend(func(_ context.Context, msg *email.Message) {
				slog.Debug("sending message",
					"subject", msg.Subject,
					"recipients", msg.RecipientCount(),
				)
			}),
		), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// resolveToken returns the configured server token, falling back to the
// system keyring when enabled.
func resolveToken(cfg *config.Config) (string, error) {
	if cfg.PostmarkConfigured() {
		return cfg.Postmark.ServerToken, nil
	}
	if !cfg.Postmark.UseKeyring {
		return "", errors.New("POSTMARK_SERVER_TOKEN is required")
	}
	store, err := credential.Open()
	if err != nil {
		return "", err
	}
	return store.Get(credential.TokenKey)
}

func runTokenSet(in io.Reader) error {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return fmt.Errorf("failed to read token: %w", err)
	}
	value := strings.TrimSpace(line)
	if value == "" {
		return errors.New("empty token")
	}

	store, err := credential.Open()
	if err != nil {
		return err
	}
	if err := store.Set(credential.TokenKey, value); err != nil {
		return err
	}
	slog.Info("server token stored in keyring")
	return nil
}

func runTokenDelete() error {
	store, err := credential.Open()
	if err != nil {
		return err
	}
	if err := store.Delete(credential.TokenKey); err != nil {
		return err
	}
	slog.Info("server token removed from keyring")
	return nil
}
