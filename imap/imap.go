// Package imap fetches mail for correlation from an IMAP server. Access is
// read-only: folders are selected read-only and bodies fetched with PEEK.
package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/dhcgn/clientmail/ingest"
	"github.com/dhcgn/clientmail/model"
)

var ErrEmptyFolder = errors.New("imap folder name is empty")

type Options struct {
	Host               string
	Port               int
	Username           string
	Password           string
	UseTLS             bool
	InsecureSkipVerify bool
	InboundFolder      string
	OutboundFolder     string
	// Limit caps the number of most recent messages fetched per folder; 0 fetches all.
	Limit int
}

type Fetcher struct {
	opts   Options
	logger *slog.Logger
}

func NewFetcher(opts Options, logger *slog.Logger) (*Fetcher, error) {
	if strings.TrimSpace(opts.Host) == "" {
		return nil, fmt.Errorf("imap host is empty")
	}
	if opts.Port <= 0 {
		return nil, fmt.Errorf("imap port must be positive")
	}
	if opts.Limit < 0 {
		return nil, fmt.Errorf("imap fetch limit must not be negative")
	}
	return &Fetcher{opts: opts, logger: logger}, nil
}

// FetchAll reads the inbound and outbound folders over one connection.
func (f *Fetcher) FetchAll(ctx context.Context) (inbound, outbound []model.RawMessage, err error) {
	client, cleanup, err := f.dial(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer cleanup()

	inbound, err = f.fetchFolder(client, f.inboundFolder())
	if err != nil {
		return nil, nil, err
	}
	outbound, err = f.fetchFolder(client, f.outboundFolder())
	if err != nil {
		return nil, nil, err
	}
	return inbound, outbound, nil
}

// FetchFolder reads one folder.
func (f *Fetcher) FetchFolder(ctx context.Context, folder string) ([]model.RawMessage, error) {
	if strings.TrimSpace(folder) == "" {
		return nil, ErrEmptyFolder
	}
	client, cleanup, err := f.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	return f.fetchFolder(client, folder)
}

func (f *Fetcher) dial(ctx context.Context) (*imapclient.Client, func(), error) {
	address := net.JoinHostPort(f.opts.Host, strconv.Itoa(f.opts.Port))
	options := &imapclient.Options{}

	if f.opts.UseTLS {
		options.TLSConfig = &tls.Config{
			ServerName:         f.opts.Host,
			InsecureSkipVerify: f.opts.InsecureSkipVerify,
		}
	}

	var (
		client *imapclient.Client
		err    error
	)
	if f.opts.UseTLS {
		client, err = imapclient.DialTLS(address, options)
	} else {
		client, err = imapclient.DialInsecure(address, options)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("dial imap %s: %w", address, err)
	}

	if err := client.Login(f.opts.Username, f.opts.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("imap login failed: %w", err)
	}

	if f.logger != nil {
		f.logger.Debug("imap connection established", "address", address, "user", f.opts.Username, "tls", f.opts.UseTLS)
	}

	stopClose := context.AfterFunc(ctx, func() {
		_ = client.Close()
	})

	cleanup := func() {
		stopClose()
		if ctx.Err() == nil {
			if err := client.Logout().Wait(); err != nil {
				if f.logger != nil {
					f.logger.Warn("imap logout failed", "err", err)
				}
			}
		}
		if err := client.Close(); err != nil && f.logger != nil {
			f.logger.Debug("imap connection closed", "err", err)
		}
	}

	return client, cleanup, nil
}

func (f *Fetcher) fetchFolder(client *imapclient.Client, folder string) ([]model.RawMessage, error) {
	selected, err := client.Select(folder, &imapv2.SelectOptions{ReadOnly: true}).Wait()
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", folder, err)
	}

	start, stop, ok := fetchRange(selected.NumMessages, f.opts.Limit)
	if !ok {
		if f.logger != nil {
			f.logger.Info("imap folder empty", "folder", folder)
		}
		return nil, nil
	}

	var seqSet imapv2.SeqSet
	seqSet.AddRange(start, stop)
	section := &imapv2.FetchItemBodySection{Peek: true}
	buffers, err := client.Fetch(seqSet, &imapv2.FetchOptions{
		Envelope:     true,
		InternalDate: true,
		BodySection:  []*imapv2.FetchItemBodySection{section},
	}).Collect()
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", folder, err)
	}

	out := make([]model.RawMessage, 0, len(buffers))
	for _, buf := range buffers {
		msg, err := toRawMessage(buf.FindBodySection(section), buf.Envelope, buf.InternalDate)
		if err != nil {
			if f.logger != nil {
				f.logger.Warn("imap message skipped", "folder", folder, "seq", buf.SeqNum, "err", err)
			}
			continue
		}
		out = append(out, msg)
	}

	if f.logger != nil {
		f.logger.Info("imap folder fetched", "folder", folder, "messages", len(out), "total", selected.NumMessages)
	}
	return out, nil
}

// toRawMessage parses the full body when the server returned one and fills
// gaps from the envelope.
func toRawMessage(body []byte, env *imapv2.Envelope, internalDate time.Time) (model.RawMessage, error) {
	var msg model.RawMessage
	if len(body) > 0 {
		parsed, err := ingest.ParseMIME(body)
		if err != nil {
			return model.RawMessage{}, err
		}
		msg = parsed
	}

	if env != nil {
		if msg.ID == "" {
			msg.ID = strings.Trim(env.MessageID, "<>")
		}
		if msg.Subject == "" {
			msg.Subject = env.Subject
		}
		if msg.From == nil && len(env.From) > 0 {
			msg.From = &model.Address{Address: env.From[0].Addr(), Name: env.From[0].Name}
		}
		if len(msg.To) == 0 {
			for _, list := range [][]imapv2.Address{env.To, env.Cc} {
				for _, a := range list {
					msg.To = append(msg.To, model.Address{Address: a.Addr(), Name: a.Name})
				}
			}
		}
		if msg.SentAt == "" && !env.Date.IsZero() {
			msg.SentAt = env.Date.UTC().Format(time.RFC3339)
		}
	}
	if msg.ReceivedAt == "" && !internalDate.IsZero() {
		msg.ReceivedAt = internalDate.UTC().Format(time.RFC3339)
	}
	if msg.ID == "" && msg.From == nil && len(msg.To) == 0 {
		return model.RawMessage{}, errors.New("message has neither body nor envelope")
	}
	return msg, nil
}

// fetchRange returns the sequence range holding the newest limit messages.
func fetchRange(numMessages uint32, limit int) (start, stop uint32, ok bool) {
	if numMessages == 0 {
		return 0, 0, false
	}
	start = 1
	if limit > 0 && uint32(limit) < numMessages {
		start = numMessages - uint32(limit) + 1
	}
	return start, numMessages, true
}

func (f *Fetcher) inboundFolder() string {
	if f.opts.InboundFolder == "" {
		return "INBOX"
	}
	return f.opts.InboundFolder
}

func (f *Fetcher) outboundFolder() string {
	if f.opts.OutboundFolder == "" {
		return "Sent"
	}
	return f.opts.OutboundFolder
}
