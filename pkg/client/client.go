// Package client implements the mediachat client networking: login, a
// reader and a writer goroutine per connection, and file-transfer
// coordination.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/NicolasHaas/mediachat/pkg/mailbox"
	"github.com/NicolasHaas/mediachat/pkg/model"
	"github.com/NicolasHaas/mediachat/pkg/protocol"
	"github.com/NicolasHaas/mediachat/pkg/transfer"
)

var (
	ErrClosed       = errors.New("client: connection closed")
	ErrUnknownUser  = errors.New("client: no such user online")
	ErrSelfTransfer = errors.New("client: cannot send a file to yourself")
)

const (
	loginTimeout = 10 * time.Second
	writeTimeout = 10 * time.Second
	drainTimeout = 2 * time.Second
)

// LoginError is returned by Dial when the server rejects the login.
type LoginError struct {
	Status  protocol.LoginStatus
	Message string
}

func (e *LoginError) Error() string {
	if e.Message != "" && e.Message != e.Status.String() {
		return fmt.Sprintf("login failed: %s (%s)", e.Status, e.Message)
	}
	return fmt.Sprintf("login failed: %s", e.Status)
}

// Options configures a Client.
type Options struct {
	// DownloadDir receives accepted files. Defaults to "downloads".
	DownloadDir string

	// Pacing overrides transfer.DefaultPacing when non-zero.
	Pacing transfer.Pacing

	// AcceptTransfer decides incoming file offers as they arrive. When nil
	// offers stay pending until AcceptTransfer or DeclineTransfer is called.
	AcceptTransfer func(info transfer.Info) bool

	// OnEvent receives every server event on the reader goroutine. It must
	// not call Close.
	OnEvent EventHandler

	Logger *slog.Logger
}

// Client is one logged-in connection to a mediachat server.
type Client struct {
	conn       net.Conn
	br         *bufio.Reader
	name       string
	serverName string
	opts       Options
	log        *slog.Logger

	out       *mailbox.Mailbox[protocol.Message]
	transfers *transfer.Manager

	mu     sync.RWMutex
	users  map[string]struct{}
	admin  bool
	reason string

	closeOnce  sync.Once
	closeErr   error
	done       chan struct{}
	writerDone chan struct{}
	readerDone chan struct{}
}

// Dial connects to addr, performs the login handshake and starts the
// reader and writer goroutines. A rejected login returns a *LoginError.
func Dial(ctx context.Context, addr, username, password string, opts Options) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("client: connect: %w", err)
	}

	c, err := login(conn, username, password, opts)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

func login(conn net.Conn, username, password string, opts Options) (*Client, error) {
	_ = conn.SetDeadline(time.Now().Add(loginTimeout))
	if err := protocol.WriteLogin(conn, username, password); err != nil {
		return nil, fmt.Errorf("client: send login: %w", err)
	}

	br := bufio.NewReader(conn)
	msg, err := protocol.Decode(br)
	if err != nil {
		return nil, fmt.Errorf("client: read login result: %w", err)
	}
	res, ok := msg.(protocol.LoginResult)
	if !ok {
		return nil, fmt.Errorf("client: expected login result, got %s", msg.Tag())
	}
	if res.Status != protocol.LoginOK {
		return nil, &LoginError{Status: res.Status, Message: res.Message}
	}

	msg, err = protocol.Decode(br)
	if err != nil {
		return nil, fmt.Errorf("client: read user list: %w", err)
	}
	list, ok := msg.(protocol.UserList)
	if !ok {
		return nil, fmt.Errorf("client: expected user list, got %s", msg.Tag())
	}
	_ = conn.SetDeadline(time.Time{})

	if opts.DownloadDir == "" {
		opts.DownloadDir = "downloads"
	}
	if opts.Pacing == (transfer.Pacing{}) {
		opts.Pacing = transfer.DefaultPacing
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("user", username)

	c := &Client{
		conn:       conn,
		br:         br,
		name:       username,
		serverName: res.Message,
		opts:       opts,
		log:        log,
		out:        mailbox.New[protocol.Message](),
		users:      make(map[string]struct{}, len(list.Names)),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
		readerDone: make(chan struct{}),
	}
	for _, n := range list.Names {
		c.users[n] = struct{}{}
	}
	c.transfers = transfer.NewManager(username, transfer.PostFunc(c.out.Enqueue), transfer.Options{
		DownloadDir: opts.DownloadDir,
		Pacing:      opts.Pacing,
		Logger:      log,
	})

	go c.writeLoop()
	go c.readLoop()

	log.Info("logged in", "server", c.serverName, "online", len(list.Names))
	return c, nil
}

// Name returns the logged-in username.
func (c *Client) Name() string { return c.name }

// ServerName returns the name announced by the server.
func (c *Client) ServerName() string { return c.serverName }

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} { return c.done }

// Reason describes why the connection ended.
func (c *Client) Reason() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reason
}

// Users returns the online users, sorted.
func (c *Client) Users() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.users))
	for n := range c.users {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Online reports whether name is in the current roster.
func (c *Client) Online(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.users[name]
	return ok
}

// IsAdmin reports whether an admin login succeeded.
func (c *Client) IsAdmin() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.admin
}

func (c *Client) send(m protocol.Message) error {
	if !c.out.Enqueue(m) {
		return ErrClosed
	}
	return nil
}

// SendChat broadcasts text to everyone, the sender included.
func (c *Client) SendChat(text string) error {
	text = model.SanitizeChat(text)
	if err := model.ValidateChat(text); err != nil {
		return err
	}
	return c.send(protocol.Chat{Text: text})
}

// SendPrivate sends text to one user.
func (c *Client) SendPrivate(to, text string) error {
	text = model.SanitizeChat(text)
	if err := model.ValidateChat(text); err != nil {
		return err
	}
	if !c.Online(to) {
		return fmt.Errorf("%w: %s", ErrUnknownUser, to)
	}
	return c.send(protocol.PrivateChat{Receiver: to, Text: text})
}

// SendFile offers the file at path to the user named to.
func (c *Client) SendFile(path, to string) (transfer.Info, error) {
	if to == c.name {
		return transfer.Info{}, ErrSelfTransfer
	}
	if !c.Online(to) {
		return transfer.Info{}, fmt.Errorf("%w: %s", ErrUnknownUser, to)
	}
	return c.transfers.Offer(path, to)
}

// AcceptTransfer accepts a pending offer.
func (c *Client) AcceptTransfer(sender, fileName string) (transfer.Info, error) {
	return c.transfers.Accept(sender, fileName)
}

// DeclineTransfer declines a pending offer.
func (c *Client) DeclineTransfer(sender, fileName string) error {
	return c.transfers.Decline(sender, fileName)
}

// CancelTransfer aborts an active transfer by ID.
func (c *Client) CancelTransfer(id int32) error {
	return c.transfers.Cancel(id)
}

// Transfers returns the live transfers.
func (c *Client) Transfers() []transfer.Info {
	return c.transfers.Transfers()
}

// TransferHistory returns recently finished transfers.
func (c *Client) TransferHistory() []transfer.Info {
	return c.transfers.History()
}

// AdminLogin asks for the admin role. The outcome arrives as EventAdminLogin.
func (c *Client) AdminLogin(password string) error {
	return c.send(protocol.AdminLogin{Password: password})
}

// Punish mutes, bans or kicks the user named target.
func (c *Client) Punish(kind model.PunishmentKind, target string) error {
	if !kind.Valid() {
		return model.ErrUnknownPunishment
	}
	return c.send(protocol.AdminPunish{Kind: kind, Target: target})
}

// RemovePunishment lifts a mute or ban by address.
func (c *Client) RemovePunishment(kind model.PunishmentKind, address string) error {
	if !kind.Persistent() {
		return fmt.Errorf("client: %s cannot be removed", kind)
	}
	return c.send(protocol.AdminRemovePunishment{Kind: kind, Address: address})
}

// ListPunishments requests the persisted punishments.
func (c *Client) ListPunishments() error {
	return c.send(protocol.AdminPunishList{})
}

// Close drains queued messages, closes the connection and abandons any
// unfinished transfers.
func (c *Client) Close() error {
	c.terminate("closed", true)
	return c.closeErr
}

func (c *Client) writeLoop() {
	defer close(c.writerDone)
	for {
		msg, err := c.out.Next(context.Background())
		if err != nil {
			return
		}
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := protocol.Write(c.conn, msg); err != nil {
			c.log.Debug("write failed", "err", err)
			go c.terminate("write failed: "+err.Error(), false)
			return
		}
	}
}

// terminate runs once. A graceful close lets the writer drain first.
func (c *Client) terminate(reason string, graceful bool) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		if c.reason == "" {
			c.reason = reason
		}
		reason = c.reason
		c.mu.Unlock()

		c.out.Close()
		if graceful {
			select {
			case <-c.writerDone:
			case <-time.After(drainTimeout):
			}
		}

		var result *multierror.Error
		if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			result = multierror.Append(result, err)
		}
		if err := c.transfers.CloseAll(); err != nil {
			result = multierror.Append(result, err)
		}
		c.closeErr = result.ErrorOrNil()

		close(c.done)
		c.log.Info("disconnected", "reason", reason)
		c.emit(Event{Kind: EventDisconnected, Reason: reason})
	})
}
