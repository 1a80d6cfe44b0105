package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mitchellh/go-homedir"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"discarchive/internal/config"
	"discarchive/internal/logging"
	"discarchive/internal/metadata"
	"discarchive/internal/services"
)

// DefaultKeyPaths are tried after the configured key.
var DefaultKeyPaths = []string{
	"/root/.ssh/id_rsa",
	"/root/.ssh/id_ed25519",
	"/app/config/ssh_key",
	"~/.ssh/id_rsa",
	"~/.ssh/id_ed25519",
}

const defaultConnectTimeout = 30 * time.Second

// RemoteOption configures a Remote.
type RemoteOption func(*Remote)

// WithKeyPaths replaces the default key search list.
func WithKeyPaths(paths ...string) RemoteOption {
	return func(r *Remote) {
		r.defaultKeys = append([]string(nil), paths...)
	}
}

// WithHostKeyCallback overrides host key verification.
func WithHostKeyCallback(cb ssh.HostKeyCallback) RemoteOption {
	return func(r *Remote) {
		if cb != nil {
			r.hostKeyCallback = cb
		}
	}
}

// Remote archives to a directory on another host over SFTP.
type Remote struct {
	settings        config.SSHDestination
	defaultKeys     []string
	hostKeyCallback ssh.HostKeyCallback
	logger          *slog.Logger
}

// NewRemote constructs an SSH destination.
func NewRemote(settings config.SSHDestination, logger *slog.Logger, opts ...RemoteOption) (*Remote, error) {
	if strings.TrimSpace(settings.Host) == "" || strings.TrimSpace(settings.User) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "archiving", "init", "ssh host and user required", nil)
	}
	if settings.Port <= 0 {
		settings.Port = 22
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	r := &Remote{
		settings:    settings,
		defaultKeys: DefaultKeyPaths,
		logger:      logging.NewComponentLogger(logger, "delivery"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Describe names the destination for logs.
func (r *Remote) Describe() string {
	return fmt.Sprintf("ssh:%s@%s:%s", r.settings.User, r.address(), r.settings.RemotePath)
}

func (r *Remote) address() string {
	return net.JoinHostPort(r.settings.Host, strconv.Itoa(r.settings.Port))
}

// Deliver streams source to the remote archive and writes the sidecar there.
// The local source is left in place; the caller owns cleanup.
func (r *Remote) Deliver(ctx context.Context, source string, record *metadata.Record) (Result, error) {
	logger := logging.WithContext(ctx, r.logger)
	local, err := os.Open(source)
	if err != nil {
		return Result{}, services.Wrap(services.ErrDeliveryTransfer, "archiving", "open source", "", err)
	}
	defer local.Close()
	info, err := local.Stat()
	if err != nil {
		return Result{}, services.Wrap(services.ErrDeliveryTransfer, "archiving", "stat source", "", err)
	}

	client, err := r.connect(ctx)
	if err != nil {
		return Result{}, err
	}
	defer client.Close()

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return Result{}, services.Wrap(services.ErrDeliveryTransfer, "archiving", "start sftp", r.Describe(), err)
	}
	defer sftpClient.Close()

	plan := newLayout(source, record)
	dir := path.Join(r.settings.RemotePath, plan.folder)
	if err := sftpClient.MkdirAll(dir); err != nil {
		return Result{}, services.Wrap(services.ErrDeliveryTransfer, "archiving", "create remote folder", dir, err)
	}

	target, remote, err := reserveRemote(sftpClient, dir, plan)
	if err != nil {
		return Result{}, services.Wrap(services.ErrDeliveryTransfer, "archiving", "reserve remote name", dir, err)
	}

	logger.Info("remote transfer started",
		logging.String("remote_path", target),
		logging.String("size", humanize.IBytes(uint64(info.Size()))),
	)
	progress := &progressLogger{logger: logger, total: info.Size(), sampler: logging.NewProgressSampler(10)}
	_, copyErr := io.Copy(remote, &contextReader{ctx: ctx, r: io.TeeReader(local, progress)})
	closeErr := remote.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		_ = sftpClient.Remove(target)
		if cause := context.Cause(ctx); cause != nil {
			return Result{}, cause
		}
		return Result{}, services.Wrap(services.ErrDeliveryTransfer, "archiving", "copy", target, copyErr)
	}

	data, err := sidecar(record)
	if err != nil {
		return Result{}, services.Wrap(services.ErrDeliveryTransfer, "archiving", "encode sidecar", "", err)
	}
	if err := writeRemote(sftpClient, path.Join(dir, SidecarName), data); err != nil {
		return Result{}, services.Wrap(services.ErrDeliveryTransfer, "archiving", "write sidecar", dir, err)
	}
	logger.Info("remote transfer complete", logging.String("remote_path", target))
	return Result{Path: target, SizeBytes: info.Size()}, nil
}

func (r *Remote) connect(ctx context.Context) (*ssh.Client, error) {
	signers, err := r.loadSigners()
	if err != nil {
		return nil, err
	}
	hostKeys, err := r.hostKeys()
	if err != nil {
		return nil, err
	}
	timeout := r.settings.ConnectTimeout()
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	clientConfig := &ssh.ClientConfig{
		User:            r.settings.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signers...)},
		HostKeyCallback: hostKeys,
		Timeout:         timeout,
	}

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", r.address())
	if err != nil {
		if cause := context.Cause(ctx); cause != nil {
			return nil, cause
		}
		return nil, services.Wrap(services.ErrDeliveryConnect, "archiving", "dial", r.address(), err)
	}
	_ = conn.SetDeadline(time.Now().Add(timeout))
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, r.address(), clientConfig)
	if err != nil {
		_ = conn.Close()
		if isAuthFailure(err) {
			return nil, services.Wrap(services.ErrDeliveryAuth, "archiving", "authenticate",
				fmt.Sprintf("%s@%s", r.settings.User, r.settings.Host), err)
		}
		return nil, services.Wrap(services.ErrDeliveryConnect, "archiving", "handshake", r.address(), err)
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(sshConn, chans, reqs), nil
}

// keyPaths lists the configured key followed by the defaults, expanded and
// without duplicates.
func (r *Remote) keyPaths() []string {
	var out []string
	seen := make(map[string]bool)
	for _, candidate := range append([]string{r.settings.KeyPath}, r.defaultKeys...) {
		if strings.TrimSpace(candidate) == "" {
			continue
		}
		expanded, err := homedir.Expand(candidate)
		if err != nil || seen[expanded] {
			continue
		}
		seen[expanded] = true
		out = append(out, expanded)
	}
	return out
}

func (r *Remote) loadSigners() ([]ssh.Signer, error) {
	var signers []ssh.Signer
	for _, keyPath := range r.keyPaths() {
		data, err := os.ReadFile(keyPath)
		if err != nil {
			continue
		}
		signer, err := ssh.ParsePrivateKey(data)
		if err != nil {
			logging.WarnWithContext(r.logger, "ssh key unusable", "ssh_key_unusable",
				logging.String("key_path", keyPath),
				logging.Error(err),
			)
			continue
		}
		signers = append(signers, signer)
	}
	if len(signers) == 0 {
		return nil, services.Wrap(services.ErrDeliveryAuth, "archiving", "load key",
			"no usable SSH private key found in "+strings.Join(r.keyPaths(), ", "), nil)
	}
	return signers, nil
}

func (r *Remote) hostKeys() (ssh.HostKeyCallback, error) {
	if r.hostKeyCallback != nil {
		return r.hostKeyCallback, nil
	}
	if r.settings.KnownHosts == "" {
		logging.WarnWithContext(r.logger, "ssh host key not verified", "ssh_host_key_unverified",
			logging.String(logging.FieldErrorHint, "set destination.ssh.known_hosts to verify the archive host"),
		)
		return ssh.InsecureIgnoreHostKey(), nil
	}
	knownHostsPath, err := homedir.Expand(r.settings.KnownHosts)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "archiving", "known hosts", "", err)
	}
	cb, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "archiving", "known hosts", knownHostsPath, err)
	}
	return cb, nil
}

func isAuthFailure(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") || strings.Contains(msg, "no supported methods remain")
}

// reserveRemote exclusively creates the first free candidate name and returns
// the open handle.
func reserveRemote(client *sftp.Client, dir string, plan layout) (string, *sftp.File, error) {
	for n := 0; n < maxNameAttempts; n++ {
		candidate := path.Join(dir, plan.fileName(n))
		f, err := client.OpenFile(candidate, os.O_WRONLY|os.O_CREATE|os.O_EXCL)
		if err == nil {
			return candidate, f, nil
		}
		if _, statErr := client.Stat(candidate); statErr == nil {
			continue
		}
		return "", nil, err
	}
	return "", nil, fmt.Errorf("no free name for %s after %d attempts", plan.base, maxNameAttempts)
}

func writeRemote(client *sftp.Client, name string, data []byte) error {
	f, err := client.Create(name)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// progressLogger logs every 10% of a transfer.
type progressLogger struct {
	logger  *slog.Logger
	sampler *logging.ProgressSampler
	total   int64
	written int64
}

func (p *progressLogger) Write(b []byte) (int, error) {
	p.written += int64(len(b))
	if p.total <= 0 {
		return len(b), nil
	}
	percent := float64(p.written) * 100 / float64(p.total)
	if percent >= 10 && p.sampler.ShouldEmit("", percent) {
		p.logger.Info("remote transfer progress",
			logging.Int("percent", int(percent)/10*10),
			logging.String("transferred", humanize.IBytes(uint64(p.written))),
		)
	}
	return len(b), nil
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, errors.Join(err, context.Cause(c.ctx))
	}
	return c.r.Read(p)
}

var _ Destination = (*Remote)(nil)
