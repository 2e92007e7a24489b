// Package sshconn implements connection.Connection over SSH, with SFTP for file transfers.
package sshconn

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/whacked/ktest/connection"
	"github.com/whacked/ktest/errors"
	"github.com/whacked/ktest/log"
	"github.com/whacked/ktest/shell"
)

const (
	DefaultPort           = 22
	DefaultUser           = "root"
	DefaultConnectTimeout = 30 * time.Second
)

// HostConfig holds the connection parameters.
type HostConfig struct {
	Host string `yaml:"address"`
	User string `yaml:"user"`
	Port int    `yaml:"port"`
	// KeyFile is a private key used for public key authentication.
	KeyFile  string `yaml:"key_file"`
	Password string `yaml:"password"`
	// KnownHosts is the known_hosts file used to verify the host key.
	KnownHosts string `yaml:"known_hosts"`
	// InsecureIgnoreHostKey disables host key verification. Test machines get
	// reinstalled often enough that this is the common setting.
	InsecureIgnoreHostKey bool          `yaml:"insecure_ignore_host_key"`
	ConnectTimeout        time.Duration `yaml:"connect_timeout"`
}

// Addr returns the host:port to dial.
func (cfg HostConfig) Addr() string {
	port := cfg.Port
	if port == 0 {
		port = DefaultPort
	}

	return net.JoinHostPort(cfg.Host, strconv.Itoa(port))
}

// ClientConfig builds the ssh client configuration.
func (cfg HostConfig) ClientConfig() (*ssh.ClientConfig, error) {
	if cfg.Host == "" {
		return nil, errors.New("ssh host address is empty")
	}

	user := cfg.User
	if user == "" {
		user = DefaultUser
	}

	timeout := cfg.ConnectTimeout
	if timeout == 0 {
		timeout = DefaultConnectTimeout
	}

	var auth []ssh.AuthMethod

	if cfg.KeyFile != "" {
		path, err := shell.Expand(cfg.KeyFile)
		if err != nil {
			return nil, err
		}

		pem, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WithStackTrace(err)
		}

		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, errors.WithStackTraceAndPrefix(err, "parsing key %s", path)
		}

		auth = append(auth, ssh.PublicKeys(signer))
	}

	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}

	if len(auth) == 0 {
		return nil, errors.Errorf("no ssh authentication method configured for %s", cfg.Host)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey() //nolint:gosec

	if !cfg.InsecureIgnoreHostKey {
		knownHostsPath := cfg.KnownHosts
		if knownHostsPath == "" {
			knownHostsPath = "~/.ssh/known_hosts"
		}

		path, err := shell.Expand(knownHostsPath)
		if err != nil {
			return nil, err
		}

		hostKeyCallback, err = knownhosts.New(path)
		if err != nil {
			return nil, errors.WithStackTraceAndPrefix(err, "loading known hosts %s", path)
		}
	}

	return &ssh.ClientConfig{
		User:            user,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}, nil
}

// Connection is an ssh connection to the host under test.
type Connection struct {
	client *ssh.Client
	config HostConfig
	logger logrus.FieldLogger
}

var _ connection.Connection = (*Connection)(nil)

// Dial opens a new ssh connection.
func Dial(cfg HostConfig, l logrus.FieldLogger) (*Connection, error) {
	clientConfig, err := cfg.ClientConfig()
	if err != nil {
		return nil, err
	}

	if l == nil {
		l = log.Discard()
	}

	l = l.WithField(log.HostKey, cfg.Host)
	l.Debugf("Connecting to %s@%s", clientConfig.User, cfg.Addr())

	client, err := ssh.Dial("tcp", cfg.Addr(), clientConfig)
	if err != nil {
		return nil, errors.WithStackTraceAndPrefix(err, "connecting to %s", cfg.Addr())
	}

	return &Connection{client: client, config: cfg, logger: l}, nil
}

// NewFactory returns a connection.Factory dialing cfg.
func NewFactory(cfg HostConfig, l logrus.FieldLogger) connection.Factory {
	return func() (connection.Connection, error) {
		return Dial(cfg, l)
	}
}

// RunCommand runs cmd in the remote host.
func (conn *Connection) RunCommand(ctx context.Context, cmd string, captureOutput bool) (string, error) {
	conn.logger.Infof("Running: $ %s", cmd)

	session, err := conn.client.NewSession()
	if err != nil {
		return "", errors.WithStackTrace(err)
	}
	defer session.Close()

	var (
		stdout    = &bytes.Buffer{}
		logWriter = log.LineWriter(conn.logger)
	)

	if captureOutput {
		session.Stdout = stdout
	} else {
		session.Stdout = logWriter
	}

	session.Stderr = logWriter

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case err = <-done:
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		err = ctx.Err()
	}

	_ = logWriter.Close()

	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			conn.logger.Errorf("%q exited with status %d", cmd, exitErr.ExitStatus())
			return "", errors.WithStackTrace(shell.ProcessError{Command: cmd, ExitCode: exitErr.ExitStatus()})
		}

		return "", errors.WithStackTraceAndPrefix(err, "running %q on %s", cmd, conn.config.Host)
	}

	if captureOutput {
		return stdout.String(), nil
	}

	return "", nil
}

// Put sends a local file through the ssh connection.
func (conn *Connection) Put(_ context.Context, src, dest string) error {
	conn.logger.Infof("Copying %s to %s@%s:%s", src, conn.client.User(), conn.config.Host, dest)

	client, err := sftp.NewClient(conn.client)
	if err != nil {
		return errors.WithStackTrace(err)
	}
	defer client.Close()

	in, err := os.Open(src)
	if err != nil {
		return errors.WithStackTrace(err)
	}
	defer in.Close()

	out, err := client.Create(dest)
	if err != nil {
		return errors.WithStackTraceAndPrefix(err, "creating remote %s", dest)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.WithStackTrace(err)
	}

	return errors.WithStackTrace(out.Close())
}

// Get receives a remote file through the ssh connection.
func (conn *Connection) Get(_ context.Context, src, dest string) error {
	conn.logger.Infof("Copying %s@%s:%s to %s", conn.client.User(), conn.config.Host, src, dest)

	client, err := sftp.NewClient(conn.client)
	if err != nil {
		return errors.WithStackTrace(err)
	}
	defer client.Close()

	in, err := client.Open(src)
	if err != nil {
		return errors.WithStackTraceAndPrefix(err, "opening remote %s", src)
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return errors.WithStackTrace(err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.WithStackTrace(err)
	}

	return errors.WithStackTrace(out.Close())
}

// Close closes the underlying ssh client.
func (conn *Connection) Close() error {
	return conn.client.Close()
}
