package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

var (
	ErrSSHConnection     = errors.New("ssh: connection failed")
	ErrSSHAuthentication = errors.New("ssh: authentication failed")
	ErrSSHTimeout        = errors.New("ssh: connection timeout")
)

type SSHConfig struct {
	Host       string
	Port       int
	User       string
	Password   string
	PrivateKey string
	// KnownHostsPath enables host key checking; empty accepts any key.
	KnownHostsPath string
	Timeout        time.Duration
	MaxRetries     int
}

type SSHClient struct {
	config SSHConfig
}

func NewSSHClient(cfg SSHConfig) *SSHClient {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	return &SSHClient{config: cfg}
}

func (c *SSHClient) Address() string {
	return net.JoinHostPort(c.config.Host, fmt.Sprintf("%d", c.config.Port))
}

func (c *SSHClient) getAuthMethods() ([]ssh.AuthMethod, error) {
	var authMethods []ssh.AuthMethod

	if c.config.PrivateKey != "" {
		signer, err := ssh.ParsePrivateKey([]byte(c.config.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid private key", ErrSSHAuthentication)
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}

	if c.config.Password != "" {
		authMethods = append(authMethods, ssh.Password(c.config.Password))
	}

	if len(authMethods) == 0 {
		return nil, fmt.Errorf("%w: no credentials provided", ErrSSHAuthentication)
	}

	return authMethods, nil
}

func (c *SSHClient) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if c.config.KnownHostsPath == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(c.config.KnownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("%w: known_hosts: %v", ErrSSHConnection, err)
	}
	return cb, nil
}

// Connect dials the server, retrying with linear backoff until the retry
// budget or ctx runs out.
func (c *SSHClient) Connect(ctx context.Context) (*ssh.Client, error) {
	authMethods, err := c.getAuthMethods()
	if err != nil {
		return nil, err
	}
	hostKeys, err := c.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	sshConfig := &ssh.ClientConfig{
		User:            c.config.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeys,
		Timeout:         c.config.Timeout,
	}

	addr := c.Address()
	var connectErr error
	for attempt := 1; attempt <= c.config.MaxRetries; attempt++ {
		dialer := net.Dialer{Timeout: c.config.Timeout, KeepAlive: 30 * time.Second}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			connectErr = err
		} else {
			conn.SetDeadline(time.Now().Add(c.config.Timeout))
			sc, chans, reqs, err := ssh.NewClientConn(conn, addr, sshConfig)
			if err == nil {
				conn.SetDeadline(time.Time{})
				return ssh.NewClient(sc, chans, reqs), nil
			}
			conn.Close()
			connectErr = err
			if strings.Contains(err.Error(), "unable to authenticate") {
				return nil, fmt.Errorf("%w: %v", ErrSSHAuthentication, err)
			}
		}

		if attempt < c.config.MaxRetries {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrSSHConnection, ctx.Err())
			case <-time.After(time.Duration(attempt*2) * time.Second):
			}
		}
	}

	if errors.Is(connectErr, context.DeadlineExceeded) || (connectErr != nil && strings.Contains(connectErr.Error(), "timeout")) {
		return nil, fmt.Errorf("%w: %v (after %d attempts)", ErrSSHTimeout, connectErr, c.config.MaxRetries)
	}
	return nil, fmt.Errorf("%w: %v (after %d attempts)", ErrSSHConnection, connectErr, c.config.MaxRetries)
}
