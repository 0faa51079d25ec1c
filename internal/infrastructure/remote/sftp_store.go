package remote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/nightshift/backend/internal/infrastructure/logger"
	"github.com/pkg/sftp"
)

// SFTPStore uploads result artifacts to a directory on a remote host.
type SFTPStore struct {
	client    *SSHClient
	user      string
	remoteDir string
	logger    *logger.Logger
}

func NewSFTPStore(cfg SSHConfig, remoteDir string, log *logger.Logger) *SFTPStore {
	if remoteDir == "" {
		remoteDir = "nightshift/results"
	}
	return &SFTPStore{client: NewSSHClient(cfg), user: cfg.User, remoteDir: remoteDir, logger: log}
}

// Upload writes data to <remoteDir>/<name> and returns its sftp:// URL.
func (s *SFTPStore) Upload(ctx context.Context, name string, data []byte) (string, error) {
	conn, err := s.client.Connect(ctx)
	if err != nil {
		s.logger.Errorw("sftp_connect_failed", "addr", s.client.Address(), "error", err)
		return "", err
	}
	defer conn.Close()

	sc, err := sftp.NewClient(conn)
	if err != nil {
		return "", fmt.Errorf("sftp: open session: %w", err)
	}
	defer sc.Close()

	if err := sc.MkdirAll(s.remoteDir); err != nil {
		return "", fmt.Errorf("sftp: mkdir %s: %w", s.remoteDir, err)
	}
	target := path.Join(s.remoteDir, name)
	f, err := sc.Create(target)
	if err != nil {
		return "", fmt.Errorf("sftp: create %s: %w", target, err)
	}
	if _, err := io.Copy(f, bytes.NewReader(data)); err != nil {
		f.Close()
		return "", fmt.Errorf("sftp: write %s: %w", target, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("sftp: close %s: %w", target, err)
	}

	url := fmt.Sprintf("sftp://%s@%s/%s", s.user, s.client.Address(), target)
	s.logger.Infow("sftp_upload_ok", "target", url, "bytes", len(data))
	return url, nil
}
