package execution

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nightshift/backend/internal/config"
	"github.com/nightshift/backend/internal/infrastructure/logger"
	"github.com/nightshift/backend/internal/infrastructure/remote"
	"github.com/nightshift/backend/pkg/utils/sshkeygen"
)

// ArtifactStore persists a task's result document and returns where it
// ended up.
type ArtifactStore interface {
	Save(ctx context.Context, taskID string, data []byte) (string, error)
}

func artifactName(taskID string) string {
	return taskID + "_output.json"
}

// LocalStore writes results under a directory on this host.
type LocalStore struct {
	Dir string
}

func (s *LocalStore) Save(_ context.Context, taskID string, data []byte) (string, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("artifacts: create output dir: %w", err)
	}
	p := filepath.Join(s.Dir, artifactName(taskID))
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", fmt.Errorf("artifacts: write %s: %w", p, err)
	}
	return p, nil
}

type uploader interface {
	Upload(ctx context.Context, name string, data []byte) (string, error)
}

// RemoteStore keeps a local copy and uploads the result. When the upload
// fails the local path is returned so the result is never lost.
type RemoteStore struct {
	Local  *LocalStore
	Remote uploader
	Logger *logger.Logger
}

func (s *RemoteStore) Save(ctx context.Context, taskID string, data []byte) (string, error) {
	local, err := s.Local.Save(ctx, taskID, data)
	if err != nil {
		return "", err
	}
	url, err := s.Remote.Upload(ctx, artifactName(taskID), data)
	if err != nil {
		s.Logger.Warnw("artifact_upload_failed", "task_id", taskID, "local", local, "error", err)
		return local, nil
	}
	return url, nil
}

// NewArtifactStore selects the store named by storage.artifacts.
func NewArtifactStore(cfg *config.Config, log *logger.Logger) (ArtifactStore, error) {
	local := &LocalStore{Dir: cfg.Paths.OutputDir}
	switch cfg.Storage.Artifacts {
	case "", "local":
		return local, nil
	case "sftp":
		sc := cfg.Storage.SFTP
		if sc.Host == "" {
			return nil, fmt.Errorf("artifacts: storage.sftp.host is required")
		}
		keyPath := sc.PrivateKeyPath
		if keyPath == "" && sc.Password == "" {
			keyPath, _ = sshkeygen.ArtifactKeyPaths(cfg.Paths.BaseDir)
		}
		var key string
		if _, err := os.Stat(keyPath); keyPath != "" && (err == nil || sc.Password == "") {
			pem, err := sshkeygen.ReadPrivateKey(keyPath)
			if err != nil {
				return nil, fmt.Errorf("artifacts: %w", err)
			}
			key = pem
		}
		if sc.KnownHostsPath == "" {
			log.Warnw("artifacts_sftp_host_key_unchecked", "host", sc.Host)
		}
		store := remote.NewSFTPStore(remote.SSHConfig{
			Host:           sc.Host,
			Port:           sc.Port,
			User:           sc.User,
			Password:       sc.Password,
			PrivateKey:     key,
			KnownHostsPath: sc.KnownHostsPath,
			Timeout:        sc.Timeout,
		}, sc.RemoteDir, log)
		return &RemoteStore{Local: local, Remote: store, Logger: log}, nil
	}
	return nil, fmt.Errorf("artifacts: unknown store %q", cfg.Storage.Artifacts)
}
