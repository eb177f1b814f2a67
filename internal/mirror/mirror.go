package mirror

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"
	"go.uber.org/zap"

	"github.com/CanopyNet/canopy-core/internal/crypto"
	"github.com/CanopyNet/canopy-core/internal/logger"
)

const (
	MANIFEST_DIR = "manifests"
	CLONE_DEPTH  = 1
	FILE_PERMS   = 0644
	BOT_NAME     = "Canopy Bot"
	BOT_EMAIL    = "bots@canopynet.dev"
	REMOTE_NAME  = "origin"
)

// Mirror publishes encrypted session manifests to a git repository so
// an off-site copy of the transfer history exists.
type Mirror struct {
	auth          *ssh.PublicKeys
	repoOwner     string
	repoName      string
	repoURL       string
	encryptionKey []byte
	logger        *zap.Logger
	workDir       string
}

func New(sshKeyPath, repoOwner, repoName string, encryptionKey []byte) (*Mirror, error) {
	if _, err := os.Stat(sshKeyPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("SSH key file not found: %s", sshKeyPath)
	}

	auth, err := ssh.NewPublicKeysFromFile("git", sshKeyPath, "")
	if err != nil {
		return nil, fmt.Errorf("failed to load SSH key: %w", err)
	}

	return &Mirror{
		auth:          auth,
		repoOwner:     repoOwner,
		repoName:      repoName,
		repoURL:       fmt.Sprintf("git@github.com:%s/%s.git", repoOwner, repoName),
		encryptionKey: encryptionKey,
		logger:        logger.Get(),
		workDir:       fmt.Sprintf("/tmp/canopy-mirror-%s-%s", repoOwner, repoName),
	}, nil
}

// HealthCheck tests SSH connectivity to the mirror repository.
func (m *Mirror) HealthCheck() error {
	tempDir := m.workDir + "-healthcheck"
	defer os.RemoveAll(tempDir)

	_, err := git.PlainClone(tempDir, false, &git.CloneOptions{
		URL:   m.repoURL,
		Auth:  m.auth,
		Depth: CLONE_DEPTH,
	})
	return err
}

// PushManifest encrypts the manifest JSON and commits it to the mirror
// as manifests/<session>.json.enc.
func (m *Mirror) PushManifest(sessionID string, manifest []byte) error {
	os.RemoveAll(m.workDir)
	defer os.RemoveAll(m.workDir)

	repo, err := git.PlainClone(m.workDir, false, &git.CloneOptions{
		URL:   m.repoURL,
		Auth:  m.auth,
		Depth: CLONE_DEPTH,
	})
	if err != nil {
		return fmt.Errorf("failed to clone repository: %w", err)
	}

	relPath := filepath.Join(MANIFEST_DIR, sessionID+".json.enc")
	if err := m.writeEncryptedManifest(filepath.Join(m.workDir, relPath), manifest); err != nil {
		return err
	}

	if err := m.commitAndPush(repo, relPath, sessionID); err != nil {
		return err
	}

	m.logger.Info("Mirrored session manifest",
		zap.String("session_id", sessionID),
		zap.String("repo", fmt.Sprintf("%s/%s", m.repoOwner, m.repoName)))

	return nil
}

func (m *Mirror) writeEncryptedManifest(path string, manifest []byte) error {
	encrypted, err := crypto.Encrypt(manifest, m.encryptionKey)
	if err != nil {
		return fmt.Errorf("encrypt manifest: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create manifest dir: %w", err)
	}

	return os.WriteFile(path, []byte(base64.StdEncoding.EncodeToString(encrypted)), FILE_PERMS)
}

func (m *Mirror) commitAndPush(repo *git.Repository, relPath, sessionID string) error {
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}

	if _, err := worktree.Add(relPath); err != nil {
		return fmt.Errorf("failed to add file: %w", err)
	}

	_, err = worktree.Commit(fmt.Sprintf("🤖 Mirror upload manifest - Session %s", sessionID), &git.CommitOptions{
		Author: &object.Signature{
			Name:  BOT_NAME,
			Email: BOT_EMAIL,
			When:  time.Now(),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}

	if err := repo.Push(&git.PushOptions{
		RemoteName: REMOTE_NAME,
		Auth:       m.auth,
	}); err != nil {
		return fmt.Errorf("failed to push: %w", err)
	}
	return nil
}
