package syncer

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/sftp"
)

// Transfer writes plan entries onto a destination tree. Implementations
// exist for SFTP targets and for the local filesystem.
type Transfer interface {
	MkdirAll(path string) error
	Upload(localPath, remotePath string, mode fs.FileMode, modTime time.Time) error
}

// SFTPTransfer uploads over an established SFTP session.
type SFTPTransfer struct {
	Client *sftp.Client
}

func (t SFTPTransfer) MkdirAll(path string) error {
	return t.Client.MkdirAll(path)
}

func (t SFTPTransfer) Upload(localPath, remotePath string, mode fs.FileMode, modTime time.Time) error {
	in, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := t.Client.Create(remotePath)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	if err := t.Client.Chmod(remotePath, mode); err != nil {
		return err
	}
	return t.Client.Chtimes(remotePath, time.Now(), modTime)
}

// LocalTransfer copies onto the local filesystem, for local deploy
// targets and tests.
type LocalTransfer struct{}

func (LocalTransfer) MkdirAll(path string) error {
	return os.MkdirAll(path, 0o755)
}

func (LocalTransfer) Upload(localPath, remotePath string, mode fs.FileMode, modTime time.Time) error {
	if err := os.MkdirAll(filepath.Dir(remotePath), 0o755); err != nil {
		return err
	}

	in, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(remotePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return os.Chtimes(remotePath, time.Now(), modTime)
}

// UploadFile stats and uploads a single local file, used for the
// dedicated secret transfer.
func UploadFile(t Transfer, localPath, remotePath string) error {
	info, err := os.Stat(localPath)
	if err != nil {
		return err
	}
	return t.Upload(localPath, remotePath, info.Mode().Perm(), info.ModTime())
}
