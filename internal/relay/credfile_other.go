//go:build !unix

package relay

import (
	"errors"
	"io/fs"
	"os"
)

func checkCredentialFile(path string) error {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return &Error{Kind: KindServiceAccountFileNotFound, Message: "service account file not found: " + path}
	default:
		return &Error{Kind: KindCredentials, Message: "stat service account file", Err: err}
	}
}
