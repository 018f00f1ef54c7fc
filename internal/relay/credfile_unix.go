//go:build unix

package relay

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// checkCredentialFile verifies path exists and is readable by this process
// without opening it.
func checkCredentialFile(path string) error {
	err := unix.Access(path, unix.R_OK)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, unix.ENOENT), errors.Is(err, unix.ENOTDIR):
		return &Error{Kind: KindServiceAccountFileNotFound, Message: "service account file not found: " + path}
	default:
		return &Error{Kind: KindCredentials, Message: fmt.Sprintf("service account file %s is not readable", path), Err: err}
	}
}
