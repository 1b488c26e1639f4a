package driveops

import (
	"encoding/base64"
	"fmt"
	"io"
	"os"

	"github.com/tonimelisma/onedrive-uploader/pkg/quickxorhash"
)

// ComputeQuickXorHash returns the base64 QuickXorHash of a file, the form
// OneDrive reports in file.hashes.quickXorHash.
func ComputeQuickXorHash(fsPath string) (string, error) {
	f, err := os.Open(fsPath)
	if err != nil {
		return "", fmt.Errorf("opening %s for hashing: %w", fsPath, err)
	}
	defer f.Close()

	h := quickxorhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", fsPath, err)
	}

	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

// VerifyQuickXorHash hashes fsPath and reports whether it equals remote.
// The local digest is returned either way for logging.
func VerifyQuickXorHash(fsPath, remote string) (bool, string, error) {
	local, err := ComputeQuickXorHash(fsPath)
	if err != nil {
		return false, "", err
	}

	return local == remote, local, nil
}
