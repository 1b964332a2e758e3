package bundle

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// extractIPA unpacks an IPA into a new temporary directory and returns it.
func extractIPA(ipaPath string) (string, error) {
	tempDir, err := os.MkdirTemp("", "go-match-ipa-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp directory: %w", err)
	}

	r, err := zip.OpenReader(ipaPath)
	if err != nil {
		os.RemoveAll(tempDir)
		return "", fmt.Errorf("failed to open IPA: %w", err)
	}
	defer r.Close()

	for _, f := range r.File {
		// Only the app bundle is needed; skip SwiftSupport, Symbols and friends.
		if !strings.HasPrefix(f.Name, "Payload/") {
			continue
		}
		if err := extractZipFile(f, tempDir); err != nil {
			os.RemoveAll(tempDir)
			return "", fmt.Errorf("failed to extract %s: %w", f.Name, err)
		}
	}

	return tempDir, nil
}

func extractZipFile(f *zip.File, destDir string) error {
	// zip slip
	destPath := filepath.Join(destDir, f.Name)
	if !strings.HasPrefix(destPath, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return fmt.Errorf("invalid file path: %s", f.Name)
	}

	if f.FileInfo().IsDir() {
		return os.MkdirAll(destPath, 0755)
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return err
	}

	destFile, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode()|0600)
	if err != nil {
		return err
	}
	defer destFile.Close()

	srcFile, err := f.Open()
	if err != nil {
		return err
	}
	defer srcFile.Close()

	_, err = io.Copy(destFile, srcFile)
	return err
}

// findAppBundle returns the .app directory inside an extracted IPA
func findAppBundle(extractedDir string) (string, error) {
	payloadDir := filepath.Join(extractedDir, "Payload")

	entries, err := os.ReadDir(payloadDir)
	if err != nil {
		return "", fmt.Errorf("failed to read Payload directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() && strings.HasSuffix(entry.Name(), ".app") {
			return filepath.Join(payloadDir, entry.Name()), nil
		}
	}
	return "", fmt.Errorf("no .app bundle found in Payload directory")
}
