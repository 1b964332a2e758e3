package bundle

import (
	"archive/zip"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"howett.net/plist"

	"github.com/aluedeke/go-match/pkg/storage"
	"github.com/aluedeke/go-match/pkg/storage/storagetest"
)

// buildSignature assembles a SuperBlob holding a single CodeDirectory.
func buildSignature(version uint32, identifier, teamID string) []byte {
	const cdHeader = 88
	strs := append([]byte(identifier), 0)
	identOffset := uint32(cdHeader)
	var teamOffset uint32
	if teamID != "" {
		teamOffset = identOffset + uint32(len(strs))
		strs = append(strs, append([]byte(teamID), 0)...)
	}

	cd := make([]byte, cdHeader, cdHeader+len(strs))
	binary.BigEndian.PutUint32(cd[0:], csMagicCodeDirectory)
	binary.BigEndian.PutUint32(cd[8:], version)
	binary.BigEndian.PutUint32(cd[16:], uint32(cdHeader+len(strs))) // hashOffset
	binary.BigEndian.PutUint32(cd[20:], identOffset)
	cd[36] = 32
	cd[37] = 2
	cd[39] = 12
	binary.BigEndian.PutUint32(cd[48:], teamOffset)
	cd = append(cd, strs...)
	binary.BigEndian.PutUint32(cd[4:], uint32(len(cd)))

	sig := make([]byte, 20, 20+len(cd))
	binary.BigEndian.PutUint32(sig[0:], csMagicEmbeddedSignature)
	binary.BigEndian.PutUint32(sig[8:], 1)
	binary.BigEndian.PutUint32(sig[12:], csSlotCodeDirectory)
	binary.BigEndian.PutUint32(sig[16:], 20)
	sig = append(sig, cd...)
	binary.BigEndian.PutUint32(sig[4:], uint32(len(sig)))
	return sig
}

func TestTeamIDFromSignature(t *testing.T) {
	team, err := teamIDFromSignature(buildSignature(0x20400, "com.example.app", "TEAM123456"))
	if err != nil {
		t.Fatalf("teamIDFromSignature failed: %v", err)
	}
	if team != "TEAM123456" {
		t.Errorf("expected TEAM123456, got %q", team)
	}
}

func TestTeamIDFromSignature_AdHoc(t *testing.T) {
	team, err := teamIDFromSignature(buildSignature(0x20400, "com.example.app", ""))
	if err != nil {
		t.Fatalf("teamIDFromSignature failed: %v", err)
	}
	if team != "" {
		t.Errorf("expected no team for ad-hoc signature, got %q", team)
	}
}

func TestTeamIDFromSignature_OldVersion(t *testing.T) {
	// team offset is ignored before version 0x20200
	team, err := teamIDFromSignature(buildSignature(0x20100, "com.example.app", "TEAM123456"))
	if err != nil {
		t.Fatalf("teamIDFromSignature failed: %v", err)
	}
	if team != "" {
		t.Errorf("expected no team for old CodeDirectory, got %q", team)
	}
}

func TestTeamIDFromSignature_Invalid(t *testing.T) {
	if _, err := teamIDFromSignature([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for short data")
	}

	bad := buildSignature(0x20400, "x", "TEAM123456")
	binary.BigEndian.PutUint32(bad[0:], 0xdeadbeef)
	if _, err := teamIDFromSignature(bad); err == nil {
		t.Error("expected error for bad magic")
	}

	empty := make([]byte, 12)
	binary.BigEndian.PutUint32(empty[0:], csMagicEmbeddedSignature)
	binary.BigEndian.PutUint32(empty[4:], 12)
	if _, err := teamIDFromSignature(empty); !errors.Is(err, ErrNoSignature) {
		t.Errorf("expected ErrNoSignature, got %v", err)
	}
}

func TestSigningTeamID_NotMachO(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script")
	if err := os.WriteFile(path, []byte("#!/bin/sh\necho hi\n"), 0755); err != nil {
		t.Fatal(err)
	}
	if _, err := SigningTeamID(path); err == nil {
		t.Error("expected error for non Mach-O file")
	}
}

func writeInfoPlist(t *testing.T, dir string, info map[string]interface{}) {
	t.Helper()
	data, err := plist.Marshal(info, plist.XMLFormat)
	if err != nil {
		t.Fatalf("failed to marshal Info.plist: %v", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "Info.plist"), data, 0644); err != nil {
		t.Fatal(err)
	}
}

func testProfile(t *testing.T) []byte {
	t.Helper()
	signer := storagetest.NewCertificate(t, storagetest.SharedKey(t), "Apple Development", "TEAM123456", time.Now().AddDate(1, 0, 0))
	return storagetest.ProfileData(t, storagetest.Profile{
		Name:     "Embedded",
		UUID:     "embedded-uuid",
		TeamID:   "TEAM123456",
		BundleID: "com.example.app",
		Expires:  time.Now().AddDate(1, 0, 0),
	}, signer)
}

func TestOpen_AppDirectory(t *testing.T) {
	appPath := filepath.Join(t.TempDir(), "Example.app")
	writeInfoPlist(t, appPath, map[string]interface{}{
		"CFBundleIdentifier": "com.example.app",
		"CFBundleExecutable": "Example",
	})
	if err := os.WriteFile(filepath.Join(appPath, "embedded.mobileprovision"), testProfile(t), 0644); err != nil {
		t.Fatal(err)
	}

	app, err := Open(appPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer app.Close()

	if id, err := app.BundleID(); err != nil || id != "com.example.app" {
		t.Errorf("BundleID() = %q, %v", id, err)
	}
	if exe, err := app.ExecutablePath(); err != nil || exe != filepath.Join(appPath, "Example") {
		t.Errorf("ExecutablePath() = %q, %v", exe, err)
	}
	profile, err := app.EmbeddedProfile()
	if err != nil {
		t.Fatalf("EmbeddedProfile failed: %v", err)
	}
	if profile.UUID != "embedded-uuid" {
		t.Errorf("unexpected embedded UUID %s", profile.UUID)
	}
}

func TestOpen_MacOSLayout(t *testing.T) {
	appPath := filepath.Join(t.TempDir(), "Example.app")
	writeInfoPlist(t, filepath.Join(appPath, "Contents"), map[string]interface{}{
		"CFBundleIdentifier": "com.example.mac",
		"CFBundleExecutable": "Example",
	})

	app, err := Open(appPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if exe, _ := app.ExecutablePath(); exe != filepath.Join(appPath, "Contents", "MacOS", "Example") {
		t.Errorf("unexpected executable path %s", exe)
	}
	if _, err := app.EmbeddedProfile(); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound without embedded profile, got %v", err)
	}
}

func writeIPA(t *testing.T, files map[string][]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "Example.ipa")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, data := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestOpen_IPA(t *testing.T) {
	info, err := plist.Marshal(map[string]interface{}{
		"CFBundleIdentifier": "com.example.app",
		"CFBundleExecutable": "Example",
	}, plist.XMLFormat)
	if err != nil {
		t.Fatal(err)
	}
	ipa := writeIPA(t, map[string][]byte{
		"Payload/Example.app/Info.plist":               info,
		"Payload/Example.app/embedded.mobileprovision": testProfile(t),
		"Symbols/ignored.symbols":                      []byte("x"),
	})

	app, err := Open(ipa)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	tempDir := app.tempDir

	if id, _ := app.BundleID(); id != "com.example.app" {
		t.Errorf("unexpected bundle ID %q", id)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "Symbols")); !os.IsNotExist(err) {
		t.Error("only Payload/ should be extracted")
	}
	if profile, err := app.EmbeddedProfile(); err != nil || profile.UUID != "embedded-uuid" {
		t.Errorf("EmbeddedProfile() = %v, %v", profile, err)
	}

	if err := app.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := os.Stat(tempDir); !os.IsNotExist(err) {
		t.Error("Close should remove the extraction directory")
	}
}

func TestOpen_IPAWithoutApp(t *testing.T) {
	ipa := writeIPA(t, map[string][]byte{"Payload/readme.txt": []byte("x")})
	if _, err := Open(ipa); err == nil {
		t.Error("expected error for IPA without .app")
	}
}

func TestOpen_MissingInfoPlist(t *testing.T) {
	if _, err := Open(t.TempDir()); err == nil {
		t.Error("expected error without Info.plist")
	}
}
