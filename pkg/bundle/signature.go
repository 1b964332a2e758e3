package bundle

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/blacktop/go-macho"
)

// ErrNoSignature is returned for binaries without an embedded code signature.
var ErrNoSignature = errors.New("no code signature found")

const (
	fatMagic = 0xcafebabe

	csMagicEmbeddedSignature = 0xfade0cc0
	csMagicCodeDirectory     = 0xfade0c02

	csSlotCodeDirectory             = 0
	csSlotAlternateCodeDirectories  = 0x1000
	csSlotAlternateCodeDirectoryMax = 5

	// first CodeDirectory version carrying a team ID
	cdVersionSupportsTeamID = 0x20200
)

// SigningTeamID reads the team identifier from the code signature of a
// Mach-O binary. Fat binaries are read from their first slice. Ad-hoc
// signatures have no team and return an empty string.
func SigningTeamID(binaryPath string) (string, error) {
	data, err := os.ReadFile(binaryPath)
	if err != nil {
		return "", fmt.Errorf("failed to read binary: %w", err)
	}

	slice, err := firstSlice(data)
	if err != nil {
		return "", err
	}

	m, err := macho.NewFile(bytes.NewReader(slice))
	if err != nil {
		return "", fmt.Errorf("failed to parse Mach-O: %w", err)
	}
	defer m.Close()

	for _, load := range m.Loads {
		cs, ok := load.(*macho.CodeSignature)
		if !ok {
			continue
		}
		start, end := uint64(cs.Offset), uint64(cs.Offset)+uint64(cs.Size)
		if end > uint64(len(slice)) {
			return "", fmt.Errorf("code signature extends beyond file")
		}
		return teamIDFromSignature(slice[start:end])
	}
	return "", ErrNoSignature
}

func firstSlice(data []byte) ([]byte, error) {
	if len(data) < 4 || binary.BigEndian.Uint32(data) != fatMagic {
		return data, nil
	}

	fat, err := macho.NewFatFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse fat binary: %w", err)
	}
	defer fat.Close()

	if len(fat.Arches) == 0 {
		return nil, fmt.Errorf("fat binary has no architectures")
	}
	arch := fat.Arches[0]
	end := uint64(arch.Offset) + uint64(arch.Size)
	if end > uint64(len(data)) {
		return nil, fmt.Errorf("fat slice extends beyond file")
	}
	return data[arch.Offset:end], nil
}

// teamIDFromSignature walks the embedded signature SuperBlob and returns the
// team ID of the first CodeDirectory that has one.
func teamIDFromSignature(sig []byte) (string, error) {
	if len(sig) < 12 {
		return "", fmt.Errorf("signature data too short")
	}
	if magic := binary.BigEndian.Uint32(sig[0:4]); magic != csMagicEmbeddedSignature {
		return "", fmt.Errorf("invalid SuperBlob magic: 0x%x", magic)
	}

	count := binary.BigEndian.Uint32(sig[8:12])
	if uint64(len(sig)) < 12+uint64(count)*8 {
		return "", fmt.Errorf("signature data too short for blob index")
	}

	foundDirectory := false
	for i := uint32(0); i < count; i++ {
		entry := 12 + i*8
		slot := binary.BigEndian.Uint32(sig[entry:])
		offset := binary.BigEndian.Uint32(sig[entry+4:])

		isDirectory := slot == csSlotCodeDirectory ||
			(slot >= csSlotAlternateCodeDirectories && slot < csSlotAlternateCodeDirectories+csSlotAlternateCodeDirectoryMax)
		if !isDirectory || uint64(offset)+8 > uint64(len(sig)) {
			continue
		}
		if binary.BigEndian.Uint32(sig[offset:]) != csMagicCodeDirectory {
			continue
		}
		length := binary.BigEndian.Uint32(sig[offset+4:])
		if uint64(offset)+uint64(length) > uint64(len(sig)) {
			continue
		}

		foundDirectory = true
		if team := codeDirectoryTeamID(sig[offset : offset+length]); team != "" {
			return team, nil
		}
	}

	if !foundDirectory {
		return "", ErrNoSignature
	}
	return "", nil
}

func codeDirectoryTeamID(cd []byte) string {
	if len(cd) < 52 {
		return ""
	}
	if binary.BigEndian.Uint32(cd[8:12]) < cdVersionSupportsTeamID {
		return ""
	}
	teamOffset := binary.BigEndian.Uint32(cd[48:52])
	if teamOffset == 0 || teamOffset >= uint32(len(cd)) {
		return ""
	}
	end := bytes.IndexByte(cd[teamOffset:], 0)
	if end < 0 {
		return ""
	}
	return string(cd[teamOffset : teamOffset+uint32(end)])
}
