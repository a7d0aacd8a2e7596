package signature

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/ChainSafe/gossamer/lib/crypto/sr25519"
	"github.com/bytedance/sonic"
	"github.com/rs/zerolog/log"
)

var errNoSecretPhrase = errors.New("hotkey file has no secretPhrase")

// hotkeyFile is the subset of a bittensor wallet hotkey JSON we read.
type hotkeyFile struct {
	SecretPhrase string `json:"secretPhrase"`
}

// ExpandHome resolves a leading "~/" against the current user's home directory.
func ExpandHome(path string) (string, error) {
	rest, ok := strings.CutPrefix(path, "~/")
	if !ok {
		return path, nil
	}
	u, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("resolve home for %q: %w", path, err)
	}
	return filepath.Join(u.HomeDir, rest), nil
}

func readHotkeyFile(path string) (*hotkeyFile, error) {
	resolved, err := ExpandHome(path)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("read hotkey %s: %w", resolved, err)
	}
	var hf hotkeyFile
	if err := sonic.Unmarshal(raw, &hf); err != nil {
		return nil, fmt.Errorf("decode hotkey %s: %w", resolved, err)
	}
	if hf.SecretPhrase == "" {
		return nil, fmt.Errorf("%s: %w", resolved, errNoSecretPhrase)
	}
	return &hf, nil
}

// LoadMnemonic returns the secret phrase stored in a wallet hotkey file.
func LoadMnemonic(path string) (string, error) {
	hf, err := readHotkeyFile(path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("hotkey file unusable")
		return "", err
	}
	return hf.SecretPhrase, nil
}

// LoadKeypairFromHotkey opens <bittensorDir>/wallets/<coldkey>/hotkeys/<hotkey>.
// An empty bittensorDir falls back to DefaultBittensorDir.
func LoadKeypairFromHotkey(bittensorDir, coldkeyName, hotkeyName string) (*sr25519.Keypair, error) {
	if bittensorDir == "" {
		bittensorDir = DefaultBittensorDir
	}
	path := filepath.Join(bittensorDir, "wallets", coldkeyName, "hotkeys", hotkeyName)

	mnemonic, err := LoadMnemonic(path)
	if err != nil {
		return nil, err
	}
	kp, err := sr25519.NewKeypairFromMnenomic(mnemonic, "")
	if err != nil {
		return nil, fmt.Errorf("derive keypair for %s/%s: %w", coldkeyName, hotkeyName, err)
	}
	log.Debug().
		Str("coldkey", coldkeyName).
		Str("hotkey", hotkeyName).
		Str("ss58", ToSs58Address(kp)).
		Msg("wallet hotkey loaded")
	return kp, nil
}
