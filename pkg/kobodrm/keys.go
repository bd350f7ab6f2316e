// Package kobodrm derives the candidate Kobo user keys and performs the
// trial decryption that removes KDRM from a KEPUB, turning it into a
// plain EPUB.
//
// Grounded line-for-line on original_source's KoboLibrary._compute_userkeys
// and KoboDecryptor.decrypt_book: the hash-salt list, the
// SHA256(salt||mac) -> hex -> +userid -> SHA256 -> second-half-as-bytes
// derivation, and the two-layer AES-ECB unwrap (wrapped page key, then
// PKCS#7 content) are the same operations, moved from PyCryptodome to
// crypto/aes via pkg/cryptoutil.
package kobodrm

import (
	"encoding/hex"
	"net"
	"strings"

	"github.com/go-bookloader/bookloader/pkg/cryptoutil"
)

// hashKeys is the fixed salt list every candidate key is derived from.
var hashKeys = []string{"88b3a2e13", "XzUhGYdFp", "NoCanLook", "QJhwzAtXL"}

// MACAddresses returns every MAC address found on the machine's network
// interfaces, uppercase colon-separated hex. net.Interfaces() is the one
// portable API that generalizes the Unix "/sbin/ifconfig -a" branch and
// the platform-specific branches the original's enumeration otherwise
// needs, without shelling out.
func MACAddresses() ([]string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var macs []string
	seen := map[string]bool{}
	for _, iface := range ifaces {
		hw := iface.HardwareAddr.String()
		if hw == "" || hw == "00:00:00:00:00:00" {
			continue
		}
		mac := strings.ToUpper(hw)
		if seen[mac] {
			continue
		}
		seen[mac] = true
		macs = append(macs, mac)
	}
	return macs, nil
}

// CandidateKeys returns every candidate 16-byte user key for the given
// MAC addresses and Kobo account user IDs: up to
// len(hashKeys) * len(macs) * len(userIDs) keys.
func CandidateKeys(macs, userIDs []string) [][]byte {
	var keys [][]byte
	for _, salt := range hashKeys {
		for _, mac := range macs {
			deviceID := hex.EncodeToString(cryptoutil.SHA256([]byte(salt + mac)))
			for _, userID := range userIDs {
				full := hex.EncodeToString(cryptoutil.SHA256([]byte(deviceID + userID)))
				key, err := hex.DecodeString(full[32:])
				if err != nil {
					continue
				}
				keys = append(keys, key)
			}
		}
	}
	return keys
}
