// Package scrub normalizes raw device configurations before they are
// committed, so that values that change on every poll (uptimes, timestamps,
// certificate blobs, ephemeral UUIDs) do not pollute the commit history.
//
// Scrubbing is pure and deterministic: the same input always yields the
// same output and the same content hash, and scrubbing is idempotent.
package scrub

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"

	"github.com/agncf/netbackup/internal/models"
)

// Removed values are replaced with fixed sentinels so the surrounding
// structure survives. Values with no semantic sentinel use <removed>.
type rule struct {
	re   *regexp.Regexp
	repl string
}

// pkiCertBlock matches a multi-line certificate block: the opener line plus
// every following indented line. The first non-indented line terminates the
// block, so the match can never run past the block terminator.
var pkiCertBlock = rule{
	regexp.MustCompile(`(?m)^crypto pki certificate [^\n]*(?:\n[ \t][^\n]*)*`),
	"crypto pki certificate <removed>",
}

var platformRules = map[models.Platform][]rule{
	models.PlatformIOS: {
		{regexp.MustCompile(`uptime is [^\n]+`), "uptime is <uptime>"},
		{regexp.MustCompile(`Last configuration change at [^\n]+`), "Last configuration change at <timestamp>"},
		{regexp.MustCompile(`ntp clock-period \d+`), "ntp clock-period <removed>"},
		{regexp.MustCompile(`Current configuration : \d+ bytes`), "Current configuration : <removed> bytes"},
		pkiCertBlock,
	},
	models.PlatformNXOS: {
		{regexp.MustCompile(`System uptime:[^\n]+`), "System uptime: <uptime>"},
		{regexp.MustCompile(`Last configuration change at [^\n]+`), "Last configuration change at <timestamp>"},
		{regexp.MustCompile(`serial-number: \S+`), "serial-number: <serial>"},
		{regexp.MustCompile(`module-number: \d+`), "module-number: <removed>"},
		pkiCertBlock,
	},
	models.PlatformEOS: {
		{regexp.MustCompile(`System uptime:[^\n]+`), "System uptime: <uptime>"},
		{regexp.MustCompile(`Last configuration change at [^\n]+`), "Last configuration change at <timestamp>"},
		{regexp.MustCompile(`Management Hostname:[^\n]+`), "Management Hostname: <removed>"},
	},
	models.PlatformDellOS10: {
		{regexp.MustCompile(`Current date/time is[^\n]+`), "Current date/time is <timestamp>"},
		{regexp.MustCompile(`System uptime is [^\n]+`), "System uptime is <uptime>"},
		{regexp.MustCompile(`Last configuration change on [^\n]+`), "Last configuration change on <timestamp>"},
	},
	models.PlatformPANOS: {
		{regexp.MustCompile(`<serial>[^<]*</serial>`), "<serial><removed></serial>"},
		{regexp.MustCompile(`<uptime>[^<]*</uptime>`), "<uptime><removed></uptime>"},
		{regexp.MustCompile(`<time>[^<]*</time>`), "<time><removed></time>"},
		{regexp.MustCompile(`<app-version>[^<]*</app-version>`), "<app-version><version></app-version>"},
		{regexp.MustCompile(`<threat-version>[^<]*</threat-version>`), "<threat-version><version></threat-version>"},
		{regexp.MustCompile(`<antivirus-version>[^<]*</antivirus-version>`), "<antivirus-version><version></antivirus-version>"},
		{regexp.MustCompile(`<wildfire-version>[^<]*</wildfire-version>`), "<wildfire-version><version></wildfire-version>"},
	},
	models.PlatformFortiOS: {
		{regexp.MustCompile(`(uuid\s*=?\s*)"[^"]*"`), `${1}"<uuid>"`},
		{regexp.MustCompile(`timestamp\s*=\s*\d+`), "timestamp = <timestamp>"},
		{regexp.MustCompile(`lastupdate\s*=\s*\d+`), "lastupdate = <timestamp>"},
		{regexp.MustCompile(`build\s*=\s*\d+`), "build = <build>"},
	},
}

// commonRules apply to every platform after the platform-specific pass.
var commonRules = []rule{
	{regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`), "<ip-address>"},
	{regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:\d{2})?`), "<timestamp>"},
}

// Scrub strips dynamic fields from raw config text for platform and returns
// the normalized text together with its lowercase-hex SHA-256 content hash.
func Scrub(raw string, platform models.Platform) (text, hash string) {
	text = raw
	for _, r := range platformRules[platform] {
		text = r.re.ReplaceAllString(text, r.repl)
	}
	for _, r := range commonRules {
		text = r.re.ReplaceAllString(text, r.repl)
	}

	sum := sha256.Sum256([]byte(text))
	return text, hex.EncodeToString(sum[:])
}
