// Package anonymizer replaces personal data in prompts and predictions
// before they leave the gateway or reach telemetry.
package anonymizer

import (
	"fmt"
	"hash/fnv"
	"net"
	"regexp"
	"strings"
)

// ReplacementEmail is substituted for every email address.
const ReplacementEmail = "noreply@example.com"

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@([A-Za-z0-9\-]+\.)+[A-Za-z]{2,}`)
	ipv4Pattern  = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	userinfo     = regexp.MustCompile(`([A-Za-z][A-Za-z0-9+.\-]*://[^:/\s@]+:)([^@/\s]+)(@)`)

	// credentialKey matches "key: value" and "key=value" where key names a secret.
	credentialKey = regexp.MustCompile(`(?im)^([ \t]*-?[ \t]*)([A-Za-z0-9_]*(?:password|passwd|secret|token|api_key|apikey|private_key)[A-Za-z0-9_]*)([ \t]*[:=][ \t]*)(\S.*?)[ \t]*$`)

	documentation = []*net.IPNet{
		mustCIDR("192.0.2.0/24"),
		mustCIDR("198.51.100.0/24"),
		mustCIDR("203.0.113.0/24"),
	}
)

func mustCIDR(s string) *net.IPNet {
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return n
}

// Anonymizer implements ports.Anonymizer with regular expressions.
type Anonymizer struct{}

// New returns an Anonymizer.
func New() *Anonymizer { return &Anonymizer{} }

// Anonymize replaces emails, routable IPv4 addresses, URL passwords and the
// values of credential-like keys. The result is deterministic and applying
// it twice changes nothing more.
func (Anonymizer) Anonymize(text string) string {
	if text == "" {
		return text
	}
	text = credentialKey.ReplaceAllStringFunc(text, redactCredential)
	text = userinfo.ReplaceAllString(text, "${1}{{ password }}${3}")
	text = emailPattern.ReplaceAllStringFunc(text, func(m string) string {
		if strings.HasSuffix(strings.ToLower(m), "@example.com") {
			return m
		}
		return ReplacementEmail
	})
	text = ipv4Pattern.ReplaceAllStringFunc(text, replaceIP)
	return text
}

func redactCredential(line string) string {
	m := credentialKey.FindStringSubmatch(line)
	value := strings.Trim(m[4], `"'`)
	if strings.HasPrefix(value, "{{") || value == "" {
		return line
	}
	key := strings.ToLower(m[2])
	return m[1] + m[2] + m[3] + fmt.Sprintf(`"{{ _%s_ }}"`, key)
}

func replaceIP(s string) string {
	ip := net.ParseIP(s).To4()
	if ip == nil || ip.IsLoopback() || ip.IsUnspecified() {
		return s
	}
	for _, n := range documentation {
		if n.Contains(ip) {
			return s
		}
	}
	h := fnv.New32a()
	h.Write(ip)
	return fmt.Sprintf("192.0.2.%d", h.Sum32()%254+1)
}
