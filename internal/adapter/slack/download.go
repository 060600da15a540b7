package slack

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"relaybot/internal/domain"
)

// fileHostSuffixes are the hosts Slack serves url_private downloads from.
// The bot token is sent with every download, so nothing else is allowed.
var fileHostSuffixes = []string{".slack.com", ".slack-edge.com", ".slack-files.com"}

var privateRanges = func() []*net.IPNet {
	var out []*net.IPNet
	for _, cidr := range []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		"169.254.0.0/16",
		"0.0.0.0/8",
		"::1/128",
		"fc00::/7",
		"fe80::/10",
	} {
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR %q: %v", cidr, err))
		}
		out = append(out, ipnet)
	}
	return out
}()

func isPrivateIP(ip net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	for _, ipnet := range privateRanges {
		if ipnet.Contains(ip) {
			return true
		}
	}
	return false
}

// checkDownloadURL rejects attachment URLs that would leak the bot token.
// trustedHost (the configured API host, if any) is always allowed.
func checkDownloadURL(raw, trustedHost string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return domain.NewDomainError("Client.Download", domain.ErrInvalidInput, fmt.Sprintf("invalid URL: %v", err))
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return domain.NewDomainError("Client.Download", domain.ErrInvalidInput, "empty hostname")
	}
	if trustedHost != "" && u.Host == trustedHost {
		return nil
	}

	if u.Scheme != "https" {
		return domain.NewDomainError("Client.Download", domain.ErrInvalidInput, fmt.Sprintf("scheme %q not allowed", u.Scheme))
	}
	if ip := net.ParseIP(host); ip != nil {
		if isPrivateIP(ip) {
			return domain.NewDomainError("Client.Download", domain.ErrInvalidInput, fmt.Sprintf("IP %s is private/reserved", ip))
		}
		return domain.NewDomainError("Client.Download", domain.ErrInvalidInput, "IP hosts not allowed")
	}
	for _, suffix := range fileHostSuffixes {
		if host == suffix[1:] || strings.HasSuffix(host, suffix) {
			return nil
		}
	}
	return domain.NewDomainError("Client.Download", domain.ErrInvalidInput, fmt.Sprintf("host %s is not a Slack file host", host))
}
