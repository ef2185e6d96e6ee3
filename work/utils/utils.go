package utils

import (
	"fmt"
	"net/url"
)

// LogURL returns either the original URL or an obfuscated version for logging,
// depending on the obfuscation flag. Provider URLs embed credentials, so they
// should never reach the logs verbatim in production setups.
func LogURL(obfuscate bool, urlStr string) string {
	if obfuscate {
		return ObfuscateURL(urlStr)
	}
	return urlStr
}

// ObfuscateURL masks the path, query and fragment of a URL while keeping the
// scheme and host visible.
//
// Example:
//
//	Input:  "http://example.com/live/user/pass/123.ts"
//	Output: "http://example.com/***"
func ObfuscateURL(urlStr string) string {
	if urlStr == "" {
		return ""
	}

	u, err := url.Parse(urlStr)
	if err != nil {
		// If parsing fails, just obfuscate the whole thing
		return "***OBFUSCATED***"
	}

	result := u.Scheme + "://" + u.Host
	if u.Path != "" && u.Path != "/" {
		result += "/***"
	}
	if u.RawQuery != "" {
		result += "?***"
	}
	if u.Fragment != "" {
		result += "#***"
	}

	return result
}

// FormatBytes renders a byte count as a human readable string (B, KB, MB, ...).
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
