package monitor

import "regexp"

var uriSchemePrefix = regexp.MustCompile(`(?i)^(sip:|h323:|spark:|h320:|webex:|locus:)`)

// NormalizeRemoteURI strips the dialing scheme from a remote URI
func NormalizeRemoteURI(uri string) string {
	return uriSchemePrefix.ReplaceAllString(uri, "")
}
