// Package sdm understands NTAG 424 DNA "Secure Dynamic Messaging" payloads:
// the query parameters a tag appends to its URL, how a tag is classified and
// named, and how the external SDM backend is asked to verify a scan.
package sdm

import (
	"net/url"
	"strings"
)

// Parameters are the decoded key/value pairs of an SDM query string.
type Parameters map[string]string

type TagType string

const (
	TagTypeStandard TagType = "tag"
	// TagTypeTamper is the NTAG 424 DNA TagTamper variant.
	TagTypeTamper TagType = "tagtt"
)

const tagIDLength = 8

// ParseParameters extracts key/value pairs from a full URL or a bare query
// string. Segments without "=" are dropped and the last duplicate wins.
// Values are percent-decoded; a value that fails to decode is kept verbatim.
func ParseParameters(input string) Parameters {
	params := Parameters{}

	query := input
	if _, after, found := strings.Cut(input, "?"); found {
		query = after
	}
	if strings.TrimSpace(query) == "" {
		return params
	}

	for _, segment := range strings.Split(query, "&") {
		key, value, ok := strings.Cut(segment, "=")
		if !ok {
			continue
		}
		if decoded, err := url.PathUnescape(value); err == nil {
			value = decoded
		}
		params[key] = value
	}
	return params
}

// DetermineTagType reports TagTypeTamper when the scan carries a TagTamper
// marker (type=tt or a ts status), TagTypeStandard otherwise.
func DetermineTagType(params Parameters) TagType {
	if params["type"] == "tt" {
		return TagTypeTamper
	}
	if _, ok := params["ts"]; ok {
		return TagTypeTamper
	}
	return TagTypeStandard
}

// ExtractTagID derives a stable tag identifier from the picc parameter.
func ExtractTagID(params Parameters, tagType TagType) (string, bool) {
	picc := params["picc"]
	if picc == "" {
		return "", false
	}

	part := picc
	if len(part) > tagIDLength {
		part = part[:tagIDLength]
	}
	part = strings.ToLower(part)

	if tagType == TagTypeTamper {
		return "tamper-" + part, true
	}
	return "ntag424-" + part, true
}
