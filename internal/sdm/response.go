package sdm

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/raakeshmj/nfcverify/internal/db"
)

// Reply is the decoded answer of the SDM backend.
type Reply struct {
	Success     bool
	TagID       string
	RedirectURL string
	Metadata    db.VerificationMetadata
}

type jsonReply struct {
	Success     bool                     `json:"success"`
	TagID       string                   `json:"tagId"`
	URL         string                   `json:"url"`
	RedirectURL string                   `json:"redirectUrl"`
	Metadata    *db.VerificationMetadata `json:"metadata"`
}

var (
	encryptionRe = regexp.MustCompile("(?i)Encryption mode:\\s*([A-Z]+)")
	uidRe        = regexp.MustCompile("(?i)NFC TAG UID:\\s*`([0-9a-f]+)`")
	counterRe    = regexp.MustCompile("(?i)Read counter:\\s*`(\\d+)`")
	fileHexRe    = regexp.MustCompile("(?i)File data \\(hex\\):\\s*`([0-9a-f-]+)`")
	fileTextRe   = regexp.MustCompile("(?i)File data \\(UTF-8\\):\\s*`([^`]+)`")
)

// ParseReply decodes a backend body. JSON objects are taken at face value;
// anything else is treated as the backend's human-readable report and
// scraped for the fields it is known to print.
func ParseReply(body []byte, tagType TagType) Reply {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return Reply{}
	}

	if trimmed[0] == '{' {
		var jr jsonReply
		if err := json.Unmarshal(trimmed, &jr); err == nil {
			return fromJSON(jr)
		}
	}
	return parseText(string(trimmed), tagType)
}

func fromJSON(jr jsonReply) Reply {
	reply := Reply{Success: jr.Success, TagID: jr.TagID}
	if jr.Metadata != nil {
		reply.Metadata = *jr.Metadata
	}
	switch {
	case jr.URL != "":
		reply.RedirectURL = jr.URL
	case jr.RedirectURL != "":
		reply.RedirectURL = jr.RedirectURL
	default:
		reply.RedirectURL = reply.Metadata.RedirectURL
	}
	return reply
}

func parseText(text string, tagType TagType) Reply {
	// A bare URL is the backend telling us where a verified tag points.
	if strings.HasPrefix(text, "http") && !strings.ContainsAny(text, " \n\t") {
		return Reply{Success: true, RedirectURL: text, Metadata: db.VerificationMetadata{RedirectURL: text}}
	}

	var md db.VerificationMetadata
	found := false

	if m := encryptionRe.FindStringSubmatch(text); m != nil {
		md.EncryptionMode = m[1]
		found = true
	}
	if m := uidRe.FindStringSubmatch(text); m != nil {
		md.UID = m[1]
		found = true
	}
	if m := counterRe.FindStringSubmatch(text); m != nil {
		if n, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			md.ReadCounter = &n
			found = true
		}
	}
	if m := fileHexRe.FindStringSubmatch(text); m != nil {
		md.FileDataHex = m[1]
	}
	if m := fileTextRe.FindStringSubmatch(text); m != nil {
		md.FileDataText = m[1]
	}

	if tagType == TagTypeTamper {
		md.TamperStatus = db.TamperStatusIntact
		if strings.Contains(text, "tamper") || strings.Contains(text, "TAMPER") {
			md.TamperStatus = db.TamperStatusTampered
		}
	}

	return Reply{Success: found, Metadata: md}
}
