package sdm

import (
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/raakeshmj/nfcverify/internal/db"
)

const (
	ScanMethodURL   = "url"
	ScanMethodQuery = "query"
)

// Preprocess reduces a full-URL data field to its raw query string. Anything
// else, including a URL that does not parse, is returned unchanged.
func Preprocess(msg db.SumMessage, logger *zap.Logger) db.SumMessage {
	if !strings.HasPrefix(msg.Data, "http") {
		return msg
	}

	u, err := url.Parse(msg.Data)
	if err != nil {
		logger.Warn("invalid URL in SUM message data, using it as is", zap.Error(err))
		return msg
	}

	msg.Data = u.RawQuery
	return msg
}

// ScanMethod tells whether the caller submitted the scanned URL or its query.
func ScanMethod(rawData string) string {
	if strings.HasPrefix(rawData, "http") {
		return ScanMethodURL
	}
	return ScanMethodQuery
}
