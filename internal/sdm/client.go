package sdm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/raakeshmj/nfcverify/internal/apperr"
	"github.com/raakeshmj/nfcverify/internal/circuitbreaker"
	"github.com/raakeshmj/nfcverify/internal/db"
	"github.com/raakeshmj/nfcverify/internal/logging"
)

const (
	breakerName  = "sdm-backend"
	maxReplySize = 1 << 20
)

var errBackendStatus = errors.New("sdm backend returned an error status")

// Client performs the single outbound verification call per scan.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	logger     *zap.Logger
}

// NewClient builds a backend client. breaker may be nil.
func NewClient(baseURL string, timeout time.Duration, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    breaker,
		logger:     logger.With(logging.Component("sdm")),
	}
}

// Verify asks the backend to check a normalized SUM message. Unreachable or
// failing backends yield an Unavailable VerificationError, rejections and
// unusable replies a plain VerificationError.
//
// The outbound call is detached from ctx cancellation: a caller that hangs up
// does not abort an in-flight check, and only the client timeout bounds it.
func (c *Client) Verify(ctx context.Context, msg db.SumMessage) (*Reply, error) {
	params := ParseParameters(msg.Data)
	tagType := DetermineTagType(params)
	endpoint := c.endpoint(params, tagType, msg.Signature)
	callCtx := context.WithoutCancel(ctx)

	var reply *Reply
	call := func() error {
		var err error
		reply, err = c.do(callCtx, endpoint, tagType)
		return err
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(callCtx, breakerName, call, isBackendFailure)
	} else {
		err = call()
	}

	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		c.logger.Warn("sdm backend circuit is open, skipping call")
		return nil, apperr.ServiceUnavailable(err)
	}
	if err != nil {
		return nil, err
	}
	return reply, nil
}

func (c *Client) endpoint(params Parameters, tagType TagType, signature string) string {
	q := url.Values{}
	q.Set("picc_data", params["picc"])
	if enc := params["enc"]; enc != "" {
		q.Set("enc", enc)
	}
	cmac := params["cmac"]
	if cmac == "" {
		cmac = signature
	}
	if cmac != "" {
		q.Set("cmac", cmac)
	}
	return fmt.Sprintf("%s/%s?%s", c.baseURL, tagType, q.Encode())
}

func (c *Client) do(ctx context.Context, endpoint string, tagType TagType) (*Reply, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, apperr.VerificationFailed("NFC tag could not be verified", err)
	}
	req.Header.Set("Accept", "application/json, text/plain;q=0.9, */*;q=0.5")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("sdm backend unreachable", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return nil, apperr.ServiceUnavailable(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplySize))
	if err != nil {
		return nil, apperr.ServiceUnavailable(err)
	}

	c.logger.Debug("sdm backend replied",
		logging.Status(resp.StatusCode),
		zap.String("tag_type", string(tagType)),
		zap.Int("bytes", len(body)),
		zap.Duration("elapsed", time.Since(start)))

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		c.logger.Error("sdm backend failed", logging.Status(resp.StatusCode))
		return nil, apperr.ServiceUnavailable(fmt.Errorf("%w: %d", errBackendStatus, resp.StatusCode))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		c.logger.Warn("sdm backend rejected tag", logging.Status(resp.StatusCode))
		return nil, apperr.VerificationFailed("NFC tag could not be verified", fmt.Errorf("%w: %d", errBackendStatus, resp.StatusCode))
	}

	reply := ParseReply(body, tagType)
	if !reply.Success {
		return nil, apperr.VerificationFailed("Tag verification failed", nil)
	}
	return &reply, nil
}

// isBackendFailure reports whether err should count against the breaker.
// Cancellation is the caller's doing, not the backend's.
func isBackendFailure(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var ve *apperr.VerificationError
	return errors.As(err, &ve) && ve.Unavailable
}
