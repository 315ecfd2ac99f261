package etoll

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"fleetwatch/tracking-server/internal/config"
)

// OutcomeKind classifies one submission attempt.
type OutcomeKind int

const (
	// OutcomeSuccess means the operator accepted the frame (HTTP 200).
	OutcomeSuccess OutcomeKind = iota
	// OutcomeFrameInvalid means the operator rejected the frame schema
	// (HTTP 415); the batch will never be accepted as-is.
	OutcomeFrameInvalid
	// OutcomeServerUnavailable covers every other HTTP status and all
	// transport, TLS, and timeout failures; rows stay pending for retry.
	OutcomeServerUnavailable
)

// Outcome is the tagged result of a submission attempt.
type Outcome struct {
	Kind    OutcomeKind
	Message string
}

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeFrameInvalid:
		return "frameInvalid"
	default:
		return "serverUnavailable"
	}
}

const responseBodyLimit = 4096

// Submitter posts JSON frames to the toll operator endpoint over
// mutually-authenticated TLS.
type Submitter struct {
	client *http.Client
	url    string
	logger *slog.Logger
}

// NewSubmitter loads the TLS material and builds the HTTP client. It
// fails fast when the keystores are missing or unreadable.
func NewSubmitter(cfg config.Config, logger *slog.Logger) (*Submitter, error) {
	tlsConfig, err := loadTLSConfig(
		cfg.EtollTrustStorePath, cfg.EtollTrustStorePassword,
		cfg.EtollClientStorePath, cfg.EtollClientStorePassword,
	)
	if err != nil {
		return nil, fmt.Errorf("load tls material: %w", err)
	}

	return &Submitter{
		client: &http.Client{
			Timeout:   2 * time.Minute,
			Transport: &http.Transport{TLSClientConfig: tlsConfig},
		},
		url:    cfg.EtollSubmissionURL,
		logger: logger,
	}, nil
}

// Submit posts one frame and classifies the response. It never returns
// an error: every failure mode maps onto an Outcome variant.
func (s *Submitter) Submit(ctx context.Context, frame []byte) Outcome {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(frame))
	if err != nil {
		return Outcome{Kind: OutcomeServerUnavailable, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return Outcome{Kind: OutcomeServerUnavailable, Message: err.Error()}
	}
	defer resp.Body.Close()

	content, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
	s.logger.Info("submission response", "status", resp.StatusCode, "body", string(content))

	switch resp.StatusCode {
	case http.StatusOK:
		return Outcome{Kind: OutcomeSuccess}
	case http.StatusUnsupportedMediaType:
		return Outcome{
			Kind:    OutcomeFrameInvalid,
			Message: fmt.Sprintf("%d %s", resp.StatusCode, content),
		}
	default:
		return Outcome{
			Kind:    OutcomeServerUnavailable,
			Message: fmt.Sprintf("%s %s", resp.Status, content),
		}
	}
}
