package client

import (
	"context"
	"fmt"
	"time"

	"github.com/mirrormate/backend/models"
)

const (
	defaultPollInterval = 1 * time.Second
	defaultPollAttempts = 240
)

// Poller watches a session until it reaches a terminal state. The
// backend never pushes; the protocol is cooperative polling with a
// bounded attempt budget so an orphaned session cannot pin a client
// forever.
type Poller struct {
	client   *Client
	interval time.Duration
	attempts int
}

func NewPoller(client *Client) *Poller {
	return &Poller{
		client:   client,
		interval: defaultPollInterval,
		attempts: defaultPollAttempts,
	}
}

// WithBudget overrides the polling cadence and attempt ceiling.
func (p *Poller) WithBudget(interval time.Duration, attempts int) *Poller {
	p.interval = interval
	p.attempts = attempts
	return p
}

// PollUntilTerminal polls until the session completes or errors,
// invoking onProgress (when non-nil) after each observation. On
// completion it fetches and returns the report. On a session error it
// returns the server-side failure detail. Exhausting the budget
// returns PollTimeoutError; the session may still finish later.
func (p *Poller) PollUntilTerminal(ctx context.Context, sessionID string, onProgress func(SessionStatus)) (*Report, error) {
	for attempt := 0; attempt < p.attempts; attempt++ {
		status, err := p.client.Status(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if onProgress != nil {
			onProgress(*status)
		}

		switch status.Status {
		case models.SessionComplete:
			return p.client.Report(ctx, sessionID)
		case models.SessionError:
			detail := status.ErrorMessage
			if detail == "" {
				detail = "analysis failed"
			}
			return nil, fmt.Errorf("session %s failed: %s", sessionID, detail)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.interval):
		}
	}

	return nil, &models.PollTimeoutError{SessionID: sessionID, Attempts: p.attempts}
}
