package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/SMSLab-dev/mtconnect-agent/internal/infrastructure/config"
	"github.com/SMSLab-dev/mtconnect-agent/internal/pipeline"
)

const (
	// upstreamPollInterval paces the sample polling loop.
	upstreamPollInterval = time.Second

	// upstreamRetryLimit bounds consecutive transient failures before the
	// source declares itself failed.
	upstreamRetryLimit = 10

	// upstreamSampleCount is the observation count requested per poll.
	upstreamSampleCount = 1000
)

// Upstream relays another MTConnect agent: it probes the device model, then
// polls samples, feeding every document through the XML transform pipeline.
//
// The transform's feedback steers the loop: Next is the sequence to request,
// an instance-id change forces a re-probe from sequence 0, and a stream
// error restarts the sample stream.
type Upstream struct {
	cfg      config.AdapterConfig
	pipe     *pipeline.Pipeline
	feedback *pipeline.Feedback
	logger   Logger
	client   *http.Client
	failed   func(identity string)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewUpstream creates an upstream-agent source. The feedback record must be
// the one shared with the pipeline's XML transform. failed is invoked when
// the source exhausts its retries.
func NewUpstream(cfg config.AdapterConfig, pipe *pipeline.Pipeline, feedback *pipeline.Feedback, failed func(identity string), logger Logger) *Upstream {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Upstream{
		cfg:      cfg,
		pipe:     pipe,
		feedback: feedback,
		logger:   logger,
		client:   &http.Client{Timeout: 30 * time.Second},
		failed:   failed,
	}
}

// Identity implements Source.
func (u *Upstream) Identity() string { return u.cfg.Url }

// IsLoopback implements Source.
func (u *Upstream) IsLoopback() bool { return false }

// Start launches the probe/poll loop.
func (u *Upstream) Start(ctx context.Context) error {
	ctx, u.cancel = context.WithCancel(ctx)
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		u.run(ctx)
	}()
	return nil
}

// Stop terminates the loop.
func (u *Upstream) Stop() {
	if u.cancel != nil {
		u.cancel()
	}
	u.wg.Wait()
}

// run drives the probe, then the polling stream, restarting per the error
// taxonomy. The upstream's assets document is not requested.
func (u *Upstream) run(ctx context.Context) {
	retries := 0
	for ctx.Err() == nil {
		u.status(pipeline.StatusConnecting)

		err := u.probe(ctx)
		if err == nil {
			u.status(pipeline.StatusConnected)
			retries = 0
			err = u.poll(ctx)
			u.status(pipeline.StatusDisconnected)
		}

		switch {
		case ctx.Err() != nil:
			return

		case errors.Is(err, pipeline.ErrInstanceIDChanged):
			// Feedback was reset by the transform: re-probe from scratch.
			u.logger.Warn("upstream restarted, re-probing", "url", u.cfg.Url)

		case errors.Is(err, pipeline.ErrRestartStream):
			u.logger.Warn("upstream stream error, restarting stream", "url", u.cfg.Url)

		case errors.Is(err, pipeline.ErrRetryRequest), errors.Is(err, pipeline.ErrStreamClosed):
			retries++
			if retries >= upstreamRetryLimit {
				u.logger.Error("upstream retries exhausted", "url", u.cfg.Url)
				if u.failed != nil {
					u.failed(u.Identity())
				}
				return
			}

		case err != nil:
			u.logger.Error("upstream failed", "url", u.cfg.Url, "error", err)
			if u.failed != nil {
				u.failed(u.Identity())
			}
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(u.cfg.ReconnectDelay()):
		}
	}
}

// probe fetches the upstream device model and runs it through the pipeline.
func (u *Upstream) probe(ctx context.Context) error {
	doc, err := u.fetch(ctx, u.cfg.Url+"/probe")
	if err != nil {
		return err
	}
	return u.pipe.Run(&pipeline.Data{
		Source: u.Identity(),
		Device: u.cfg.Device,
		Value:  doc,
	})
}

// poll requests samples from feedback.Next until an error interrupts the
// stream.
func (u *Upstream) poll(ctx context.Context) error {
	for ctx.Err() == nil {
		url := fmt.Sprintf("%s/sample?from=%d&count=%d", u.cfg.Url, u.feedback.Next, upstreamSampleCount)
		if u.feedback.Next == 0 {
			url = fmt.Sprintf("%s/sample?count=%d", u.cfg.Url, upstreamSampleCount)
		}

		doc, err := u.fetch(ctx, url)
		if err != nil {
			return err
		}
		if err := u.pipe.Run(&pipeline.Data{
			Source: u.Identity(),
			Device: u.cfg.Device,
			Value:  doc,
		}); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(upstreamPollInterval):
		}
	}
	return ctx.Err()
}

// fetch GETs a document body.
func (u *Upstream) fetch(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", pipeline.ErrRetryRequest, err)
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", pipeline.ErrRetryRequest, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", pipeline.ErrStreamClosed, err)
	}
	return string(body), nil
}

// status reports a connection state change through the pipeline.
func (u *Upstream) status(state string) {
	var devices []string
	if u.cfg.Device != "" {
		devices = []string{u.cfg.Device}
	}
	if err := u.pipe.Run(&pipeline.ConnectionStatus{
		Status:        state,
		Source:        u.Identity(),
		Devices:       devices,
		AutoAvailable: u.cfg.AutoAvailable,
	}); err != nil {
		u.logger.Warn("delivering connection status", "state", state, "error", err)
	}
}
