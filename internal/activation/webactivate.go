package activation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/esimtools/esimgate/internal/giffgaff"
)

// WebActivator performs the website activation for a reserved SIM code:
// a validation GET that must succeed, then a best-effort replacement
// confirmation POST. The confirmation endpoint is not stable across site
// releases, so its failure never fails the run.
type WebActivator struct {
	endpoints giffgaff.Endpoints
	http      *http.Client

	// now feeds the cache-buster query parameter, swapped in tests.
	now func() time.Time
}

func NewWebActivator(endpoints giffgaff.Endpoints, httpClient *http.Client) *WebActivator {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &WebActivator{endpoints: endpoints, http: httpClient, now: time.Now}
}

// Activate validates activationCode on the carrier website and attempts the
// replacement confirmation. cookie may be empty for codes that validate
// anonymously.
func (w *WebActivator) Activate(ctx context.Context, activationCode, cookie string) error {
	ts := strconv.FormatInt(w.now().UnixMilli(), 10)

	q := url.Values{}
	q.Set("code", activationCode)
	q.Set("next-action", "products")
	q.Set("_", ts)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.endpoints.Web+"/activate/validate-sim-code?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	w.stampHeaders(req, cookie)

	resp, err := w.http.Do(req)
	if err != nil {
		return fmt.Errorf("sim code validation failed: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sim code validation returned HTTP %d", resp.StatusCode)
	}

	w.confirmReplacement(ctx, activationCode, cookie, ts)
	return nil
}

func (w *WebActivator) confirmReplacement(ctx context.Context, activationCode, cookie, ts string) {
	log := zerolog.Ctx(ctx)

	body, _ := json.Marshal(map[string]string{
		"action": "confirm_replacement",
		"code":   activationCode,
	})

	q := url.Values{}
	q.Set("code", activationCode)
	q.Set("_", ts)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoints.Web+"/activate/confirm-replacement?"+q.Encode(), bytes.NewReader(body))
	if err != nil {
		return
	}
	w.stampHeaders(req, cookie)
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.http.Do(req)
	if err != nil {
		log.Warn().Err(err).Msg("replacement confirmation failed, relying on validation result")
		return
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warn().Int("status", resp.StatusCode).Msg("replacement confirmation rejected, relying on validation result")
	}
}

func (w *WebActivator) stampHeaders(req *http.Request, cookie string) {
	req.Header.Set("Accept", "application/json, text/javascript, */*; q=0.01")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("User-Agent", giffgaff.BrowserUserAgent)
	req.Header.Set("Referer", w.endpoints.Web+"/activate")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}
}
