package api

import (
	"net/http"

	"github.com/deepresearch/orchestrator/fetch"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// maxBatchURLs bounds an ad hoc crawl request so one caller can't tie up
// every per-host fetch slot.
const maxBatchURLs = 20

// CrawlHandler exposes the content fetcher outside a research session, for
// ad hoc retrieval of a known URL list.
type CrawlHandler struct {
	fetcher *fetch.Fetcher
	logger  *zap.Logger
}

// NewCrawlHandler wires a CrawlHandler around a shared Fetcher.
func NewCrawlHandler(fetcher *fetch.Fetcher, logger *zap.Logger) *CrawlHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CrawlHandler{fetcher: fetcher, logger: logger.With(zap.String("component", "crawl_handler"))}
}

// HandleBatch POST /crawl/batch fetches every URL in the request
// concurrently and returns each outcome, success or failure, in request
// order.
func (h *CrawlHandler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required", h.logger, nil)
		return
	}
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req CrawlBatchRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if len(req.URLs) == 0 {
		WriteError(w, http.StatusBadRequest, "invalid_request", "urls must not be empty", h.logger, nil)
		return
	}
	if len(req.URLs) > maxBatchURLs {
		WriteError(w, http.StatusBadRequest, "invalid_request", "too many urls in one batch", h.logger, nil)
		return
	}

	results := make([]CrawlResult, len(req.URLs))
	g, ctx := errgroup.WithContext(r.Context())
	for i, u := range req.URLs {
		i, u := i, u
		g.Go(func() error {
			res := h.fetcher.Fetch(ctx, u)
			out := CrawlResult{URL: u, Text: res.Text}
			if res.Err != nil {
				out.Error = res.Err.Error()
			}
			results[i] = out
			return nil
		})
	}
	_ = g.Wait()

	WriteSuccess(w, results)
}
