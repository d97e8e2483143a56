package fetch

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ChromeDPDriver is the production Driver: a headless Chrome instance
// configured for stealth (automation flag masked, fixed viewport) that
// navigates and returns rendered HTML.
type ChromeDPDriver struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	cfg         StealthConfig
	logger      *zap.Logger
}

// NewChromeDPDriver allocates a headless Chrome instance with cfg's
// viewport.
func NewChromeDPDriver(cfg StealthConfig, logger *zap.Logger) *ChromeDPDriver {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight),
		// Mask the automation flag so navigator.webdriver reads false.
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &ChromeDPDriver{allocCtx: allocCtx, allocCancel: cancel, cfg: cfg, logger: logger.With(zap.String("component", "chromedp_driver"))}
}

// Navigate loads targetURL under userAgent and returns the rendered HTML.
func (d *ChromeDPDriver) Navigate(ctx context.Context, targetURL, userAgent string) (string, error) {
	tabCtx, cancel := chromedp.NewContext(d.allocCtx)
	defer cancel()

	var outerHTML string
	err := chromedp.Run(tabCtx,
		chromedp.Emulate(chromedp.EmulateDesktop), // realistic viewport/device metrics
		setUserAgent(userAgent),
		chromedp.Navigate(targetURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &outerHTML, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("fetch: navigate %s: %w", targetURL, err)
	}
	return outerHTML, nil
}

// Close releases the allocator and any tabs it spawned.
func (d *ChromeDPDriver) Close() error {
	d.allocCancel()
	return nil
}

func setUserAgent(ua string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		return chromedp.Run(ctx, chromedp.Evaluate(
			fmt.Sprintf(`Object.defineProperty(navigator, 'userAgent', {get: () => %q})`, ua), nil))
	})
}
