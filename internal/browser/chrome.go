package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"pricecollector/internal/fetcher"
	"pricecollector/internal/logger"
)

// ChromeConfig configures a ChromeLauncher
type ChromeConfig struct {
	// ExecPath is the Chrome binary. Empty searches the usual locations.
	ExecPath  string
	Headless  bool
	UserAgent string
	// Settle is how long a page is given to run its scripts after navigation.
	Settle        time.Duration
	Width, Height int
	Logger        *logger.Logger
}

// ChromeLauncher starts one headless Chrome on first use and opens a tab per session.
type ChromeLauncher struct {
	cfg ChromeConfig
	log *logger.Logger

	mu            sync.Mutex
	browserCtx    context.Context
	allocCancel   context.CancelFunc
	browserCancel context.CancelFunc
}

// NewChromeLauncher creates a launcher. Chrome is not started until the first Open.
func NewChromeLauncher(cfg ChromeConfig) *ChromeLauncher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = fetcher.DefaultUserAgent
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		cfg.Width, cfg.Height = 1920, 1080
	}
	if cfg.Settle == 0 {
		cfg.Settle = 3 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &ChromeLauncher{cfg: cfg, log: log}
}

func (l *ChromeLauncher) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", l.cfg.Headless),
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.DisableGPU,
		chromedp.WindowSize(l.cfg.Width, l.cfg.Height),
		chromedp.UserAgent(l.cfg.UserAgent),
	)
	if l.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.cfg.ExecPath))
	}
	return opts
}

func (l *ChromeLauncher) start() (context.Context, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.browserCtx != nil {
		return l.browserCtx, nil
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), l.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	started := time.Now()
	// an empty Run starts the browser process
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start chrome: %w", err)
	}
	l.log.Info("browser started",
		logger.Bool("headless", l.cfg.Headless),
		logger.Duration("startup", time.Since(started)),
	)

	l.browserCtx, l.allocCancel, l.browserCancel = browserCtx, allocCancel, browserCancel
	return browserCtx, nil
}

// Open implements Launcher by opening a new tab.
func (l *ChromeLauncher) Open(ctx context.Context) (Session, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	browserCtx, err := l.start()
	if err != nil {
		return nil, nil, err
	}
	tabCtx, tabCancel := chromedp.NewContext(browserCtx)
	return &chromeSession{tab: tabCtx, settle: l.cfg.Settle}, tabCancel, nil
}

// Close stops Chrome if it was started.
func (l *ChromeLauncher) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.browserCtx == nil {
		return nil
	}
	l.browserCancel()
	l.allocCancel()
	l.browserCtx = nil
	l.log.Info("browser stopped")
	return nil
}

type chromeSession struct {
	tab    context.Context
	settle time.Duration
}

// HTML navigates the tab to url, waits for the page to settle and returns the rendered document.
func (s *chromeSession) HTML(ctx context.Context, url string) (string, error) {
	runCtx, cancel := context.WithCancel(s.tab)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var html string
	err := chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.Sleep(s.settle),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}
	return html, nil
}
