package browser

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

const (
	DefaultLocale         = "pt-BR"
	DefaultTimezone       = "America/Sao_Paulo"
	DefaultAcceptLanguage = "pt-BR,pt;q=0.9,en-US;q=0.8,en;q=0.7"
)

// Viewport is a desktop screen size
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

var viewports = []Viewport{
	{Width: 1920, Height: 1080},
	{Width: 1366, Height: 768},
	{Width: 1536, Height: 864},
	{Width: 1440, Height: 900},
}

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
}

var (
	hardwareConcurrency = []int{4, 8, 12, 16}
	deviceMemory        = []int{4, 8, 16}
)

// Fingerprint is the set of browser characteristics presented by one context
type Fingerprint struct {
	UserAgent           string   `json:"user_agent"`
	Platform            string   `json:"platform"`
	Viewport            Viewport `json:"viewport"`
	Locale              string   `json:"locale"`
	Timezone            string   `json:"timezone"`
	AcceptLanguage      string   `json:"accept_language"`
	HardwareConcurrency int      `json:"hardware_concurrency"`
	DeviceMemory        int      `json:"device_memory"`
}

// Generator produces randomized fingerprints. It is safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator creates a generator. A zero seed uses the current time.
func NewGenerator(seed int64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{rng: rand.New(rand.NewSource(seed))}
}

// Generate returns a new fingerprint
func (g *Generator) Generate() Fingerprint {
	g.mu.Lock()
	defer g.mu.Unlock()

	ua := userAgents[g.rng.Intn(len(userAgents))]
	return Fingerprint{
		UserAgent:           ua,
		Platform:            platformFor(ua),
		Viewport:            viewports[g.rng.Intn(len(viewports))],
		Locale:              DefaultLocale,
		Timezone:            DefaultTimezone,
		AcceptLanguage:      DefaultAcceptLanguage,
		HardwareConcurrency: hardwareConcurrency[g.rng.Intn(len(hardwareConcurrency))],
		DeviceMemory:        deviceMemory[g.rng.Intn(len(deviceMemory))],
	}
}

// platformFor returns the navigator.platform value matching a user agent
func platformFor(ua string) string {
	switch {
	case strings.Contains(ua, "Windows"):
		return "Win32"
	case strings.Contains(ua, "Macintosh"):
		return "MacIntel"
	default:
		return "Linux x86_64"
	}
}

// Languages returns the navigator.languages list for the fingerprint's locale
func (f Fingerprint) Languages() []string {
	base := strings.SplitN(f.Locale, "-", 2)[0]
	langs := []string{f.Locale}
	if base != f.Locale {
		langs = append(langs, base)
	}
	return append(langs, "en-US", "en")
}

// Script returns the JavaScript injected into every new document. It runs
// after stealth.JS and pins the values that must agree with the fingerprint.
func (f Fingerprint) Script() string {
	langs, _ := json.Marshal(f.Languages())
	platform, _ := json.Marshal(f.Platform)

	return fmt.Sprintf(`(() => {
	const define = (obj, prop, value) => {
		try {
			Object.defineProperty(obj, prop, { get: () => value, configurable: true });
		} catch (e) {}
	};
	define(Navigator.prototype, 'webdriver', undefined);
	define(Navigator.prototype, 'languages', %s);
	define(Navigator.prototype, 'platform', %s);
	define(Navigator.prototype, 'hardwareConcurrency', %d);
	define(Navigator.prototype, 'deviceMemory', %d);
	if (navigator.plugins.length === 0) {
		define(Navigator.prototype, 'plugins', [
			{ name: 'PDF Viewer', filename: 'internal-pdf-viewer', description: 'Portable Document Format' },
			{ name: 'Chrome PDF Viewer', filename: 'internal-pdf-viewer', description: 'Portable Document Format' },
			{ name: 'Chromium PDF Viewer', filename: 'internal-pdf-viewer', description: 'Portable Document Format' },
		]);
	}
	window.chrome = window.chrome || {};
	window.chrome.runtime = window.chrome.runtime || {
		connect: () => {},
		sendMessage: () => {},
		id: undefined,
	};
})();`, langs, platform, f.HardwareConcurrency, f.DeviceMemory)
}

// Apply stamps the fingerprint onto a page before it navigates anywhere
func (f Fingerprint) Apply(page *rod.Page) error {
	err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             f.Viewport.Width,
		Height:            f.Viewport.Height,
		DeviceScaleFactor: 1,
		Mobile:            false,
	})
	if err != nil {
		return fmt.Errorf("set viewport: %w", err)
	}

	err = page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      f.UserAgent,
		AcceptLanguage: f.AcceptLanguage,
		Platform:       f.Platform,
	})
	if err != nil {
		return fmt.Errorf("set user agent: %w", err)
	}

	if err := (proto.EmulationSetTimezoneOverride{TimezoneID: f.Timezone}).Call(page); err != nil {
		return fmt.Errorf("set timezone: %w", err)
	}
	if err := (proto.EmulationSetLocaleOverride{Locale: f.Locale}).Call(page); err != nil {
		return fmt.Errorf("set locale: %w", err)
	}

	if _, err := page.EvalOnNewDocument(stealth.JS); err != nil {
		return fmt.Errorf("inject stealth script: %w", err)
	}
	if _, err := page.EvalOnNewDocument(f.Script()); err != nil {
		return fmt.Errorf("inject fingerprint script: %w", err)
	}

	return nil
}
