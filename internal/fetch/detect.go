package fetch

import "strings"

// Detector reports whether markup is a bot challenge and names its kind.
type Detector func(markup string) (detected bool, source string)

func DefaultDetectors() []Detector {
	return []Detector{
		detectCaptcha,
		detectContinueShopping,
		detectErrorPage,
	}
}

// Analyze runs markup through the detectors and returns the first hit.
func Analyze(markup string, detectors []Detector) (bool, string) {
	for _, d := range detectors {
		if detected, source := d(markup); detected {
			return true, source
		}
	}
	return false, ""
}

func detectCaptcha(markup string) (bool, string) {
	if strings.Contains(markup, "/errors/validateCaptcha") ||
		strings.Contains(markup, `id="captchacharacters"`) ||
		strings.Contains(markup, "<title>Robot Check</title>") {
		return true, "captcha"
	}
	return false, ""
}

// detectContinueShopping matches the interstitial that asks for a click
// before showing the requested page.
func detectContinueShopping(markup string) (bool, string) {
	if strings.Contains(markup, "Klicke auf die Schaltfläche unten") ||
		strings.Contains(markup, "Click the button below to continue shopping") {
		return true, "interstitial"
	}
	return false, ""
}

func detectErrorPage(markup string) (bool, string) {
	// The dog page carries no product markup, only an apology.
	if strings.Contains(markup, "api-services-support@amazon.com") ||
		(strings.Contains(markup, "Tut uns Leid") && !strings.Contains(markup, "s-search-result")) ||
		(strings.Contains(markup, "Sorry! Something went wrong") && !strings.Contains(markup, "s-search-result")) {
		return true, "error_page"
	}
	return false, ""
}
