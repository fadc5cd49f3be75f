package solver

import (
	"strings"

	"github.com/Noooste/azuretls-client"
)

// defaultUserAgent is used until a solved challenge pins a real one.
const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36"

// browserFromUserAgent picks the fingerprint family matching a User-Agent.
// Order matters: Chromium UAs also contain "Safari/".
func browserFromUserAgent(ua string) string {
	switch {
	case strings.Contains(ua, "Firefox/"):
		return azuretls.Firefox
	case strings.Contains(ua, "Edg/"):
		return azuretls.Edge
	case strings.Contains(ua, "iPhone"), strings.Contains(ua, "iPad"):
		return azuretls.Ios
	case strings.Contains(ua, "Chrome/"):
		return azuretls.Chrome
	case strings.Contains(ua, "Safari/"):
		return azuretls.Safari
	default:
		return azuretls.Chrome
	}
}

// getSession returns the live bypass session, creating one on first use.
func (c *Client) getSession() (*azuretls.Session, error) {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	if c.session != nil {
		return c.session, nil
	}
	return c.createSessionLocked()
}

// resetSession drops the session so the next request builds one with the
// fingerprint matching the current User-Agent. Called after every solved
// challenge: clearance cookies are bound to the fingerprint that earned
// them.
func (c *Client) resetSession() error {
	c.sessionMu.Lock()
	defer c.sessionMu.Unlock()
	if c.session != nil {
		c.session.Close()
		c.session = nil
	}
	_, err := c.createSessionLocked()
	return err
}

func (c *Client) createSessionLocked() (*azuretls.Session, error) {
	session := azuretls.NewSession()

	ua := c.userAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	browser := browserFromUserAgent(ua)
	session.Browser = browser
	switch browser {
	case azuretls.Firefox:
		session.GetClientHelloSpec = azuretls.GetLastFirefoxVersion
	case azuretls.Ios:
		session.GetClientHelloSpec = azuretls.GetLastIosVersion
	case azuretls.Safari:
		session.GetClientHelloSpec = azuretls.GetLastSafariVersion
	default:
		// Edge rides the Chromium hello.
		session.GetClientHelloSpec = azuretls.GetLastChromeVersion
	}
	session.UserAgent = ua

	if c.proxy != "" {
		if err := session.SetProxy(c.proxy); err != nil {
			session.Close()
			return nil, NewConnectionError("bypass proxy rejected", err)
		}
	}

	c.logger.Debug("bypass session created", "browser", browser)
	c.session = session
	return session, nil
}
