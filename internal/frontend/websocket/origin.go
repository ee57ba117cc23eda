package websocket

import (
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// OriginPolicy decides which browser origins may open a websocket.
type OriginPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
	logger   *zap.Logger
}

// NewOriginPolicy builds a policy from configured origins. "*" allows any
// origin; an empty list allows only origins matching the request host.
// Entries that are not scheme://host URLs are logged and ignored.
func NewOriginPolicy(origins []string, logger *zap.Logger) *OriginPolicy {
	p := &OriginPolicy{
		allowed: make(map[string]struct{}, len(origins)),
		logger:  logger,
	}
	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		switch {
		case trimmed == "":
		case trimmed == "*":
			p.allowAll = true
		default:
			normalized, ok := normalizeOrigin(trimmed)
			if !ok {
				logger.Warn("ignoring invalid allowed origin", zap.String("origin", origin))
				continue
			}
			p.allowed[normalized] = struct{}{}
		}
	}
	return p
}

// Allow reports whether r may be upgraded. Requests without an Origin
// header come from non-browser clients and are allowed.
func (p *OriginPolicy) Allow(r *http.Request) bool {
	header := r.Header.Get("Origin")
	if header == "" || p.allowAll {
		return true
	}
	origin, ok := normalizeOrigin(header)
	if !ok {
		p.blocked(header)
		return false
	}
	if len(p.allowed) == 0 {
		if u, _ := url.Parse(origin); u != nil && strings.EqualFold(u.Host, r.Host) {
			return true
		}
		p.blocked(header)
		return false
	}
	if _, ok := p.allowed[origin]; ok {
		return true
	}
	p.blocked(header)
	return false
}

func (p *OriginPolicy) blocked(origin string) {
	p.logger.Info("blocked websocket from disallowed origin", zap.String("origin", origin))
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}
