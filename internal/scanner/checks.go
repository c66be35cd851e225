package scanner

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/webintercept/proxycore/internal/flow"
)

// secretPatterns are header/body signatures passive checks grep for.
// Grounded on the teacher's internal/engine pattern matchers, which
// scan tool-call arguments for a fixed table of regexes rather than
// building a general rule DSL for this narrow purpose.
var secretPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"aws_access_key_id", regexp.MustCompile(`AKIA[0-9A-Z]{16}`)},
	{"private_key_block", regexp.MustCompile(`-----BEGIN (RSA |EC |OPENSSH )?PRIVATE KEY-----`)},
	{"generic_bearer_token", regexp.MustCompile(`(?i)bearer\s+[a-z0-9._-]{20,}`)},
}

var securityHeaders = []string{
	"Strict-Transport-Security",
	"X-Content-Type-Options",
	"X-Frame-Options",
	"Content-Security-Policy",
}

// BuiltinChecks returns the default passive and active check set.
func BuiltinChecks() []Check {
	return []Check{
		checkMissingSecurityHeaders(),
		checkInsecureCookies(),
		checkLeakedSecrets(),
		checkReflectedQueryParam(),
		checkServerErrorOnMutation(),
		checkTLSWeakness(),
	}
}

func checkMissingSecurityHeaders() Check {
	return Check{
		ID:       "missing-security-headers",
		Category: CategoryPassive,
		Run: func(_ context.Context, _ *http.Client, snap flow.Snapshot) []Finding {
			if snap.ResponseStatus == 0 {
				return nil
			}
			var findings []Finding
			for _, h := range securityHeaders {
				if len(snap.ResponseHeaders[strings.ToLower(h)]) == 0 {
					findings = append(findings, Finding{
						Severity: "low",
						Evidence: "response is missing the " + h + " header",
					})
				}
			}
			return findings
		},
	}
}

func checkInsecureCookies() Check {
	return Check{
		ID:       "insecure-cookie-flags",
		Category: CategoryPassive,
		Run: func(_ context.Context, _ *http.Client, snap flow.Snapshot) []Finding {
			var findings []Finding
			for _, c := range snap.ResponseHeaders["set-cookie"] {
				lower := strings.ToLower(c)
				name := c
				if i := strings.IndexByte(c, '='); i > 0 {
					name = c[:i]
				}
				if !strings.Contains(lower, "secure") {
					findings = append(findings, Finding{
						Parameter: name,
						Severity:  "medium",
						Evidence:  "Set-Cookie missing Secure flag: " + c,
					})
				}
				if !strings.Contains(lower, "httponly") {
					findings = append(findings, Finding{
						Parameter: name,
						Severity:  "medium",
						Evidence:  "Set-Cookie missing HttpOnly flag: " + c,
					})
				}
			}
			return findings
		},
	}
}

func checkLeakedSecrets() Check {
	return Check{
		ID:       "leaked-secret-in-response",
		Category: CategoryPassive,
		Run: func(_ context.Context, _ *http.Client, snap flow.Snapshot) []Finding {
			var findings []Finding
			body := string(snap.ResponseBody)
			for _, p := range secretPatterns {
				if m := p.re.FindString(body); m != "" {
					findings = append(findings, Finding{
						Severity: "high",
						Evidence: p.name + " pattern matched in response body",
					})
				}
			}
			return findings
		},
	}
}

// checkReflectedQueryParam flags an unencoded reflection of a query
// parameter's value into the response body, a necessary (not
// sufficient) precondition for reflected XSS.
func checkReflectedQueryParam() Check {
	return Check{
		ID:       "reflected-query-parameter",
		Category: CategoryPassive,
		Run: func(_ context.Context, _ *http.Client, snap flow.Snapshot) []Finding {
			if snap.Query == "" || len(snap.ResponseBody) == 0 {
				return nil
			}
			values, err := url.ParseQuery(snap.Query)
			if err != nil {
				return nil
			}
			body := string(snap.ResponseBody)
			var findings []Finding
			for param, vals := range values {
				for _, v := range vals {
					if len(v) < 4 {
						continue
					}
					if strings.Contains(body, "<script>"+v) || strings.Contains(body, v+"</script>") || strings.Contains(body, "<"+v) {
						findings = append(findings, Finding{
							Parameter: param,
							Severity:  "medium",
							Evidence:  "value of parameter reflected unescaped near markup in response body",
						})
					}
				}
			}
			return findings
		},
	}
}

func checkServerErrorOnMutation() Check {
	return Check{
		ID:       "server-error-response",
		Category: CategoryPassive,
		Run: func(_ context.Context, _ *http.Client, snap flow.Snapshot) []Finding {
			if snap.ResponseStatus < 500 {
				return nil
			}
			return []Finding{{
				Severity: "info",
				Evidence: "server returned " + strconv.Itoa(snap.ResponseStatus) + " for " + snap.Method + " " + snap.Path,
			}}
		},
	}
}

// checkTLSWeakness is an active check: it reconnects to the flow's
// origin and inspects the negotiated TLS version.
func checkTLSWeakness() Check {
	return Check{
		ID:       "weak-tls-version",
		Category: CategoryActive,
		Run: func(ctx context.Context, client *http.Client, snap flow.Snapshot) []Finding {
			if snap.Scheme != flow.SchemeHTTPS {
				return nil
			}
			addr := snap.Host
			if snap.Port != 0 {
				addr += ":" + strconv.Itoa(snap.Port)
			} else {
				addr += ":443"
			}
			dialer := &tls.Dialer{}
			conn, err := dialer.DialContext(ctx, "tcp", addr)
			if err != nil {
				return nil
			}
			defer conn.Close()
			state := conn.(*tls.Conn).ConnectionState()
			if state.Version < tls.VersionTLS12 {
				return []Finding{{
					Severity: "high",
					Evidence: "server negotiated TLS version below 1.2",
				}}
			}
			return nil
		},
	}
}
