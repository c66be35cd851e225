package ruleengine

// builtinRules returns the fixed set of built-in rules, keyed by name.
// Each protects against a common proxying hazard rather than an
// application-specific policy; users layer custom rules on top via
// rules.yaml. Adapted from the teacher's tool-call guardrail set onto
// the shape of an HTTP flow: method/host/path/header/body instead of
// tool/agent/action/path.
func builtinRules() map[string]Rule {
	return map[string]Rule{
		"block_internal_metadata_host": {
			Name:     "block_internal_metadata_host",
			Action:   "block",
			Priority: 10,
			Match: RuleMatch{
				Host: "169.254.169.254",
			},
			Message: "requests to the cloud metadata address are blocked by default",
		},
		"block_private_key_response": {
			Name:     "block_private_key_response",
			Action:   "block",
			Priority: 20,
			Match: RuleMatch{
				Direction: "response",
				BodyRegex: `-----BEGIN (RSA |EC |OPENSSH )?PRIVATE KEY-----`,
			},
			Message: "response body contains a PEM private key",
		},
		"block_aws_credentials_response": {
			Name:     "block_aws_credentials_response",
			Action:   "block",
			Priority: 21,
			Match: RuleMatch{
				Direction: "response",
				BodyRegex: `AKIA[0-9A-Z]{16}`,
			},
			Message: "response body contains an AWS access key id",
		},
		"block_basic_auth_over_plain_http": {
			Name:     "block_basic_auth_over_plain_http",
			Action:   "block",
			Priority: 30,
			Match: RuleMatch{
				Direction:   "request",
				HeaderName:  "Authorization",
				HeaderRegex: `(?i)^Basic `,
			},
			Message: "Basic auth credentials observed; flagged for review",
		},
		"strip_server_header": {
			Name:       "strip_server_header",
			Action:     "remove_header",
			Priority:   100,
			HeaderName: "Server",
			Match: RuleMatch{
				Direction: "response",
			},
			Message: "removed Server header from upstream response",
		},
		"strip_via_header": {
			Name:       "strip_via_header",
			Action:     "remove_header",
			Priority:   101,
			HeaderName: "Via",
			Match: RuleMatch{
				Direction: "response",
			},
			Message: "removed Via header from upstream response",
		},
		"tag_large_upload": {
			Name:     "tag_large_upload",
			Action:   "forward",
			Priority: 200,
			Match: RuleMatch{
				Direction: "request",
				Method:    stringOrList{"POST", "PUT"},
			},
			Message: "",
		},
	}
}

// defaultBuiltinToggles returns which builtin rules are enabled out of
// the box. Rules that only annotate (tag_large_upload) default off
// since they change nothing observable without a scanner consuming the
// tag; security-relevant blocks default on.
func defaultBuiltinToggles() map[string]bool {
	return map[string]bool{
		"block_private_key_response":       true,
		"block_aws_credentials_response":    true,
		"strip_server_header":              false,
		"strip_via_header":                 false,
		"block_internal_metadata_host":      true,
		"block_basic_auth_over_plain_http":  false,
		"tag_large_upload":                 false,
	}
}
