package security

import "testing"

// Only IP-literal and known-hostname cases are covered here; hostname cases
// would need DNS and are exercised indirectly through webhook registration.
func TestValidateEndpointURL(t *testing.T) {
	cases := []struct {
		name    string
		url     string
		allowed bool
	}{
		{"public ip literal", "https://93.184.216.34/hook", true},
		{"malformed", "http://[::1", false},
		{"bad scheme", "ftp://93.184.216.34/hook", false},
		{"no host", "https:///hook", false},
		{"localhost", "http://localhost/hook", false},
		{"loopback", "http://127.0.0.1/hook", false},
		{"private 10", "http://10.0.0.5/hook", false},
		{"private 192", "https://192.168.1.1/hook", false},
		{"link local", "http://169.254.10.1/hook", false},
		{"metadata service", "http://169.254.169.254/latest/meta-data", false},
		{"unspecified", "http://0.0.0.0/hook", false},
		{"ipv6 loopback", "http://[::1]/hook", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateEndpointURL(tc.url)
			if tc.allowed && err != nil {
				t.Errorf("%s: expected allowed, got %v", tc.url, err)
			}
			if !tc.allowed && err == nil {
				t.Errorf("%s: expected rejection", tc.url)
			}
		})
	}
}
