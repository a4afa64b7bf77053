package probe

import "testing"

func TestValidateURLScheme(t *testing.T) {
	p := TargetPolicy{AllowPrivate: true}

	if err := p.ValidateURL("https://example.com/health"); err != nil {
		t.Errorf("https should pass: %v", err)
	}
	if err := p.ValidateURL("http://example.com"); err != nil {
		t.Errorf("http should pass: %v", err)
	}
	if err := p.ValidateURL("ftp://example.com"); err == nil {
		t.Error("ftp must be rejected")
	}
	if err := p.ValidateURL("file:///etc/passwd"); err == nil {
		t.Error("file must be rejected")
	}
	if err := p.ValidateURL("https://"); err == nil {
		t.Error("empty host must be rejected")
	}
}

func TestValidateHostBlockedRanges(t *testing.T) {
	p := TargetPolicy{}

	blocked := []string{
		"127.0.0.1",
		"10.0.0.5",
		"172.16.1.1",
		"192.168.1.1",
		"169.254.169.254", // link-local, classic metadata target
		"0.0.0.0",
		"100.64.0.1", // CGNAT
		"192.0.0.1",  // IETF reserved
		"240.0.0.1",  // reserved
		"::1",
		"fe80::1",
		"fd00::1", // unique local (private)
	}
	for _, host := range blocked {
		if err := p.ValidateHost(host); err == nil {
			t.Errorf("%s must be blocked", host)
		}
	}

	allowed := []string{"93.184.216.34", "2606:2800:220:1:248:1893:25c8:1946", "8.8.8.8"}
	for _, host := range allowed {
		if err := p.ValidateHost(host); err != nil {
			t.Errorf("%s should pass: %v", host, err)
		}
	}
}

func TestValidateHostAllowPrivate(t *testing.T) {
	p := TargetPolicy{AllowPrivate: true}
	for _, host := range []string{"127.0.0.1", "10.0.0.5", "192.168.1.1"} {
		if err := p.ValidateHost(host); err != nil {
			t.Errorf("%s should pass with AllowPrivate: %v", host, err)
		}
	}
}

func TestDialControl(t *testing.T) {
	p := TargetPolicy{}

	if err := p.DialControl("tcp4", "127.0.0.1:80", nil); err == nil {
		t.Error("dial to loopback must be refused")
	}
	if err := p.DialControl("tcp4", "93.184.216.34:443", nil); err != nil {
		t.Errorf("dial to public address should pass: %v", err)
	}
	if err := p.DialControl("tcp6", "[::1]:80", nil); err == nil {
		t.Error("dial to v6 loopback must be refused")
	}
}
