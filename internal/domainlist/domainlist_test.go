package domainlist

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	assert.Nil(t, Parse(""))
	assert.Nil(t, Parse(",,"))
	assert.Equal(t, List{"": false, "example.com": true}, Parse("example.com"))
	assert.Equal(t, List{"": true, "example.com": false}, Parse("~example.com"))
	assert.Equal(t,
		List{"": false, "example.com": true, "mail.example.com": false},
		Parse("example.com,~mail.example.com"))
}

func TestIsValidHostname(t *testing.T) {
	valid := []string{
		"example.com",
		"example.com.",
		"sub-domain.example.co.uk",
		"127.0.0.1",
		"[::1]",
		"xn--938h.com",
		"localhost",
	}
	for _, h := range valid {
		assert.True(t, IsValidHostname(h), h)
	}

	invalid := []string{
		"",
		"-example.com",
		"example-.com",
		"exa_mple.com",
		"example.123",
		"256.0.0.1.2",
		"🙂.com",
	}
	for _, h := range invalid {
		assert.False(t, IsValidHostname(h), h)
	}
}

func TestIsDomainList(t *testing.T) {
	assert.True(t, IsDomainList(""))
	assert.True(t, IsDomainList("example.com,~foo.example.com"))
	assert.True(t, IsDomainList("example.com,"))
	assert.False(t, IsDomainList("example.com,not a domain"))
}

func TestIsActiveOnDomain(t *testing.T) {
	cases := []struct {
		url, list string
		want      bool
	}{
		{"https://example.com/", "", true},
		{"https://example.com/", "example.com", true},
		{"https://www.example.com/path", "example.com", true},
		{"https://other.com/", "example.com", false},
		{"https://mail.example.com/", "example.com,~mail.example.com", false},
		{"https://www.example.com/", "example.com,~mail.example.com", true},
		{"https://other.com/", "~example.com", true},
		{"https://example.com./", "~example.com", false},
		{"http://127.0.0.1:8080/", "127.0.0.1", true},
		{"http://10.0.0.1/", "0.0.1", false},
		{"https://BÜCHER.example/", "xn--bcher-kva.example", true},
		{"about:blank", "example.com", false},
		{"about:blank", "~example.com", true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsActiveOnDomain(tc.url, tc.list), "%s in %q", tc.url, tc.list)
	}
}

func TestSuffixes(t *testing.T) {
	assert.Equal(t, []string{"www.example.com", "example.com", "com"}, Suffixes("www.example.com."))
	assert.Equal(t, []string{"192.168.0.1"}, Suffixes("192.168.0.1"))
	assert.Equal(t, []string{"[::1]"}, Suffixes("[::1]"))
}
