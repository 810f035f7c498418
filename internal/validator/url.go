package validator

import (
	"errors"
	"net/url"
	"strings"
)

var ErrUnsafeURL = errors.New("url must be an absolute http or https URL")

// SanitizeURL приводит ссылку к безопасному виду: только http/https,
// обязательный хост, без фрагмента и без учетных данных.
func SanitizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrUnsafeURL
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", ErrUnsafeURL
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", ErrUnsafeURL
	}
	if u.Host == "" || u.Hostname() == "" {
		return "", ErrUnsafeURL
	}

	u.Scheme = scheme
	u.Host = strings.ToLower(u.Host)
	u.User = nil
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}

// SanitizeURLs проверяет список; возвращает индекс первой плохой ссылки
func SanitizeURLs(raw []string) ([]string, int, error) {
	out := make([]string, 0, len(raw))
	for i, r := range raw {
		clean, err := SanitizeURL(r)
		if err != nil {
			return nil, i, err
		}
		out = append(out, clean)
	}
	return out, -1, nil
}
