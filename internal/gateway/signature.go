package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

const signatureField = "signature"

// Canonicalize - ключи верхнего уровня без signature, по алфавиту,
// key=value через &. Строки без кавычек, прочие значения как в JSON.
func Canonicalize(body []byte) (string, error) {
	if !gjson.ValidBytes(body) {
		return "", errors.New("callback body is not valid JSON")
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return "", errors.New("callback body must be a JSON object")
	}

	pairs := make(map[string]string)
	root.ForEach(func(key, value gjson.Result) bool {
		k := key.String()
		if k == signatureField {
			return true
		}
		if value.Type == gjson.String {
			pairs[k] = value.String()
		} else {
			pairs[k] = value.Raw
		}
		return true
	})

	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+pairs[k])
	}
	return strings.Join(parts, "&"), nil
}

// Sign - hex(HMAC-SHA256(secret, data))
func Sign(secret string, data []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature сверяет подпись колбэка за постоянное время
func VerifySignature(secret string, body []byte) error {
	canonical, err := Canonicalize(body)
	if err != nil {
		return err
	}
	got := gjson.GetBytes(body, signatureField).String()
	if got == "" {
		return ErrInvalidSignature
	}
	want := Sign(secret, []byte(canonical))
	if !hmac.Equal([]byte(strings.ToLower(got)), []byte(want)) {
		return ErrInvalidSignature
	}
	return nil
}

// parseCallback читает поля проверенного колбэка
func parseCallback(body []byte) (*Callback, error) {
	res := gjson.ParseBytes(body)
	cb := &Callback{
		Reference:  res.Get("reference").String(),
		GatewayRef: res.Get("gatewayRef").String(),
		Status:     res.Get("status").String(),
	}
	if cb.Reference == "" {
		return nil, errors.New("callback has no reference")
	}
	if cb.Status != CallbackPaid && cb.Status != CallbackFailed {
		return nil, errors.New("callback has unknown status " + cb.Status)
	}
	gross := res.Get("grossAmount")
	if gross.Exists() {
		amount, err := ParseRands(gross.String())
		if err != nil {
			return nil, err
		}
		cb.GrossAmount = amount
	}
	return cb, nil
}

// SignedCallback собирает тело колбэка с подписью (sandbox и тесты)
func SignedCallback(secret, reference, gatewayRef, status string, gross int64) []byte {
	fields := map[string]string{
		"reference":   reference,
		"gatewayRef":  gatewayRef,
		"status":      status,
		"grossAmount": FormatRands(gross),
	}
	unsigned, _ := json.Marshal(fields)
	canonical, _ := Canonicalize(unsigned)
	fields[signatureField] = Sign(secret, []byte(canonical))
	body, _ := json.Marshal(fields)
	return body
}
