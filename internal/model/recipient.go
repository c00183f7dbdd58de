package model

import "strings"

// minTargetLen is the shortest identifier that is still considered a phone
// number. Anything with this many characters or fewer is invalid.
const minTargetLen = 6

// TargetKeys lists the column names that identify the recipient's phone
// number, matched case-insensitively in order.
var TargetKeys = []string{
	"numero", "número", "telefono", "teléfono", "celular",
	"phone", "number", "mobile", "whatsapp", "msisdn",
}

// Recipient is one row from the contact source. Keys are the column headers
// as written in the file.
type Recipient map[string]string

// Get returns the value for key using a case-insensitive key match.
func (r Recipient) Get(key string) (string, bool) {
	if v, ok := r[key]; ok {
		return v, true
	}
	for k, v := range r {
		if strings.EqualFold(strings.TrimSpace(k), key) {
			return v, true
		}
	}
	return "", false
}

// Target returns the recipient's phone-like identifier and whether it is
// usable. A record without one of TargetKeys, or whose value is too short,
// is invalid.
func (r Recipient) Target() (string, bool) {
	for _, key := range TargetKeys {
		v, ok := r.Get(key)
		if !ok {
			continue
		}
		v = strings.TrimSpace(v)
		return v, len(v) > minTargetLen
	}
	return "", false
}
