// Package icrypto builds the additional authenticated data bound into
// sealed records.
package icrypto

import (
	"encoding/binary"
)

const (
	aadSession    = "SESSION"
	aadSessionKey = "SESSIONKEY"
)

// AADSession binds a sealed session to the token it is stored under.
func AADSession(token string, ver int) []byte {
	return buildAAD(aadSession, token, ver)
}

// AADSessionKey binds the wrapped session sealing key to its purpose.
func AADSessionKey(ver int) []byte {
	return buildAAD(aadSessionKey, ver)
}

func buildAAD(parts ...any) []byte {
	var res []byte
	for _, p := range parts {
		switch v := p.(type) {
		case string:
			res = appendLenPrefix(res, []byte(v))
		case []byte:
			res = appendLenPrefix(res, v)
		case int:
			res = binary.BigEndian.AppendUint32(res, uint32(v))
		}
	}
	return res
}

func appendLenPrefix(b, data []byte) []byte {
	b = binary.BigEndian.AppendUint32(b, uint32(len(data)))
	return append(b, data...)
}
