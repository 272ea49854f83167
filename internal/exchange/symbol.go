package exchange

import "strings"

// NormalizeSymbol turns the spellings used in configs and scanner output
// ("BTC/USDT", "BTC/USDT:USDT", "btcusdt") into the venue form "BTCUSDT".
func NormalizeSymbol(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[:i]
	}
	return strings.ReplaceAll(s, "/", "")
}
