package theme

import (
	"os"
	"strings"
)

// SymbolSet holds all UI symbols, allowing runtime switching between
// Unicode and ASCII fallback sets.
type SymbolSet struct {
	Success string
	Error   string
	Warning string
	Info    string
	ArrowR  string
	Bullet  string
	Current string
}

var unicodeSymbols = SymbolSet{
	Success: "✓",
	Error:   "✗",
	Warning: "⚠",
	Info:    "●",
	ArrowR:  "→",
	Bullet:  "•",
	Current: "▶",
}

var asciiSymbols = SymbolSet{
	Success: "[OK]",
	Error:   "[ERR]",
	Warning: "[!]",
	Info:    "[i]",
	ArrowR:  "->",
	Bullet:  "*",
	Current: ">",
}

var (
	SymbolSuccess = unicodeSymbols.Success
	SymbolError   = unicodeSymbols.Error
	SymbolWarning = unicodeSymbols.Warning
	SymbolInfo    = unicodeSymbols.Info
	SymbolArrowR  = unicodeSymbols.ArrowR
	SymbolBullet  = unicodeSymbols.Bullet
	SymbolCurrent = unicodeSymbols.Current
)

// DetectUnicodeSupport checks whether the terminal likely supports Unicode.
// SETUPWIZ_ASCII_SYMBOLS takes priority over locale detection.
func DetectUnicodeSupport() bool {
	if v := os.Getenv("SETUPWIZ_ASCII_SYMBOLS"); v == "1" || strings.EqualFold(v, "true") {
		return false
	}
	for _, key := range []string{"LC_ALL", "LC_CTYPE", "LANG"} {
		val := strings.ToLower(os.Getenv(key))
		if strings.Contains(val, "utf-8") || strings.Contains(val, "utf8") {
			return true
		}
	}
	// Most modern terminals support Unicode.
	return true
}

// InitSymbols sets the package-level Symbol* variables based on terminal
// capabilities. Called by init(); tests call it again after changing the
// environment.
func InitSymbols() {
	set := unicodeSymbols
	if !DetectUnicodeSupport() {
		set = asciiSymbols
	}
	SymbolSuccess = set.Success
	SymbolError = set.Error
	SymbolWarning = set.Warning
	SymbolInfo = set.Info
	SymbolArrowR = set.ArrowR
	SymbolBullet = set.Bullet
	SymbolCurrent = set.Current
}

func init() {
	InitSymbols()
}
