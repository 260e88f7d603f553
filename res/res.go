// Package res contains embedded resources
package res

import _ "embed"

// DefaultTranslations contains the built-in German texts
//
//go:embed translations/de.yaml
var DefaultTranslations []byte
