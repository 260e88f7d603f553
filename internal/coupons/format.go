package coupons

import (
	"fmt"
	"html"
	"text/template"
	"time"
)

// FormatPrice formats cents as a euro price
func FormatPrice(cents int) string {
	return fmt.Sprintf("%d,%02d€", cents/100, cents%100)
}

// FormatDate formats a unix timestamp as a local date
func FormatDate(ts int64, loc *time.Location) string {
	if ts == 0 {
		return "?"
	}
	return time.Unix(ts, 0).In(loc).Format("02.01.2006")
}

// TemplateFuncs returns the functions coupon texts are rendered with
func TemplateFuncs(loc *time.Location) template.FuncMap {
	return template.FuncMap{
		"price":  FormatPrice,
		"date":   func(ts int64) string { return FormatDate(ts, loc) },
		"escape": html.EscapeString,
	}
}
