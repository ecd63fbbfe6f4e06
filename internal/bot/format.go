package bot

import (
	"fmt"
	"strings"
	"time"

	"stock_monitor/internal/model"
	"stock_monitor/internal/notify"
)

// FormatSettings formats a chat's filter settings for display.
func FormatSettings(sub *model.ChatSubscriber) string {
	kw := "all (not set)"
	if len(sub.Keywords) > 0 {
		kw = strings.Join(sub.Keywords, ", ")
	}
	ex := "none"
	if len(sub.ExcludeKeywords) > 0 {
		ex = strings.Join(sub.ExcludeKeywords, ", ")
	}
	price := "not set"
	if sub.TargetPrice != nil {
		price = notify.FormatPrice(*sub.TargetPrice)
	}

	var b strings.Builder
	b.WriteString("📋 Current settings\n")
	fmt.Fprintf(&b, "Keywords: %s\n", kw)
	fmt.Fprintf(&b, "Excluded: %s\n", ex)
	fmt.Fprintf(&b, "💰 Price alert: %s", price)
	return b.String()
}

// FormatLastCheck summarizes the last poll cycle.
func FormatLastCheck(res *model.CheckResult) string {
	if res == nil || res.Timestamp == 0 {
		return "Last check: never"
	}
	at := time.UnixMilli(res.Timestamp).UTC().Format("2006-01-02 15:04 UTC")
	s := fmt.Sprintf("Last check: %s\nItems: %d, changes: %d", at, res.TotalItemCount, len(res.Changes))
	if len(res.LostPages) > 0 {
		s += fmt.Sprintf(", pages lost: %d", len(res.LostPages))
	}
	return s
}
